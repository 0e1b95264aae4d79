package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// passwordPrompter reads secrets without echo when stdin is a terminal and
// falls back to one line per prompt otherwise.
type passwordPrompter struct {
	in  io.Reader
	buf *bufio.Reader
	out io.Writer
}

func newPasswordPrompter(in io.Reader, out io.Writer) *passwordPrompter {
	return &passwordPrompter{in: in, buf: bufio.NewReader(in), out: out}
}

func (p *passwordPrompter) Prompt(prompt string) ([]byte, error) {
	if p.out != nil {
		_, _ = fmt.Fprint(p.out, prompt)
	}
	if f, ok := p.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		if p.out != nil {
			_, _ = fmt.Fprintln(p.out)
		}
		return secret, err
	}
	line, err := p.buf.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, err
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}
