package httpapi

import (
	"net/http"
	"path"
	"strings"
)

// mount describes where the UI lives when served behind a reverse proxy.
type mount struct {
	// prefix is "" or a cleaned path such as "/gallery".
	prefix string
	// href feeds the <base> tag so relative asset and API URLs resolve.
	href string
}

func newMount(baseURL, basePath string) mount {
	m := mount{prefix: cleanPrefix(basePath)}
	origin := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if origin != "" || m.prefix != "" {
		m.href = origin + m.prefix + "/"
	}
	return m
}

func cleanPrefix(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	value = path.Clean("/" + value)
	if value == "/" {
		return ""
	}
	return value
}

// wrap serves h under the prefix. The bare prefix redirects to prefix+"/".
func (m mount) wrap(h http.Handler) http.Handler {
	if m.prefix == "" {
		return h
	}
	mux := http.NewServeMux()
	mux.Handle(m.prefix+"/", http.StripPrefix(m.prefix, h))
	mux.HandleFunc(m.prefix, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, m.prefix+"/", http.StatusTemporaryRedirect)
	})
	return mux
}
