package httpapi

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"io/fs"
	"time"
)

//go:embed assets
var assetFiles embed.FS

// uiFS serves the single-page UI rooted at the assets directory.
var uiFS = mustSub(assetFiles, "assets")

// baseHrefPlaceholder marks where index.html receives its <base> tag.
const baseHrefPlaceholder = "<!-- BASE_HREF -->"

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

// renderIndex returns index.html with the base tag filled in for href.
func renderIndex(href string) ([]byte, time.Time, error) {
	data, err := fs.ReadFile(uiFS, "index.html")
	if err != nil {
		return nil, time.Time{}, err
	}
	info, err := fs.Stat(uiFS, "index.html")
	if err != nil {
		return nil, time.Time{}, err
	}
	tag := ""
	if href != "" {
		tag = fmt.Sprintf(`<base href="%s" />`, html.EscapeString(href))
	}
	return bytes.Replace(data, []byte(baseHrefPlaceholder), []byte(tag), 1), info.ModTime(), nil
}
