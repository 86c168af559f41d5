// Package frontend serves the browser viewer. Binaries built with -tags embed
// carry it; otherwise it is served from a directory on disk.
package frontend

import (
	"io/fs"
	"net/http"
	"os"
	"path"
)

// embedded holds the compiled-in static tree, nil without the embed tag.
var embedded fs.FS

// Handler serves the viewer compiled into the binary, or returns nil.
func Handler() http.Handler {
	if embedded == nil {
		return nil
	}
	return serve(embedded)
}

// Dir serves the viewer from dir on disk. It returns nil when dir has no
// index.html.
func Dir(dir string) http.Handler {
	if dir == "" {
		return nil
	}
	return serve(os.DirFS(dir))
}

// Resolve picks the embedded viewer when present, then the first candidate
// directory that holds an index.html.
func Resolve(candidates ...string) http.Handler {
	if h := Handler(); h != nil {
		return h
	}
	for _, dir := range candidates {
		if h := Dir(dir); h != nil {
			return h
		}
	}
	return nil
}

// serve wraps a file server over fsys. The page and its script must match
// the server's frame format, so neither may be served from a stale cache.
func serve(fsys fs.FS) http.Handler {
	if _, err := fs.Stat(fsys, "index.html"); err != nil {
		return nil
	}
	files := http.FileServer(http.FS(fsys))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch path.Ext(r.URL.Path) {
		case "", ".html", ".js":
			w.Header().Set("Cache-Control", "no-cache")
		}
		files.ServeHTTP(w, r)
	})
}
