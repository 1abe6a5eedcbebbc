package devserver

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// dirHandler serves a request path from the first directory that contains it
func dirHandler(dirs func() []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := path.Clean("/" + r.URL.Path)
		if strings.HasSuffix(name, "/") {
			http.NotFound(w, r)
			return
		}

		for _, dir := range dirs() {
			file := filepath.Join(dir, filepath.FromSlash(name))
			info, err := os.Stat(file)
			if err != nil || info.IsDir() {
				continue
			}
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, file)
			return
		}

		http.NotFound(w, r)
	})
}
