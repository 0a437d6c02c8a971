//go:build ignore

// Dummy transport backend: serves files from a directory under /file/<locator> with range support.
//
//	go run test/dummy-backend.go -dir ./testdata -addr :3001
package main

import (
	"flag"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

func main() {
	dir := flag.String("dir", ".", "directory holding the files")
	addr := flag.String("addr", ":3001", "listen address")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync() //nolint:errcheck

	root, err := filepath.Abs(*dir)
	if err != nil {
		logger.Fatal("invalid directory", zap.Error(err))
	}

	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	http.HandleFunc("/file/", func(w http.ResponseWriter, r *http.Request) {
		locator := strings.TrimPrefix(r.URL.Path, "/file/")
		path := filepath.Join(root, filepath.FromSlash(locator))
		if !strings.HasPrefix(path, root+string(filepath.Separator)) {
			http.NotFound(w, r)
			return
		}

		f, err := os.Open(path)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}

		logger.Info("serving file", zap.String("locator", locator), zap.String("range", r.Header.Get("Range")))
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	})

	logger.Info("dummy backend starting", zap.String("addr", *addr), zap.String("dir", root))
	if err := http.ListenAndServe(*addr, nil); err != nil {
		logger.Fatal("listen", zap.Error(err))
	}
}
