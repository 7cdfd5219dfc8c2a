// Package frontend serves the embedded dashboard build.
package frontend

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
)

type IndexParams struct {
	Title   string
	Version string
	BaseUrl string
}

var (
	//go:embed all:dist/*
	Dist embed.FS

	DistDirFS = MustSubFS(Dist, "dist")
)

// MustSubFS panics when fsRoot is not a valid path inside currentFs.
func MustSubFS(currentFs fs.FS, fsRoot string) fs.FS {
	subFs, err := fs.Sub(currentFs, fsRoot)
	if err != nil {
		panic(fmt.Errorf("can not create sub FS, invalid root given, err: %w", err))
	}
	return subFs
}

// StaticFS registers a new route with path prefix to serve static files from the provided file system.
func StaticFS(r *chi.Mux, pathPrefix string, filesystem fs.FS) {
	r.Handle(pathPrefix+"/*", http.StripPrefix(pathPrefix, http.FileServer(http.FS(filesystem))))
}

// RegisterHandler serves the dashboard. Unknown paths fall back to the
// index page so client-side routes survive a reload.
func RegisterHandler(c *chi.Mux, version, baseUrl string) {
	assets, _ := fs.Sub(DistDirFS, "assets")
	static, _ := fs.Sub(DistDirFS, "static")
	StaticFS(c, "/assets", assets)
	StaticFS(c, "/static", static)

	p := IndexParams{
		Title:   "Gramsight",
		Version: version,
		BaseUrl: baseUrl,
	}

	c.Get("/", func(w http.ResponseWriter, r *http.Request) {
		serveIndex(w, p)
	})

	c.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		requestedPath := strings.TrimPrefix(r.URL.Path, "/")

		if requestedPath == "manifest.webmanifest" {
			w.Header().Set("Content-Type", "application/manifest+json")
			if err := Manifest(w, p); err != nil {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
			return
		}

		f, err := DistDirFS.Open(path.Join("browser", requestedPath))
		if err != nil {
			serveIndex(w, p)
			return
		}
		defer f.Close()

		stat, err := f.Stat()
		if err != nil || stat.IsDir() {
			serveIndex(w, p)
			return
		}

		rs, ok := f.(io.ReadSeeker)
		if !ok {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		http.ServeContent(w, r, stat.Name(), stat.ModTime(), rs)
	})
}

func serveIndex(w http.ResponseWriter, p IndexParams) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := Index(w, p); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func Index(w io.Writer, p IndexParams) error {
	tmpl, err := template.New("index.html").ParseFS(Dist, "dist/browser/index.html")
	if err != nil {
		return fmt.Errorf("failed to parse index template: %w", err)
	}
	return tmpl.Execute(w, p)
}

func Manifest(w io.Writer, p IndexParams) error {
	tmpl, err := template.New("manifest.webmanifest").ParseFS(Dist, "dist/manifest.webmanifest")
	if err != nil {
		return fmt.Errorf("failed to parse manifest template: %w", err)
	}
	return tmpl.Execute(w, p)
}
