// Package web serves the few server-rendered pages: the public queue board
// and the password reset form.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"io/fs"

	"github.com/labstack/echo/v4"
)

//go:embed templates/*.html
var templateFS embed.FS

// Renderer is an echo.Renderer over the embedded templates. Each page is
// parsed together with the shared layout.
type Renderer struct {
	pages map[string]*template.Template
}

func NewRenderer() (*Renderer, error) {
	return newRenderer(templateFS, "templates")
}

func newRenderer(fsys fs.FS, dir string) (*Renderer, error) {
	layout := dir + "/layout.html"
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}

	r := &Renderer{pages: make(map[string]*template.Template)}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == "layout.html" {
			continue
		}
		tmpl, err := template.ParseFS(fsys, layout, dir+"/"+name)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.pages[name] = tmpl
	}
	return r, nil
}

// Render executes the named page inside the layout.
func (r *Renderer) Render(w io.Writer, name string, data interface{}, _ echo.Context) error {
	tmpl, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("template %q not found", name)
	}
	return tmpl.ExecuteTemplate(w, "layout", data)
}
