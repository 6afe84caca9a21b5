// Package templates handles HTML fragment rendering for Datastar SSE responses.
package templates

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

//go:embed fragments/*.html
var embedded embed.FS

// funcMap provides common template functions.
var funcMap = template.FuncMap{
	// dict creates a map from key-value pairs, useful for passing multiple values to nested templates
	"dict": func(values ...any) map[string]any {
		if len(values)%2 != 0 {
			return nil
		}
		m := make(map[string]any, len(values)/2)
		for i := 0; i < len(values); i += 2 {
			key, ok := values[i].(string)
			if !ok {
				continue
			}
			m[key] = values[i+1]
		}
		return m
	},
	"fixed": func(f float64) string {
		return strconv.FormatFloat(f, 'f', 1, 64)
	},
	// dataURI marks a generated data: URI as safe for src attributes.
	"dataURI": func(s string) template.URL {
		return template.URL(s)
	},
}

// Renderer manages HTML fragment templates.
type Renderer struct {
	templates *template.Template
	dir       string
	mu        sync.RWMutex
}

// New loads fragments from dir when it holds any, and the built-in
// fragments otherwise.
func New(dir string) (*Renderer, error) {
	tmpl, err := parse(dir)
	if err != nil {
		return nil, err
	}
	return &Renderer{templates: tmpl, dir: dir}, nil
}

// Default returns a renderer over the built-in fragments.
func Default() *Renderer {
	tmpl := template.Must(template.New("").Funcs(funcMap).ParseFS(embedded, "fragments/*.html"))
	return &Renderer{templates: tmpl}
}

func parse(dir string) (*template.Template, error) {
	if dir != "" {
		if matches, _ := filepath.Glob(filepath.Join(dir, "*.html")); len(matches) > 0 {
			return template.New("").Funcs(funcMap).ParseFS(os.DirFS(dir), "*.html")
		}
	}
	sub, err := fs.Sub(embedded, "fragments")
	if err != nil {
		return nil, err
	}
	return template.New("").Funcs(funcMap).ParseFS(sub, "*.html")
}

// Render renders a named template to a string.
func (r *Renderer) Render(name string, data any) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderToBuffer renders a named template to a buffer.
func (r *Renderer) RenderToBuffer(buf *bytes.Buffer, name string, data any) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.templates.ExecuteTemplate(buf, name, data)
}

// Reload re-reads the fragments (useful for dev hot-reload).
func (r *Renderer) Reload() error {
	tmpl, err := parse(r.dir)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.templates = tmpl
	r.mu.Unlock()

	return nil
}
