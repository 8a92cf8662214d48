// Package render produces the text reports printed by the CLI from templates
// embedded in the package.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"io"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Engine renders templates embedded in the package.
type Engine struct {
	templates *template.Template
}

// New initialises an Engine by parsing all embedded templates.
func New() (*Engine, error) {
	t, err := template.New("render").Funcs(template.FuncMap{
		"rule":    func(n int) string { return strings.Repeat("=", n) },
		"percent": func(v float64) string { return fmt.Sprintf("%.1f%%", v) },
	}).ParseFS(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Engine{templates: t}, nil
}

// Render executes the named template with the provided data and returns the rendered string.
func (e *Engine) Render(name string, data any) (string, error) {
	buf := bytes.NewBuffer(nil)
	if err := e.Execute(buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Execute writes the named template to w.
func (e *Engine) Execute(w io.Writer, name string, data any) error {
	if e == nil || e.templates == nil {
		return fmt.Errorf("nil engine")
	}
	if err := e.templates.ExecuteTemplate(w, name, data); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	return nil
}
