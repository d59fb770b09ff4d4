package notifications

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Renderer renders stored subject/body templates against item bindings.
type Renderer struct {
	funcMap template.FuncMap
}

// NewRenderer creates a renderer with the helper functions available to templates.
func NewRenderer() *Renderer {
	return &Renderer{
		funcMap: template.FuncMap{
			"title":      titleCase,
			"upper":      strings.ToUpper,
			"lower":      strings.ToLower,
			"trim":       strings.TrimSpace,
			"escapeHTML": html.EscapeString,
			"formatDate": formatDate,
			"default":    defaultValue,
		},
	}
}

// Render executes the subject and body templates with the given bindings.
func (r *Renderer) Render(subjectTmpl, bodyTmpl string, bindings Bindings) (subject, body string, err error) {
	subject, err = r.execute("subject", subjectTmpl, bindings)
	if err != nil {
		return "", "", err
	}

	body, err = r.execute("body", bodyTmpl, bindings)
	if err != nil {
		return "", "", err
	}

	return strings.TrimSpace(subject), body, nil
}

func (r *Renderer) execute(name, text string, bindings Bindings) (string, error) {
	tmpl, err := template.New(name).Funcs(r.funcMap).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, map[string]any(bindings)); err != nil {
		return "", fmt.Errorf("execute %s template: %w", name, err)
	}

	return buf.String(), nil
}

// Template functions

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(s)
}

// formatDate reformats an RFC 3339 (or date-only) string with a Go layout.
// Values that do not parse are returned unchanged.
func formatDate(layout string, value any) string {
	s := fmt.Sprint(value)
	for _, in := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", time.DateOnly} {
		if t, err := time.Parse(in, s); err == nil {
			return t.Format(layout)
		}
	}
	return s
}

// defaultValue returns fallback when value is nil or an empty string.
func defaultValue(fallback, value any) any {
	if value == nil {
		return fallback
	}
	if s, ok := value.(string); ok && s == "" {
		return fallback
	}
	return value
}
