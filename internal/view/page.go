// Package view renders the petition page.
package view

import (
	"bytes"
	"embed"
	"html"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/microcosm-cc/bluemonday"

	"petition/api/internal/form"
	"petition/api/internal/petition"
	"petition/api/internal/signature"
)

const noComment = "No additional input provided."

//go:embed templates/*.html
var templateFS embed.FS

// Page is everything the petition page shows for one visitor.
type Page struct {
	Petition      petition.Data
	Progress      petition.Progress
	CreatorURL    string
	ShareURL      string
	Signatures    []signature.Signature
	Loading       bool
	Form          form.View
	SiteKey       string
	CaptchaResets int
	RevertSeconds int
}

type Renderer struct {
	tmpl *template.Template
}

func NewRenderer() (*Renderer, error) {
	policy := bluemonday.StrictPolicy()
	funcMap := template.FuncMap{
		"comma": func(n int) string {
			return humanize.Comma(int64(n))
		},
		"ago": func(t time.Time) string {
			if t.IsZero() {
				return "just now"
			}
			return humanize.Time(t)
		},
		"comment": func(text string) string {
			// the template escapes again, so undo the sanitizer's entity encoding
			cleaned := strings.TrimSpace(html.UnescapeString(policy.Sanitize(text)))
			if cleaned == "" {
				return noComment
			}
			return cleaned
		},
		"paragraphs": func(text string) []string {
			var out []string
			for _, p := range strings.Split(text, "\n\n") {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			return out
		},
	}

	content, err := templateFS.ReadFile("templates/page.html")
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New("page").Funcs(funcMap).Parse(string(content))
	if err != nil {
		return nil, err
	}
	return &Renderer{tmpl: tmpl}, nil
}

func (r *Renderer) Render(w io.Writer, page Page) error {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, page); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}
