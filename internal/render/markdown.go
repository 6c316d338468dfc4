package render

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	highlighting "github.com/yuin/goldmark-highlighting/v2"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"deepseek-chat/internal/domain"
)

// Markdown convierte las respuestas del modelo a HTML sanitizado.
type Markdown struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
	page   *template.Template
}

func NewMarkdown() *Markdown {
	md := goldmark.New(
		goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
		goldmark.WithExtensions(
			extension.GFM,
			highlighting.NewHighlighting(
				highlighting.WithStyle("dracula"),
				highlighting.WithFormatOptions(
					chromahtml.WithLineNumbers(false),
				),
			),
		),
	)

	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").OnElements("code", "pre", "span")
	// el highlighter emite estilos inline
	p.AllowAttrs("style").OnElements("pre", "span")

	return &Markdown{
		md:     md,
		policy: p,
		page:   template.Must(template.New("transcript").Parse(documentTemplate)),
	}
}

// HTML renderiza src; si goldmark falla se devuelve el texto escapado.
func (m *Markdown) HTML(src string) template.HTML {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(src), &buf); err != nil {
		return template.HTML("<pre>" + template.HTMLEscapeString(src) + "</pre>")
	}
	return template.HTML(m.policy.SanitizeBytes(buf.Bytes()))
}

type messageView struct {
	Role string
	HTML template.HTML
	At   string
}

// Document arma una página HTML completa con todos los mensajes.
func (m *Markdown) Document(title string, messages []domain.Message) ([]byte, error) {
	views := make([]messageView, 0, len(messages))
	for _, msg := range messages {
		v := messageView{Role: string(msg.Role)}
		if msg.Role == domain.RoleAssistant {
			v.HTML = m.HTML(msg.Content)
		} else {
			v.HTML = template.HTML("<p>" + template.HTMLEscapeString(msg.Content) + "</p>")
		}
		if !msg.Timestamp.IsZero() {
			v.At = msg.Timestamp.Local().Format(time.DateTime)
		}
		views = append(views, v)
	}

	var buf bytes.Buffer
	err := m.page.Execute(&buf, struct {
		Title    string
		Messages []messageView
	}{Title: title, Messages: views})
	if err != nil {
		return nil, fmt.Errorf("render transcript: %w", err)
	}
	return buf.Bytes(), nil
}

const documentTemplate = `<!DOCTYPE html>
<html lang="es">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: sans-serif; max-width: 48rem; margin: 2rem auto; }
.msg { margin: 1rem 0; padding: .5rem 1rem; border-radius: .5rem; }
.user { background: #eef3ff; }
.assistant { background: #f6f6f6; }
.meta { font-size: .75rem; color: #666; }
pre { overflow-x: auto; padding: .5rem; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Messages}}<div class="msg {{.Role}}">
<div class="meta">{{.Role}}{{if .At}} · {{.At}}{{end}}</div>
{{.HTML}}
</div>
{{else}}<p>(sin mensajes)</p>
{{end}}</body>
</html>
`
