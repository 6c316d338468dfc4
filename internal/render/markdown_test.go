package render

import (
	"strings"
	"testing"

	"deepseek-chat/internal/domain"
)

func TestMarkdownHTML(t *testing.T) {
	m := NewMarkdown()

	out := string(m.HTML("**hola**\n\n```go\nfmt.Println(1)\n```\n"))
	if !strings.Contains(out, "<strong>hola</strong>") {
		t.Fatalf("expected bold text, got %s", out)
	}
	if !strings.Contains(out, "<pre") || !strings.Contains(out, "Println") {
		t.Fatalf("expected highlighted code block, got %s", out)
	}
}

func TestMarkdownHTML_Sanitizes(t *testing.T) {
	m := NewMarkdown()

	out := string(m.HTML(`<script>alert(1)</script><a href="javascript:alert(1)" onclick="x()">x</a>`))
	if strings.Contains(out, "<script") || strings.Contains(out, "onclick") || strings.Contains(out, "javascript:") {
		t.Fatalf("expected sanitized output, got %s", out)
	}
}

func TestMarkdownDocument(t *testing.T) {
	m := NewMarkdown()
	msgs := []domain.Message{
		domain.NewMessage(domain.RoleUser, "<b>Hello</b>"),
		domain.NewMessage(domain.RoleAssistant, "Hi *there*"),
	}

	doc, err := m.Document("Chat & notas", msgs)
	if err != nil {
		t.Fatalf("Document err: %v", err)
	}
	out := string(doc)
	if !strings.Contains(out, "<title>Chat &amp; notas</title>") {
		t.Fatalf("expected escaped title, got %s", out)
	}
	if !strings.Contains(out, "&lt;b&gt;Hello&lt;/b&gt;") {
		t.Fatalf("user content must be escaped, got %s", out)
	}
	if !strings.Contains(out, "<em>there</em>") {
		t.Fatalf("assistant content must be rendered, got %s", out)
	}

	empty, err := m.Document("vacía", nil)
	if err != nil || !strings.Contains(string(empty), "sin mensajes") {
		t.Fatalf("expected placeholder for empty transcript, err=%v", err)
	}
}
