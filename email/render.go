package email

import (
	"bytes"
	"fmt"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Message is a rendered email
type Message struct {
	Subject string
	Text    string
	HTML    string
}

// Renderer turns markdown bodies into sanitized HTML
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewRenderer creates a renderer with linkify and hard wraps
func NewRenderer() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(extension.Linkify),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	return &Renderer{
		md:     md,
		policy: bluemonday.UGCPolicy(),
	}
}

// Render builds a message whose text part is the markdown itself
func (r *Renderer) Render(subject, markdown string) (Message, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return Message{}, fmt.Errorf("failed to convert markdown to HTML: %w", err)
	}

	body := r.policy.Sanitize(buf.String())
	return Message{
		Subject: subject,
		Text:    markdown,
		HTML:    "<!DOCTYPE html><html><body>" + body + "</body></html>",
	}, nil
}
