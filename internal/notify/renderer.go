// Package notify renders and sends outbound email and keeps the delivery log.
package notify

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/medsociety/portal/internal/models"
)

//go:embed templates/*
var templateFS embed.FS

// Templates lists the email types the renderer knows.
var Templates = []string{
	models.EmailTypeRegistrationConfirmation,
	models.EmailTypePaymentReceipt,
	models.EmailTypeMembershipReceived,
}

// Message is a rendered email.
type Message struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer renders the embedded templates. Templates are parsed once.
type Renderer struct {
	html *htmltemplate.Template
	text *texttemplate.Template
}

// NewRenderer parses every embedded template.
func NewRenderer() (*Renderer, error) {
	html, err := htmltemplate.New("").Option("missingkey=zero").ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse html templates: %w", err)
	}
	text, err := texttemplate.New("").Option("missingkey=zero").ParseFS(templateFS, "templates/*.txt")
	if err != nil {
		return nil, fmt.Errorf("parse text templates: %w", err)
	}
	return &Renderer{html: html, text: text}, nil
}

// Render builds the message for emailType.
func (r *Renderer) Render(emailType string, data map[string]string) (*Message, error) {
	if r.html.Lookup(emailType+".html") == nil {
		return nil, fmt.Errorf("unknown email type %q", emailType)
	}
	var subject, text, html bytes.Buffer
	if err := r.text.ExecuteTemplate(&subject, emailType+"_subject.txt", data); err != nil {
		return nil, fmt.Errorf("render subject: %w", err)
	}
	if err := r.html.ExecuteTemplate(&html, emailType+".html", data); err != nil {
		return nil, fmt.Errorf("render html: %w", err)
	}
	if err := r.text.ExecuteTemplate(&text, emailType+".txt", data); err != nil {
		return nil, fmt.Errorf("render text: %w", err)
	}
	return &Message{Subject: strings.TrimSpace(subject.String()), HTML: html.String(), Text: text.String()}, nil
}
