package notify

import (
	"embed"
	"fmt"

	"github.com/aurlink/waitlist/internal/domain"
	"github.com/osteele/liquid"
)

//go:embed templates/*.liquid
var templateFS embed.FS

var subjects = map[string]string{
	domain.TemplateWelcome:      "🚀 Welcome to AURLINK - You're Position #{{ position }}!",
	domain.TemplateConfirm:      "Confirm your spot on the AURLINK waitlist (#{{ position }})",
	domain.TemplateAnnouncement: "🎯 AURLINK Announcement: {{ subject }}",
	domain.TemplateUpdate:       "📢 AURLINK Update: {{ subject }}",
	domain.TemplateLaunch:       "🚀 AURLINK Launch: {{ subject }}",
}

// TemplateData is everything a template may reference.
type TemplateData struct {
	Email         string
	Position      int
	UserName      string
	CustomMessage string
	InviteURL     string
	ConfirmURL    string
	Subject       string
	Message       string
	CTALink       string
	CTAText       string
}

func (d TemplateData) bindings() map[string]any {
	return map[string]any{
		"email":         d.Email,
		"position":      d.Position,
		"userName":      d.UserName,
		"customMessage": d.CustomMessage,
		"inviteUrl":     d.InviteURL,
		"confirmUrl":    d.ConfirmURL,
		"subject":       d.Subject,
		"message":       d.Message,
		"ctaLink":       d.CTALink,
		"ctaText":       d.CTAText,
	}
}

type compiled struct {
	subject *liquid.Template
	body    *liquid.Template
}

// Renderer turns a template name and data into a Message. Templates are
// parsed once at construction.
type Renderer struct {
	layout    *liquid.Template
	templates map[string]compiled
}

func NewRenderer() (*Renderer, error) {
	engine := liquid.NewEngine()

	layoutSrc, err := templateFS.ReadFile("templates/layout.liquid")
	if err != nil {
		return nil, fmt.Errorf("reading layout: %w", err)
	}
	layout, perr := engine.ParseTemplate(layoutSrc)
	if perr != nil {
		return nil, fmt.Errorf("parsing layout: %w", perr)
	}

	r := &Renderer{layout: layout, templates: make(map[string]compiled, len(subjects))}
	for name, subjectSrc := range subjects {
		src, err := templateFS.ReadFile("templates/" + name + ".liquid")
		if err != nil {
			return nil, fmt.Errorf("reading template %s: %w", name, err)
		}
		body, perr := engine.ParseTemplate(src)
		if perr != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, perr)
		}
		subject, perr := engine.ParseString(subjectSrc)
		if perr != nil {
			return nil, fmt.Errorf("parsing subject %s: %w", name, perr)
		}
		r.templates[name] = compiled{subject: subject, body: body}
	}
	return r, nil
}

// Render builds the message for template name addressed to data.Email.
// Unknown names fall back to the welcome template.
func (r *Renderer) Render(name string, data TemplateData) (Message, error) {
	tpl, ok := r.templates[name]
	if !ok {
		tpl = r.templates[domain.TemplateWelcome]
	}
	b := data.bindings()

	subject, err := tpl.subject.RenderString(b)
	if err != nil {
		return Message{}, fmt.Errorf("rendering subject: %w", err)
	}
	body, err := tpl.body.RenderString(b)
	if err != nil {
		return Message{}, fmt.Errorf("rendering body: %w", err)
	}
	html, err := r.layout.RenderString(map[string]any{"body": body})
	if err != nil {
		return Message{}, fmt.Errorf("rendering layout: %w", err)
	}

	return Message{To: data.Email, Subject: subject, HTML: html}, nil
}
