package domain

import "time"

// Email template names understood by the notifier.
const (
	TemplateWelcome      = "welcome"
	TemplateConfirm      = "confirm"
	TemplateAnnouncement = "announcement"
	TemplateUpdate       = "update"
	TemplateLaunch       = "launch"
)

// BroadcastTemplates lists the templates an admin may broadcast with.
var BroadcastTemplates = []string{TemplateAnnouncement, TemplateUpdate, TemplateLaunch, TemplateWelcome}

type BroadcastRequest struct {
	Template string `json:"templateType"`
	Subject  string `json:"subject"`
	Message  string `json:"message"`
	CTALink  string `json:"ctaLink,omitempty"`
	CTAText  string `json:"ctaText,omitempty"`
}

type Broadcast struct {
	ID string `json:"id"`
	BroadcastRequest
	CreatedAt time.Time `json:"createdAt"`
}

type BroadcastStatus struct {
	ID        string    `json:"id"`
	Template  string    `json:"templateType"`
	Total     int       `json:"total"`
	Sent      int       `json:"sent"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	CreatedAt time.Time `json:"createdAt"`
}

// Done reports whether every queued email has been accounted for.
func (s BroadcastStatus) Done() bool {
	return s.Sent+s.Failed+s.Skipped >= s.Total
}
