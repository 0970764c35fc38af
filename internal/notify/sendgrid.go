package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const defaultSendGridURL = "https://api.sendgrid.com"

type SendGridNotifier struct {
	apiKey    string
	fromEmail string
	fromName  string
	baseURL   string
	client    *http.Client
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridPayload struct {
	Personalizations []struct {
		To []sendGridAddress `json:"to"`
	} `json:"personalizations"`
	From    sendGridAddress   `json:"from"`
	Subject string            `json:"subject"`
	Content []sendGridContent `json:"content"`
}

func NewSendGrid(apiKey, fromEmail, fromName, baseURL string, client *http.Client) *SendGridNotifier {
	if baseURL == "" {
		baseURL = defaultSendGridURL
	}
	return &SendGridNotifier{
		apiKey:    apiKey,
		fromEmail: fromEmail,
		fromName:  fromName,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    client,
	}
}

func (n *SendGridNotifier) Name() string { return "sendgrid" }

func (n *SendGridNotifier) Send(ctx context.Context, msg Message) error {
	p := sendGridPayload{
		From:    sendGridAddress{Email: n.fromEmail, Name: n.fromName},
		Subject: msg.Subject,
		Content: []sendGridContent{{Type: "text/html", Value: msg.HTML}},
	}
	p.Personalizations = make([]struct {
		To []sendGridAddress `json:"to"`
	}, 1)
	p.Personalizations[0].To = []sendGridAddress{{Email: msg.To}}

	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding sendgrid payload: %w", err)
	}
	return postJSON(ctx, n.client, "sendgrid", n.baseURL+"/v3/mail/send", n.apiKey, payload)
}
