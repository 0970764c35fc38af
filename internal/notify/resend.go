package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultResendURL = "https://api.resend.com"

// ResendNotifier sends through the Resend HTTP API.
type ResendNotifier struct {
	apiKey  string
	from    string
	baseURL string
	client  *http.Client
}

func NewResend(apiKey, from, baseURL string, client *http.Client) *ResendNotifier {
	if baseURL == "" {
		baseURL = defaultResendURL
	}
	return &ResendNotifier{
		apiKey:  apiKey,
		from:    from,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (n *ResendNotifier) Name() string { return "resend" }

func (n *ResendNotifier) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(map[string]any{
		"from":    n.from,
		"to":      []string{msg.To},
		"subject": msg.Subject,
		"html":    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("encoding resend payload: %w", err)
	}
	return postJSON(ctx, n.client, "resend", n.baseURL+"/emails", n.apiKey, payload)
}

// postJSON performs one authenticated JSON POST and treats any non-2xx
// status as a failure carrying a snippet of the response body.
func postJSON(ctx context.Context, client *http.Client, provider, url, apiKey string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", provider, err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s error %d: %s", provider, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
