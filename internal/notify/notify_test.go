package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aurlink/waitlist/internal/config"
	"github.com/aurlink/waitlist/internal/domain"
	"github.com/aurlink/waitlist/internal/engine"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRenderer_Welcome(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	msg, err := r.Render(domain.TemplateWelcome, TemplateData{Email: "a@x.com", Position: 7})
	require.NoError(t, err)

	assert.Equal(t, "a@x.com", msg.To)
	assert.Equal(t, "🚀 Welcome to AURLINK - You're Position #7!", msg.Subject)
	assert.Contains(t, msg.HTML, "#7")
	assert.Contains(t, msg.HTML, "Innovator")
	assert.Contains(t, msg.HTML, "<!DOCTYPE html>")
}

func TestRenderer_EscapesUserInput(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	msg, err := r.Render(domain.TemplateWelcome, TemplateData{Email: "a@x.com", Position: 1, UserName: "<script>"})
	require.NoError(t, err)
	assert.NotContains(t, msg.HTML, "<script>")
	assert.Contains(t, msg.HTML, "&lt;script&gt;")
}

func TestRenderer_Broadcasts(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	data := TemplateData{Email: "a@x.com", Subject: "Testnet", Message: "Go try it", CTALink: "https://aurlink.xyz", CTAText: "Open"}
	tests := map[string]string{
		domain.TemplateAnnouncement: "🎯 AURLINK Announcement: Testnet",
		domain.TemplateUpdate:       "📢 AURLINK Update: Testnet",
		domain.TemplateLaunch:       "🚀 AURLINK Launch: Testnet",
	}
	for name, subject := range tests {
		t.Run(name, func(t *testing.T) {
			msg, err := r.Render(name, data)
			require.NoError(t, err)
			assert.Equal(t, subject, msg.Subject)
			assert.Contains(t, msg.HTML, "Go try it")
			assert.Contains(t, msg.HTML, `href="https://aurlink.xyz"`)
		})
	}
}

func TestRenderer_UnknownFallsBackToWelcome(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	msg, err := r.Render("exclusive", TemplateData{Email: "a@x.com", Position: 3})
	require.NoError(t, err)
	assert.Equal(t, "🚀 Welcome to AURLINK - You're Position #3!", msg.Subject)
}

func TestRenderer_Confirm(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	msg, err := r.Render(domain.TemplateConfirm, TemplateData{Email: "a@x.com", Position: 2, ConfirmURL: "http://localhost/api/confirm?token=abc"})
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, "http://localhost/api/confirm?token=abc")
}

func TestResend_Send(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer re_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id":"email_1"}`))
	}))
	defer srv.Close()

	n := NewResend("re_test", "AURLINK <onboarding@aurlink.xyz>", srv.URL, srv.Client())
	err := n.Send(context.Background(), Message{To: "a@x.com", Subject: "Hi", HTML: "<p>hi</p>"})
	require.NoError(t, err)

	assert.Equal(t, "AURLINK <onboarding@aurlink.xyz>", got["from"])
	assert.Equal(t, []any{"a@x.com"}, got["to"])
	assert.Equal(t, "Hi", got["subject"])
}

func TestResend_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"invalid from"}`))
	}))
	defer srv.Close()

	n := NewResend("re_test", "x@y.z", srv.URL, srv.Client())
	err := n.Send(context.Background(), Message{To: "a@x.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resend error 422")
	assert.Contains(t, err.Error(), "invalid from")
}

func TestSendGrid_Send(t *testing.T) {
	var got sendGridPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer SG.test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewSendGrid("SG.test", "onboarding@aurlink.xyz", "AURLINK", srv.URL, srv.Client())
	require.NoError(t, n.Send(context.Background(), Message{To: "a@x.com", Subject: "Hi", HTML: "<p>hi</p>"}))

	require.Len(t, got.Personalizations, 1)
	assert.Equal(t, "a@x.com", got.Personalizations[0].To[0].Email)
	assert.Equal(t, "AURLINK", got.From.Name)
	assert.Equal(t, "text/html", got.Content[0].Type)
}

func TestSMTP_Send(t *testing.T) {
	n := NewSMTP("smtp.example.com", 0, "user", "pass", "AURLINK <onboarding@aurlink.xyz>")

	var (
		gotAddr, gotFrom string
		gotTo            []string
		gotBody          string
	)
	n.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotBody = addr, from, to, string(msg)
		return nil
	}

	require.NoError(t, n.Send(context.Background(), Message{To: "a@x.com", Subject: "Hello", HTML: "<p>hi</p>"}))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "onboarding@aurlink.xyz", gotFrom)
	assert.Equal(t, []string{"a@x.com"}, gotTo)
	assert.True(t, strings.HasSuffix(gotBody, "\r\n\r\n<p>hi</p>"))
	assert.Contains(t, gotBody, "From: AURLINK <onboarding@aurlink.xyz>\r\n")
}

func TestSMTP_CanceledContext(t *testing.T) {
	n := NewSMTP("smtp.example.com", 25, "user", "pass", "")
	n.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("sendMail should not be called")
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Send(ctx, Message{To: "a@x.com"}), context.Canceled)
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	return &sesv2.SendEmailOutput{}, f.err
}

func TestSES_Send(t *testing.T) {
	fake := &fakeSES{}
	n := &SESNotifier{client: fake, from: "AURLINK <onboarding@aurlink.xyz>"}

	require.NoError(t, n.Send(context.Background(), Message{To: "a@x.com", Subject: "Hi", HTML: "<p>hi</p>"}))
	assert.Equal(t, []string{"a@x.com"}, fake.input.Destination.ToAddresses)
	assert.Equal(t, "Hi", *fake.input.Content.Simple.Subject.Data)

	fake.err = errors.New("throttled")
	assert.ErrorContains(t, n.Send(context.Background(), Message{To: "a@x.com"}), "throttled")
}

type stubNotifier struct {
	err   error
	calls int
}

func (s *stubNotifier) Name() string { return "stub" }

func (s *stubNotifier) Send(context.Context, Message) error {
	s.calls++
	return s.err
}

func TestGuarded_OpensAfterFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	stub := &stubNotifier{err: errors.New("provider down")}
	g := NewGuarded(stub, engine.NewCircuitBreaker(client, testLogger()))
	ctx := context.Background()

	for i := 0; i < engine.DefaultFailureThreshold; i++ {
		assert.EqualError(t, g.Send(ctx, Message{To: "a@x.com"}), "provider down")
	}

	assert.ErrorIs(t, g.Send(ctx, Message{To: "a@x.com"}), ErrCircuitOpen)
	assert.Equal(t, engine.DefaultFailureThreshold, stub.calls)
	assert.Equal(t, "notify:stub", g.BreakerKey())
}

func TestNew_SelectsProvider(t *testing.T) {
	tests := map[string]string{
		"log":      "log",
		"":         "log",
		"resend":   "resend",
		"sendgrid": "sendgrid",
		"smtp":     "smtp",
		"ses":      "ses",
	}
	for provider, want := range tests {
		t.Run(provider, func(t *testing.T) {
			n, err := New(context.Background(), config.EmailConfig{
				Provider:     provider,
				FromAddress:  "onboarding@aurlink.xyz",
				SESRegion:    "us-east-1",
				SESAccessKey: "AKIA",
				SESSecretKey: "secret",
			}, testLogger())
			require.NoError(t, err)
			assert.Equal(t, want, n.Name())
		})
	}

	_, err := New(context.Background(), config.EmailConfig{Provider: "pigeon"}, testLogger())
	assert.Error(t, err)
}
