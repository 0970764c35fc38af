package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aurlink/waitlist/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestMock(t *testing.T) (*mockServer, *httptest.Server) {
	t.Helper()
	m := &mockServer{logger: slog.New(slog.NewJSONHandler(io.Discard, nil))}
	srv := httptest.NewServer(m.routes())
	t.Cleanup(srv.Close)
	return m, srv
}

var msg = notify.Message{To: "ada@example.com", Subject: "Welcome", HTML: "<p>hi</p>"}

func TestMock_AcceptsProviderRequests(t *testing.T) {
	m, srv := setupTestMock(t)
	ctx := context.Background()

	resend := notify.NewResend("re_test", "AURLINK <onboarding@aurlink.xyz>", srv.URL, srv.Client())
	require.NoError(t, resend.Send(ctx, msg))

	sendgrid := notify.NewSendGrid("SG.test", "onboarding@aurlink.xyz", "AURLINK", srv.URL, srv.Client())
	require.NoError(t, sendgrid.Send(ctx, msg))

	assert.Equal(t, int64(2), m.accepted.Load())
}

func TestMock_FailingEndpoint(t *testing.T) {
	m, srv := setupTestMock(t)

	resend := notify.NewResend("re_test", "a@b.co", srv.URL+"/fail", srv.Client())
	err := resend.Send(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resend error 500")
	assert.Equal(t, int64(1), m.rejected.Load())
}

func TestMock_RequiresAPIKey(t *testing.T) {
	_, srv := setupTestMock(t)

	resend := notify.NewResend("", "a@b.co", srv.URL, srv.Client())
	err := resend.Send(context.Background(), msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestMock_Stats(t *testing.T) {
	m, srv := setupTestMock(t)
	m.accepted.Store(3)
	m.rejected.Store(1)

	resp, err := srv.Client().Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats map[string]int64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	assert.Equal(t, map[string]int64{"accepted": 3, "rejected": 1}, stats)
}
