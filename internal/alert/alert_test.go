package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWebhookPostsAlertPayload(t *testing.T) {
	t.Parallel()

	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, time.Second)
	require.NoError(t, w.Alert(context.Background(), "austin", "connection refused", 6))

	assert.Equal(t, "austin", got.Target)
	assert.Equal(t, "connection refused", got.Reason)
	assert.Equal(t, 6, got.ConsecutiveFailures)
	assert.NotEmpty(t, got.RaisedAt)
}

func TestWebhookRejectsNon2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, time.Second)
	err := w.Alert(context.Background(), "austin", "down", 3)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestLogAlerterNeverFails(t *testing.T) {
	t.Parallel()

	l := NewLog(zap.NewNop())
	assert.NoError(t, l.Alert(context.Background(), "austin", "down", 3))
}

type stubAlerter struct {
	calls int
	err   error
}

func (s *stubAlerter) Alert(context.Context, string, string, int) error {
	s.calls++
	return s.err
}

func TestMultiDeliversToAllAndKeepsFirstError(t *testing.T) {
	t.Parallel()

	failing := &stubAlerter{err: errors.New("webhook down")}
	ok := &stubAlerter{}
	m := NewMulti(failing, ok)

	err := m.Alert(context.Background(), "austin", "down", 3)
	require.Error(t, err)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls)
}
