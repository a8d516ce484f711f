package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-timer/internal/domain/notification"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig("TOKEN", 42)
	cfg.BaseURL = srv.URL
	cfg.RetryDelay = time.Millisecond
	return NewClient(cfg)
}

func TestDeliver_SendsMessage(t *testing.T) {
	var got SendMessageParams
	var path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	})

	err := c.Deliver(context.Background(), notification.Reminder{
		Kind:  notification.KindProgress,
		Title: "10 minutes left",
		Body:  "Keep going",
	})
	require.NoError(t, err)

	assert.Equal(t, "/botTOKEN/sendMessage", path)
	assert.Equal(t, int64(42), got.ChatID)
	assert.Equal(t, "HTML", got.ParseMode)
	assert.Equal(t, "<b>10 minutes left</b>\nKeep going", got.Text)
	assert.True(t, got.DisableNotification)
}

func TestDeliver_CompletionIsLoud(t *testing.T) {
	var got SendMessageParams
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	require.NoError(t, c.Deliver(context.Background(), notification.Reminder{
		Kind:  notification.KindCompletion,
		Title: "Focus session complete",
	}))
	assert.False(t, got.DisableNotification)
}

func TestSendMessage_BadRequestIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	})

	err := c.SendMessage(context.Background(), SendMessageParams{ChatID: 1, Text: "x"})
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.Code)
	assert.False(t, apiErr.Temporary())
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendMessage_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":502,"description":"Bad Gateway"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	require.NoError(t, c.SendMessage(context.Background(), SendMessageParams{ChatID: 1, Text: "x"}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestAPIError_Temporary(t *testing.T) {
	assert.True(t, (&APIError{Code: 429}).Temporary())
	assert.True(t, (&APIError{Code: 503}).Temporary())
	assert.False(t, (&APIError{Code: 403}).Temporary())
}

func TestFormatReminder_Escapes(t *testing.T) {
	text := FormatReminder(notification.Reminder{Title: "Break <5 min>", Body: "tea & rest"})
	assert.Equal(t, "<b>Break &lt;5 min&gt;</b>\ntea &amp; rest", text)

	assert.Equal(t, "<b>Done</b>", FormatReminder(notification.Reminder{Title: "Done"}))
}
