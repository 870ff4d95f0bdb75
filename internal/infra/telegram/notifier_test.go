//go:build !integration

package telegram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-batch-pipeline/internal/config"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

type fakeBotAPI struct {
	mu    sync.Mutex
	sends []map[string]string
}

func (f *fakeBotAPI) handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":7,"is_bot":true,"first_name":"genbatch","username":"genbatch_bot"}}`))
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		_ = r.ParseForm()
		f.mu.Lock()
		f.sends = append(f.sends, map[string]string{"chat_id": r.FormValue("chat_id"), "text": r.FormValue("text")})
		f.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"text":"ok"}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
	}
}

func TestBotNotifier(t *testing.T) {
	fake := &fakeBotAPI{}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(srv.Close)
	endpoint := srv.URL + "/bot%s/%s"

	t.Run("should send the summary to the configured chat", func(t *testing.T) {
		n, err := newBotNotifier(config.NotifyConfig{TelegramToken: "123:abc", TelegramChatID: 42}, endpoint, srv.Client(), newTestLogger())
		require.NoError(t, err)

		require.NoError(t, n.Notify(context.Background(), "job 01H done: 5 succeeded"))

		fake.mu.Lock()
		defer fake.mu.Unlock()
		require.Len(t, fake.sends, 1)
		assert.Equal(t, "42", fake.sends[0]["chat_id"])
		assert.Equal(t, "job 01H done: 5 succeeded", fake.sends[0]["text"])
	})

	t.Run("should truncate long summaries", func(t *testing.T) {
		fake.mu.Lock()
		fake.sends = nil
		fake.mu.Unlock()
		n, err := newBotNotifier(config.NotifyConfig{TelegramToken: "123:abc", TelegramChatID: 42}, endpoint, srv.Client(), newTestLogger())
		require.NoError(t, err)

		require.NoError(t, n.Notify(context.Background(), strings.Repeat("x", 5000)))

		fake.mu.Lock()
		defer fake.mu.Unlock()
		require.Len(t, fake.sends, 1)
		assert.Len(t, fake.sends[0]["text"], maxMessageLen)
	})

	t.Run("should require a chat id", func(t *testing.T) {
		_, err := newBotNotifier(config.NotifyConfig{TelegramToken: "123:abc"}, endpoint, srv.Client(), newTestLogger())
		assert.Error(t, err)
	})
}

func TestNew(t *testing.T) {
	t.Run("should fall back to the noop notifier without a token", func(t *testing.T) {
		n, err := New(config.NotifyConfig{}, newTestLogger())
		require.NoError(t, err)
		assert.IsType(t, &NoopNotifier{}, n)
		assert.NoError(t, n.Notify(context.Background(), "hello"))
	})
}
