package notify

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestTelegram(handler http.Handler) (*Telegram, *httptest.Server) {
	srv := httptest.NewServer(handler)
	tg := &Telegram{
		BotToken: "bot-token",
		ChatID:   "chat-1",
		BaseURL:  srv.URL,
		Client:   &http.Client{Timeout: time.Second},
	}
	return tg, srv
}

func TestSendPayload(t *testing.T) {
	var gotPath, gotBody string
	tg, srv := newTestTelegram(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	require.NoError(t, tg.Send("<b>hello</b>", true))
	assert.Equal(t, "/botbot-token/sendMessage", gotPath)
	assert.Equal(t, "chat-1", gjson.Get(gotBody, "chat_id").String())
	assert.Equal(t, "<b>hello</b>", gjson.Get(gotBody, "text").String())
	assert.Equal(t, "HTML", gjson.Get(gotBody, "parse_mode").String())
	assert.True(t, gjson.Get(gotBody, "disable_notification").Bool())
}

func TestSendRetriesOnServerError(t *testing.T) {
	calls := 0
	tg, srv := newTestTelegram(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	require.NoError(t, tg.Send("msg", false))
	assert.Equal(t, 3, calls)
}

func TestSendGivesUpAfterRetries(t *testing.T) {
	calls := 0
	tg, srv := newTestTelegram(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := tg.Send("msg", false)
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestSendUnconfigured(t *testing.T) {
	tg := &Telegram{}
	assert.Error(t, tg.Send("msg", false))
}
