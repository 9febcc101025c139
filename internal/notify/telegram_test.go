package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"levtrader/internal/config"
)

func TestNewTelegramFallsBackToNoop(t *testing.T) {
	assert.IsType(t, Noop{}, NewTelegram(config.TelegramConfig{}))
	assert.IsType(t, Noop{}, NewTelegram(config.TelegramConfig{Enabled: true, BotToken: "abc"}))
	assert.IsType(t, Noop{}, NewTelegram(config.TelegramConfig{Enabled: true, ChatID: "42"}))
	assert.IsType(t, &Telegram{}, NewTelegram(config.TelegramConfig{Enabled: true, BotToken: "abc", ChatID: "42"}))
}

func TestNoopSendAlwaysSucceeds(t *testing.T) {
	assert.NoError(t, Noop{}.Send(context.Background(), "anything"))
}

func TestTelegramSendPayload(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	tg := NewTelegram(config.TelegramConfig{Enabled: true, BotToken: "abc", ChatID: "42"}).(*Telegram)
	tg.SetBaseURL(server.URL)
	tg.httpClient = server.Client()

	require.NoError(t, tg.Send(context.Background(), "*Opened* SPY"))
	assert.Equal(t, "/botabc/sendMessage", gotPath)
	assert.Equal(t, "42", gotBody["chat_id"])
	assert.Equal(t, "*Opened* SPY", gotBody["text"])
	assert.Equal(t, "Markdown", gotBody["parse_mode"])
}

func TestTelegramSendRetriesServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	tg := NewTelegram(config.TelegramConfig{Enabled: true, BotToken: "abc", ChatID: "42"}).(*Telegram)
	tg.SetBaseURL(server.URL)
	tg.httpClient = server.Client()

	require.NoError(t, tg.Send(context.Background(), "retry me"))
	assert.Equal(t, int32(2), calls.Load())
}

func TestTelegramSendGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	tg := NewTelegram(config.TelegramConfig{Enabled: true, BotToken: "abc", ChatID: "42"}).(*Telegram)
	tg.SetBaseURL(server.URL)
	tg.httpClient = server.Client()
	tg.retries = 2

	err := tg.Send(context.Background(), "doomed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, int32(2), calls.Load())
}

func TestTelegramSendSkipsEmptyText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for empty text")
	}))
	defer server.Close()

	tg := NewTelegram(config.TelegramConfig{Enabled: true, BotToken: "abc", ChatID: "42"}).(*Telegram)
	tg.SetBaseURL(server.URL)
	tg.httpClient = server.Client()

	assert.NoError(t, tg.Send(context.Background(), ""))
}
