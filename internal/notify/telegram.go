package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"levtrader/internal/config"
	"levtrader/internal/logger"
)

const telegramAPIBase = "https://api.telegram.org"

// Telegram posts messages to a single chat via the bot API. Sends are retried
// a few times with a short pause; a message that still fails is dropped after
// logging, never surfaced to the caller's trading path.
type Telegram struct {
	baseURL    string
	botToken   string
	chatID     string
	httpClient *http.Client
	retries    int
}

// NewTelegram returns a Telegram notifier, or Noop when the channel is
// disabled or missing credentials.
func NewTelegram(cfg config.TelegramConfig) TextNotifier {
	if !cfg.Enabled || cfg.BotToken == "" || cfg.ChatID == "" {
		return Noop{}
	}
	return &Telegram{
		baseURL:    telegramAPIBase,
		botToken:   cfg.BotToken,
		chatID:     cfg.ChatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retries:    3,
	}
}

// SetBaseURL points the notifier at a different API host; used by tests.
func (t *Telegram) SetBaseURL(base string) { t.baseURL = base }

func (t *Telegram) Send(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	payload, err := json.Marshal(map[string]any{
		"chat_id":    t.chatID,
		"text":       text,
		"parse_mode": "Markdown",
	})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)

	var lastErr error
	for attempt := 0; attempt < t.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 2 * time.Second):
			}
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := t.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return nil
		}
		lastErr = fmt.Errorf("telegram sendMessage returned %d: %s", resp.StatusCode, string(body))
	}
	logger.Warnf("telegram notification dropped after %d attempts: %v", t.retries, lastErr)
	return lastErr
}
