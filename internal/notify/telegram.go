package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SendError is returned when the Bot API answers with a non-2xx status.
// Callers classify retryability from the code.
type SendError struct {
	Code   int
	Detail string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("telegram returned status %d: %s", e.Code, e.Detail)
}

// Telegram sends messages through the Bot API.
type Telegram struct {
	baseURL    string
	token      string
	chatID     string
	httpClient *http.Client
}

// NewTelegram creates a sender for the given bot token and chat.
func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		baseURL:    "https://api.telegram.org",
		token:      token,
		chatID:     chatID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// NewTelegramWithBase is NewTelegram with an overridable API base URL (tests).
func NewTelegramWithBase(baseURL, token, chatID string) *Telegram {
	t := NewTelegram(token, chatID)
	t.baseURL = baseURL
	return t
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// Send posts an HTML-formatted message to the configured chat.
func (t *Telegram) Send(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:    t.chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshalling message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &SendError{Code: resp.StatusCode, Detail: string(detail)}
	}
	return nil
}

// Notify delivers a completed-job event as a formatted message.
func (t *Telegram) Notify(ctx context.Context, ev Event) error {
	return t.Send(ctx, FormatEvent(ev))
}
