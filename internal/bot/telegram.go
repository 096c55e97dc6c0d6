package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultAPIURL is the Telegram Bot API base.
const DefaultAPIURL = "https://api.telegram.org"

// TelegramClient talks to the Telegram Bot API.
type TelegramClient struct {
	token   string
	baseURL string
	client  *http.Client
	poll    *http.Client // long polls hold the request open for up to 30s

	retryWait time.Duration
}

// NewTelegramClient creates a client with optional proxy support. An empty
// baseURL uses DefaultAPIURL.
func NewTelegramClient(token, baseURL, proxyURL string) *TelegramClient {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &TelegramClient{
		token:     token,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 30 * time.Second, Transport: transport},
		poll:      &http.Client{Timeout: 35 * time.Second, Transport: transport},
		retryWait: time.Second,
	}
}

func (t *TelegramClient) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
}

// replyKeyboard is a persistent custom keyboard.
type replyKeyboard struct {
	Keyboard       [][]keyboardButton `json:"keyboard"`
	ResizeKeyboard bool               `json:"resize_keyboard"`
}

type keyboardButton struct {
	Text string `json:"text"`
}

func menuKeyboard() *replyKeyboard {
	rows := [][]string{
		{MenuVaults, MenuPortfolio},
		{MenuBest, MenuRisk},
		{MenuHelp},
	}
	kb := &replyKeyboard{ResizeKeyboard: true}
	for _, row := range rows {
		var buttons []keyboardButton
		for _, label := range row {
			buttons = append(buttons, keyboardButton{Text: label})
		}
		kb.Keyboard = append(kb.Keyboard, buttons)
	}
	return kb
}

type sendMessageRequest struct {
	ChatID      int64          `json:"chat_id"`
	Text        string         `json:"text"`
	ParseMode   string         `json:"parse_mode"`
	ReplyMarkup *replyKeyboard `json:"reply_markup,omitempty"`
}

// Send sends an HTML message to a chat.
func (t *TelegramClient) Send(ctx context.Context, chatID int64, r Reply) error {
	req := sendMessageRequest{ChatID: chatID, Text: r.Text, ParseMode: "HTML"}
	if r.Menu {
		req.ReplyMarkup = menuKeyboard()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendMessage"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("telegram API error: status %d, body: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}
	return nil
}

// SendWithRetry sends a message with exponential backoff retry. Client
// errors other than rate limiting are not retried.
func (t *TelegramClient) SendWithRetry(ctx context.Context, chatID int64, r Reply, maxRetries uint64) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = t.retryWait
	b := backoff.WithContext(backoff.WithMaxRetries(eb, maxRetries), ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		return t.Send(ctx, chatID, r)
	}, b, func(err error, wait time.Duration) {
		slog.Warn("telegram send failed", "attempt", attempt, "retry_in", wait.String(), "err", err)
	})
	if err != nil {
		return fmt.Errorf("send to chat %d after %d attempts: %w", chatID, attempt, err)
	}
	return nil
}

// Update is one Telegram update from long polling.
type Update struct {
	UpdateID int      `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is the subset of a Telegram message the bot reads.
type Message struct {
	MessageID int    `json:"message_id"`
	Text      string `json:"text"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	From *struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
	} `json:"from"`
}

// GetUpdates long-polls for updates after offset.
func (t *TelegramClient) GetUpdates(ctx context.Context, offset int) ([]Update, error) {
	apiURL := fmt.Sprintf("%s?offset=%d&timeout=30", t.endpoint("getUpdates"), offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create polling request: %w", err)
	}

	resp, err := t.poll.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polling request: %w", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read polling response: %w", err)
	}

	var result struct {
		OK          bool     `json:"ok"`
		Description string   `json:"description"`
		Result      []Update `json:"result"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode polling response: %w", err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram API error: %s", result.Description)
	}
	return result.Result, nil
}

// Poll calls handle for each text message until ctx is cancelled. Updates
// are handled one at a time, so messages within a chat keep their order.
func (t *TelegramClient) Poll(ctx context.Context, handle func(ctx context.Context, u Update)) {
	offset := 0
	for {
		if ctx.Err() != nil {
			slog.Info("telegram polling stopped")
			return
		}

		updates, err := t.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("telegram polling stopped")
				return
			}
			slog.Warn("telegram polling failed", "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			offset = u.UpdateID + 1
			if u.Message == nil || strings.TrimSpace(u.Message.Text) == "" {
				continue
			}
			handle(ctx, u)
		}
	}
}
