package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Update is one entry from getUpdates.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is the subset of the Bot API message the bot reads.
type Message struct {
	MessageID int    `json:"message_id"`
	Text      string `json:"text"`
	Chat      Chat   `json:"chat"`
	From      *User  `json:"from"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type User struct {
	ID int64 `json:"id"`
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

// Client talks to the Telegram Bot API over plain HTTP. The base URL is
// configurable so tests can point it at a local server.
type Client struct {
	base   string
	token  string
	client *http.Client
}

func NewClient(base, token string, timeout time.Duration) *Client {
	if base == "" {
		base = "https://api.telegram.org"
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base:  base,
		token: token,
		// Long polling holds the connection open for the poll timeout;
		// the client timeout must exceed it.
		client: &http.Client{Timeout: timeout + 30*time.Second},
	}
}

func (c *Client) call(ctx context.Context, method string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", method, err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", c.base, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("telegram %s: %s", method, envelope.Description)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// Updates long-polls for new updates past the given offset.
func (c *Client) Updates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	var updates []Update
	payload := map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message"},
	}
	if err := c.call(ctx, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// Send posts a message and returns its id for later edits.
func (c *Client) Send(ctx context.Context, chatID int64, text string) (int, error) {
	var msg Message
	payload := map[string]any{"chat_id": chatID, "text": text}
	if err := c.call(ctx, "sendMessage", payload, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// Edit replaces the text of a previously sent message.
func (c *Client) Edit(ctx context.Context, chatID int64, messageID int, text string) error {
	payload := map[string]any{"chat_id": chatID, "message_id": messageID, "text": text}
	return c.call(ctx, "editMessageText", payload, nil)
}
