// Package telegram is a small Bot API client: sending HTML messages and
// documents to the operator chat, and long polling for commands.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	appLog "uesbot/internal/log"
)

const (
	// DefaultBaseURL is the public Bot API endpoint.
	DefaultBaseURL = "https://api.telegram.org"
	userAgent      = "uesbot/1.0"
	defaultTimeout = 20 * time.Second
)

// TransportError reports a failed Bot API call.
type TransportError struct {
	Method      string
	Status      int
	Code        int
	Description string
	// RetryAfter is set when the API asked us to slow down.
	RetryAfter time.Duration
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("telegram %s: %v", e.Method, e.Err)
	case e.Description != "":
		return fmt.Sprintf("telegram %s: %d %s", e.Method, e.Code, e.Description)
	default:
		return fmt.Sprintf("telegram %s: http %d", e.Method, e.Status)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Options configures a Client.
type Options struct {
	Token  string
	ChatID int64
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
	// Timeout bounds non-polling requests.
	Timeout time.Duration
	// DryRun logs outgoing messages instead of sending them. Polling still
	// talks to the API when a token is set.
	DryRun bool
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// Client talks to the Bot API.
type Client struct {
	token   string
	chatID  int64
	baseURL string
	dryRun  bool
	timeout time.Duration
	client  *http.Client
}

// New builds a client.
func New(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		// No client-wide timeout: long polls outlive it. Requests are
		// bounded by their context instead.
		client = &http.Client{}
	}
	return &Client{
		token:   opts.Token,
		chatID:  opts.ChatID,
		baseURL: base,
		dryRun:  opts.DryRun,
		timeout: timeout,
		client:  client,
	}
}

// ChatID returns the operator chat.
func (c *Client) ChatID() int64 {
	return c.chatID
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

type linkPreviewOptions struct {
	IsDisabled bool `json:"is_disabled"`
}

type sendMessageRequest struct {
	ChatID             int64              `json:"chat_id"`
	Text               string             `json:"text"`
	ParseMode          string             `json:"parse_mode,omitempty"`
	LinkPreviewOptions linkPreviewOptions `json:"link_preview_options"`
}

// Send delivers an HTML message to the operator chat.
func (c *Client) Send(ctx context.Context, text string) error {
	return c.Reply(ctx, c.chatID, text)
}

// Reply delivers an HTML message to chatID.
func (c *Client) Reply(ctx context.Context, chatID int64, text string) error {
	if c.dryRun {
		appLog.Info("dry-run: message not sent", "chat", chatID, "chars", len(text), "text", preview(text))
		return nil
	}
	body, err := json.Marshal(sendMessageRequest{
		ChatID:             chatID,
		Text:               text,
		ParseMode:          "HTML",
		LinkPreviewOptions: linkPreviewOptions{IsDisabled: true},
	})
	if err != nil {
		return &TransportError{Method: "sendMessage", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err = c.call(ctx, "sendMessage", "application/json", bytes.NewReader(body))
	return err
}

// SendDocument uploads data as a file named name to the operator chat.
func (c *Client) SendDocument(ctx context.Context, name string, data []byte, caption string) error {
	if c.dryRun {
		appLog.Info("dry-run: document not sent", "chat", c.chatID, "name", name, "bytes", len(data))
		return nil
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"chat_id": strconv.FormatInt(c.chatID, 10),
	}
	if caption != "" {
		fields["caption"] = caption
		fields["parse_mode"] = "HTML"
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return &TransportError{Method: "sendDocument", Err: err}
		}
	}
	fw, err := mw.CreateFormFile("document", name)
	if err != nil {
		return &TransportError{Method: "sendDocument", Err: err}
	}
	if _, err := fw.Write(data); err != nil {
		return &TransportError{Method: "sendDocument", Err: err}
	}
	if err := mw.Close(); err != nil {
		return &TransportError{Method: "sendDocument", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err = c.call(ctx, "sendDocument", mw.FormDataContentType(), &buf)
	return err
}

// call POSTs to a Bot API method and returns the decoded result field.
func (c *Client) call(ctx context.Context, method, contentType string, body io.Reader) (json.RawMessage, error) {
	if c.token == "" {
		return nil, &TransportError{Method: method, Err: errors.New("bot token is not configured")}
	}
	endpoint := c.baseURL + "/bot" + c.token + "/" + method

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, &TransportError{Method: method, Err: c.redact(err)}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &TransportError{Method: method, Err: c.redact(err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &TransportError{Method: method, Status: resp.StatusCode, Err: err}
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &TransportError{Method: method, Status: resp.StatusCode}
		}
		return nil, &TransportError{Method: method, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if !out.OK || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{
			Method:      method,
			Status:      resp.StatusCode,
			Code:        out.ErrorCode,
			Description: out.Description,
			RetryAfter:  time.Duration(out.Parameters.RetryAfter) * time.Second,
		}
	}
	return out.Result, nil
}

// redact hides the bot token, which is part of every request URL.
func (c *Client) redact(err error) error {
	if err == nil || c.token == "" {
		return err
	}
	msg := err.Error()
	if !strings.Contains(msg, c.token) {
		return err
	}
	return errors.New(strings.ReplaceAll(msg, c.token, "<redacted>"))
}

func preview(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	r := []rune(text)
	if len(r) > 120 {
		return string(r[:119]) + "…"
	}
	return text
}
