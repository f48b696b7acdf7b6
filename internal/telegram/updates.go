package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	appLog "uesbot/internal/log"
)

// DefaultPollTimeout is the long-poll wait passed to getUpdates.
const DefaultPollTimeout = 30 * time.Second

// Chat is the conversation a message belongs to.
type Chat struct {
	ID int64 `json:"id"`
}

// User is the sender of a message.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Message is an incoming text message.
type Message struct {
	ID   int64  `json:"message_id"`
	Chat Chat   `json:"chat"`
	From *User  `json:"from,omitempty"`
	Text string `json:"text"`
}

// Update is one getUpdates item. Only messages are requested.
type Update struct {
	ID      int64    `json:"update_id"`
	Message *Message `json:"message,omitempty"`
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

// Updates long-polls for updates after offset, waiting up to wait.
func (c *Client) Updates(ctx context.Context, offset int64, wait time.Duration) ([]Update, error) {
	body, err := json.Marshal(getUpdatesRequest{
		Offset:         offset,
		Timeout:        int(wait / time.Second),
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return nil, &TransportError{Method: "getUpdates", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, wait+c.timeout)
	defer cancel()
	raw, err := c.call(ctx, "getUpdates", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, &TransportError{Method: "getUpdates", Err: err}
	}
	return updates, nil
}

// Handler processes one incoming message.
type Handler func(ctx context.Context, msg Message)

// Poll delivers incoming messages to h until ctx is done. Handlers run
// sequentially. Transport failures back off exponentially.
func (c *Client) Poll(ctx context.Context, wait time.Duration, h Handler) error {
	if wait <= 0 {
		wait = DefaultPollTimeout
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = time.Minute

	var offset int64
	appLog.Info("telegram polling started")
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		updates, err := c.Updates(ctx, offset, wait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay := b.NextBackOff()
			var te *TransportError
			if errors.As(err, &te) && te.RetryAfter > delay {
				delay = te.RetryAfter
			}
			appLog.Warn("telegram poll failed", "err", err, "retry_in", delay.Round(time.Millisecond))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		b.Reset()

		for _, u := range updates {
			if u.ID >= offset {
				offset = u.ID + 1
			}
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			h(ctx, *u.Message)
		}
	}
}
