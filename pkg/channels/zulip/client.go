// Package zulip is the topic-stream service client: outbound message
// send/update/delete plus a long-poll event listener for the return
// path.
package zulip

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

type Client struct {
	http *resty.Client
	log  zerolog.Logger
}

func NewClient(baseURL, email, apiKey string, log zerolog.Logger) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetBasicAuth(email, apiKey).
			SetTimeout(90 * time.Second),
		log: log.With().Str("component", "zulip").Logger(),
	}
}

type apiResponse struct {
	Result string `json:"result"`
	Msg    string `json:"msg"`
	ID     int64  `json:"id"`
	Code   string `json:"code"`
}

func (r *apiResponse) ok() bool { return r.Result == "success" }

// SendMessage posts to a stream under the given topic and returns the
// new message's id.
func (c *Client) SendMessage(ctx context.Context, stream, topic, content string) (string, error) {
	var out apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"type":    "stream",
			"to":      stream,
			"subject": topic,
			"content": content,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/api/v1/messages")
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	if resp.IsError() || !out.ok() {
		return "", fmt.Errorf("send message: %s", out.Msg)
	}
	return strconv.FormatInt(out.ID, 10), nil
}

// UpdateMessage replaces the content of an existing message in place.
func (c *Client) UpdateMessage(ctx context.Context, id, content string) error {
	var out apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"content": content}).
		SetResult(&out).
		SetError(&out).
		Patch("/api/v1/messages/" + id)
	if err != nil {
		return fmt.Errorf("update message %s: %w", id, err)
	}
	if resp.IsError() || !out.ok() {
		return fmt.Errorf("update message %s: %s", id, out.Msg)
	}
	return nil
}

// DeleteMessage removes a message entirely.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	var out apiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&out).
		Delete("/api/v1/messages/" + id)
	if err != nil {
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	if resp.IsError() || !out.ok() {
		return fmt.Errorf("delete message %s: %s", id, out.Msg)
	}
	return nil
}
