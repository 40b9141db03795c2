package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"wagateway/core/config"
	"wagateway/core/logger"
	"wagateway/core/netutil"
	"wagateway/core/session"
)

const maxReplyBytes = 64 * 1024

// Client submits conversation payloads to the automation webhook and
// relays whatever reply it produces. It implements session.Forwarder.
type Client struct {
	url  string
	http *http.Client
}

// New builds a webhook client from config. The configured timeout
// bounds the whole call, retries included.
func New(cfg config.ForwarderConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		url:  cfg.URL,
		http: netutil.NewClient(timeout),
	}
}

// webhookReply covers the JSON shapes the automation side answers
// with. Which field is set depends on the workflow's last node.
type webhookReply struct {
	Message string `json:"message"`
	Reply   string `json:"reply"`
	Output  string `json:"output"`
}

// Forward posts the payload and returns the reply text, empty when the
// workflow chose not to answer.
func (c *Client) Forward(ctx context.Context, p session.Payload) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	took := time.Since(start)
	if err != nil {
		logger.Error(ctx, "forward", "forward.post",
			slog.String("url", c.url),
			slog.String("status", "fail"),
			slog.Duration("duration", logger.RoundMS(took)),
			slog.String("err", err.Error()),
		)
		return "", fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", fmt.Errorf("read webhook response: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		logger.Error(ctx, "forward", "forward.post",
			slog.String("url", c.url),
			slog.Int("http_code", resp.StatusCode),
			slog.String("status", "fail"),
			slog.Duration("duration", logger.RoundMS(took)),
		)
		return "", fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	reply := extractReply(raw)
	logger.Debug(ctx, "forward", "forward.post",
		slog.String("status", "ok"),
		slog.Int("http_code", resp.StatusCode),
		slog.Int("reply_len", len(reply)),
		slog.Duration("duration", logger.RoundMS(took)),
	)
	return reply, nil
}

// extractReply accepts either a JSON object with a known text field or
// a plain-text body.
func extractReply(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return ""
	}
	if strings.HasPrefix(text, "{") {
		var wr webhookReply
		if err := json.Unmarshal(raw, &wr); err == nil {
			for _, candidate := range []string{wr.Message, wr.Reply, wr.Output} {
				if s := strings.TrimSpace(candidate); s != "" {
					return s
				}
			}
			return ""
		}
	}
	return text
}
