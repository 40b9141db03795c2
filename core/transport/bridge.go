package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"wagateway/core/config"
	"wagateway/core/logger"
	"wagateway/core/netutil"
)

// Bridge sends outbound texts through the WhatsApp bridge process.
// Inbound traffic from the bridge arrives on the HTTP webhook, so this
// side only implements session.Dispatcher.
type Bridge struct {
	url  string
	http *http.Client
}

// NewBridge builds the outbound bridge client.
func NewBridge(cfg config.BridgeConfig) *Bridge {
	return &Bridge{
		url:  cfg.URL,
		http: netutil.NewClient(15 * time.Second),
	}
}

type bridgeSend struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// SendText delivers one text message to a participant via the bridge.
func (b *Bridge) SendText(ctx context.Context, userID, text string) error {
	body, err := json.Marshal(bridgeSend{To: userID, Text: text})
	if err != nil {
		return fmt.Errorf("encode bridge send: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build bridge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := b.http.Do(req)
	took := time.Since(start)
	if err != nil {
		return fmt.Errorf("post bridge send: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("bridge send returned status %d", resp.StatusCode)
	}

	logger.Debug(ctx, "transport", "send.text",
		slog.String("mode", "bridge"),
		slog.String("status", "ok"),
		slog.Int("http_code", resp.StatusCode),
		slog.Duration("duration", logger.RoundMS(took)),
	)
	return nil
}
