package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"wagateway/core/config"
	"wagateway/core/logger"
	"wagateway/core/netutil"
	"wagateway/core/session"
)

// Telegram runs the gateway over a Telegram bot with long polling. It
// implements session.Dispatcher; chat ids double as participant ids.
type Telegram struct {
	bot *tele.Bot
}

// NewTelegram builds the bot without starting the poller.
func NewTelegram(cfg config.TelegramConfig) (*Telegram, error) {
	timeoutSec := cfg.LongPollTimeoutSeconds
	if timeoutSec <= 0 {
		timeoutSec = 10
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: time.Duration(timeoutSec) * time.Second},
		Client: netutil.NewClient(30 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: bot initialization failed: %w", err)
	}
	return &Telegram{bot: bot}, nil
}

// SendText implements session.Dispatcher.
func (t *Telegram) SendText(_ context.Context, userID, text string) error {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram recipient %q: %w", userID, err)
	}
	if _, err := t.bot.Send(tele.ChatID(chatID), text); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Run wires inbound text messages into handle and blocks until the
// context is done or the poller exits.
func (t *Telegram) Run(ctx context.Context, handle func(context.Context, session.InboundMessage)) error {
	t.bot.Use(recoverMiddleware)
	t.bot.Handle(tele.OnText, func(c tele.Context) error {
		handle(logger.Background(), inboundFromTelegram(c))
		return nil
	})

	logger.Info(ctx, "transport", "mode",
		slog.String("mode", "telegram"),
	)

	done := make(chan struct{})
	go func() {
		t.bot.Start()
		close(done)
	}()

	select {
	case <-ctx.Done():
		t.bot.Stop()
		<-done
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil
		}
		return ctx.Err()
	case <-done:
		return nil
	}
}

// recoverMiddleware catches panics in handlers and prevents the bot from crashing.
func recoverMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		defer func() {
			if r := recover(); r != nil {
				logger.Error(logger.Background(), "transport", "panic",
					slog.Any("err", r),
					slog.String("stack", string(debug.Stack())),
				)
			}
		}()
		return next(c)
	}
}

func inboundFromTelegram(c tele.Context) session.InboundMessage {
	m := c.Message()
	if m == nil {
		return session.InboundMessage{}
	}
	var name string
	if m.Sender != nil {
		name = strings.TrimSpace(strings.TrimSpace(m.Sender.FirstName) + " " + strings.TrimSpace(m.Sender.LastName))
	}
	return session.InboundMessage{
		MessageID: strconv.Itoa(m.ID),
		UserID:    strconv.FormatInt(m.Chat.ID, 10),
		UserName:  name,
		Text:      m.Text,
		Kind:      "chat",
		IsGroup:   m.FromGroup(),
		Timestamp: m.Time(),
	}
}
