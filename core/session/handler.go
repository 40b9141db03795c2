package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"wagateway/core/logger"
)

// Handler drives the per-message pipeline: load the session, decide
// the transition, persist it, then perform the outbound effect.
type Handler struct {
	store   Store
	disp    Dispatcher
	fwd     Forwarder
	machine *Machine
	active  *ActiveCount
	sweeper *Sweeper
}

// NewHandler wires the message pipeline.
func NewHandler(store Store, disp Dispatcher, fwd Forwarder, machine *Machine, active *ActiveCount, sweeper *Sweeper) *Handler {
	return &Handler{
		store:   store,
		disp:    disp,
		fwd:     fwd,
		machine: machine,
		active:  active,
		sweeper: sweeper,
	}
}

// HandleInbound processes one delivered message end to end. It never
// returns an error: every failure is contained to this message, logged,
// and where possible answered with an apology so the participant is not
// left hanging.
func (h *Handler) HandleInbound(ctx context.Context, msg InboundMessage) {
	if !deliverable(msg) {
		logger.Debug(ctx, "gateway", "inbound.skip",
			slog.String("message_id", msg.MessageID),
			slog.String("status", "skip"),
		)
		return
	}

	ctx = logger.WithMessageMeta(ctx, msg.MessageID, msg.UserID)
	if logger.RIDFrom(ctx) == "" {
		ctx = logger.WithRID(ctx, msg.MessageID)
	}
	start := time.Now()
	now := time.Now()

	rec, err := h.store.GetOrCreate(ctx, msg.UserID)
	degraded := false
	if err != nil {
		// Storage being down must not mute the conversation. Run this
		// message against a fresh in-memory record and skip persistence.
		degraded = true
		rec = Record{UserID: msg.UserID, State: StateIdle, LastInteraction: now}
		logger.Warn(ctx, "gateway", "session.load",
			slog.String("status", "degraded"),
			slog.String("err", err.Error()),
		)
	}

	prev := rec.State
	next, action := h.machine.Decide(rec, msg, now)

	if !degraded {
		st := next.State
		patch := Patch{State: &st, TouchInteraction: true}
		if next.PromptedAt != nil {
			patch.PromptedAt = next.PromptedAt
		} else {
			patch.ClearPromptedAt = true
		}
		if err := h.store.Apply(ctx, msg.UserID, patch); err != nil {
			logger.Error(ctx, "gateway", "session.save",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
	}

	if !prev.Tracked() && next.State.Tracked() {
		h.active.Inc()
		h.sweeper.Start()
	} else if prev.Tracked() && !next.State.Tracked() {
		h.active.Dec()
	}

	h.perform(ctx, msg, action)

	logger.Info(ctx, "gateway", "inbound.handled",
		slog.String("state", string(next.State)),
		slog.String("status", "ok"),
		slog.Duration("duration", logger.RoundMS(time.Since(start))),
	)
}

func (h *Handler) perform(ctx context.Context, msg InboundMessage, action Action) {
	switch action.Kind {
	case ActionSend:
		if err := h.disp.SendText(ctx, msg.UserID, action.Text); err != nil {
			logger.Error(ctx, "gateway", "outbound.send",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
	case ActionForward:
		reply, err := h.fwd.Forward(ctx, payloadFrom(msg))
		if err != nil {
			logger.Error(ctx, "forward", "forward.request",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
			if sendErr := h.disp.SendText(ctx, msg.UserID, apologyText(err)); sendErr != nil {
				logger.Error(ctx, "gateway", "outbound.send",
					slog.String("status", "fail"),
					slog.String("err", sendErr.Error()),
				)
			}
			return
		}
		if reply == "" {
			logger.Debug(ctx, "forward", "forward.reply",
				slog.String("status", "skip"),
			)
			return
		}
		if err := h.disp.SendText(ctx, msg.UserID, reply); err != nil {
			logger.Error(ctx, "gateway", "outbound.send",
				slog.String("status", "fail"),
				slog.Int("reply_len", len(reply)),
				slog.String("err", err.Error()),
			)
		}
	}
}

// deliverable filters out traffic the gateway never reacts to: group
// chats, status broadcasts, and messages with no usable sender.
func deliverable(msg InboundMessage) bool {
	if msg.IsGroup || msg.UserID == "" {
		return false
	}
	if strings.HasSuffix(msg.UserID, "@broadcast") {
		return false
	}
	return true
}

func payloadFrom(msg InboundMessage) Payload {
	ts := msg.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	kind := msg.Kind
	if kind == "" {
		kind = "chat"
	}
	return Payload{
		MessageID: msg.MessageID,
		From:      msg.UserID,
		FromName:  msg.UserName,
		Body:      msg.Text,
		Timestamp: ts.Unix(),
		Kind:      kind,
		HasMedia:  msg.HasMedia,
	}
}
