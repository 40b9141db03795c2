package session

import (
	"strings"
	"time"
)

// Rules holds the tunable transition parameters of the state machine.
type Rules struct {
	PromptRateLimit time.Duration
	LiveChatTimeout time.Duration
	TalkToUsTimeout time.Duration
}

// Machine computes session transitions. It is pure: no I/O, no clocks,
// no mutation of its input record.
type Machine struct {
	rules Rules
}

// NewMachine returns a machine bound to the given rules.
func NewMachine(rules Rules) *Machine {
	return &Machine{rules: rules}
}

// Rules returns the transition parameters the machine was built with.
func (m *Machine) Rules() Rules {
	return m.rules
}

type intent int

const (
	intentNone intent = iota
	intentLiveChat
	intentTalkToUs
)

// intentRule matches one menu option. Rules are evaluated in order, so
// the live chat rule always wins over talk to us when both would match.
type intentRule struct {
	intent  intent
	payload string
	keyword string
	digit   string
}

var intentRules = []intentRule{
	{intentLiveChat, "live_chat", "live chat", "2"},
	{intentTalkToUs, "talk_to_us", "talk to us", "1"},
}

// classify resolves the menu selection of an inbound message. Button
// payloads are matched exactly; free text matches by keyword or digit
// containment, so "option 2 please" still selects live chat.
func classify(msg InboundMessage) intent {
	body := strings.ToLower(strings.TrimSpace(msg.Text))
	payload := strings.ToLower(strings.TrimSpace(msg.Payload))
	for _, r := range intentRules {
		if payload == r.payload || body == r.payload {
			return r.intent
		}
		if body != "" && (strings.Contains(body, r.keyword) || strings.Contains(body, r.digit)) {
			return r.intent
		}
	}
	return intentNone
}

// isEndCommand reports whether the text is the live chat exit command.
func isEndCommand(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), "e")
}

// Decide applies one event to a session record and returns the next
// record plus at most one outbound action. The caller persists the
// returned record and performs the action.
func (m *Machine) Decide(rec Record, ev Event, now time.Time) (Record, Action) {
	switch e := ev.(type) {
	case InboundMessage:
		return m.decideInbound(rec, e, now)
	case TimeoutTick:
		return m.decideTimeout(rec, e, now)
	default:
		return rec, Action{}
	}
}

func (m *Machine) decideInbound(rec Record, msg InboundMessage, now time.Time) (Record, Action) {
	rec.LastInteraction = now

	if rec.State == StateLiveChat {
		if isEndCommand(msg.Text) {
			rec.State = StateIdle
			rec.PromptedAt = nil
			return rec, Action{Kind: ActionSend, Text: msgLiveChatEnded}
		}
		return rec, Action{Kind: ActionForward}
	}

	switch classify(msg) {
	case intentLiveChat:
		rec.State = StateLiveChat
		rec.PromptedAt = nil
		return rec, Action{Kind: ActionSend, Text: msgLiveChatStarted}
	case intentTalkToUs:
		rec.State = StateTalkToUs
		rec.PromptedAt = &now
		return rec, Action{Kind: ActionSend, Text: msgTalkToUsAck}
	}

	// No selection. Pending handoffs stay silent; everyone else gets the
	// menu, rate limited so chatty users are not spammed with it.
	if rec.State == StateTalkToUs {
		return rec, Action{}
	}
	if rec.PromptedAt != nil && now.Sub(*rec.PromptedAt) < m.rules.PromptRateLimit {
		return rec, Action{}
	}
	rec.State = StatePrompted
	rec.PromptedAt = &now
	return rec, Action{Kind: ActionSend, Text: msgWelcomePrompt}
}

func (m *Machine) decideTimeout(rec Record, tick TimeoutTick, now time.Time) (Record, Action) {
	if rec.State != tick.Category || !rec.State.Tracked() {
		return rec, Action{}
	}
	if !rec.LastInteraction.Before(tick.Cutoff) {
		return rec, Action{}
	}

	expired := rec.State
	rec.State = StateIdle
	rec.LastInteraction = now
	// Stamping the prompt timer keeps the very next message after an
	// expiry notice from immediately re-showing the menu.
	rec.PromptedAt = &now

	switch expired {
	case StateLiveChat:
		return rec, Action{Kind: ActionSend, Text: expiryNotice(StateLiveChat, m.rules.LiveChatTimeout)}
	default:
		return rec, Action{Kind: ActionSend, Text: expiryNotice(StateTalkToUs, m.rules.TalkToUsTimeout)}
	}
}

// TimeoutFor returns the inactivity timeout of a tracked category,
// zero for untracked states.
func (m *Machine) TimeoutFor(st State) time.Duration {
	switch st {
	case StateLiveChat:
		return m.rules.LiveChatTimeout
	case StateTalkToUs:
		return m.rules.TalkToUsTimeout
	default:
		return 0
	}
}
