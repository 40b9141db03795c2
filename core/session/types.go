package session

import (
	"context"
	"errors"
	"time"
)

// State identifies the conversation mode of one chat participant.
type State string

const (
	// StateIdle indicates no option has been selected.
	StateIdle State = "idle"
	// StatePrompted indicates the welcome/options prompt was shown and no option picked yet.
	StatePrompted State = "prompted"
	// StateTalkToUs indicates a pending human-handoff request, tracked only for expiry.
	StateTalkToUs State = "talk_to_us"
	// StateLiveChat indicates the automated conversation is active.
	StateLiveChat State = "live_chat"
)

// Tracked reports whether the state is watched by the timeout sweeper.
func (s State) Tracked() bool {
	return s == StateTalkToUs || s == StateLiveChat
}

// Record is the durable session row of one conversation participant.
type Record struct {
	UserID          string     `db:"user_id"`
	State           State      `db:"state"`
	PromptedAt      *time.Time `db:"prompted_at"`
	LastInteraction time.Time  `db:"last_interaction"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
}

// Event is an input to the state machine.
type Event interface {
	sessionEvent()
}

// InboundMessage is one non-group chat message delivered by the transport.
type InboundMessage struct {
	MessageID string
	UserID    string
	UserName  string
	Text      string
	IsButton  bool
	Payload   string
	Kind      string
	HasMedia  bool
	IsGroup   bool
	Timestamp time.Time
}

func (InboundMessage) sessionEvent() {}

// TimeoutTick is the synthetic sweeper event for one tracked category.
type TimeoutTick struct {
	Category State
	Cutoff   time.Time
}

func (TimeoutTick) sessionEvent() {}

// ActionKind enumerates the outbound effects a transition can request.
type ActionKind int

const (
	// ActionNone requests no outbound effect.
	ActionNone ActionKind = iota
	// ActionSend requests one text message to the participant.
	ActionSend
	// ActionForward requests forwarding the inbound message to the automation backend.
	ActionForward
)

// Action is the zero-or-one outbound effect of a transition.
type Action struct {
	Kind ActionKind
	Text string
}

// Patch is a partial, idempotent update of a session record.
// A nil State leaves the state untouched; ClearPromptedAt wins over PromptedAt.
type Patch struct {
	State            *State
	PromptedAt       *time.Time
	ClearPromptedAt  bool
	TouchInteraction bool
}

// Counts holds per-category totals of sessions in tracked states.
type Counts struct {
	TalkToUs int64
	LiveChat int64
}

// Total returns the number of sessions in any tracked state.
func (c Counts) Total() int64 {
	return c.TalkToUs + c.LiveChat
}

// ErrNotFound is returned by read-only lookups for unknown participants.
var ErrNotFound = errors.New("session: not found")

// Store is the durable session storage used by the handler and the sweeper.
type Store interface {
	GetOrCreate(ctx context.Context, userID string) (Record, error)
	Apply(ctx context.Context, userID string, p Patch) error
	FindExpired(ctx context.Context, st State, cutoff time.Time) ([]Record, error)
	BulkTransition(ctx context.Context, userIDs []string, p Patch) error
	PurgeIdleBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountTracked(ctx context.Context) (Counts, error)
	Get(ctx context.Context, userID string) (Record, error)
	ListByState(ctx context.Context, st State, limit int) ([]Record, error)
}

// Dispatcher delivers outbound text to a participant, best effort.
type Dispatcher interface {
	SendText(ctx context.Context, userID, text string) error
}

// Payload is the conversation envelope submitted to the automation backend.
type Payload struct {
	MessageID string `json:"messageId"`
	From      string `json:"from"`
	FromName  string `json:"fromName"`
	Body      string `json:"body"`
	Timestamp int64  `json:"timestamp"`
	Kind      string `json:"type"`
	HasMedia  bool   `json:"hasMedia"`
}

// Forwarder submits a payload to the automation backend and returns optional reply text.
type Forwarder interface {
	Forward(ctx context.Context, p Payload) (string, error)
}
