package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testHandler(store Store, disp Dispatcher, fwd Forwarder) (*Handler, *ActiveCount, *Sweeper) {
	active := &ActiveCount{}
	sw := NewSweeper(store, disp, active, testMachine(), SweeperConfig{
		Interval:      time.Hour,
		IdleRetention: time.Hour,
	})
	h := NewHandler(store, disp, fwd, testMachine(), active, sw)
	return h, active, sw
}

func TestHandleInboundFirstContact(t *testing.T) {
	store := newFakeStore()
	disp := &fakeDispatcher{}
	h, _, sw := testHandler(store, disp, &fakeForwarder{})
	defer sw.Stop()

	h.HandleInbound(context.Background(), inbound("hi"))

	rec, ok := store.get("5511999000111")
	require.True(t, ok)
	require.Equal(t, StatePrompted, rec.State)
	require.NotNil(t, rec.PromptedAt)

	msgs := disp.messages()
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].Text, "Talk to us")
}

func TestHandleInboundLiveChatSelection(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	store.put(Record{UserID: "5511999000111", State: StatePrompted, PromptedAt: &now, LastInteraction: now})

	disp := &fakeDispatcher{}
	h, active, sw := testHandler(store, disp, &fakeForwarder{})
	defer sw.Stop()

	h.HandleInbound(context.Background(), inbound("2"))

	rec, _ := store.get("5511999000111")
	require.Equal(t, StateLiveChat, rec.State)
	require.Nil(t, rec.PromptedAt)
	require.EqualValues(t, 1, active.Value())
	require.True(t, sw.Running())

	msgs := disp.messages()
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].Text, "Live chat started")
}

func TestHandleInboundForwardsAndRelaysReply(t *testing.T) {
	store := newFakeStore()
	store.put(Record{UserID: "5511999000111", State: StateLiveChat, LastInteraction: time.Now()})

	disp := &fakeDispatcher{}
	fwd := &fakeForwarder{reply: "We open at 9am."}
	h, _, sw := testHandler(store, disp, fwd)
	defer sw.Stop()

	h.HandleInbound(context.Background(), inbound("when do you open?"))

	require.Len(t, fwd.payloads, 1)
	require.Equal(t, "when do you open?", fwd.payloads[0].Body)
	require.Equal(t, "5511999000111", fwd.payloads[0].From)

	msgs := disp.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "We open at 9am.", msgs[0].Text)
}

func TestHandleInboundEmptyReplyStaysSilent(t *testing.T) {
	store := newFakeStore()
	store.put(Record{UserID: "5511999000111", State: StateLiveChat, LastInteraction: time.Now()})

	disp := &fakeDispatcher{}
	h, _, sw := testHandler(store, disp, &fakeForwarder{reply: ""})
	defer sw.Stop()

	h.HandleInbound(context.Background(), inbound("noted"))

	require.Empty(t, disp.messages())
}

func TestHandleInboundForwardFailureApologizes(t *testing.T) {
	store := newFakeStore()
	store.put(Record{UserID: "5511999000111", State: StateLiveChat, LastInteraction: time.Now()})

	disp := &fakeDispatcher{}
	h, _, sw := testHandler(store, disp, &fakeForwarder{err: errors.New("connection refused")})
	defer sw.Stop()

	h.HandleInbound(context.Background(), inbound("hello?"))

	msgs := disp.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, msgBackendUnavailable, msgs[0].Text)

	// Session must stay live so the participant can retry.
	rec, _ := store.get("5511999000111")
	require.Equal(t, StateLiveChat, rec.State)
}

func TestHandleInboundForwardTimeoutApologizes(t *testing.T) {
	store := newFakeStore()
	store.put(Record{UserID: "5511999000111", State: StateLiveChat, LastInteraction: time.Now()})

	disp := &fakeDispatcher{}
	wrapped := errors.Join(errors.New("post webhook"), context.DeadlineExceeded)
	h, _, sw := testHandler(store, disp, &fakeForwarder{err: wrapped})
	defer sw.Stop()

	h.HandleInbound(context.Background(), inbound("still there?"))

	msgs := disp.messages()
	require.Len(t, msgs, 1)
	require.Equal(t, msgBackendTimeout, msgs[0].Text)
}

func TestHandleInboundEndCommandReleasesGauge(t *testing.T) {
	store := newFakeStore()
	store.put(Record{UserID: "5511999000111", State: StateLiveChat, LastInteraction: time.Now()})

	disp := &fakeDispatcher{}
	h, active, sw := testHandler(store, disp, &fakeForwarder{})
	defer sw.Stop()
	active.Inc()

	h.HandleInbound(context.Background(), inbound("e"))

	rec, _ := store.get("5511999000111")
	require.Equal(t, StateIdle, rec.State)
	require.EqualValues(t, 0, active.Value())

	msgs := disp.messages()
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].Text, "ended")
}

func TestHandleInboundDegradedWhenStoreDown(t *testing.T) {
	store := newFakeStore()
	store.getOrCreateErr = errors.New("db down")

	disp := &fakeDispatcher{}
	h, _, sw := testHandler(store, disp, &fakeForwarder{})
	defer sw.Stop()

	h.HandleInbound(context.Background(), inbound("hi"))

	// Prompt still goes out, nothing is persisted.
	msgs := disp.messages()
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0].Text, "Talk to us")
	require.Empty(t, store.applied)
}

func TestHandleInboundSkipsGroupAndBroadcast(t *testing.T) {
	store := newFakeStore()
	disp := &fakeDispatcher{}
	h, _, sw := testHandler(store, disp, &fakeForwarder{})
	defer sw.Stop()

	h.HandleInbound(context.Background(), InboundMessage{UserID: "g1", Text: "hi", IsGroup: true})
	h.HandleInbound(context.Background(), InboundMessage{UserID: "status@broadcast", Text: "hi"})
	h.HandleInbound(context.Background(), InboundMessage{Text: "hi"})

	require.Empty(t, disp.messages())
	_, ok := store.get("g1")
	require.False(t, ok)
}
