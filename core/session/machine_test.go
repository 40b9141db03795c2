package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testMachine() *Machine {
	return NewMachine(Rules{
		PromptRateLimit: 5 * time.Minute,
		LiveChatTimeout: 20 * time.Minute,
		TalkToUsTimeout: 20 * time.Minute,
	})
}

func inbound(text string) InboundMessage {
	return InboundMessage{MessageID: "m1", UserID: "5511999000111", Text: text}
}

func TestDecideFirstContactPrompts(t *testing.T) {
	m := testMachine()
	now := time.Now()
	rec := Record{UserID: "u1", State: StateIdle}

	next, action := m.Decide(rec, inbound("hello"), now)

	require.Equal(t, StatePrompted, next.State)
	require.NotNil(t, next.PromptedAt)
	require.True(t, next.PromptedAt.Equal(now))
	require.Equal(t, ActionSend, action.Kind)
	require.Contains(t, action.Text, "Talk to us")
	require.Contains(t, action.Text, "Live chat")
}

func TestDecidePromptRateLimited(t *testing.T) {
	m := testMachine()
	now := time.Now()
	recent := now.Add(-time.Minute)
	rec := Record{UserID: "u1", State: StatePrompted, PromptedAt: &recent}

	next, action := m.Decide(rec, inbound("anyone there?"), now)

	require.Equal(t, StatePrompted, next.State)
	require.Equal(t, ActionNone, action.Kind)
	// The original prompt timestamp must survive so the window does not slide.
	require.True(t, next.PromptedAt.Equal(recent))
}

func TestDecideRePromptAfterWindow(t *testing.T) {
	m := testMachine()
	now := time.Now()
	old := now.Add(-10 * time.Minute)
	rec := Record{UserID: "u1", State: StatePrompted, PromptedAt: &old}

	next, action := m.Decide(rec, inbound("hello again"), now)

	require.Equal(t, StatePrompted, next.State)
	require.Equal(t, ActionSend, action.Kind)
	require.True(t, next.PromptedAt.Equal(now))
}

func TestDecideSelectionMatching(t *testing.T) {
	m := testMachine()
	now := time.Now()

	cases := []struct {
		name string
		msg  InboundMessage
		want State
	}{
		{"digit talk to us", inbound("1"), StateTalkToUs},
		{"digit live chat", inbound("2"), StateLiveChat},
		{"keyword talk to us", inbound("I want to Talk To Us"), StateTalkToUs},
		{"keyword live chat", inbound("live chat please"), StateLiveChat},
		{"digit embedded", inbound("option 2 please"), StateLiveChat},
		{"button talk to us", InboundMessage{UserID: "u1", IsButton: true, Payload: "talk_to_us"}, StateTalkToUs},
		{"button live chat", InboundMessage{UserID: "u1", IsButton: true, Payload: "live_chat"}, StateLiveChat},
		{"payload as text", inbound("live_chat"), StateLiveChat},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := Record{UserID: "u1", State: StatePrompted, PromptedAt: &now}
			next, action := m.Decide(rec, tc.msg, now)
			require.Equal(t, tc.want, next.State)
			require.Equal(t, ActionSend, action.Kind)
		})
	}
}

func TestDecideLiveChatWinsWhenBothMatch(t *testing.T) {
	m := testMachine()
	now := time.Now()
	rec := Record{UserID: "u1", State: StatePrompted, PromptedAt: &now}

	next, _ := m.Decide(rec, inbound("1 or 2"), now)

	require.Equal(t, StateLiveChat, next.State)
}

func TestDecideLiveChatEntryClearsPromptTimer(t *testing.T) {
	m := testMachine()
	now := time.Now()
	rec := Record{UserID: "u1", State: StatePrompted, PromptedAt: &now}

	next, _ := m.Decide(rec, inbound("2"), now)

	require.Equal(t, StateLiveChat, next.State)
	require.Nil(t, next.PromptedAt)
}

func TestDecideTalkToUsStaysSilent(t *testing.T) {
	m := testMachine()
	now := time.Now()
	rec := Record{UserID: "u1", State: StateTalkToUs}

	next, action := m.Decide(rec, inbound("are you coming back?"), now)

	require.Equal(t, StateTalkToUs, next.State)
	require.Equal(t, ActionNone, action.Kind)
	require.True(t, next.LastInteraction.Equal(now))
}

func TestDecideLiveChatForwards(t *testing.T) {
	m := testMachine()
	now := time.Now()
	rec := Record{UserID: "u1", State: StateLiveChat}

	next, action := m.Decide(rec, inbound("what are your opening hours?"), now)

	require.Equal(t, StateLiveChat, next.State)
	require.Equal(t, ActionForward, action.Kind)
}

func TestDecideEndCommand(t *testing.T) {
	m := testMachine()
	now := time.Now()
	rec := Record{UserID: "u1", State: StateLiveChat}

	for _, text := range []string{"e", "E", " e "} {
		next, action := m.Decide(rec, inbound(text), now)
		require.Equal(t, StateIdle, next.State, "text %q", text)
		require.Nil(t, next.PromptedAt)
		require.Equal(t, ActionSend, action.Kind)
		require.Contains(t, action.Text, "ended")
	}
}

func TestDecideEndCommandOnlyInLiveChat(t *testing.T) {
	m := testMachine()
	now := time.Now()
	rec := Record{UserID: "u1", State: StateTalkToUs}

	next, action := m.Decide(rec, inbound("e"), now)

	require.Equal(t, StateTalkToUs, next.State)
	require.Equal(t, ActionNone, action.Kind)
}

func TestDecideTimeoutExpiresLiveChat(t *testing.T) {
	m := testMachine()
	now := time.Now()
	rec := Record{UserID: "u1", State: StateLiveChat, LastInteraction: now.Add(-30 * time.Minute)}
	tick := TimeoutTick{Category: StateLiveChat, Cutoff: now.Add(-20 * time.Minute)}

	next, action := m.Decide(rec, tick, now)

	require.Equal(t, StateIdle, next.State)
	require.NotNil(t, next.PromptedAt)
	require.Equal(t, ActionSend, action.Kind)
	require.Contains(t, action.Text, "20 minutes")
}

func TestDecideTimeoutIgnoresFreshSession(t *testing.T) {
	m := testMachine()
	now := time.Now()
	rec := Record{UserID: "u1", State: StateLiveChat, LastInteraction: now.Add(-time.Minute)}
	tick := TimeoutTick{Category: StateLiveChat, Cutoff: now.Add(-20 * time.Minute)}

	next, action := m.Decide(rec, tick, now)

	require.Equal(t, StateLiveChat, next.State)
	require.Equal(t, ActionNone, action.Kind)
}

func TestDecideTimeoutCategoryMismatch(t *testing.T) {
	m := testMachine()
	now := time.Now()
	rec := Record{UserID: "u1", State: StateTalkToUs, LastInteraction: now.Add(-time.Hour)}
	tick := TimeoutTick{Category: StateLiveChat, Cutoff: now.Add(-20 * time.Minute)}

	next, action := m.Decide(rec, tick, now)

	require.Equal(t, StateTalkToUs, next.State)
	require.Equal(t, ActionNone, action.Kind)
}

func TestDecidePostExpirySuppression(t *testing.T) {
	m := testMachine()
	now := time.Now()
	rec := Record{UserID: "u1", State: StateLiveChat, LastInteraction: now.Add(-time.Hour)}

	expired, _ := m.Decide(rec, TimeoutTick{Category: StateLiveChat, Cutoff: now.Add(-20 * time.Minute)}, now)
	require.Equal(t, StateIdle, expired.State)

	// A reply right after the expiry notice must not re-show the menu.
	later := now.Add(time.Minute)
	next, action := m.Decide(expired, inbound("ok thanks"), later)
	require.Equal(t, ActionNone, action.Kind)
	require.Equal(t, StateIdle, next.State)

	// Once the window elapses the menu comes back.
	muchLater := now.Add(6 * time.Minute)
	next, action = m.Decide(expired, inbound("hello?"), muchLater)
	require.Equal(t, ActionSend, action.Kind)
	require.Equal(t, StatePrompted, next.State)
}

func TestExpiryNoticeTexts(t *testing.T) {
	live := expiryNotice(StateLiveChat, 20*time.Minute)
	require.True(t, strings.Contains(live, "Live chat closed"))
	handoff := expiryNotice(StateTalkToUs, 45*time.Minute)
	require.True(t, strings.Contains(handoff, "45 minutes"))
}
