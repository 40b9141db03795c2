package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Canned participant-facing texts. WhatsApp renders *text* as bold.
const (
	msgWelcomePrompt = "Hello! How can we help you today?\n\n" +
		"*1* - Talk to us\n" +
		"*2* - Live chat\n\n" +
		"Reply with the number of the option you want."

	msgTalkToUsAck = "Thanks! Our team has been notified and will get back to you as soon as possible."

	msgLiveChatStarted = "*Live chat started.*\n\n" +
		"You are now talking to our virtual assistant. " +
		"Send *e* at any time to end the conversation."

	msgLiveChatEnded = "*Live chat ended.* Thanks for talking to us!"

	msgBackendUnavailable = "Sorry, our assistant is unavailable right now. Please try again in a few minutes."

	msgBackendTimeout = "Sorry, our assistant is taking too long to answer. Please try again in a moment."
)

// expiryNotice builds the inactivity closure text for a tracked category.
func expiryNotice(st State, timeout time.Duration) string {
	minutes := int(timeout.Minutes())
	if st == StateLiveChat {
		return fmt.Sprintf(
			"*Live chat closed* after %d minutes without activity. Send any message to start over.",
			minutes,
		)
	}
	return fmt.Sprintf(
		"Your request to talk to us expired after %d minutes without activity. Send any message to start over.",
		minutes,
	)
}

// apologyText picks the participant-facing apology for a forward failure.
func apologyText(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return msgBackendTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return msgBackendTimeout
	}
	return msgBackendUnavailable
}
