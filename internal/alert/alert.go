// Package alert delivers operational summaries to an external channel.
// Delivery is best effort; callers never fail because a notification did.
package alert

import "context"

// Field is one short label/value pair rendered in a message.
type Field struct {
	Title string
	Value string
	Short bool
}

// Message is a structured operational notification.
type Message struct {
	// Text is the top-level message line. Notify, when true, asks the
	// channel to ping its members.
	Text   string
	Notify bool

	// Attachment body.
	Color  string
	Title  string
	Body   string
	Fields []Field
}

const (
	ColorGood   = "good"
	ColorDanger = "danger"
)

type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Nop discards every message. Used when no webhook is configured and in
// tests.
type Nop struct{}

func (Nop) Send(ctx context.Context, msg Message) error { return nil }
