// Package provider implements the delivery dispatchers. The sandbox
// dispatcher performs no network I/O; the live one posts to the messaging
// API with a bounded timeout. Delivery failure never fails the webhook
// that triggered it.
package provider

import "context"

// Message is one outbound DM to a commenter.
type Message struct {
	PostID    string
	Recipient string // commenter username
	Text      string
	Link      string
}

// Result reports what happened to a dispatched message.
type Result struct {
	Sent              bool
	ProviderMessageID string
	Error             string
}

// Dispatcher sends (or logs) a single DM.
type Dispatcher interface {
	// Name returns the provider identifier ("sandbox" or "live").
	Name() string

	// Dispatch delivers the message. Failures are reported in the
	// Result, never as a returned error: the caller acknowledges the
	// inbound event regardless.
	Dispatch(ctx context.Context, msg Message) Result
}
