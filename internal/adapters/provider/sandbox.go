package provider

import (
	"context"

	"github.com/google/uuid"

	"github.com/htheomoller/calmer-sub000/pkg/log"
)

// Sandbox records the would-be DM in the log and reports it as sent.
type Sandbox struct{}

// NewSandbox creates a sandbox dispatcher.
func NewSandbox() *Sandbox {
	return &Sandbox{}
}

// Name returns "sandbox".
func (s *Sandbox) Name() string {
	return "sandbox"
}

// Dispatch logs the message instead of sending it. Always reports sent.
func (s *Sandbox) Dispatch(ctx context.Context, msg Message) Result {
	id := "sandbox-" + uuid.NewString()
	log.GlobalInfoCtx(ctx, "sandbox dm logged",
		"post_id", msg.PostID,
		"recipient", msg.Recipient,
		"link", msg.Link,
		"provider_message_id", id,
	)
	return Result{Sent: true, ProviderMessageID: id}
}
