package onboarding

import (
	"context"
	"sync"
)

const (
	FallbackReload      = "reload"
	FallbackCloseWindow = "close-window"
)

// BridgeResult tells the UI whether the host shell got the message or which
// in-browser fallback it should perform.
type BridgeResult struct {
	Delivered bool   `json:"delivered"`
	Fallback  string `json:"fallback,omitempty"`
}

// Outbox is a HostBridge that queues messages until the webview drains them
// and forwards them to the native shell.
type Outbox struct {
	mu       sync.Mutex
	messages []HostMessage
	limit    int
}

// NewOutbox keeps at most limit pending messages, dropping the oldest.
func NewOutbox(limit int) *Outbox {
	if limit <= 0 {
		limit = 16
	}
	return &Outbox{limit: limit}
}

func (o *Outbox) PostMessage(ctx context.Context, msg HostMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
	if over := len(o.messages) - o.limit; over > 0 {
		o.messages = append([]HostMessage(nil), o.messages[over:]...)
	}
	return nil
}

// Drain returns and forgets the pending messages.
func (o *Outbox) Drain() []HostMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.messages
	o.messages = nil
	return out
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.messages)
}

// HasHostBridge reports whether a native shell channel is configured.
func (s *Session) HasHostBridge() bool {
	return s.bridge != nil
}

func (s *Session) postHostMessage(ctx context.Context, msg HostMessage) error {
	if err := s.bridge.PostMessage(ctx, msg); err != nil {
		return err
	}
	s.record(ctx, ActivityEvent{
		EventType: ActivityEventHostMessage,
		ToStep:    s.CurrentStep(),
		Metadata:  map[string]any{"action": msg.Action},
	})
	return nil
}

var _ HostBridge = (*Outbox)(nil)
