package onboarding

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// HostMessage is posted to the native shell hosting the webview.
type HostMessage struct {
	Action  string `json:"action"`
	Success *bool  `json:"success,omitempty"`
}

const (
	HostActionClose     = "close"
	HostActionCompleted = "onboarding_completed"
)

// HostBridge is the optional channel to the native container.
type HostBridge interface {
	PostMessage(ctx context.Context, msg HostMessage) error
}

// HostBridgeFunc adapts a function to the HostBridge interface.
type HostBridgeFunc func(ctx context.Context, msg HostMessage) error

// PostMessage implements HostBridge.
func (f HostBridgeFunc) PostMessage(ctx context.Context, msg HostMessage) error {
	if f == nil {
		return nil
	}
	return f(ctx, msg)
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] ONBOARDING "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] ONBOARDING "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] ONBOARDING "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] ONBOARDING "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

func boolPtr(v bool) *bool {
	return &v
}
