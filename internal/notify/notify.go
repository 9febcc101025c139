package notify

import "context"

// TextNotifier delivers short operator-facing messages. Implementations must
// be safe to call from any goroutine; delivery failures are logged by the
// implementation and never propagate into trading state.
type TextNotifier interface {
	Send(ctx context.Context, text string) error
}

// Noop discards every message. Used when no channel is configured.
type Noop struct{}

func (Noop) Send(context.Context, string) error { return nil }
