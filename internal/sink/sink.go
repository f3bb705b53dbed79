package sink

import (
	"context"

	"github.com/shortontech/crawlwatch/internal/event"
)

// Sink receives classified request events. Enqueue is called from a single
// dispatcher goroutine; implementations may batch internally.
type Sink interface {
	Start(ctx context.Context) error
	Enqueue(e event.Event) error
	Close() error
	Name() string // Returns the sink name for metrics and logging
}
