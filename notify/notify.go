// Package notify carries the "derivatives were queued" announcement
// out of the batch layer. The batch invokes the notifier synchronously
// at exactly one point: when a request's targets include newly created
// records. What happens next (a queue message, an eager build, a log
// line) is the subscriber's business.
package notify

import (
	"context"

	"github.com/google/uuid"
)

// Event describes one request whose derivatives entered the queue.
type Event struct {
	StorageID  string
	SourceName string
	// IDs are all derivative identities of the request, not only the
	// newly created ones.
	IDs []uuid.UUID
}

// Notifier receives queue announcements.
type Notifier interface {
	QueuedDerivatives(ctx context.Context, ev Event)
}

// Func adapts a plain function to a Notifier.
type Func func(ctx context.Context, ev Event)

func (f Func) QueuedDerivatives(ctx context.Context, ev Event) { f(ctx, ev) }

// Noop discards announcements.
type Noop struct{}

func (Noop) QueuedDerivatives(context.Context, Event) {}

// Channel forwards announcements into a buffered channel for a
// background consumer. A full channel drops the event rather than
// blocking the batch.
type Channel struct {
	ch chan Event
}

func NewChannel(buffer int) *Channel {
	return &Channel{ch: make(chan Event, buffer)}
}

// C is the consumer side.
func (c *Channel) C() <-chan Event { return c.ch }

func (c *Channel) QueuedDerivatives(_ context.Context, ev Event) {
	select {
	case c.ch <- ev:
	default:
	}
}

// Close releases the channel once no more announcements will be sent.
func (c *Channel) Close() { close(c.ch) }
