package events

import (
	"context"

	"aiforge/internal/logger"
	"aiforge/internal/models"

	"go.uber.org/zap"
)

// ChannelBus is the default in-process Publisher: a single bounded channel a
// transport layer drains via Events(). Grounded on the teacher's EventBus,
// replacing its per-EventType handler fan-out (nothing in this module
// subscribes in-process; the only consumer is an external transport) with
// the bounded-queue backpressure semantics spec.md §5 specifies.
type ChannelBus struct {
	queue chan models.ProgressEvent
}

// NewChannelBus builds a bus with the given queue capacity.
func NewChannelBus(capacity int) *ChannelBus {
	if capacity <= 0 {
		capacity = 256
	}
	return &ChannelBus{queue: make(chan models.ProgressEvent, capacity)}
}

// Publish enqueues event. Terminal events (result, error, complete, stopped)
// block until there is room, since the caller must not lose them; all other
// event types (progress, heartbeat) are dropped immediately when the queue
// is full.
func (b *ChannelBus) Publish(ctx context.Context, event models.ProgressEvent) error {
	if event.Type.Terminal() {
		select {
		case b.queue <- event:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case b.queue <- event:
		return nil
	default:
		logger.WithComponent("events").Debug("dropping event under backpressure",
			zap.String("type", string(event.Type)))
		return nil
	}
}

// Events returns the receive side of the queue for a transport layer to drain.
func (b *ChannelBus) Events() <-chan models.ProgressEvent {
	return b.queue
}

// Close drains no further events and closes the channel; callers must stop
// publishing before calling Close.
func (b *ChannelBus) Close() error {
	close(b.queue)
	return nil
}
