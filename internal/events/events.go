// Package events implements the out-bound progress-event transport spec.md
// §6 describes: a bounded queue the orchestrator publishes
// models.ProgressEvent values onto, with the backpressure rule from §5 —
// heartbeats are dropped once the queue is full, but result/error/complete/
// stopped events are never silently dropped. A transport layer (SSE, a UI
// socket, …) is the consumer; it is out of scope here per spec.md §1.
//
// Grounded on the teacher's internal/events/bus.go (EventBus) and
// internal/events/kafka.go (KafkaEventManager), generalized from the
// teacher's task-lifecycle Event/EventType pair to models.ProgressEvent and
// from an at-most-once fire-and-forget Publish to the terminal-event
// guarantee spec.md §5 requires.
package events

import (
	"context"

	"aiforge/internal/models"
)

// Publisher accepts progress events from the orchestrator. ChannelBus is the
// default in-process implementation; KafkaPublisher is the optional
// transport backend named in SPEC_FULL.md's domain stack.
type Publisher interface {
	Publish(ctx context.Context, event models.ProgressEvent) error
	Close() error
}
