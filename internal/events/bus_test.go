package events

import (
	"context"
	"testing"
	"time"

	"aiforge/internal/models"
)

func TestChannelBusDropsHeartbeatsUnderBackpressure(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	if err := bus.Publish(context.Background(), models.NewProgressEvent(models.ProgressTypeHeartbeat, "1", nil)); err != nil {
		t.Fatalf("unexpected error filling the queue: %v", err)
	}

	// The queue is now full (capacity 1); a second heartbeat must be
	// dropped rather than block.
	done := make(chan error, 1)
	go func() {
		done <- bus.Publish(context.Background(), models.NewProgressEvent(models.ProgressTypeHeartbeat, "2", nil))
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("dropping a heartbeat should not surface an error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Publish blocked instead of dropping the heartbeat under backpressure")
	}
}

func TestChannelBusNeverDropsTerminalEvents(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	if err := bus.Publish(context.Background(), models.NewProgressEvent(models.ProgressTypeHeartbeat, "fill", nil)); err != nil {
		t.Fatalf("unexpected error filling the queue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- bus.Publish(ctx, models.NewProgressEvent(models.ProgressTypeResult, "terminal", nil))
	}()

	// Drain the queue so the blocked terminal publish can land.
	<-bus.Events()

	if err := <-done; err != nil {
		t.Fatalf("terminal event publish should succeed once space frees up: %v", err)
	}
}

func TestChannelBusDefaultCapacity(t *testing.T) {
	bus := NewChannelBus(0)
	defer bus.Close()

	if cap(bus.queue) != 256 {
		t.Fatalf("expected default capacity 256, got %d", cap(bus.queue))
	}
}
