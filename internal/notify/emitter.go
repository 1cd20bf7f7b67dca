package notify

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ShayCichocki/stagehand/internal/pipeline"
)

// sendTimeout is how long Notify waits on a full buffer before dropping.
const sendTimeout = 100 * time.Millisecond

// Emitter buffers events on a channel for in-process subscribers such as
// the CLI's watch output.
type Emitter struct {
	events       chan pipeline.Event
	droppedCount atomic.Uint64
	logger       *zap.Logger
}

// NewEmitter creates an Emitter with the given buffer size.
func NewEmitter(bufferSize int, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{
		events: make(chan pipeline.Event, bufferSize),
		logger: logger.Named("emitter"),
	}
}

// Notify queues the event. If the buffer stays full past a short timeout the
// event is dropped and counted; Notify never returns an error.
func (e *Emitter) Notify(ctx context.Context, event pipeline.Event) error {
	select {
	case e.events <- event:
		return nil
	default:
	}

	timer := time.NewTimer(sendTimeout)
	defer timer.Stop()
	select {
	case e.events <- event:
		return nil
	case <-ctx.Done():
	case <-timer.C:
	}

	count := e.droppedCount.Add(1)
	if count%10 == 1 {
		e.logger.Warn("event channel full, dropped event",
			zap.Uint64("total_dropped", count),
			zap.String("type", string(event.Type)))
	}
	return nil
}

// DroppedCount returns the total number of dropped events.
func (e *Emitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns the receive side of the buffer.
func (e *Emitter) Events() <-chan pipeline.Event {
	return e.events
}

// Close closes the channel. Notify must not be called afterwards.
func (e *Emitter) Close() {
	close(e.events)
}

var _ pipeline.Notifier = (*Emitter)(nil)
