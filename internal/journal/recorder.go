package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// sendTimeout bounds one delivery attempt so a hung sink cannot stall a
// lifecycle transition.
const sendTimeout = 5 * time.Second

// Recorder fans events out to the configured sinks. Failures are logged at
// debug level and otherwise swallowed.
type Recorder struct {
	mu     sync.Mutex
	sinks  []Sink
	logger *slog.Logger
}

func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{logger: logger}
}

// SetSinks replaces the sink set.
func (r *Recorder) SetSinks(sinks ...Sink) {
	r.mu.Lock()
	r.sinks = append([]Sink(nil), sinks...)
	r.mu.Unlock()
}

// Record delivers the event to every sink.
func (r *Recorder) Record(e Event) {
	r.mu.Lock()
	sinks := append([]Sink(nil), r.sinks...)
	r.mu.Unlock()
	if len(sinks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	for _, s := range sinks {
		if err := s.Send(ctx, e); err != nil {
			r.logger.Debug("journal sink send failed", "type", string(e.Type), "error", err)
		}
	}
}

// Close closes every sink that supports closing and drops the sink set.
func (r *Recorder) Close() {
	r.mu.Lock()
	sinks := r.sinks
	r.sinks = nil
	r.mu.Unlock()
	for _, s := range sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				r.logger.Debug("journal sink close failed", "error", err)
			}
		}
	}
}
