package history

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

const sendTimeout = 5 * time.Second

// Recorder fans events out to sinks on background goroutines so a slow
// analytics backend never stalls the supervisor. The zero value and a nil
// *Recorder drop everything.
type Recorder struct {
	mu    sync.RWMutex
	sinks []Sink
	wg    sync.WaitGroup
}

func NewRecorder(sinks ...Sink) *Recorder {
	return &Recorder{sinks: append([]Sink(nil), sinks...)}
}

func (r *Recorder) Add(s Sink) {
	r.mu.Lock()
	r.sinks = append(r.sinks, s)
	r.mu.Unlock()
}

func (r *Recorder) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

// Record delivers e to every sink. Failures are logged.
func (r *Recorder) Record(e Event) {
	if r == nil {
		return
	}
	r.mu.RLock()
	sinks := append([]Sink(nil), r.sinks...)
	r.mu.RUnlock()
	for _, s := range sinks {
		r.wg.Add(1)
		go func(s Sink) {
			defer r.wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			defer cancel()
			if err := s.Send(ctx, e); err != nil {
				slog.Warn("History sink failed", "event", string(e.Type), "error", err)
			}
		}(s)
	}
}

// Flush waits for in-flight deliveries.
func (r *Recorder) Flush() {
	if r != nil {
		r.wg.Wait()
	}
}

// Close flushes and closes every sink that supports it.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.Flush()
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	r.sinks = nil
	return first
}
