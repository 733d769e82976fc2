package process

import (
	"context"
	"strings"
	"sync"
	"time"
)

// readyPhrases are startup lines after which SERVAL's output says the server
// side is up; the bounded startup-output wait stops early on any of them.
var readyPhrases = []string{"server started", "listening on", "ready to accept"}

// ContainsReadyPhrase reports whether output contains a server-started line.
func ContainsReadyPhrase(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range readyPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// TailBuffer keeps the most recent max bytes written to it. The handle wires
// it in parallel with the rotating capture file so evidence scanning can see
// recent output without unbounded memory.
type TailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func NewTailBuffer(max int) *TailBuffer {
	if max <= 0 {
		max = DefaultTailSize
	}
	return &TailBuffer{max: max}
}

func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *TailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func (t *TailBuffer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.buf)
}

func (t *TailBuffer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = t.buf[:0]
}

// WaitForStartupOutput blocks until the captured output contains a ready
// phrase, the window elapses, the context is cancelled, or the process exits.
// It returns whatever output accumulated. The capture itself keeps running
// for the process lifetime; only this wait is bounded.
func (h *Handle) WaitForStartupOutput(ctx context.Context, window time.Duration) string {
	if window <= 0 {
		return h.Output()
	}
	deadline := time.NewTimer(window)
	defer deadline.Stop()
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	wd := h.WaitDoneChan()
	for {
		if ContainsReadyPhrase(h.Output()) {
			return h.Output()
		}
		select {
		case <-ctx.Done():
			return h.Output()
		case <-deadline.C:
			return h.Output()
		case <-wd:
			return h.Output()
		case <-tick.C:
		}
	}
}
