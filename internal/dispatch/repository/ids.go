package repository

import (
	"sync"

	"github.com/example/dispatchradio/internal/dispatch/domain"
)

// SequenceIDs issues millisecond-timestamp ids that never repeat: when the
// clock has not moved past the previous id the counter is bumped instead.
type SequenceIDs struct {
	mu    sync.Mutex
	clock domain.Clock
	last  int64
}

// NewSequenceIDs constructs a generator; a nil clock uses the system clock.
func NewSequenceIDs(clock domain.Clock) *SequenceIDs {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &SequenceIDs{clock: clock}
}

// NextID returns an id strictly greater than every id returned before.
func (g *SequenceIDs) NextID() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.clock.Now().UnixMilli()
	if id <= g.last {
		id = g.last + 1
	}
	g.last = id
	return id
}
