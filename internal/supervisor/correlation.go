package supervisor

import (
	"sync"
	"time"

	"github.com/turtacn/Fopwatch/internal/monitor"
	"github.com/turtacn/Fopwatch/pkg/logger"
	"github.com/turtacn/Fopwatch/pkg/protocol"
)

// Completion is the single resolution of a pending request.
type Completion struct {
	Response protocol.Response
	Err      error
}

// Pending is a request awaiting its response frame.
type Pending struct {
	ID       int
	IssuedAt time.Time
	done     chan Completion
}

// Done delivers exactly one Completion.
func (p *Pending) Done() <-chan Completion {
	return p.done
}

// CorrelationTable maps request ids to pending completions. Ids start at 1,
// only grow, and survive FailAll so a restarted worker never sees a reused id.
type CorrelationTable struct {
	mu      sync.Mutex
	nextID  int
	pending map[int]*Pending
	log     logger.Logger
}

func NewCorrelationTable(log logger.Logger) *CorrelationTable {
	return &CorrelationTable{
		nextID:  1,
		pending: make(map[int]*Pending),
		log:     logger.Or(log),
	}
}

// Register allocates the next id and stores a pending entry for it.
func (t *CorrelationTable) Register() *Pending {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := &Pending{
		ID:       t.nextID,
		IssuedAt: time.Now(),
		done:     make(chan Completion, 1),
	}
	t.nextID++
	t.pending[p.ID] = p
	monitor.PendingRequests.Set(float64(len(t.pending)))
	return p
}

// Resolve completes and removes the entry for id. Unknown ids are a no-op.
func (t *CorrelationTable) Resolve(id int, resp protocol.Response) bool {
	return t.complete(id, Completion{Response: resp})
}

// Reject completes the entry for id with err.
func (t *CorrelationTable) Reject(id int, err error) bool {
	return t.complete(id, Completion{Err: err})
}

func (t *CorrelationTable) complete(id int, c Completion) bool {
	t.mu.Lock()
	p, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
		monitor.PendingRequests.Set(float64(len(t.pending)))
	}
	t.mu.Unlock()

	if !ok {
		t.log.Warn("Correlation: response for unknown request dropped", "request_id", id)
		return false
	}
	p.done <- c
	close(p.done)
	return true
}

// Discard removes id without completing it. Used when the caller stopped waiting.
func (t *CorrelationTable) Discard(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[id]
	delete(t.pending, id)
	monitor.PendingRequests.Set(float64(len(t.pending)))
	return ok
}

// FailAll drains the table, completing every entry with err. It returns the
// number of entries failed.
func (t *CorrelationTable) FailAll(err error) int {
	t.mu.Lock()
	drained := t.pending
	t.pending = make(map[int]*Pending)
	monitor.PendingRequests.Set(0)
	t.mu.Unlock()

	for _, p := range drained {
		p.done <- Completion{Err: err}
		close(p.done)
	}
	return len(drained)
}

// Len returns the number of pending entries.
func (t *CorrelationTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Personal.AI order the ending
