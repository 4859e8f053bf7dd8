package notify

import (
	"math/rand"
	"sync"
	"time"
)

// Responses picks a random line from a fixed set, e.g. an event footer.
type Responses struct {
	mu    sync.Mutex
	lines []string
	rnd   *rand.Rand
}

func NewResponses(lines []string, seed int64) *Responses {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	kept := make([]string, len(lines))
	copy(kept, lines)
	return &Responses{lines: kept, rnd: rand.New(rand.NewSource(seed))}
}

// Pick returns a random line, or "" when there are none.
func (r *Responses) Pick() string {
	if r == nil || len(r.lines) == 0 {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lines[r.rnd.Intn(len(r.lines))]
}
