package requests

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one request seen by the bridge, either announced by a
// peripheral or submitted by an external tool.
type Record struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Payload    any       `json:"payload"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Journal keeps the most recent records in a fixed-size ring.
type Journal struct {
	mu    sync.Mutex
	ring  []Record
	next  int
	count int
}

func NewJournal(size int) *Journal {
	return &Journal{ring: make([]Record, size)}
}

func (j *Journal) Record(source string, payload any) Record {
	r := Record{
		ID:         uuid.NewString(),
		Source:     source,
		Payload:    payload,
		RecordedAt: time.Now(),
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ring[j.next] = r
	j.next = (j.next + 1) % len(j.ring)
	if j.count < len(j.ring) {
		j.count++
	}
	return r
}

// Records returns the retained records, oldest first.
func (j *Journal) Records() []Record {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Record, 0, j.count)
	start := (j.next - j.count + len(j.ring)) % len(j.ring)
	for i := 0; i < j.count; i++ {
		out = append(out, j.ring[(start+i)%len(j.ring)])
	}
	return out
}
