// Package requests holds requests addressed to Deimic peripherals.
//
// The Queue is the bridge's delivery hook: when a peripheral reports READY,
// a request queued for its identity is sent instead of the bare
// acknowledgment. How requests get into the queue is left to the caller;
// nothing in the bridge's own message handling produces them, and no
// delivery guarantee is made.
package requests

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrQueueFull = errors.New("request queue is full")

// Request is a payload waiting for its peripheral.
type Request struct {
	ID       uuid.UUID
	Identity []byte
	Payload  string
	QueuedAt time.Time
}

// Queue is a bounded FIFO of pending requests.
type Queue struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    []Request
	now      func() time.Time
}

// NewQueue creates a queue holding at most capacity requests. Requests older
// than ttl are dropped by Expire; a zero ttl keeps them forever.
func NewQueue(capacity int, ttl time.Duration) *Queue {
	return &Queue{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (q *Queue) Push(identity []byte, payload string) (Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		return Request{}, fmt.Errorf("%w (%d pending)", ErrQueueFull, len(q.items))
	}
	r := Request{
		ID:       uuid.New(),
		Identity: bytes.Clone(identity),
		Payload:  payload,
		QueuedAt: q.now(),
	}
	q.items = append(q.items, r)
	return r, nil
}

// PopFor removes and returns the oldest request for identity.
func (q *Queue) PopFor(identity []byte) (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, r := range q.items {
		if bytes.Equal(r.Identity, identity) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return r, true
		}
	}
	return Request{}, false
}

// Expire drops requests older than the ttl and returns them.
func (q *Queue) Expire() []Request {
	if q.ttl <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := q.now().Add(-q.ttl)
	var kept, expired []Request
	for _, r := range q.items {
		if r.QueuedAt.Before(cutoff) {
			expired = append(expired, r)
			continue
		}
		kept = append(kept, r)
	}
	q.items = kept
	return expired
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
