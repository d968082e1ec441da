package requests

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PushPop(t *testing.T) {
	q := NewQueue(2, 0)

	first, err := q.Push([]byte("p1"), "O-A-3-1")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, first.ID)
	_, err = q.Push([]byte("p2"), "O-B-1-0")
	require.NoError(t, err)

	_, err = q.Push([]byte("p1"), "O-A-3-0")
	assert.ErrorIs(t, err, ErrQueueFull)

	_, ok := q.PopFor([]byte("p3"))
	assert.False(t, ok)

	got, ok := q.PopFor([]byte("p1"))
	require.True(t, ok)
	assert.Equal(t, first, got)
	assert.Equal(t, 1, q.Len())

	_, ok = q.PopFor([]byte("p1"))
	assert.False(t, ok)
}

func TestQueue_FIFOPerIdentity(t *testing.T) {
	q := NewQueue(4, 0)
	for i := range 3 {
		_, err := q.Push([]byte("p1"), fmt.Sprintf("O-A-%d-1", i))
		require.NoError(t, err)
	}
	for i := range 3 {
		r, ok := q.PopFor([]byte("p1"))
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("O-A-%d-1", i), r.Payload)
	}
}

func TestQueue_Expire(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	q := NewQueue(4, time.Minute)
	q.now = func() time.Time { return now }

	_, err := q.Push([]byte("old"), "x")
	require.NoError(t, err)
	now = now.Add(45 * time.Second)
	_, err = q.Push([]byte("new"), "y")
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	expired := q.Expire()
	require.Len(t, expired, 1)
	assert.Equal(t, []byte("old"), expired[0].Identity)
	assert.Equal(t, 1, q.Len())

	assert.Empty(t, NewQueue(1, 0).Expire())
}

func TestJournal_Ring(t *testing.T) {
	j := NewJournal(3)
	assert.Empty(t, j.Records())

	for i := range 5 {
		r := j.Record("DEIMIC", i)
		_, err := uuid.Parse(r.ID)
		require.NoError(t, err)
	}

	records := j.Records()
	require.Len(t, records, 3)
	for i, r := range records {
		assert.Equal(t, i+2, r.Payload)
	}
}
