// Package state keeps the bridge's last known view of the Deimic network.
package state

import (
	"encoding/hex"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/anicoll/deimic-pi/internal/pkg/model"
)

// Entry is the last reported state of one component.
type Entry struct {
	model.ComponentKey
	Value     any       `json:"value"`
	Source    string    `json:"source"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is a point-in-time copy of the cache.
type Snapshot struct {
	Components []Entry  `json:"components"`
	Peers      []string `json:"peers"`
}

// Cache holds component states and the connected raw-stream peers. It is
// written by the poll loop and read by the HTTP server.
type Cache struct {
	mu         sync.RWMutex
	components map[model.ComponentKey]Entry
	peers      map[string]time.Time
}

func New() *Cache {
	return &Cache{
		components: make(map[model.ComponentKey]Entry),
		peers:      make(map[string]time.Time),
	}
}

// Apply records u and reports whether the component's value changed.
func (c *Cache) Apply(u model.StateUpdate) bool {
	key := u.Key()
	at := u.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	prev, known := c.components[key]
	c.components[key] = Entry{ComponentKey: key, Value: u.NewState, Source: u.Source, UpdatedAt: at}
	return !known || !reflect.DeepEqual(prev.Value, u.NewState)
}

func (c *Cache) Get(key model.ComponentKey) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.components[key]
	return e, ok
}

// PeerID renders a raw-stream identity for logs and snapshots.
func PeerID(identity []byte) string {
	return hex.EncodeToString(identity)
}

// TogglePeer flips the connection state of a peer. The stream endpoint
// reports both connect and disconnect as an empty frame, so the first one
// seen for an identity is a connect. It returns true when the peer is now
// connected.
func (c *Cache) TogglePeer(identity []byte) bool {
	id := PeerID(identity)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.peers[id]; ok {
		delete(c.peers, id)
		return false
	}
	c.peers[id] = time.Now()
	return true
}

func (c *Cache) PeerCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.peers)
}

// Snapshot returns the components ordered by key and the sorted peer ids.
func (c *Cache) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	components := lo.Values(c.components)
	slices.SortFunc(components, func(a, b Entry) int {
		if n := strings.Compare(string(a.Component), string(b.Component)); n != 0 {
			return n
		}
		if n := strings.Compare(a.Address, b.Address); n != 0 {
			return n
		}
		return a.Number - b.Number
	})
	peers := lo.Keys(c.peers)
	slices.Sort(peers)

	return Snapshot{Components: components, Peers: peers}
}
