// Package state implements the State Container (versioned, hashed
// strategy-state ownership) and the Checkpoint Manager (atomically
// persisted snapshots), per §4.8.
package state

import (
	"sync"
	"time"

	"github.com/replaycore/engine/pkg/canonical"
	"github.com/replaycore/engine/pkg/contracts"
)

// Snapshot is the frozen {state, hash, version, timestamp} view returned
// by Container.Snapshot.
type Snapshot struct {
	State     any    `json:"state"`
	Hash      string `json:"hash"`
	Version   uint64 `json:"version"`
	Timestamp int64  `json:"timestamp"`
}

// Container owns a strategy's state and advances a monotonic version
// counter on every mutation.
type Container struct {
	mu      sync.Mutex
	state   any
	version uint64
}

// NewContainer constructs a Container with an initial state value.
func NewContainer(initial any) *Container {
	return &Container{state: initial}
}

// Get returns the current state value.
func (c *Container) Get() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Set replaces the state value wholesale and advances the version.
func (c *Container) Set(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = v
	c.version++
}

// Update applies fn to the current state and stores its result, advancing
// the version.
func (c *Container) Update(fn func(current any) any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = fn(c.state)
	c.version++
}

// SetValue sets one key on a map[string]any state value, advancing the
// version. If the current state is not a map, it is replaced by a new
// map holding only key.
func (c *Container) SetValue(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.state.(map[string]any)
	if !ok {
		m = map[string]any{}
	}
	m[key] = value
	c.state = m
	c.version++
}

// Increment adds delta to a numeric key on a map[string]any state value.
func (c *Container) Increment(key string, delta float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.state.(map[string]any)
	if !ok {
		m = map[string]any{}
	}
	current, _ := m[key].(float64)
	m[key] = current + delta
	c.state = m
	c.version++
}

// Version returns the current monotonic version counter.
func (c *Container) Version() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// Snapshot returns a frozen, hashed view of the current state.
func (c *Container) Snapshot() (Snapshot, error) {
	c.mu.Lock()
	state := c.state
	version := c.version
	c.mu.Unlock()

	hash, err := canonical.Hash(state)
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		State:     state,
		Hash:      hash,
		Version:   version,
		Timestamp: time.Now().UnixMilli(),
	}, nil
}

// Restore rehydrates the container from a snapshot. If Hash is present it
// is recomputed from State and must equal the stored value.
func (c *Container) Restore(snap Snapshot) error {
	if snap.Hash != "" {
		recomputed, err := canonical.Hash(snap.State)
		if err != nil {
			return err
		}
		if recomputed != snap.Hash {
			return contracts.New(contracts.CodeRestoreError, "snapshot hash mismatch", map[string]any{
				"expected": snap.Hash,
				"actual":   recomputed,
			})
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = snap.State
	c.version = snap.Version
	return nil
}
