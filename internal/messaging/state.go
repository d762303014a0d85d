package messaging

import (
	"slices"
	"sync"
	"sync/atomic"
)

// ConnectionState is the host-observed link state.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// StateCell holds the observed ConnectionState. Loads are lock-free; only
// the Supervisor writes it.
type StateCell struct {
	v     atomic.Int32
	mu    sync.Mutex
	hooks []func(ConnectionState)
}

func (c *StateCell) Load() ConnectionState {
	return ConnectionState(c.v.Load())
}

// OnChange registers fn to run after every applied transition, including
// repeats of the current value. fn runs on the supervisor goroutine.
func (c *StateCell) OnChange(fn func(ConnectionState)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

func (c *StateCell) set(s ConnectionState) {
	c.v.Store(int32(s))
	c.mu.Lock()
	hooks := slices.Clone(c.hooks)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn(s)
	}
}
