package messaging

import (
	"context"
	"sync"
)

// Watch resolves once, at the next transition into its target state, or
// fails when the owning Notifier is closed. A fired watch links to the
// watch armed for the following transition of the same state.
type Watch struct {
	state ConnectionState
	done  chan struct{}

	// set before done is closed
	seq  uint64
	err  error
	next *Watch
}

func newWatch(state ConnectionState) *Watch {
	return &Watch{state: state, done: make(chan struct{})}
}

// State is the transition this watch waits for.
func (w *Watch) State() ConnectionState {
	return w.state
}

func (w *Watch) Done() <-chan struct{} {
	return w.done
}

// Fired reports whether the watch has resolved or failed.
func (w *Watch) Fired() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Seq is the transport-order sequence number of the transition that fired
// the watch. Zero until fired and for failed watches.
func (w *Watch) Seq() uint64 {
	if !w.Fired() {
		return 0
	}
	return w.seq
}

// Err is non-nil when the watch failed instead of resolving.
func (w *Watch) Err() error {
	if !w.Fired() {
		return nil
	}
	return w.err
}

// Next returns the watch armed when this one fired. It is nil before the
// watch fires and after a failure.
func (w *Watch) Next() *Watch {
	if !w.Fired() {
		return nil
	}
	return w.next
}

// Wait blocks until the watch fires or ctx is done.
func (w *Watch) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notifier keeps one armed watch per state. Firing a watch arms its
// successor in the same critical section, so a consumer following Next
// never misses a transition.
type Notifier struct {
	mu    sync.Mutex
	heads [2]*Watch
	seq   uint64
	err   error
}

func NewNotifier() *Notifier {
	return &Notifier{
		heads: [2]*Watch{
			StateDisconnected: newWatch(StateDisconnected),
			StateConnected:    newWatch(StateConnected),
		},
	}
}

// Await returns the armed watch for state. After Close it returns an
// already failed watch.
func (n *Notifier) Await(state ConnectionState) *Watch {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.heads[state]
}

// Fire resolves the armed watch for state and returns its sequence number.
// It returns zero once the notifier is closed.
func (n *Notifier) Fire(state ConnectionState) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return 0
	}
	n.seq++
	w := n.heads[state]
	w.seq = n.seq
	w.next = newWatch(state)
	n.heads[state] = w.next
	close(w.done)
	return w.seq
}

// Close fails both armed watches with err. Later calls are no-ops.
func (n *Notifier) Close(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return
	}
	n.err = err
	for _, w := range n.heads {
		w.err = err
		close(w.done)
	}
}
