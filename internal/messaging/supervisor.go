package messaging

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// Lifecycle exposes the connect and disconnect watches of a session.
type Lifecycle interface {
	AwaitConnected() *Watch
	AwaitDisconnected() *Watch
}

// Supervisor follows both watch chains of a Lifecycle on one goroutine and
// writes every transition into a StateCell in transport order.
type Supervisor struct {
	lc    Lifecycle
	state *StateCell
	log   Logger

	mu      sync.Mutex
	armed   [2]*Watch
	started bool
	done    chan struct{}
}

func NewSupervisor(lc Lifecycle, state *StateCell, log Logger) *Supervisor {
	if log == nil {
		log = NewBridge(nil)
	}
	return &Supervisor{
		lc:    lc,
		state: state,
		log:   log,
		done:  make(chan struct{}),
	}
}

// Start arms one watch per state and begins following them. Later calls
// do nothing.
func (s *Supervisor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.armed[StateConnected] = s.lc.AwaitConnected()
	s.armed[StateDisconnected] = s.lc.AwaitDisconnected()
	go s.loop(s.armed[StateConnected], s.armed[StateDisconnected])
}

// Armed returns the watches currently awaited, nil for a stopped chain.
func (s *Supervisor) Armed() (connected, disconnected *Watch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed[StateConnected], s.armed[StateDisconnected]
}

// Done is closed once both chains have stopped.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until both chains stop. It returns at once if Start was
// never called.
func (s *Supervisor) Wait() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}

func (s *Supervisor) loop(connected, disconnected *Watch) {
	defer close(s.done)
	for connected != nil || disconnected != nil {
		select {
		case <-watchDone(connected):
		case <-watchDone(disconnected):
		}
		for {
			w := earliestFired(connected, disconnected)
			if w == nil {
				break
			}
			next := s.apply(w)
			if w.State() == StateConnected {
				connected = next
			} else {
				disconnected = next
			}
		}
	}
}

// apply re-arms before publishing so observers of the new state always see
// a fresh watch of each kind.
func (s *Supervisor) apply(w *Watch) *Watch {
	if err := w.Err(); err != nil {
		s.setArmed(w.State(), nil)
		if errors.Is(err, ErrSessionDisposed) {
			s.log.LogDebug(fmt.Sprintf("messaging.Supervisor %s watch ended: %v", w.State(), err))
		} else {
			s.log.LogWarning(fmt.Sprintf("messaging.Supervisor %s watch failed, state stays %s: %v", w.State(), s.state.Load(), err))
		}
		return nil
	}

	next := w.Next()
	s.setArmed(w.State(), next)
	s.state.set(w.State())
	if w.State() == StateConnected {
		s.log.LogInfo("Godot Editor connected")
	} else {
		s.log.LogInfo("Godot Editor disconnected")
	}
	return next
}

func (s *Supervisor) setArmed(state ConnectionState, w *Watch) {
	s.mu.Lock()
	s.armed[state] = w
	s.mu.Unlock()
}

func watchDone(w *Watch) <-chan struct{} {
	if w == nil {
		return nil
	}
	return w.Done()
}

// earliestFired picks the fired watch with the lowest sequence number.
// Failed watches sort after every resolved one.
func earliestFired(a, b *Watch) *Watch {
	var best *Watch
	for _, w := range []*Watch{a, b} {
		if w == nil || !w.Fired() {
			continue
		}
		if best == nil || fireOrder(w) < fireOrder(best) {
			best = w
		}
	}
	return best
}

func fireOrder(w *Watch) uint64 {
	if w.Err() != nil {
		return math.MaxUint64
	}
	return w.Seq()
}
