package messaging

import (
	"context"
	"sync"

	"github.com/juju/clock"

	"github.com/danmuck/godotlink/internal/protocol/session"
)

const DefaultIdentity = "godotlink"

type ClientConfig struct {
	Identity    string
	ProjectRoot string
	Transport   session.Config
	Clock       clock.Clock
	// Sink receives transport diagnostics. Defaults to the process logger.
	Sink Sink
}

// Client links one project to its editor: it owns the session, mirrors its
// lifecycle into State and exposes the completion operations.
type Client struct {
	bridge     *Bridge
	session    *Session
	dispatcher *Dispatcher
	supervisor *Supervisor
	state      StateCell

	startOnce sync.Once
	closeOnce sync.Once
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Identity == "" {
		cfg.Identity = DefaultIdentity
	}
	c := &Client{bridge: NewBridge(cfg.Sink)}
	c.dispatcher = &Dispatcher{}
	sess, err := NewSession(SessionConfig{
		Identity:    cfg.Identity,
		ProjectRoot: cfg.ProjectRoot,
		Transport:   cfg.Transport,
		Clock:       cfg.Clock,
		Handler:     c.dispatcher,
	}, c.bridge)
	if err != nil {
		return nil, err
	}
	c.session = sess
	c.dispatcher.caller = sess
	c.supervisor = NewSupervisor(sess, &c.state, c.bridge)
	return c, nil
}

// Start arms the supervisor and starts connecting. Safe to call more than once.
func (c *Client) Start() {
	c.startOnce.Do(func() {
		c.supervisor.Start()
		c.session.Start()
	})
}

// State is the last transition the supervisor observed.
func (c *Client) State() ConnectionState {
	return c.state.Load()
}

func (c *Client) OnStateChange(fn func(ConnectionState)) {
	c.state.OnChange(fn)
}

func (c *Client) Session() *Session {
	return c.session
}

func (c *Client) Supervisor() *Supervisor {
	return c.supervisor
}

func (c *Client) NodePaths(ctx context.Context, scriptFile string) (CodeCompletionResponse, error) {
	return c.dispatcher.NodePaths(ctx, scriptFile)
}

func (c *Client) InputActions(ctx context.Context, scriptFile string) (CodeCompletionResponse, error) {
	return c.dispatcher.InputActions(ctx, scriptFile)
}

// Close disposes the session once and waits for the supervisor to drain.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.startOnce.Do(func() {})
		c.session.Dispose()
		c.supervisor.Wait()
	})
	return nil
}
