package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	jujuerrors "github.com/juju/errors"
	"go.lsp.dev/jsonrpc2"

	"github.com/danmuck/godotlink/internal/editorpeer"
	"github.com/danmuck/godotlink/internal/protocol/session"
	"github.com/danmuck/godotlink/internal/testutil/testlog"
)

func fastTransport() session.Config {
	return session.Config{
		ConnectTimeout:   time.Second,
		HandshakeTimeout: time.Second,
		Backoff: session.BackoffConfig{
			InitialDelay: 10 * time.Millisecond,
			Multiplier:   1,
			MaxDelay:     10 * time.Millisecond,
		},
	}
}

func startEditor(t *testing.T, cfg editorpeer.Config) *editorpeer.Server {
	t.Helper()
	srv, err := editorpeer.Start(cfg)
	if err != nil {
		t.Fatalf("start editor: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func newTestClient(t *testing.T, root string, sink Sink) (*Client, <-chan ConnectionState) {
	t.Helper()
	c, err := NewClient(ClientConfig{
		Identity:    "godotlink-test",
		ProjectRoot: root,
		Transport:   fastTransport(),
		Sink:        sink,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	states := recordStates(&c.state)
	t.Cleanup(func() { _ = c.Close() })
	return c, states
}

func TestNewSessionValidatesConfig(t *testing.T) {
	testlog.Start(t)
	if _, err := NewSession(SessionConfig{ProjectRoot: "/p"}, nil); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for missing identity, got %v", err)
	}
	if _, err := NewClient(ClientConfig{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for missing root, got %v", err)
	}
}

func TestClientRequestWhileDisconnectedFailsFast(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	c, _ := newTestClient(t, root, &recordingSink{})
	c.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	_, err := c.NodePaths(ctx, "res://Foo.cs")
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("disconnected request did not fail fast")
	}
	if c.State() != StateDisconnected {
		t.Fatalf("state=%s", c.State())
	}
}

func TestClientConnectsServesAndReconnects(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	srv := startEditor(t, editorpeer.Config{
		ProjectRoot:  root,
		NodePaths:    map[string][]string{"res://Foo.cs": {"\"Player\"", "\"Player/Sprite2D\""}},
		InputActions: []string{"\"ui_accept\"", "\"jump\""},
	})
	c, states := newTestClient(t, root, &recordingSink{})
	c.Start()
	waitState(t, states, StateConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	resp, err := c.NodePaths(ctx, "res://Foo.cs")
	if err != nil {
		t.Fatalf("node paths: %v", err)
	}
	if resp.Kind != CompletionNodePaths || resp.ScriptFile != "res://Foo.cs" || len(resp.Suggestions) != 2 {
		t.Fatalf("unexpected node paths response: %+v", resp)
	}
	actions, err := c.InputActions(ctx, "res://Foo.cs")
	if err != nil {
		t.Fatalf("input actions: %v", err)
	}
	if actions.Kind != CompletionInputActions || len(actions.Suggestions) != 2 || actions.Suggestions[1] != "\"jump\"" {
		t.Fatalf("unexpected input actions response: %+v", actions)
	}

	srv.DropConnections()
	waitState(t, states, StateDisconnected)
	waitState(t, states, StateConnected)

	hellos := srv.Hellos()
	if len(hellos) < 2 {
		t.Fatalf("hellos=%d want reconnect handshake", len(hellos))
	}
	if hellos[0].Identity != "godotlink-test" || hellos[0].ProjectRoot != root {
		t.Fatalf("unexpected hello: %+v", hellos[0])
	}
	if hellos[0].SessionID == hellos[1].SessionID {
		t.Fatalf("session id reused across connections")
	}
}

func TestClientConcurrentRequestsAnsweredOutOfOrder(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	srv := startEditor(t, editorpeer.Config{
		ProjectRoot: root,
		NodePaths: map[string][]string{
			"res://Slow.cs": {"\"Slow\""},
			"res://Fast.cs": {"\"Fast\""},
		},
		Delay: func(_ string, scriptFile string) time.Duration {
			if scriptFile == "res://Slow.cs" {
				return 200 * time.Millisecond
			}
			return 0
		},
	})
	c, states := newTestClient(t, root, &recordingSink{})
	c.Start()
	waitState(t, states, StateConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		order []string
	)
	results := make(map[string]CodeCompletionResponse)
	for _, file := range []string{"res://Slow.cs", "res://Fast.cs"} {
		wg.Add(1)
		go func(file string) {
			defer wg.Done()
			resp, err := c.NodePaths(ctx, file)
			if err != nil {
				t.Errorf("%s: %v", file, err)
				return
			}
			mu.Lock()
			order = append(order, file)
			results[file] = resp
			mu.Unlock()
		}(file)
		if file == "res://Slow.cs" {
			waitFor(t, "slow request at editor", func() bool { return srv.Requests() == 1 })
		}
	}
	wg.Wait()

	if len(order) != 2 || order[0] != "res://Fast.cs" {
		t.Fatalf("expected fast reply first, order=%v", order)
	}
	for file, resp := range results {
		if resp.ScriptFile != file || len(resp.Suggestions) != 1 {
			t.Fatalf("%s got response for %+v", file, resp)
		}
	}
}

func TestClientRequestFailsWhenTransportDrops(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	srv := startEditor(t, editorpeer.Config{
		ProjectRoot: root,
		Delay: func(string, string) time.Duration {
			return time.Hour
		},
	})
	c, states := newTestClient(t, root, &recordingSink{})
	c.Start()
	waitState(t, states, StateConnected)

	errc := make(chan error, 1)
	go func() {
		_, err := c.NodePaths(context.Background(), "res://Hang.cs")
		errc <- err
	}()
	waitFor(t, "request at editor", func() bool { return srv.Requests() == 1 })
	srv.DropConnections()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrTransportLost) {
			t.Fatalf("expected ErrTransportLost, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("request hung after transport loss")
	}
}

func TestClientSurfacesPeerError(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	startEditor(t, editorpeer.Config{
		ProjectRoot: root,
		Failures:    map[string]string{"res://Broken.cs": "no scene for script"},
	})
	c, states := newTestClient(t, root, &recordingSink{})
	c.Start()
	waitState(t, states, StateConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := c.NodePaths(ctx, "res://Broken.cs")
	var peerErr *PeerError
	if !errors.As(err, &peerErr) {
		t.Fatalf("expected PeerError, got %v", err)
	}
	if peerErr.Code() != jsonrpc2.InternalError || peerErr.Err.Message != "no scene for script" || peerErr.Method != MethodCodeCompletion {
		t.Fatalf("unexpected peer error: %+v", peerErr.Err)
	}
}

func TestClientAnswersEditorRequestsNotImplemented(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	srv := startEditor(t, editorpeer.Config{ProjectRoot: root})
	sink := &recordingSink{}
	c, states := newTestClient(t, root, sink)
	c.Start()
	waitState(t, states, StateConnected)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := srv.Push(ctx, "OpenFile", map[string]any{"file": "res://Foo.cs", "line": 3}, nil)
	var rpcErr *jsonrpc2.Error
	if !errors.As(err, &rpcErr) || rpcErr.Code != jsonrpc2.MethodNotFound {
		t.Fatalf("expected MethodNotFound, got %v", err)
	}

	events := sink.matching(SeverityError, "method=OpenFile")
	if len(events) != 1 || !errors.Is(events[0].failure, jujuerrors.NotImplemented) {
		t.Fatalf("expected one not-implemented error event, got %+v", events)
	}
	if c.State() != StateConnected {
		t.Fatalf("inbound failure dropped the session")
	}
}

func TestClientCloseTwiceIsNoop(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	startEditor(t, editorpeer.Config{ProjectRoot: root})
	sink := &recordingSink{}
	c, states := newTestClient(t, root, sink)
	c.Start()
	waitState(t, states, StateConnected)

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	waitState(t, states, StateDisconnected)

	if got := len(sink.matching(SeverityDebug, "messaging.Session disposed")); got != 1 {
		t.Fatalf("disposed events=%d want=1", got)
	}
	if conn, disc := c.Supervisor().Armed(); conn != nil || disc != nil {
		t.Fatalf("chains still armed after close")
	}
	if _, err := c.NodePaths(context.Background(), "res://Foo.cs"); !errors.Is(err, ErrSessionDisposed) {
		t.Fatalf("expected ErrSessionDisposed, got %v", err)
	}
	c.Start()
	if c.Session().Connected() {
		t.Fatalf("start after close reconnected")
	}
}

func TestSessionDisposeWithoutStart(t *testing.T) {
	testlog.Start(t)
	s, err := NewSession(SessionConfig{Identity: "godotlink-test", ProjectRoot: t.TempDir()}, NewBridge(&recordingSink{}))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	conn := s.AwaitConnected()
	s.Dispose()
	s.Dispose()
	if err := conn.Wait(context.Background()); !errors.Is(err, ErrSessionDisposed) {
		t.Fatalf("expected ErrSessionDisposed, got %v", err)
	}
	if err := s.AwaitDisconnected().Err(); !errors.Is(err, ErrSessionDisposed) {
		t.Fatalf("expected failed disconnected watch, got %v", err)
	}
	s.Start()
}

func TestSessionRetriesAfterBackoff(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	srv := startEditor(t, editorpeer.Config{ProjectRoot: root})
	srv.Reject("editor busy")

	clk := testclock.NewClock(time.Now())
	sink := &recordingSink{}
	s, err := NewSession(SessionConfig{
		Identity:    "godotlink-test",
		ProjectRoot: root,
		Transport:   fastTransport(),
		Clock:       clk,
	}, NewBridge(sink))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer s.Dispose()
	connected := s.AwaitConnected()
	s.Start()

	waitFor(t, "rejected handshake", func() bool { return len(srv.Hellos()) == 1 })
	srv.Reject("")
	time.Sleep(50 * time.Millisecond)
	if len(srv.Hellos()) != 1 || connected.Fired() {
		t.Fatalf("reconnected before backoff elapsed")
	}
	if got := len(sink.matching(SeverityWarning, "editor busy")); got != 1 {
		t.Fatalf("rejection warnings=%d want=1", got)
	}

	if err := clk.WaitAdvance(10*time.Millisecond, time.Second, 1); err != nil {
		t.Fatalf("advance: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := connected.Wait(ctx); err != nil {
		t.Fatalf("connect after backoff: %v", err)
	}
	if !s.Connected() {
		t.Fatalf("session not connected")
	}
}

func TestSessionReconnectsToRestartedEditorAfterLateMetadataDir(t *testing.T) {
	testlog.Start(t)
	root := t.TempDir()
	// The clock never advances, so only metadata writes can trigger a retry.
	clk := testclock.NewClock(time.Now())
	s, err := NewSession(SessionConfig{
		Identity:    "godotlink-test",
		ProjectRoot: root,
		Transport:   fastTransport(),
		Clock:       clk,
	}, NewBridge(&recordingSink{}))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	defer s.Dispose()
	connected := s.AwaitConnected()
	s.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	first, err := editorpeer.Start(editorpeer.Config{ProjectRoot: root})
	if err != nil {
		t.Fatalf("start first editor: %v", err)
	}
	if err := connected.Wait(ctx); err != nil {
		_ = first.Close()
		t.Fatalf("connect to first editor: %v", err)
	}

	reconnected := s.AwaitConnected()
	disconnected := s.AwaitDisconnected()
	if err := first.Close(); err != nil {
		t.Fatalf("close first editor: %v", err)
	}
	if err := disconnected.Wait(ctx); err != nil {
		t.Fatalf("disconnect from first editor: %v", err)
	}

	second := startEditor(t, editorpeer.Config{ProjectRoot: root})
	if err := reconnected.Wait(ctx); err != nil {
		t.Fatalf("connect to restarted editor: %v", err)
	}
	if got := len(second.Hellos()); got != 1 {
		t.Fatalf("restarted editor hellos=%d want=1", got)
	}
}
