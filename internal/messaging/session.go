package messaging

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	jujuerrors "github.com/juju/errors"
	"go.lsp.dev/jsonrpc2"
	"gopkg.in/tomb.v2"

	"github.com/danmuck/godotlink/internal/observability"
	"github.com/danmuck/godotlink/internal/protocol/session"
)

// RequestHandler serves requests initiated by the editor.
type RequestHandler interface {
	HandleRequest(ctx context.Context, method string, params json.RawMessage) (any, error)
}

// Caller sends one request and decodes the correlated response into result.
type Caller interface {
	Call(ctx context.Context, method string, params, result any) error
}

type SessionConfig struct {
	Identity    string
	ProjectRoot string
	Transport   session.Config
	// Clock drives reconnect delays. Defaults to the wall clock.
	Clock   clock.Clock
	Handler RequestHandler
}

func (c SessionConfig) Validate() error {
	if strings.TrimSpace(c.Identity) == "" {
		return fmt.Errorf("%w: missing identity", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.ProjectRoot) == "" {
		return fmt.Errorf("%w: missing project root", ErrInvalidConfig)
	}
	return nil
}

// Session is one reconnecting link to the editor serving a project.
type Session struct {
	cfg      SessionConfig
	log      Logger
	notifier *Notifier
	rng      *rand.Rand
	t        tomb.Tomb

	mu          sync.Mutex
	conn        jsonrpc2.Conn
	started     bool
	disposed    bool
	disposeOnce sync.Once
}

func NewSession(cfg SessionConfig, log Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Transport = cfg.Transport.WithDefaults()
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if log == nil {
		log = NewBridge(nil)
	}
	return &Session{
		cfg:      cfg,
		log:      log,
		notifier: NewNotifier(),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Start begins connecting in the background. Calls after the first, or
// after Dispose, do nothing.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.disposed {
		return
	}
	s.started = true
	s.t.Go(s.run)
}

func (s *Session) AwaitConnected() *Watch {
	return s.notifier.Await(StateConnected)
}

func (s *Session) AwaitDisconnected() *Watch {
	return s.notifier.Await(StateDisconnected)
}

// Connected reports whether a handshaken connection is currently open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Call sends method with params and waits for the editor's response.
// Nothing is transmitted while disconnected.
func (s *Session) Call(ctx context.Context, method string, params, result any) error {
	s.mu.Lock()
	conn, disposed := s.conn, s.disposed
	s.mu.Unlock()
	if disposed {
		return ErrSessionDisposed
	}
	if conn == nil {
		return fmt.Errorf("%w: method=%s", ErrNotConnected, method)
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// pending calls are not failed by the connection itself when it drops
	go func() {
		select {
		case <-conn.Done():
			cancel()
		case <-callCtx.Done():
		}
	}()

	_, err := conn.Call(callCtx, method, params, result)
	if err == nil {
		return nil
	}
	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		return &PeerError{Method: method, Err: rpcErr}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if s.isDisposed() {
		return fmt.Errorf("%w: method=%s: %w", ErrTransportLost, method, ErrSessionDisposed)
	}
	if transportFailure(conn, err) {
		return fmt.Errorf("%w: method=%s: %v", ErrTransportLost, method, err)
	}
	return fmt.Errorf("messaging: call %s: %w", method, err)
}

// SendRequest sends req as method through caller and decodes a Resp.
func SendRequest[Resp any](ctx context.Context, caller Caller, method string, req any) (Resp, error) {
	var resp Resp
	if err := caller.Call(ctx, method, req, &resp); err != nil {
		var zero Resp
		return zero, err
	}
	return resp, nil
}

// Dispose stops reconnecting, closes the transport and fails both armed
// watches with ErrSessionDisposed. Safe to call more than once.
func (s *Session) Dispose() {
	s.disposeOnce.Do(func() {
		s.mu.Lock()
		s.disposed = true
		started := s.started
		s.mu.Unlock()

		if started {
			s.t.Kill(nil)
			_ = s.t.Wait()
		}
		s.notifier.Close(ErrSessionDisposed)
		s.log.LogDebug(fmt.Sprintf("messaging.Session disposed identity=%q", s.cfg.Identity))
	})
}

func (s *Session) isDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

func (s *Session) run() error {
	wake, stopWatch := s.watchMeta()
	defer stopWatch()

	attempt := 0
	for {
		select {
		case <-s.t.Dying():
			return nil
		default:
		}
		if conn, err := s.connect(); err == nil {
			s.serve(conn)
			attempt = 0
		}
		attempt++
		delay := session.NextBackoffDelay(s.cfg.Transport.Backoff, attempt, s.rng)
		if !s.pause(delay, wake) {
			return nil
		}
	}
}

func (s *Session) watchMeta() (<-chan struct{}, func()) {
	w, err := session.NewMetaWatcher(s.cfg.ProjectRoot, func(err error) {
		s.log.LogWarning(fmt.Sprintf("messaging.Session metadata watch project_root=%q err=%v", s.cfg.ProjectRoot, err))
	})
	if err != nil {
		s.log.LogDebug(fmt.Sprintf("messaging.Session metadata watch unavailable project_root=%q err=%v", s.cfg.ProjectRoot, err))
		return nil, func() {}
	}
	return w.Changes(), func() { _ = w.Close() }
}

// pause waits out a reconnect delay. A metadata change ends it early.
func (s *Session) pause(delay time.Duration, wake <-chan struct{}) bool {
	select {
	case <-s.t.Dying():
		return false
	case <-s.cfg.Clock.After(delay):
		return true
	case <-wake:
		s.log.LogDebug("messaging.Session editor metadata changed, reconnecting")
		return true
	}
}

func (s *Session) connect() (jsonrpc2.Conn, error) {
	meta, path, err := session.ReadEditorMeta(s.cfg.ProjectRoot)
	if err != nil {
		observability.RecordConnectAttempt("no_meta")
		if errors.Is(err, session.ErrMetaNotFound) {
			s.log.LogDebug(fmt.Sprintf("messaging.Session waiting for editor metadata project_root=%q", s.cfg.ProjectRoot))
		} else {
			s.log.LogErrorWithFailure(fmt.Sprintf("messaging.Session read editor metadata path=%q", path), err)
		}
		return nil, err
	}

	ctx, cancel := context.WithTimeout(s.t.Context(nil), s.cfg.Transport.ConnectTimeout)
	defer cancel()
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(meta.Port))
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		observability.RecordConnectAttempt("dial_failed")
		s.log.LogError(fmt.Sprintf("messaging.Session dial addr=%s err=%v", addr, err))
		return nil, err
	}

	stop := context.AfterFunc(s.t.Context(nil), func() { _ = nc.Close() })
	reader, ack, err := s.handshake(nc)
	stop()
	select {
	case <-s.t.Dying():
		_ = nc.Close()
		return nil, tomb.ErrDying
	default:
	}
	if err != nil {
		_ = nc.Close()
		if errors.Is(err, ErrHandshakeRejected) {
			observability.RecordConnectAttempt("rejected")
			s.log.LogWarning(fmt.Sprintf("messaging.Session handshake addr=%s: %v", addr, err))
		} else {
			observability.RecordConnectAttempt("handshake_failed")
			s.log.LogErrorWithFailure(fmt.Sprintf("messaging.Session handshake addr=%s", addr), err)
		}
		return nil, err
	}

	observability.RecordConnectAttempt("connected")
	s.log.LogInfo(fmt.Sprintf("messaging.Session connected addr=%s editor=%q", addr, ack.EditorIdentity))
	stream := jsonrpc2.NewStream(session.NewStreamConn(nc, reader, s.cfg.Transport.WriteTimeout))
	return jsonrpc2.NewConn(stream), nil
}

func (s *Session) handshake(nc net.Conn) (*bufio.Reader, session.HelloAck, error) {
	_ = nc.SetDeadline(time.Now().Add(s.cfg.Transport.HandshakeTimeout))
	hello := session.Hello{
		Identity:    s.cfg.Identity,
		ProjectRoot: s.cfg.ProjectRoot,
		SessionID:   uuid.NewString(),
		Version:     session.ProtocolVersion,
	}
	if err := session.WriteHello(nc, hello); err != nil {
		return nil, session.HelloAck{}, err
	}
	r := bufio.NewReader(nc)
	ack, err := session.ReadHelloAck(r)
	if err != nil {
		return nil, session.HelloAck{}, err
	}
	if ack.Status != session.AckStatusAccepted {
		return nil, ack, fmt.Errorf("%w: editor=%q message=%q", ErrHandshakeRejected, ack.EditorIdentity, ack.Message)
	}
	_ = nc.SetDeadline(time.Time{})
	return r, ack, nil
}

// serve publishes conn, fires Connected, and blocks until the connection
// ends or the session is dying. Disconnected fires after conn is cleared.
func (s *Session) serve(conn jsonrpc2.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	conn.Go(s.t.Context(nil), s.handle)
	s.notifier.Fire(StateConnected)
	observability.RecordSessionTransition(StateConnected.String())

	select {
	case <-conn.Done():
		s.log.LogInfo(fmt.Sprintf("messaging.Session editor disconnected err=%v", conn.Err()))
	case <-s.t.Dying():
		_ = conn.Close()
		<-conn.Done()
	}

	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()
	s.notifier.Fire(StateDisconnected)
	observability.RecordSessionTransition(StateDisconnected.String())
}

func (s *Session) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	var (
		result any
		err    error
	)
	if s.cfg.Handler == nil {
		err = jujuerrors.NotImplementedf("editor request %q", req.Method())
	} else {
		result, err = s.cfg.Handler.HandleRequest(ctx, req.Method(), req.Params())
	}
	if err == nil {
		return reply(ctx, result, nil)
	}

	s.log.LogErrorWithFailure(fmt.Sprintf("messaging.Session editor request method=%s failed", req.Method()), err)
	code := jsonrpc2.InternalError
	if errors.Is(err, jujuerrors.NotImplemented) {
		code = jsonrpc2.MethodNotFound
	}
	return reply(ctx, nil, jsonrpc2.NewError(code, err.Error()))
}

func transportFailure(conn jsonrpc2.Conn, err error) bool {
	select {
	case <-conn.Done():
		return true
	default:
	}
	var netErr net.Error
	return errors.As(err, &netErr) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe)
}
