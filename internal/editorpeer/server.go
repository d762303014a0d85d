// Package editorpeer is a stand-in for the Godot editor's IDE messaging
// server. It advertises itself through the project metadata file, accepts
// IDE sessions and answers CodeCompletion from static tables.
package editorpeer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.lsp.dev/jsonrpc2"
	"gopkg.in/tomb.v2"

	"github.com/danmuck/godotlink/internal/logging"
	"github.com/danmuck/godotlink/internal/protocol/session"
)

const (
	DefaultIdentity = "Godot Editor"
	// BusyReason rejects a hello while another IDE session is open.
	BusyReason = "editor already serves an IDE session"

	methodCodeCompletion = "CodeCompletion"
	kindNodePaths        = "NodePaths"
	kindInputActions     = "InputActions"

	handshakeTimeout = 5 * time.Second
)

var ErrNoClient = errors.New("editorpeer: no connected client")

// Config describes what the fake editor serves.
type Config struct {
	ProjectRoot string
	// Addr defaults to an ephemeral loopback port.
	Addr     string
	Identity string

	NodePaths    map[string][]string
	InputActions []string
	// Failures maps a script file to the error message returned for it.
	Failures map[string]string
	// Delay postpones the reply for one request. Replies are written from
	// their own goroutine so later requests may be answered first.
	Delay func(kind, scriptFile string) time.Duration
}

type completionRequest struct {
	Kind       string `json:"kind"`
	ScriptFile string `json:"script_file"`
}

type completionResponse struct {
	Kind        string   `json:"kind"`
	ScriptFile  string   `json:"script_file"`
	Suggestions []string `json:"suggestions"`
}

// Server is a running fake editor.
type Server struct {
	cfg Config
	ln  net.Listener
	t   tomb.Tomb

	requests atomic.Int64

	mu        sync.Mutex
	conns     map[jsonrpc2.Conn]struct{}
	hellos    []session.Hello
	rejecting string
	// claimed is held from an accepted hello until that session ends.
	claimed   bool
	closeOnce sync.Once
}

// Start listens, publishes the metadata file and begins accepting.
func Start(cfg Config) (*Server, error) {
	if cfg.ProjectRoot == "" {
		return nil, errors.New("editorpeer: missing project root")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	if cfg.Identity == "" {
		cfg.Identity = DefaultIdentity
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:   cfg,
		ln:    ln,
		conns: make(map[jsonrpc2.Conn]struct{}),
	}
	if _, err := session.WriteEditorMeta(cfg.ProjectRoot, session.EditorMeta{Port: s.Port(), EditorPath: cfg.Identity}); err != nil {
		_ = ln.Close()
		return nil, err
	}
	logging.Infof("editorpeer listening addr=%q project_root=%q", ln.Addr().String(), cfg.ProjectRoot)
	s.t.Go(s.acceptLoop)
	return s, nil
}

func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Requests counts CodeCompletion requests received.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// Hellos returns every hello received, accepted or not.
func (s *Server) Hellos() []session.Hello {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]session.Hello(nil), s.hellos...)
}

// Connections counts IDE sessions currently open.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Reject makes later handshakes fail with reason. An empty reason accepts again.
func (s *Server) Reject(reason string) {
	s.mu.Lock()
	s.rejecting = reason
	s.mu.Unlock()
}

// DropConnections closes every open IDE session. The listener stays up.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]jsonrpc2.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// Push sends an editor-initiated request to a connected IDE.
func (s *Server) Push(ctx context.Context, method string, params, result any) error {
	s.mu.Lock()
	var conn jsonrpc2.Conn
	for c := range s.conns {
		conn = c
		break
	}
	s.mu.Unlock()
	if conn == nil {
		return ErrNoClient
	}
	_, err := conn.Call(ctx, method, params, result)
	return err
}

// Close stops accepting, drops sessions and removes the metadata file.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.t.Kill(nil)
		_ = s.ln.Close()
		s.DropConnections()
		err = s.t.Wait()
		if rmErr := session.RemoveEditorMeta(s.cfg.ProjectRoot); rmErr != nil && err == nil {
			err = rmErr
		}
		logging.Infof("editorpeer closed addr=%q", s.ln.Addr().String())
	})
	return err
}

func (s *Server) acceptLoop() error {
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.t.Dying():
				return nil
			default:
			}
			return err
		}
		s.t.Go(func() error {
			s.serveConn(nc)
			return nil
		})
	}
}

func (s *Server) serveConn(nc net.Conn) {
	defer nc.Close()
	remote := nc.RemoteAddr().String()

	_ = nc.SetDeadline(time.Now().Add(handshakeTimeout))
	r := bufio.NewReader(nc)
	hello, err := session.ReadHello(r)
	if err != nil {
		logging.Warnf("editorpeer handshake read remote=%q err=%v", remote, err)
		return
	}
	reason := s.admit(hello)
	if reason == "" {
		defer s.release()
	}
	ack := session.HelloAck{Status: session.AckStatusAccepted, EditorIdentity: s.cfg.Identity}
	if reason != "" {
		ack.Status = session.AckStatusRejected
		ack.Message = reason
	}
	if err := session.WriteHelloAck(nc, ack); err != nil {
		logging.Warnf("editorpeer handshake write remote=%q err=%v", remote, err)
		return
	}
	if reason != "" {
		logging.Infof("editorpeer rejected remote=%q identity=%q reason=%q", remote, hello.Identity, reason)
		return
	}
	_ = nc.SetDeadline(time.Time{})

	conn := jsonrpc2.NewConn(jsonrpc2.NewStream(session.NewStreamConn(nc, r, 0)))
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	active := len(s.conns)
	s.mu.Unlock()
	logging.Infof("editorpeer client connected remote=%q identity=%q session=%s active_clients=%d",
		remote, hello.Identity, hello.SessionID, active)

	conn.Go(s.t.Context(nil), s.handle)
	select {
	case <-conn.Done():
	case <-s.t.Dying():
		_ = conn.Close()
		<-conn.Done()
	}

	s.mu.Lock()
	delete(s.conns, conn)
	remaining := len(s.conns)
	s.mu.Unlock()
	logging.Infof("editorpeer client disconnected remote=%q active_clients=%d", remote, remaining)
}

func (s *Server) admit(hello session.Hello) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hellos = append(s.hellos, hello)
	if s.rejecting != "" {
		return s.rejecting
	}
	if filepath.Clean(hello.ProjectRoot) != filepath.Clean(s.cfg.ProjectRoot) {
		return fmt.Sprintf("editor serves project %q", s.cfg.ProjectRoot)
	}
	if s.claimed {
		return BusyReason
	}
	s.claimed = true
	return ""
}

func (s *Server) release() {
	s.mu.Lock()
	s.claimed = false
	s.mu.Unlock()
}

func (s *Server) handle(ctx context.Context, reply jsonrpc2.Replier, req jsonrpc2.Request) error {
	if req.Method() != methodCodeCompletion {
		return reply(ctx, nil, jsonrpc2.Errorf(jsonrpc2.MethodNotFound, "editorpeer: unknown method %q", req.Method()))
	}
	var in completionRequest
	if err := json.Unmarshal(req.Params(), &in); err != nil {
		return reply(ctx, nil, jsonrpc2.Errorf(jsonrpc2.InvalidParams, "editorpeer: %v", err))
	}
	s.requests.Add(1)

	var delay time.Duration
	if s.cfg.Delay != nil {
		delay = s.cfg.Delay(in.Kind, in.ScriptFile)
	}
	s.t.Go(func() error {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
		}
		resp, err := s.complete(in)
		if err := reply(ctx, resp, err); err != nil {
			logging.Debugf("editorpeer reply script=%q err=%v", in.ScriptFile, err)
		}
		return nil
	})
	return nil
}

func (s *Server) complete(in completionRequest) (any, error) {
	if msg, ok := s.cfg.Failures[in.ScriptFile]; ok {
		return nil, jsonrpc2.NewError(jsonrpc2.InternalError, msg)
	}
	out := completionResponse{Kind: in.Kind, ScriptFile: in.ScriptFile, Suggestions: []string{}}
	switch in.Kind {
	case kindNodePaths:
		out.Suggestions = append(out.Suggestions, s.cfg.NodePaths[in.ScriptFile]...)
	case kindInputActions:
		out.Suggestions = append(out.Suggestions, s.cfg.InputActions...)
	default:
		return nil, jsonrpc2.Errorf(jsonrpc2.InvalidParams, "editorpeer: unknown completion kind %q", in.Kind)
	}
	return out, nil
}
