package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	jujuerrors "github.com/juju/errors"

	"github.com/danmuck/godotlink/internal/observability"
)

// Dispatcher issues typed completion requests and receives requests the
// editor initiates.
type Dispatcher struct {
	caller Caller
}

func NewDispatcher(caller Caller) *Dispatcher {
	return &Dispatcher{caller: caller}
}

// NodePaths asks the editor for node paths reachable from scriptFile's scene.
func (d *Dispatcher) NodePaths(ctx context.Context, scriptFile string) (CodeCompletionResponse, error) {
	return d.codeCompletion(ctx, CompletionNodePaths, scriptFile)
}

// InputActions asks the editor for the project's input action names.
func (d *Dispatcher) InputActions(ctx context.Context, scriptFile string) (CodeCompletionResponse, error) {
	return d.codeCompletion(ctx, CompletionInputActions, scriptFile)
}

func (d *Dispatcher) codeCompletion(ctx context.Context, kind CompletionKind, scriptFile string) (CodeCompletionResponse, error) {
	start := time.Now()
	resp, err := SendRequest[CodeCompletionResponse](ctx, d.caller, MethodCodeCompletion, CodeCompletionRequest{
		Kind:       kind,
		ScriptFile: scriptFile,
	})
	observability.RecordRequest(kind.String(), requestOutcome(err), time.Since(start))
	return resp, err
}

// HandleRequest is the entry point for editor-initiated requests. None are
// served yet.
func (d *Dispatcher) HandleRequest(_ context.Context, method string, _ json.RawMessage) (any, error) {
	return nil, jujuerrors.NotImplementedf("editor request %q", method)
}

func requestOutcome(err error) string {
	var peerErr *PeerError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrTransportLost):
		return "transport_lost"
	case errors.Is(err, ErrSessionDisposed):
		return "disposed"
	case errors.As(err, &peerErr):
		return "peer_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
