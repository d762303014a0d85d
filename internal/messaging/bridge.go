package messaging

import (
	"fmt"

	"github.com/danmuck/godotlink/internal/logging"
)

// Severity of a transport diagnostic.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Sink is the host log destination.
type Sink interface {
	Log(sev Severity, message string, failure error)
}

type SinkFunc func(sev Severity, message string, failure error)

func (f SinkFunc) Log(sev Severity, message string, failure error) {
	f(sev, message, failure)
}

// Logger is what the transport reports through.
type Logger interface {
	LogDebug(message string)
	LogInfo(message string)
	LogWarning(message string)
	LogError(message string)
	LogErrorWithFailure(message string, failure error)
}

// Bridge adapts transport diagnostics to a host Sink.
type Bridge struct {
	sink Sink
}

// NewBridge returns a Bridge over sink, or over LogSink when sink is nil.
func NewBridge(sink Sink) *Bridge {
	if sink == nil {
		sink = LogSink{}
	}
	return &Bridge{sink: sink}
}

func (b *Bridge) LogDebug(message string) {
	b.forward(SeverityDebug, message, nil)
}

func (b *Bridge) LogInfo(message string) {
	b.forward(SeverityInfo, message, nil)
}

func (b *Bridge) LogWarning(message string) {
	b.forward(SeverityWarning, message, nil)
}

func (b *Bridge) LogError(message string) {
	b.forward(SeverityError, message, nil)
}

func (b *Bridge) LogErrorWithFailure(message string, failure error) {
	b.forward(SeverityError, message, failure)
}

func (b *Bridge) forward(sev Severity, message string, failure error) {
	b.sink.Log(downgradeAdvisoryErrors(sev, failure), message, failure)
}

// downgradeAdvisoryErrors delivers error events that carry no failure as
// warnings. The transport uses them for routine conditions such as a
// refused dial while the editor is closed.
func downgradeAdvisoryErrors(sev Severity, failure error) Severity {
	if sev == SeverityError && failure == nil {
		return SeverityWarning
	}
	return sev
}

// LogSink writes bridge events to the process logger.
type LogSink struct{}

func (LogSink) Log(sev Severity, message string, failure error) {
	switch sev {
	case SeverityDebug:
		logging.Debugf("%s", message)
	case SeverityInfo:
		logging.Infof("%s", message)
	case SeverityWarning:
		if failure != nil {
			logging.Warnf("%s err=%v", message, failure)
			return
		}
		logging.Warnf("%s", message)
	default:
		if failure != nil {
			logging.ErrWithf(failure, "%s", message)
			return
		}
		logging.Errf("%s", message)
	}
}
