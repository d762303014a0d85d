package messaging

import (
	"fmt"
)

// MethodCodeCompletion is the editor method serving completion suggestions.
const MethodCodeCompletion = "CodeCompletion"

// CompletionKind selects what the editor should enumerate.
type CompletionKind int

const (
	CompletionInputActions CompletionKind = iota
	CompletionNodePaths
)

func (k CompletionKind) String() string {
	switch k {
	case CompletionInputActions:
		return "InputActions"
	case CompletionNodePaths:
		return "NodePaths"
	default:
		return fmt.Sprintf("CompletionKind(%d)", int(k))
	}
}

func (k CompletionKind) MarshalText() ([]byte, error) {
	switch k {
	case CompletionInputActions, CompletionNodePaths:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("messaging: unknown completion kind %d", int(k))
	}
}

func (k *CompletionKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "InputActions":
		*k = CompletionInputActions
	case "NodePaths":
		*k = CompletionNodePaths
	default:
		return fmt.Errorf("messaging: unknown completion kind %q", string(text))
	}
	return nil
}

type CodeCompletionRequest struct {
	Kind       CompletionKind `json:"kind"`
	ScriptFile string         `json:"script_file"`
}

type CodeCompletionResponse struct {
	Kind        CompletionKind `json:"kind"`
	ScriptFile  string         `json:"script_file"`
	Suggestions []string       `json:"suggestions"`
}
