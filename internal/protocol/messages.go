package protocol

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// RequestKind enumerates controller-to-worker request types.
type RequestKind string

const (
	RequestInit  RequestKind = "init"
	RequestExec  RequestKind = "exec"
	RequestReset RequestKind = "reset"
)

// ResponseKind enumerates worker-to-controller response types.
type ResponseKind string

const (
	ResponseReady    ResponseKind = "ready"
	ResponseProgress ResponseKind = "progress"
	ResponseStdout   ResponseKind = "stdout"
	ResponseStderr   ResponseKind = "stderr"
	ResponseFigure   ResponseKind = "figure"
	ResponseResult   ResponseKind = "result"
	ResponseError    ResponseKind = "error"
)

// Request is a controller-to-worker message. ID is set only for exec
// requests and must be unique among in-flight executions.
type Request struct {
	Kind RequestKind `json:"kind"`
	ID   string      `json:"id,omitempty"`
	Code string      `json:"code,omitempty"`
}

// Response is a worker-to-controller message. Multiple stdout/stderr/figure
// responses may arrive for one id before its terminal result or error.
// An error response with no id is a global failure routed to the init
// lifecycle rather than to a pending execution.
type Response struct {
	Kind      ResponseKind `json:"kind"`
	ID        string       `json:"id,omitempty"`
	Text      string       `json:"text,omitempty"`      // stdout/stderr fragment
	Data      string       `json:"data,omitempty"`      // base64 figure payload
	Value     string       `json:"value,omitempty"`     // rendered result value, if any
	Message   string       `json:"message,omitempty"`   // progress or error message
	Traceback string       `json:"traceback,omitempty"` // formatted user-code traceback
}

// Terminal reports whether the response closes its execution id.
func (r Response) Terminal() bool {
	return r.Kind == ResponseResult || r.Kind == ResponseError
}

// Global reports whether an error response targets the bridge lifecycle
// rather than a single execution.
func (r Response) Global() bool {
	return r.Kind == ResponseError && r.ID == ""
}

// Validate checks structural invariants before a request is dispatched.
func (r Request) Validate() error {
	switch r.Kind {
	case RequestInit, RequestReset:
		if r.ID != "" {
			return fmt.Errorf("%s request must not carry an execution id", r.Kind)
		}
	case RequestExec:
		if r.ID == "" {
			return fmt.Errorf("exec request requires an execution id")
		}
	default:
		return fmt.Errorf("unknown request kind: %q", r.Kind)
	}
	return nil
}

// Encode serializes a response for wire-facing surfaces (WebSocket relay,
// logs). The in-process channel passes structs directly; this exists for
// the boundaries where bytes are required.
func (r Response) Encode() ([]byte, error) {
	return sonic.Marshal(r)
}

// DecodeResponse parses a serialized response.
func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	if err := sonic.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}
