// Package call holds the values that flow through a single agent-mail
// invocation: the tool invocation sent to the server, the result that comes
// back, and the error taxonomy shared by every stage.
package call

import (
	"encoding/json"
	"fmt"
)

// Kind classifies a failure. The string form is what --json output reports.
type Kind string

// Failure kinds.
const (
	KindConfig            Kind = "ConfigError"
	KindUnknownCommand    Kind = "UnknownCommand"
	KindMissingArgument   Kind = "MissingArgument"
	KindUnknownArgument   Kind = "UnknownArgument"
	KindMalformedArgument Kind = "MalformedArgument"
	KindNetwork           Kind = "NetworkError"
	KindTimeout           Kind = "Timeout"
	KindProtocol          Kind = "ProtocolError"
	KindMalformedResponse Kind = "MalformedResponse"
	KindServer            Kind = "ServerError"
	KindTool              Kind = "ToolError"
	KindSessionConflict   Kind = "SessionConflict"
	KindNoSession         Kind = "NoSession"
)

// Exit codes, one per failure category.
const (
	ExitOK         = 0
	ExitTool       = 1
	ExitUsage      = 2
	ExitConfig     = 3
	ExitNetwork    = 4
	ExitTimeout    = 5
	ExitServer     = 6
	ExitProtocol   = 7
	ExitSession    = 8
	exitUnassigned = 1
)

// ExitCode returns the process exit status for a failure kind.
func (k Kind) ExitCode() int {
	switch k {
	case KindTool:
		return ExitTool
	case KindUnknownCommand, KindMissingArgument, KindUnknownArgument, KindMalformedArgument:
		return ExitUsage
	case KindConfig:
		return ExitConfig
	case KindNetwork:
		return ExitNetwork
	case KindTimeout:
		return ExitTimeout
	case KindServer:
		return ExitServer
	case KindProtocol, KindMalformedResponse:
		return ExitProtocol
	case KindSessionConflict, KindNoSession:
		return ExitSession
	default:
		return exitUnassigned
	}
}

// Error is a classified failure. Detail, when set, is any JSON value that
// helps explain it (a server error body, a JSON-RPC error object).
type Error struct {
	Kind    Kind
	Message string
	Detail  json.RawMessage
}

// Errorf builds an Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	return e.Message
}

// WithDetail returns e with detail attached. Detail that is not valid JSON is
// dropped so the error document stays parseable.
func (e *Error) WithDetail(detail []byte) *Error {
	if len(detail) > 0 && json.Valid(detail) {
		e.Detail = json.RawMessage(detail)
	}
	return e
}

// Invocation is one remote tool call. Local carries the bound parameters
// that are consumed by agent-mail itself and never sent to the server.
type Invocation struct {
	Tool      string
	Arguments map[string]any
	Local     map[string]any
}

// LocalInt returns the named local parameter as an int, or def.
func (inv Invocation) LocalInt(name string, def int) int {
	if v, ok := inv.Local[name].(int); ok {
		return v
	}
	return def
}

// LocalBool returns the named local parameter as a bool.
func (inv Invocation) LocalBool(name string) bool {
	v, _ := inv.Local[name].(bool)
	return v
}

// String returns the named argument (sent or local) as a string.
func (inv Invocation) String(name string) string {
	if v, ok := inv.Arguments[name].(string); ok {
		return v
	}
	v, _ := inv.Local[name].(string)
	return v
}

// Result is either a success carrying the server's payload or a failure.
type Result struct {
	Payload json.RawMessage
	Err     *Error
}

// Success wraps a payload.
func Success(payload json.RawMessage) Result {
	return Result{Payload: payload}
}

// Failure wraps an error.
func Failure(err *Error) Result {
	return Result{Err: err}
}

// OK reports whether r is a success.
func (r Result) OK() bool {
	return r.Err == nil
}

// ExitCode returns 0 for a success and the kind's code otherwise.
func (r Result) ExitCode() int {
	if r.Err == nil {
		return ExitOK
	}
	return r.Err.Kind.ExitCode()
}
