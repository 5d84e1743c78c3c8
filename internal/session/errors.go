package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Error codes carried in failure envelopes.
const (
	CodeNotLoggedIn      = "NOT_LOGGED_IN"
	CodeNetworkError     = "NETWORK_ERROR"
	CodeTimeout          = "TIMEOUT"
	CodeAPIRequestFailed = "API_REQUEST_FAILED"
	CodePermissionError  = "PERMISSION_ERROR"
	CodeTabError         = "TAB_ERROR"
	CodeInvalidJSON      = "INVALID_JSON"
	CodeInvalidMessage   = "INVALID_MESSAGE"
	CodeUnknownCommand   = "UNKNOWN_COMMAND"
	CodeHandlerError     = "HANDLER_ERROR"
	CodeClearCacheError  = "CLEAR_CACHE_ERROR"
	CodeUnknownError     = "UNKNOWN_ERROR"
)

// Kind identifies the failure class of an Error.
type Kind string

const (
	KindAuth            Kind = "auth"
	KindAPI             Kind = "api"
	KindEmptyData       Kind = "empty_data"
	KindNetwork         Kind = "network"
	KindTimeout         Kind = "timeout"
	KindTab             Kind = "tab"
	KindPermission      Kind = "permission"
	KindAlreadyCreating Kind = "already_creating"
	KindTabLoadTimeout  Kind = "tab_load_timeout"
)

// ErrTabNotFound is returned by Browser implementations when a tab id no
// longer refers to an open tab.
var ErrTabNotFound = errors.New("tab not found")

// Error is a typed failure raised by the session core and its adapters.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds an *Error of the given kind.
func NewError(kind Kind, msg string, cause error) error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// IsKind reports whether err carries an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// Code maps an error to its envelope code.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		switch e.Kind {
		case KindAuth, KindEmptyData:
			return CodeNotLoggedIn
		case KindAPI:
			return CodeAPIRequestFailed
		case KindNetwork:
			return CodeNetworkError
		case KindTimeout:
			return CodeTimeout
		case KindPermission:
			return CodePermissionError
		case KindTab, KindAlreadyCreating, KindTabLoadTimeout:
			return CodeTabError
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return CodeNetworkError
	}
	return CodeUnknownError
}

// Message returns the user-facing text of an error.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// Failure is the wire form of a failed result.
type Failure struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

// Envelope is either a raw JSON success payload or a Failure.
type Envelope struct {
	raw     string
	failure *Failure
}

// Success wraps a raw upstream JSON payload.
func Success(raw string) Envelope {
	return Envelope{raw: raw}
}

// Fail builds a failure envelope.
func Fail(msg, code string) Envelope {
	return Envelope{failure: &Failure{Error: msg, ErrorCode: code}}
}

// FailWith builds a failure envelope from an error.
func FailWith(err error) Envelope {
	return Fail(Message(err), Code(err))
}

// Failed reports whether the envelope carries a failure.
func (e Envelope) Failed() bool { return e.failure != nil }

// Failure returns the failure, or nil for a success envelope.
func (e Envelope) Failure() *Failure { return e.failure }

// JSON serializes the envelope. Success payloads are returned byte for byte.
func (e Envelope) JSON() string {
	if e.failure == nil {
		return e.raw
	}
	b, err := json.Marshal(e.failure)
	if err != nil {
		return `{"error":"failed to encode failure","errorCode":"` + CodeUnknownError + `"}`
	}
	return string(b)
}

// ParseEnvelope inspects a result string. Any JSON value is accepted; a
// top-level object with a non-empty "error" member is treated as a failure.
func ParseEnvelope(raw string) (Envelope, error) {
	trimmed := strings.TrimSpace(raw)
	if !json.Valid([]byte(trimmed)) {
		return Envelope{}, errors.New("result is not valid JSON")
	}
	if !strings.HasPrefix(trimmed, "{") {
		return Success(raw), nil
	}

	var probe struct {
		Error     json.RawMessage `json:"error"`
		ErrorCode string          `json:"errorCode"`
	}
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
		return Envelope{}, fmt.Errorf("decode result: %w", err)
	}
	if !truthy(probe.Error) {
		return Success(raw), nil
	}

	msg := string(probe.Error)
	var s string
	if json.Unmarshal(probe.Error, &s) == nil {
		msg = s
	}
	code := probe.ErrorCode
	if code == "" {
		code = CodeUnknownError
	}
	return Fail(msg, code), nil
}

func truthy(v json.RawMessage) bool {
	switch strings.TrimSpace(string(v)) {
	case "", "null", "false", `""`, "0":
		return false
	}
	return true
}
