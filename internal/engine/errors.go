package engine

import (
	"errors"
	"fmt"
)

// Stage identifies where in the exchange a request is
type Stage int

const (
	StageResolving Stage = iota
	StageConnecting
	StageWritingHeaders
	StageWritingBody
	StageReadingStatus
	StageReadingHeaders
	StageReadingBody
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageResolving:
		return "resolving"
	case StageConnecting:
		return "connecting"
	case StageWritingHeaders:
		return "writing headers"
	case StageWritingBody:
		return "writing body"
	case StageReadingStatus:
		return "reading status"
	case StageReadingHeaders:
		return "reading headers"
	case StageReadingBody:
		return "reading body"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Error kinds. Match them with errors.Is.
var (
	ErrResolution          = errors.New("resolution failed")
	ErrConnect             = errors.New("connect failed")
	ErrConnectionExhausted = errors.New("all endpoints failed")
	ErrTransport           = errors.New("transport error")
	ErrTimeout             = errors.New("request timed out")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrProtocol            = errors.New("protocol error")
	ErrEngineClosed        = errors.New("engine closed")
)

// Error is the failure delivered through a Future
type Error struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the error kind
func (e *Error) Is(target error) bool { return target == e.Kind }

// KindName returns a short label for the kind of err, for metrics
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrConnectionExhausted):
		return "connection_exhausted"
	case errors.Is(err, ErrResolution):
		return "resolution"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrEngineClosed):
		return "engine_closed"
	case errors.Is(err, ErrConnect):
		return "connect"
	default:
		return "unknown"
	}
}
