package wire

import (
	"errors"
	"fmt"
)

// Errors
var ErrInvalidRequest = errors.New("error: invalid request")
var ErrPeerUnreachable = errors.New("error: peer unreachable")
var ErrExecution = errors.New("error: execution failed")

// Err maps a remote error reply back onto the local taxonomy so callers
// can test with errors.Is across a hop.
func (e ErrorReply) Err() error {
	switch e.Code {
	case CodeInvalidRequest:
		return fmt.Errorf("%w: %s", ErrInvalidRequest, e.Message)
	case CodeExecutionError:
		return fmt.Errorf("%w: %s", ErrExecution, e.Message)
	default:
		return fmt.Errorf("remote error: %s", e.Message)
	}
}

// ReplyFor builds the error reply for a handler failure.
func ReplyFor(err error) ErrorReply {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return ErrorReply{Code: CodeInvalidRequest, Message: err.Error()}
	case errors.Is(err, ErrExecution):
		return ErrorReply{Code: CodeExecutionError, Message: err.Error()}
	default:
		return ErrorReply{Code: CodeInternal, Message: err.Error()}
	}
}
