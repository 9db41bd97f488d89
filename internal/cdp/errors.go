package cdp

import (
	"errors"
	"fmt"
)

// ErrClientClosed is returned for commands issued on, or outstanding at the
// time of, a closed connection.
var ErrClientClosed = errors.New("debugger connection closed")

// RPCError is an error object returned by the debugger for one command.
type RPCError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("debugger error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("debugger error %d: %s", e.Code, e.Message)
}

// UnmatchedReplyError reports a reply whose id matches no outstanding or
// abandoned command. It is reported to the error handler and never ends the
// connection.
type UnmatchedReplyError struct {
	ID int64
}

func (e *UnmatchedReplyError) Error() string {
	return fmt.Sprintf("reply for unknown command id %d", e.ID)
}

// ProtocolException is a script exception or protocol failure raised while
// running a scan. Phase is "evaluate" or "await".
type ProtocolException struct {
	Phase        string
	Text         string
	LineNumber   int64
	ColumnNumber int64
	Err          error
}

func (e *ProtocolException) Error() string {
	msg := e.Text
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.LineNumber > 0 || e.ColumnNumber > 0 {
		return fmt.Sprintf("%s failed at %d:%d: %s", e.Phase, e.LineNumber, e.ColumnNumber, msg)
	}
	return fmt.Sprintf("%s failed: %s", e.Phase, msg)
}

func (e *ProtocolException) Unwrap() error { return e.Err }
