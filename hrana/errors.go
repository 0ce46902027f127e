package hrana

import (
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/rilldb/rill/backend"
)

// ProtoError is a client protocol violation: broken framing or sequencing.
// It closes the WebSocket with a non-normal close code and is never
// reported in a response.
type ProtoError struct {
	Code    int
	Message string
}

func (e *ProtoError) Error() string { return e.Message }

func protoErrorf(code int, format string, args ...interface{}) error {
	return &ProtoError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// RespError is an operational error returned to the client inside a
// response_error or hello_error message. The connection stays open
// (except after hello_error).
type RespError struct {
	Message string
}

func (e *RespError) Error() string { return e.Message }

func respErrorf(format string, args ...interface{}) error {
	return &RespError{Message: fmt.Sprintf(format, args...)}
}

// operationalMessage extracts the client-facing message of an operational
// error. It returns false for protocol violations and internal failures,
// which must instead tear the connection down.
func operationalMessage(err error) (string, bool) {
	var respErr *RespError
	if errors.As(err, &respErr) {
		return respErr.Message, true
	}
	if backend.IsExecError(err) {
		return err.Error(), true
	}
	return "", false
}

// Close codes. Sequencing violations use the policy code, malformed
// payloads the invalid-payload code, and binary frames the unsupported-
// data code, mirroring the RFC 6455 semantics of each.
const (
	closePolicyViolation = websocket.ClosePolicyViolation        // 1008
	closeInvalidPayload  = websocket.CloseInvalidFramePayloadData // 1007
	closeUnsupportedData = websocket.CloseUnsupportedData         // 1003
)
