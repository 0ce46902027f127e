package wire

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

// Error is the payload of hello_error and response_error messages, and of
// prog execute_errors entries. The message is human-readable English;
// machine-readable codes are reserved for future revisions.
type Error struct {
	Message string `json:"message"`
}

// ServerMsg is a message sent to the client.
type ServerMsg interface {
	isServerMsg()
}

// HelloOkMsg acknowledges a successful hello.
type HelloOkMsg struct{}

// HelloErrorMsg reports a failed hello. The connection closes after it.
type HelloErrorMsg struct{ Error Error }

// ResponseOkMsg carries the successful Response of an outstanding request.
type ResponseOkMsg struct {
	RequestID int32
	Response  Response
}

// ResponseErrorMsg reports an operational failure of an outstanding
// request. The connection stays open.
type ResponseErrorMsg struct {
	RequestID int32
	Error     Error
}

func (HelloOkMsg) isServerMsg()       {}
func (HelloErrorMsg) isServerMsg()    {}
func (ResponseOkMsg) isServerMsg()    {}
func (ResponseErrorMsg) isServerMsg() {}

func (HelloOkMsg) MarshalJSON() ([]byte, error) {
	return []byte(`{"type":"hello_ok"}`), nil
}

func (m HelloErrorMsg) MarshalJSON() ([]byte, error) {
	var b, err = json.Marshal(m.Error)
	if err != nil {
		return nil, err
	}
	return append(append([]byte(`{"type":"hello_error","error":`), b...), '}'), nil
}

func (m ResponseOkMsg) MarshalJSON() ([]byte, error) {
	var b, err = marshalResponse(m.Response)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(`{"type":"response_ok","request_id":`)
	buf.WriteString(strconv.FormatInt(int64(m.RequestID), 10))
	buf.WriteString(`,"response":`)
	buf.Write(b)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m ResponseErrorMsg) MarshalJSON() ([]byte, error) {
	var b, err = json.Marshal(m.Error)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(`{"type":"response_error","request_id":`)
	buf.WriteString(strconv.FormatInt(int64(m.RequestID), 10))
	buf.WriteString(`,"error":`)
	buf.Write(b)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Response is the payload of a ResponseOkMsg. Its wire type always equals
// the type of the request it answers.
type Response interface {
	isResponse()
	Type() string
}

type OpenStreamResp struct{}
type CloseStreamResp struct{}

// ExecuteResp carries the statement result, or null when the execute's
// condition evaluated to false.
type ExecuteResp struct{ Result *StmtResult }

// ComputeResp carries one result Value per requested operation.
type ComputeResp struct{ Results []Value }

// ProgResp carries per-execute-step results and errors (indexed by
// execute-step count) and the evaluated outputs (indexed by output-step
// count).
type ProgResp struct {
	ExecuteResults []*StmtResult
	ExecuteErrors  []*Error
	Outputs        []Value
}

func (OpenStreamResp) isResponse()  {}
func (CloseStreamResp) isResponse() {}
func (ExecuteResp) isResponse()     {}
func (ComputeResp) isResponse()     {}
func (ProgResp) isResponse()        {}

func (OpenStreamResp) Type() string  { return "open_stream" }
func (CloseStreamResp) Type() string { return "close_stream" }
func (ExecuteResp) Type() string     { return "execute" }
func (ComputeResp) Type() string     { return "compute" }
func (ProgResp) Type() string        { return "prog" }

func marshalResponse(r Response) ([]byte, error) {
	switch r := r.(type) {
	case OpenStreamResp:
		return []byte(`{"type":"open_stream"}`), nil
	case CloseStreamResp:
		return []byte(`{"type":"close_stream"}`), nil
	case ExecuteResp:
		var buf bytes.Buffer
		buf.WriteString(`{"type":"execute","result":`)
		if r.Result == nil {
			buf.WriteString("null")
		} else {
			var b, err = r.Result.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	case ComputeResp:
		var buf bytes.Buffer
		buf.WriteString(`{"type":"compute","results":[`)
		for i, v := range r.Results {
			if i != 0 {
				buf.WriteByte(',')
			}
			var b, err = json.Marshal(v)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteString(`]}`)
		return buf.Bytes(), nil
	case ProgResp:
		var buf bytes.Buffer
		buf.WriteString(`{"type":"prog","execute_results":[`)
		for i, res := range r.ExecuteResults {
			if i != 0 {
				buf.WriteByte(',')
			}
			if res == nil {
				buf.WriteString("null")
			} else {
				var b, err = res.MarshalJSON()
				if err != nil {
					return nil, err
				}
				buf.Write(b)
			}
		}
		buf.WriteString(`],"execute_errors":[`)
		for i, e := range r.ExecuteErrors {
			if i != 0 {
				buf.WriteByte(',')
			}
			if e == nil {
				buf.WriteString("null")
			} else {
				var b, err = json.Marshal(e)
				if err != nil {
					return nil, err
				}
				buf.Write(b)
			}
		}
		buf.WriteString(`],"outputs":[`)
		for i, v := range r.Outputs {
			if i != 0 {
				buf.WriteByte(',')
			}
			var b, err = json.Marshal(v)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteString(`]}`)
		return buf.Bytes(), nil
	default:
		return nil, errors.Errorf("unknown response %T", r)
	}
}

// MarshalServerMsg encodes a ServerMsg as the JSON text of one WebSocket
// frame.
func MarshalServerMsg(m ServerMsg) ([]byte, error) {
	switch m := m.(type) {
	case HelloOkMsg:
		return m.MarshalJSON()
	case HelloErrorMsg:
		return m.MarshalJSON()
	case ResponseOkMsg:
		return m.MarshalJSON()
	case ResponseErrorMsg:
		return m.MarshalJSON()
	default:
		return nil, errors.Errorf("unknown server message %T", m)
	}
}
