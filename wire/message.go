package wire

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Version is a negotiated revision of the protocol. Hrana1 attaches
// condition/on_ok/on_error directly to execute requests; Hrana2 moves
// conditional multi-step work into the prog request and keeps execute bare.
type Version int

const (
	Hrana1 Version = 1
	Hrana2 Version = 2
)

// Subprotocol returns the WebSocket subprotocol string of the Version.
func (v Version) Subprotocol() string {
	if v == Hrana2 {
		return "hrana2"
	}
	return "hrana1"
}

// VersionFromSubprotocol maps a WebSocket subprotocol string to a Version.
func VersionFromSubprotocol(s string) (Version, bool) {
	switch s {
	case "hrana1":
		return Hrana1, true
	case "hrana2":
		return Hrana2, true
	default:
		return 0, false
	}
}

// ClientMsg is a message received from the client: either HelloMsg or
// RequestMsg.
type ClientMsg interface {
	isClientMsg()
}

// HelloMsg authenticates the connection. It must be the client's first
// message, and may be repeated later to refresh the credential.
type HelloMsg struct {
	JWT *string
}

// RequestMsg carries one Request under a client-chosen id. The id must not
// be reused while a response for it is still outstanding.
type RequestMsg struct {
	RequestID int32
	Request   Request
}

func (HelloMsg) isClientMsg()   {}
func (RequestMsg) isClientMsg() {}

// UnmarshalClientMsg parses a client message under the negotiated Version.
func UnmarshalClientMsg(data []byte, version Version) (ClientMsg, error) {
	var raw struct {
		Type      string          `json:"type"`
		JWT       *string         `json:"jwt"`
		RequestID *int32          `json:"request_id"`
		Request   json.RawMessage `json:"request"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WithMessage(err, "invalid client message")
	}

	switch raw.Type {
	case "hello":
		return HelloMsg{JWT: raw.JWT}, nil
	case "request":
		if raw.RequestID == nil {
			return nil, errors.New("request message is missing request_id")
		}
		if raw.Request == nil {
			return nil, errors.New("request message is missing a request")
		}
		var req, err = UnmarshalRequest(raw.Request, version)
		if err != nil {
			return nil, err
		}
		return RequestMsg{RequestID: *raw.RequestID, Request: req}, nil
	default:
		return nil, errors.Errorf("unknown client message type %q", raw.Type)
	}
}

// Request is the payload of a RequestMsg.
type Request interface {
	isRequest()
	// Type is the wire name of the request, echoed by its response.
	Type() string
}

// OpenStreamReq allocates a stream under a client-chosen id and binds a
// backend session to it.
type OpenStreamReq struct{ StreamID int32 }

// CloseStreamReq drains and releases a stream, freeing its id for reuse.
type CloseStreamReq struct{ StreamID int32 }

// ExecuteReq executes one statement on a stream. Under Hrana1 it may carry
// a condition and on_ok/on_error hook operations.
type ExecuteReq struct {
	StreamID  int32
	Stmt      Stmt
	Condition Expr
	OnOk      []Op
	OnError   []Op
}

// ComputeReq evaluates a vector of operations against the connection's
// variable environment, without touching any stream.
type ComputeReq struct{ Ops []Op }

// ProgReq executes a server-side program of steps, in order, on one stream.
// Hrana2 only.
type ProgReq struct {
	StreamID int32
	Prog     Prog
}

func (OpenStreamReq) isRequest()  {}
func (CloseStreamReq) isRequest() {}
func (ExecuteReq) isRequest()     {}
func (ComputeReq) isRequest()     {}
func (ProgReq) isRequest()        {}

func (OpenStreamReq) Type() string  { return "open_stream" }
func (CloseStreamReq) Type() string { return "close_stream" }
func (ExecuteReq) Type() string     { return "execute" }
func (ComputeReq) Type() string     { return "compute" }
func (ProgReq) Type() string        { return "prog" }

// UnmarshalRequest parses a Request under the negotiated Version.
func UnmarshalRequest(data []byte, version Version) (Request, error) {
	var raw struct {
		Type      string            `json:"type"`
		StreamID  *int32            `json:"stream_id"`
		Stmt      json.RawMessage   `json:"stmt"`
		Condition json.RawMessage   `json:"condition"`
		OnOk      []json.RawMessage `json:"on_ok"`
		OnError   []json.RawMessage `json:"on_error"`
		Ops       []json.RawMessage `json:"ops"`
		Prog      json.RawMessage   `json:"prog"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WithMessage(err, "invalid request")
	}

	var needStream = func() (int32, error) {
		if raw.StreamID == nil {
			return 0, errors.Errorf("%s request is missing stream_id", raw.Type)
		}
		return *raw.StreamID, nil
	}

	switch raw.Type {
	case "open_stream":
		var id, err = needStream()
		if err != nil {
			return nil, err
		}
		return OpenStreamReq{StreamID: id}, nil
	case "close_stream":
		var id, err = needStream()
		if err != nil {
			return nil, err
		}
		return CloseStreamReq{StreamID: id}, nil
	case "execute":
		var id, err = needStream()
		if err != nil {
			return nil, err
		}
		if raw.Stmt == nil {
			return nil, errors.New("execute request is missing a statement")
		}
		var req = ExecuteReq{StreamID: id}
		if err = json.Unmarshal(raw.Stmt, &req.Stmt); err != nil {
			return nil, err
		}
		if version == Hrana1 {
			if req.Condition, err = unmarshalOptionalExpr(raw.Condition); err != nil {
				return nil, err
			}
			if req.OnOk, err = unmarshalOps(raw.OnOk); err != nil {
				return nil, err
			}
			if req.OnError, err = unmarshalOps(raw.OnError); err != nil {
				return nil, err
			}
		} else if (raw.Condition != nil && string(raw.Condition) != "null") ||
			len(raw.OnOk) > 0 || len(raw.OnError) > 0 {
			return nil, errors.New(
				"execute condition and hooks are not supported by this protocol version; use prog")
		}
		return req, nil
	case "compute":
		var ops, err = unmarshalOps(raw.Ops)
		if err != nil {
			return nil, err
		}
		return ComputeReq{Ops: ops}, nil
	case "prog":
		if version < Hrana2 {
			return nil, errors.New("prog requests are not supported by this protocol version")
		}
		var id, err = needStream()
		if err != nil {
			return nil, err
		}
		if raw.Prog == nil {
			return nil, errors.New("prog request is missing a prog")
		}
		var req = ProgReq{StreamID: id}
		if err = json.Unmarshal(raw.Prog, &req.Prog); err != nil {
			return nil, err
		}
		return req, nil
	default:
		return nil, errors.Errorf("unknown request type %q", raw.Type)
	}
}

// Prog is a server-side program: a sequence of steps executed strictly in
// order on one stream.
type Prog struct {
	Steps []ProgStep
}

func (p *Prog) UnmarshalJSON(data []byte) error {
	var raw struct {
		Steps []json.RawMessage `json:"steps"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.WithMessage(err, "invalid prog")
	}
	p.Steps = make([]ProgStep, 0, len(raw.Steps))
	for _, r := range raw.Steps {
		var step, err = unmarshalProgStep(r)
		if err != nil {
			return err
		}
		p.Steps = append(p.Steps, step)
	}
	return nil
}

// ProgStep is one step of a Prog: ExecuteStep, OutputStep or OpStep.
type ProgStep interface {
	isProgStep()
}

// ExecuteStep conditionally executes a statement, recording its result or
// error by execute-step count, then runs the matching hook operations.
type ExecuteStep struct {
	Stmt      Stmt
	Condition Expr
	OnOk      []Op
	OnError   []Op
}

// OutputStep evaluates an expression and appends it to the prog's outputs.
type OutputStep struct{ Expr Expr }

// OpStep applies a sequence of operations; their results are discarded.
type OpStep struct{ Ops []Op }

func (ExecuteStep) isProgStep() {}
func (OutputStep) isProgStep()  {}
func (OpStep) isProgStep()      {}

func unmarshalProgStep(data []byte) (ProgStep, error) {
	var raw struct {
		Type      string            `json:"type"`
		Stmt      json.RawMessage   `json:"stmt"`
		Condition json.RawMessage   `json:"condition"`
		OnOk      []json.RawMessage `json:"on_ok"`
		OnError   []json.RawMessage `json:"on_error"`
		Expr      json.RawMessage   `json:"expr"`
		Ops       []json.RawMessage `json:"ops"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WithMessage(err, "invalid prog step")
	}

	switch raw.Type {
	case "execute":
		if raw.Stmt == nil {
			return nil, errors.New("execute step is missing a statement")
		}
		var step ExecuteStep
		var err error
		if err = json.Unmarshal(raw.Stmt, &step.Stmt); err != nil {
			return nil, err
		}
		if step.Condition, err = unmarshalOptionalExpr(raw.Condition); err != nil {
			return nil, err
		}
		if step.OnOk, err = unmarshalOps(raw.OnOk); err != nil {
			return nil, err
		}
		if step.OnError, err = unmarshalOps(raw.OnError); err != nil {
			return nil, err
		}
		return step, nil
	case "output":
		if raw.Expr == nil {
			return nil, errors.New("output step is missing an expression")
		}
		var expr, err = UnmarshalExpr(raw.Expr)
		if err != nil {
			return nil, err
		}
		return OutputStep{Expr: expr}, nil
	case "op":
		var ops, err = unmarshalOps(raw.Ops)
		if err != nil {
			return nil, err
		}
		return OpStep{Ops: ops}, nil
	default:
		return nil, errors.Errorf("unknown prog step type %q", raw.Type)
	}
}
