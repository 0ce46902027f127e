package wire

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Expr is a pure expression of the compute machine: a literal Value, a
// reference to a variable, or a negation. Expressions and operations are
// distinct unions; an operation is never substitutable for an expression.
type Expr interface {
	isExpr()
}

// LiteralExpr wraps a literal Value.
type LiteralExpr struct{ Value Value }

// VarExpr reads the variable with the given id.
type VarExpr struct{ Var int32 }

// NotExpr negates the boolean coercion of its operand.
type NotExpr struct{ Expr Expr }

func (LiteralExpr) isExpr() {}
func (VarExpr) isExpr()     {}
func (NotExpr) isExpr()     {}

// UnmarshalExpr parses an Expr. Literal values share the expression's
// "type" tag namespace: null, integer, float, text and blob parse as
// literals, while "var" and "not" parse as expression nodes.
func UnmarshalExpr(data []byte) (Expr, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.WithMessage(err, "invalid expression")
	}

	switch head.Type {
	case "null", "integer", "float", "text", "blob":
		var v, err = UnmarshalValue(data)
		if err != nil {
			return nil, err
		}
		return LiteralExpr{Value: v}, nil
	case "var":
		var raw struct {
			Var *int32 `json:"var"`
		}
		if err := json.Unmarshal(data, &raw); err != nil || raw.Var == nil {
			return nil, errors.New("var expression is missing a variable id")
		}
		return VarExpr{Var: *raw.Var}, nil
	case "not":
		var raw struct {
			Expr json.RawMessage `json:"expr"`
		}
		if err := json.Unmarshal(data, &raw); err != nil || raw.Expr == nil {
			return nil, errors.New("not expression is missing an operand")
		}
		var inner, err = UnmarshalExpr(raw.Expr)
		if err != nil {
			return nil, err
		}
		return NotExpr{Expr: inner}, nil
	default:
		return nil, errors.Errorf("unknown expression type %q", head.Type)
	}
}

// Op is an operation of the compute machine, with side effects limited
// to the connection's variable environment.
type Op interface {
	isOp()
}

// SetOp writes the value of Expr into variable Var, creating it if absent.
type SetOp struct {
	Var  int32
	Expr Expr
}

// UnsetOp removes variable Var. Unsetting an absent variable is not an error.
type UnsetOp struct{ Var int32 }

// EvalOp evaluates Expr; its value becomes the operation's result.
type EvalOp struct{ Expr Expr }

func (SetOp) isOp()   {}
func (UnsetOp) isOp() {}
func (EvalOp) isOp()  {}

// UnmarshalOp parses a single compute operation.
func UnmarshalOp(data []byte) (Op, error) {
	var raw struct {
		Type string          `json:"type"`
		Var  *int32          `json:"var"`
		Expr json.RawMessage `json:"expr"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.WithMessage(err, "invalid operation")
	}

	switch raw.Type {
	case "set":
		if raw.Var == nil {
			return nil, errors.New("set operation is missing a variable id")
		}
		if raw.Expr == nil {
			return nil, errors.New("set operation is missing an expression")
		}
		var expr, err = UnmarshalExpr(raw.Expr)
		if err != nil {
			return nil, err
		}
		return SetOp{Var: *raw.Var, Expr: expr}, nil
	case "unset":
		if raw.Var == nil {
			return nil, errors.New("unset operation is missing a variable id")
		}
		return UnsetOp{Var: *raw.Var}, nil
	case "eval":
		if raw.Expr == nil {
			return nil, errors.New("eval operation is missing an expression")
		}
		var expr, err = UnmarshalExpr(raw.Expr)
		if err != nil {
			return nil, err
		}
		return EvalOp{Expr: expr}, nil
	default:
		return nil, errors.Errorf("unknown operation type %q", raw.Type)
	}
}

func unmarshalOps(raws []json.RawMessage) ([]Op, error) {
	var out = make([]Op, 0, len(raws))
	for _, r := range raws {
		var op, err = UnmarshalOp(r)
		if err != nil {
			return nil, err
		}
		out = append(out, op)
	}
	return out, nil
}

func unmarshalOptionalExpr(raw json.RawMessage) (Expr, error) {
	if raw == nil || string(raw) == "null" {
		return nil, nil
	}
	return UnmarshalExpr(raw)
}
