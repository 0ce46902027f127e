// Package compute implements the small interpreter used to wire
// conditionals and batches around SQL execution: pure expressions over a
// sparse variable environment, and operations whose only side effects are
// writes to that environment.
package compute

import (
	"github.com/pkg/errors"

	"github.com/rilldb/rill/wire"
)

// Env is the variable environment of one connection: a sparse mapping
// from client-assigned variable ids to values. It is allocated with the
// connection, first used once the connection's hello succeeds, and
// destroyed when the connection closes. Env is
// not safe for concurrent use; all access must be funneled through the
// connection's dispatch loop.
type Env struct {
	vars map[int32]wire.Value
}

// NewEnv returns an empty environment.
func NewEnv() *Env {
	return &Env{vars: make(map[int32]wire.Value)}
}

// Eval evaluates a pure expression. Reading an unset variable is an
// evaluation error.
func (e *Env) Eval(expr wire.Expr) (wire.Value, error) {
	switch expr := expr.(type) {
	case wire.LiteralExpr:
		return expr.Value, nil
	case wire.VarExpr:
		var v, ok = e.vars[expr.Var]
		if !ok {
			return nil, errors.Errorf("variable %d is not set", expr.Var)
		}
		return v, nil
	case wire.NotExpr:
		var v, err = e.Eval(expr.Expr)
		if err != nil {
			return nil, err
		}
		if Truthy(v) {
			return wire.Integer(0), nil
		}
		return wire.Integer(1), nil
	default:
		return nil, errors.Errorf("unknown expression %T", expr)
	}
}

// Apply executes one operation and returns its result value: set and
// unset yield null, eval yields the computed value.
func (e *Env) Apply(op wire.Op) (wire.Value, error) {
	switch op := op.(type) {
	case wire.SetOp:
		var v, err = e.Eval(op.Expr)
		if err != nil {
			return nil, err
		}
		e.vars[op.Var] = v
		return wire.Null{}, nil
	case wire.UnsetOp:
		delete(e.vars, op.Var)
		return wire.Null{}, nil
	case wire.EvalOp:
		return e.Eval(op.Expr)
	default:
		return nil, errors.Errorf("unknown operation %T", op)
	}
}

// ApplyAll executes operations strictly left-to-right, returning the
// per-operation result vector. Operations are imperative: a failure stops
// execution, but effects of earlier operations remain.
func (e *Env) ApplyAll(ops []wire.Op) ([]wire.Value, error) {
	var results = make([]wire.Value, 0, len(ops))
	for _, op := range ops {
		var v, err = e.Apply(op)
		if err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, nil
}

// Truthy is the boolean coercion of a Value: null is false, numbers are
// true when nonzero, text and blobs are true when nonempty.
func Truthy(v wire.Value) bool {
	switch v := v.(type) {
	case wire.Null:
		return false
	case wire.Integer:
		return v != 0
	case wire.Float:
		return v != 0
	case wire.Text:
		return len(v) != 0
	case wire.Blob:
		return len(v) != 0
	default:
		return false
	}
}
