package compute

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rilldb/rill/wire"
)

func TestEvalExpressions(t *testing.T) {
	var env = NewEnv()
	var _, err = env.Apply(wire.SetOp{Var: 1, Expr: wire.LiteralExpr{Value: wire.Integer(42)}})
	require.NoError(t, err)

	var v, verr = env.Eval(wire.LiteralExpr{Value: wire.Text("hi")})
	require.NoError(t, verr)
	require.Equal(t, wire.Text("hi"), v)

	v, verr = env.Eval(wire.VarExpr{Var: 1})
	require.NoError(t, verr)
	require.Equal(t, wire.Integer(42), v)

	// Reading an unset variable is an evaluation error.
	_, verr = env.Eval(wire.VarExpr{Var: 2})
	require.EqualError(t, verr, "variable 2 is not set")

	// not() coerces to boolean and yields 0 or 1.
	v, verr = env.Eval(wire.NotExpr{Expr: wire.VarExpr{Var: 1}})
	require.NoError(t, verr)
	require.Equal(t, wire.Integer(0), v)

	v, verr = env.Eval(wire.NotExpr{Expr: wire.LiteralExpr{Value: wire.Null{}}})
	require.NoError(t, verr)
	require.Equal(t, wire.Integer(1), v)

	// Errors propagate out of nested expressions.
	_, verr = env.Eval(wire.NotExpr{Expr: wire.VarExpr{Var: 9}})
	require.Error(t, verr)
}

func TestApplyOps(t *testing.T) {
	var env = NewEnv()

	var results, err = env.ApplyAll([]wire.Op{
		wire.SetOp{Var: 7, Expr: wire.LiteralExpr{Value: wire.Integer(1)}},
		wire.EvalOp{Expr: wire.VarExpr{Var: 7}},
		wire.SetOp{Var: 7, Expr: wire.LiteralExpr{Value: wire.Integer(2)}},
		wire.EvalOp{Expr: wire.VarExpr{Var: 7}},
		wire.UnsetOp{Var: 7},
		wire.UnsetOp{Var: 7}, // Unsetting an absent variable is not an error.
	})
	require.NoError(t, err)
	require.Equal(t, []wire.Value{
		wire.Null{},
		wire.Integer(1),
		wire.Null{},
		wire.Integer(2),
		wire.Null{},
		wire.Null{},
	}, results)

	// Ops are imperative: effects of earlier operations survive a later
	// failure.
	_, err = env.ApplyAll([]wire.Op{
		wire.SetOp{Var: 1, Expr: wire.LiteralExpr{Value: wire.Integer(3)}},
		wire.EvalOp{Expr: wire.VarExpr{Var: 99}},
	})
	require.Error(t, err)

	var v, verr = env.Eval(wire.VarExpr{Var: 1})
	require.NoError(t, verr)
	require.Equal(t, wire.Integer(3), v)
}

func TestSetEvaluatesBeforeWrite(t *testing.T) {
	var env = NewEnv()
	// A set of a variable to a failing expression must not create the slot.
	var _, err = env.Apply(wire.SetOp{Var: 1, Expr: wire.VarExpr{Var: 2}})
	require.Error(t, err)
	_, err = env.Eval(wire.VarExpr{Var: 1})
	require.Error(t, err)
}

func TestTruthy(t *testing.T) {
	var cases = []struct {
		value  wire.Value
		expect bool
	}{
		{wire.Null{}, false},
		{wire.Integer(0), false},
		{wire.Integer(1), true},
		{wire.Integer(-1), true},
		{wire.Float(0), false},
		{wire.Float(0.001), true},
		{wire.Text(""), false},
		{wire.Text("0"), true},
		{wire.Blob{}, false},
		{wire.Blob{0x00}, true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.expect, Truthy(tc.value), "value: %#v", tc.value)
	}
}
