package hrana

import (
	"time"

	"github.com/rilldb/rill/backend"
	"github.com/rilldb/rill/compute"
	"github.com/rilldb/rill/metrics"
	"github.com/rilldb/rill/wire"
)

// runExecute serves an execute request on a stream lane. Under Hrana1 the
// request may carry a condition and on_ok/on_error hooks; under Hrana2 it
// is always bare.
func (c *conn) runExecute(sess backend.Session, req wire.ExecuteReq) (wire.Response, error) {
	var result, execErr, err = c.execStep(sess, &req.Stmt, req.Condition, req.OnOk, req.OnError)
	if err != nil {
		return nil, err
	}
	if execErr != nil {
		return nil, execErr
	}
	// result is null when the condition evaluated to false.
	return wire.ExecuteResp{Result: result}, nil
}

// runProg executes a program's steps strictly in order on one stream.
// Execute-step failures are recorded and the program continues; compute
// machine failures are fatal for the program (but leave the backend
// session's transaction state untouched).
func (c *conn) runProg(sess backend.Session, req wire.ProgReq) (wire.Response, error) {
	var resp = wire.ProgResp{
		ExecuteResults: []*wire.StmtResult{},
		ExecuteErrors:  []*wire.Error{},
		Outputs:        []wire.Value{},
	}

	for _, step := range req.Prog.Steps {
		switch step := step.(type) {
		case wire.ExecuteStep:
			var result, execErr, err = c.execStep(
				sess, &step.Stmt, step.Condition, step.OnOk, step.OnError)
			if err != nil {
				return nil, err
			}
			// Slots are indexed by execute-step count: a skipped or failed
			// step still occupies its slot with nulls.
			resp.ExecuteResults = append(resp.ExecuteResults, result)
			if execErr != nil {
				resp.ExecuteErrors = append(resp.ExecuteErrors, &wire.Error{Message: execErr.Error()})
			} else {
				resp.ExecuteErrors = append(resp.ExecuteErrors, nil)
			}

		case wire.OutputStep:
			var v, err = c.evalEnv(step.Expr)
			if err != nil {
				return nil, err
			}
			resp.Outputs = append(resp.Outputs, v)

		case wire.OpStep:
			if _, err := c.applyEnvOps(step.Ops); err != nil {
				return nil, err
			}
		}
	}
	return resp, nil
}

// execStep runs one (possibly conditional) statement with its hooks.
// It returns the statement result (nil when skipped or failed), the
// execution error if the statement failed, and a fatal error which aborts
// the whole request.
func (c *conn) execStep(
	sess backend.Session,
	stmt *wire.Stmt,
	condition wire.Expr,
	onOk, onError []wire.Op,
) (*wire.StmtResult, error, error) {
	if condition != nil {
		var v, err = c.evalEnv(condition)
		if err != nil {
			return nil, nil, err
		}
		if !compute.Truthy(v) {
			return nil, nil, nil
		}
	}

	var started = time.Now()
	var result, err = sess.Execute(c.ctx, stmt)
	metrics.ExecuteDurationSeconds.Observe(time.Since(started).Seconds())

	if err != nil {
		if !backend.IsExecError(err) {
			return nil, nil, err // Cancelled or broken session.
		}
		if _, hookErr := c.applyEnvOps(onError); hookErr != nil {
			return nil, nil, hookErr
		}
		return nil, err, nil
	}

	if _, hookErr := c.applyEnvOps(onOk); hookErr != nil {
		return nil, nil, hookErr
	}
	return result, nil, nil
}
