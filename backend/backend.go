// Package backend defines the execution interface the protocol core calls
// to run SQL, and its SQLite implementation.
package backend

import (
	"context"

	"github.com/pkg/errors"

	"github.com/rilldb/rill/wire"
)

// Backend provides stream-bound SQL sessions.
type Backend interface {
	// OpenSession acquires a session for exclusive use by one stream.
	OpenSession(ctx context.Context) (Session, error)
	// Close releases the backend. Open sessions must be closed first.
	Close() error
}

// Session executes statements against one backend connection. Transaction
// state persists across Execute calls for the lifetime of the Session.
// A Session is owned by a single stream and is not safe for concurrent use.
//
// Execute must be cancel-safe: when ctx is cancelled, in-flight work either
// completes and is discarded or is cleanly aborted.
type Session interface {
	Execute(ctx context.Context, stmt *wire.Stmt) (*wire.StmtResult, error)
	Close() error
}

// ExecError is a failure reported by the SQL engine or by argument
// binding. It is returned to the client within a response and is never
// fatal for the connection. Any other error from Execute indicates the
// session itself is broken (eg its context was cancelled).
type ExecError struct {
	Cause error
}

func (e *ExecError) Error() string { return e.Cause.Error() }
func (e *ExecError) Unwrap() error { return e.Cause }

func execErrorf(format string, args ...interface{}) error {
	return &ExecError{Cause: errors.Errorf(format, args...)}
}

// IsExecError reports whether err is an execution error to be returned to
// the client, rather than an internal failure.
func IsExecError(err error) bool {
	var execErr *ExecError
	return errors.As(err, &execErr)
}
