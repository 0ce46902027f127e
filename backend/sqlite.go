package backend

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/charlievieth/go-sqlite3"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/rilldb/rill/wire"
)

// SQLiteConfig configures the embedded SQLite backend.
type SQLiteConfig struct {
	// Path of the database file, or a full "file:" DSN.
	Path string
	// StmtCacheSize bounds the per-session prepared statement cache.
	StmtCacheSize int
}

// DefaultStmtCacheSize is used when SQLiteConfig.StmtCacheSize is zero.
const DefaultStmtCacheSize = 64

// SQLite is a Backend over an embedded SQLite database. Each session pins
// one database connection so that transaction state survives across its
// statements.
type SQLite struct {
	db  *sql.DB
	cfg SQLiteConfig
}

// OpenSQLite opens (creating if needed) the database at cfg.Path.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLite, error) {
	if cfg.StmtCacheSize <= 0 {
		cfg.StmtCacheSize = DefaultStmtCacheSize
	}
	var dsn = cfg.Path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn + "?_busy_timeout=5000&_journal_mode=WAL"
	}

	var db, err = sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database (%s)", cfg.Path)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "failed to open database (%s)", cfg.Path)
	}
	return &SQLite{db: db, cfg: cfg}, nil
}

// OpenSession acquires a pinned connection from the pool.
func (b *SQLite) OpenSession(ctx context.Context) (Session, error) {
	var conn, err = b.db.Conn(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to acquire database connection")
	}
	stmts, err := lru.NewWithEvict(b.cfg.StmtCacheSize, func(_, v interface{}) {
		_ = v.(*sql.Stmt).Close()
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &session{conn: conn, stmts: stmts}, nil
}

// Close closes the database.
func (b *SQLite) Close() error { return b.db.Close() }

// DB exposes the underlying pool for read-only use outside of streams,
// such as startup checks.
func (b *SQLite) DB() *sql.DB { return b.db }

type session struct {
	conn  *sql.Conn
	stmts *lru.Cache // SQL text -> *sql.Stmt, prepared on conn.
}

func (s *session) Close() error {
	s.stmts.Purge()
	return s.conn.Close()
}

func (s *session) Execute(ctx context.Context, stmt *wire.Stmt) (*wire.StmtResult, error) {
	var sqlText, err = splitStatement(stmt.SQL)
	if err != nil {
		return nil, err
	}
	var kind = classify(sqlText)

	args, err := bindArgs(stmt)
	if err != nil {
		return nil, err
	}

	prepared, err := s.prepare(ctx, sqlText)
	if err != nil {
		return nil, classifyErr(ctx, err)
	}

	rows, err := prepared.QueryContext(ctx, args...)
	if err != nil {
		return nil, classifyErr(ctx, err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, classifyErr(ctx, err)
	}
	var result = &wire.StmtResult{
		Cols: make([]wire.Col, len(names)),
		Rows: [][]wire.Value{},
	}
	for i := range names {
		result.Cols[i] = wire.Col{Name: &names[i]}
	}

	// Drain every row even when the client doesn't want them: stepping is
	// what actually executes the statement, including RETURNING clauses.
	var dest = make([]interface{}, len(names))
	var ptrs = make([]interface{}, len(names))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	for rows.Next() {
		if err = rows.Scan(ptrs...); err != nil {
			return nil, classifyErr(ctx, err)
		}
		if stmt.WantRows {
			var row = make([]wire.Value, len(dest))
			for i, d := range dest {
				if row[i], err = fromSQL(d); err != nil {
					return nil, err
				}
			}
			result.Rows = append(result.Rows, row)
		}
	}
	if err = rows.Err(); err != nil {
		return nil, classifyErr(ctx, err)
	}

	if kind.isDML() {
		var changes, rowid int64
		err = s.conn.QueryRowContext(ctx,
			"SELECT changes(), last_insert_rowid()").Scan(&changes, &rowid)
		if err != nil {
			return nil, classifyErr(ctx, err)
		}
		result.AffectedRowCount = changes
		if kind.reportsRowID() {
			result.LastInsertRowID = &rowid
		}
	}
	return result, nil
}

// prepare returns a statement prepared on the session's connection,
// caching it for reuse.
func (s *session) prepare(ctx context.Context, sqlText string) (*sql.Stmt, error) {
	if cached, ok := s.stmts.Get(sqlText); ok {
		return cached.(*sql.Stmt), nil
	}
	var prepared, err = s.conn.PrepareContext(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	s.stmts.Add(sqlText, prepared)
	return prepared, nil
}

// bindArgs maps wire arguments onto database/sql arguments: positional
// values first, then named values. The driver resolves sigil-less names by
// probing ':', '@' and '$' in that order, and a named binding of a slot
// lands after (and thus wins over) a positional binding of the same slot.
func bindArgs(stmt *wire.Stmt) ([]interface{}, error) {
	var args = make([]interface{}, 0, len(stmt.Args)+len(stmt.NamedArgs))
	for _, v := range stmt.Args {
		args = append(args, toSQL(v))
	}

	var seen = make(map[string]struct{}, len(stmt.NamedArgs))
	for _, a := range stmt.NamedArgs {
		var name = strings.TrimLeft(a.Name, ":@$")
		if name == "" {
			return nil, execErrorf("invalid named argument %q", a.Name)
		}
		if _, ok := seen[name]; ok {
			return nil, execErrorf("duplicate named argument %q", a.Name)
		}
		seen[name] = struct{}{}
		args = append(args, sql.Named(name, toSQL(a.Value)))
	}
	return args, nil
}

func toSQL(v wire.Value) interface{} {
	switch v := v.(type) {
	case wire.Null:
		return nil
	case wire.Integer:
		return int64(v)
	case wire.Float:
		return float64(v)
	case wire.Text:
		return string(v)
	case wire.Blob:
		return []byte(v)
	default:
		return nil
	}
}

func fromSQL(d interface{}) (wire.Value, error) {
	switch d := d.(type) {
	case nil:
		return wire.Null{}, nil
	case int64:
		return wire.Integer(d), nil
	case float64:
		return wire.Float(d), nil
	case string:
		return wire.Text(d), nil
	case []byte:
		return wire.Blob(d), nil
	case bool:
		if d {
			return wire.Integer(1), nil
		}
		return wire.Integer(0), nil
	case time.Time:
		return wire.Text(d.Format(sqlite3.SQLiteTimestampFormats[0])), nil
	default:
		return nil, errors.Errorf("unsupported column value %T", d)
	}
}

// classifyErr separates SQL execution failures, which are reported to the
// client, from cancellation and connection loss, which tear the stream down.
func classifyErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, driver.ErrBadConn) {
		return err
	}
	if sqliteErr, ok := asSQLiteError(err); ok {
		return &ExecError{Cause: sqliteErr}
	}
	// database/sql argument count and conversion failures land here.
	return &ExecError{Cause: err}
}

func asSQLiteError(err error) (error, bool) {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return fmt.Errorf("SQLite error: %s", sqliteErr.Error()), true
	}
	return nil, false
}
