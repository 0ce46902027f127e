package wire

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

// Stmt describes one SQL statement to execute: its text, positional
// and/or named arguments, and whether the client wants result rows.
type Stmt struct {
	SQL       string
	Args      []Value
	NamedArgs []NamedArg
	WantRows  bool
}

func (s *Stmt) UnmarshalJSON(data []byte) error {
	var raw struct {
		SQL       *string           `json:"sql"`
		Args      []json.RawMessage `json:"args"`
		NamedArgs []NamedArg        `json:"named_args"`
		WantRows  bool              `json:"want_rows"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.WithMessage(err, "invalid statement")
	}
	if raw.SQL == nil {
		return errors.New("statement is missing sql")
	}
	var args, err = unmarshalValues(raw.Args)
	if err != nil {
		return err
	}
	s.SQL, s.Args, s.NamedArgs, s.WantRows = *raw.SQL, args, raw.NamedArgs, raw.WantRows
	return nil
}

// Col is result column metadata: the column's name, or null if unnamed.
type Col struct {
	Name *string `json:"name"`
}

// StmtResult is the outcome of one executed statement. Rows is empty when
// the statement was executed with WantRows false, even if it produced rows.
// AffectedRowCount is meaningful only for DML. LastInsertRowID is reported
// only for INSERT-like statements.
type StmtResult struct {
	Cols             []Col
	Rows             [][]Value
	AffectedRowCount int64
	LastInsertRowID  *int64
}

func (r *StmtResult) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"cols":`)

	var cols = r.Cols
	if cols == nil {
		cols = []Col{}
	}
	if err := json.NewEncoder(&buf).Encode(cols); err != nil {
		return nil, err
	}
	buf.Truncate(buf.Len() - 1) // Drop Encode's trailing newline.

	buf.WriteString(`,"rows":[`)
	for i, row := range r.Rows {
		if i != 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('[')
		for j, v := range row {
			if j != 0 {
				buf.WriteByte(',')
			}
			var b, err = json.Marshal(v)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
	}
	buf.WriteString(`],"affected_row_count":`)
	buf.WriteString(strconv.FormatInt(r.AffectedRowCount, 10))

	buf.WriteString(`,"last_insert_rowid":`)
	if r.LastInsertRowID == nil {
		buf.WriteString("null")
	} else {
		buf.WriteString(`"` + strconv.FormatInt(*r.LastInsertRowID, 10) + `"`)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
