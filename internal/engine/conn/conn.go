// Package conn defines the Connection contract every dialect adapts to,
// and a generic database/sql-backed implementation shared by the engine
// tags that have a real driver (pg, cockroach, mysql, mariadb, sqlite).
package conn

import (
	"context"
	"database/sql"
	"strings"

	"github.com/vitaliisemenov/deployctl/internal/engine/engerr"
)

// Row is one result row, keyed by lower-cased column name — the same
// shape sqlitch's psycopg2 RealDictCursor wrapper produced.
type Row map[string]any

// Connection is the uniform surface internal/engine code executes SQL
// through, regardless of dialect. Every method takes a context and blocks
// on its cancellation.
type Connection interface {
	Execute(ctx context.Context, sql string, params map[string]any) error
	FetchOne(ctx context.Context, sql string, params map[string]any) (Row, error)
	FetchAll(ctx context.Context, sql string, params map[string]any) ([]Row, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
}

// ParamStyle controls how a dialect's driver expects placeholders: the
// generic adapter translates named ":param" tokens into whichever style
// the underlying driver accepts.
type ParamStyle int

const (
	// Question renders "?" placeholders in appearance order (mysql, sqlite).
	Question ParamStyle = iota
	// Dollar renders "$1", "$2", ... placeholders (pg, cockroach).
	Dollar
)

// SQLConnection adapts a database/sql transaction, single pooled
// connection, or the DB handle itself to the Connection interface.
type SQLConnection struct {
	engine string
	style  ParamStyle
	execer execer
	tx     *sql.Tx
	db     *sql.DB
}

// execer is satisfied by *sql.DB, *sql.Tx, and *sql.Conn.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// NewTxConnection wraps an open transaction. Commit/Rollback act on tx;
// Close is a no-op (the owning txscope call owns the underlying *sql.DB).
func NewTxConnection(engine string, style ParamStyle, tx *sql.Tx) *SQLConnection {
	return &SQLConnection{engine: engine, style: style, execer: tx, tx: tx}
}

// NewDBConnection wraps a *sql.DB directly, for non-transactional use
// (verify scripts, and side connections used to record a fail event after
// a rollback). Commit/Rollback are no-ops; Close closes the underlying DB.
func NewDBConnection(engine string, style ParamStyle, db *sql.DB) *SQLConnection {
	return &SQLConnection{engine: engine, style: style, execer: db, db: db}
}

// NewConnConnection wraps a single pooled *sql.Conn outside of any
// transaction — used by txscope.Run to issue a dialect's PreTransaction
// and PostTransaction hooks (e.g. mysql's LOCK/UNLOCK TABLES pair) on the
// exact connection the bracketed transaction ran on. Commit/Rollback are
// no-ops; Close is a no-op too, since the caller owns the *sql.Conn's
// lifetime.
func NewConnConnection(engine string, style ParamStyle, sc *sql.Conn) *SQLConnection {
	return &SQLConnection{engine: engine, style: style, execer: sc}
}

func (c *SQLConnection) Execute(ctx context.Context, query string, params map[string]any) error {
	q, args := bind(query, params, c.style)
	_, err := c.execer.ExecContext(ctx, q, args...)
	if err != nil {
		return engerr.NewDeploymentError("execute", "", c.engine).WithCause(err)
	}
	return nil
}

func (c *SQLConnection) FetchAll(ctx context.Context, query string, params map[string]any) ([]Row, error) {
	q, args := bind(query, params, c.style)
	rows, err := c.execer.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, engerr.NewDeploymentError("query", "", c.engine).WithCause(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, engerr.NewDeploymentError("query", "", c.engine).WithCause(err)
	}

	var out []Row
	for rows.Next() {
		row, err := scanRow(rows, cols)
		if err != nil {
			return nil, engerr.NewDeploymentError("query", "", c.engine).WithCause(err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, engerr.NewDeploymentError("query", "", c.engine).WithCause(err)
	}
	return out, nil
}

func (c *SQLConnection) FetchOne(ctx context.Context, query string, params map[string]any) (Row, error) {
	rows, err := c.FetchAll(ctx, query, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (c *SQLConnection) Commit(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	if err := c.tx.Commit(); err != nil {
		return engerr.NewConnectionError(c.engine, "commit", err.Error())
	}
	return nil
}

func (c *SQLConnection) Rollback(ctx context.Context) error {
	if c.tx == nil {
		return nil
	}
	if err := c.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return engerr.NewConnectionError(c.engine, "rollback", err.Error())
	}
	return nil
}

func (c *SQLConnection) Close(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	if err := c.db.Close(); err != nil {
		return engerr.NewConnectionError(c.engine, "close", err.Error())
	}
	return nil
}

func scanRow(rows *sql.Rows, cols []string) (Row, error) {
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	row := make(Row, len(cols))
	for i, col := range cols {
		v := values[i]
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		row[strings.ToLower(col)] = v
	}
	return row, nil
}

// bind translates a ":name" query and a params map into driver-ready SQL
// plus positional args, in the placeholder style the dialect requires.
func bind(query string, params map[string]any, style ParamStyle) (string, []any) {
	if len(params) == 0 {
		return query, nil
	}

	var out strings.Builder
	var args []any
	n := 0

	i := 0
	for i < len(query) {
		if query[i] != ':' {
			out.WriteByte(query[i])
			i++
			continue
		}
		j := i + 1
		for j < len(query) && isNameByte(query[j]) {
			j++
		}
		if j == i+1 {
			out.WriteByte(query[i])
			i++
			continue
		}
		name := query[i+1 : j]
		v, ok := params[name]
		if !ok {
			out.WriteString(query[i:j])
			i = j
			continue
		}

		n++
		switch style {
		case Dollar:
			out.WriteString("$")
			writeInt(&out, n)
		default:
			out.WriteString("?")
		}
		args = append(args, v)
		i = j
	}

	return out.String(), args
}

func isNameByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

func writeInt(b *strings.Builder, n int) {
	if n == 0 {
		b.WriteByte('0')
		return
	}
	var digits []byte
	for n > 0 {
		digits = append(digits, byte('0'+n%10))
		n /= 10
	}
	for i := len(digits) - 1; i >= 0; i-- {
		b.WriteByte(digits[i])
	}
}
