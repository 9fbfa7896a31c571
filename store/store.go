package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

type (
	Dialect string

	// Control owns the database handle shared by the credential and
	// session stores. It is opened once at process start and closed on
	// shutdown.
	Control struct {
		db      *sql.DB
		dialect Dialect
		timeout time.Duration
	}

	Options struct {
		// Timeout bounds every single operation, zero means DefaultTimeout.
		Timeout time.Duration
		// MaxOpenConns is passed to the sql.DB pool when positive.
		MaxOpenConns int
	}
)

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "pgx"

	DefaultTimeout = 5 * time.Second
)

var (
	errEmptyDSN = errors.New("store: empty dsn")
)

// Open connects to the database described by dsn and makes sure the
// schema exists.
//
// postgres:// and postgresql:// URLs use pgx, anything else is taken as
// the path to a sqlite database file (an optional sqlite:// prefix is
// removed).
func Open(ctx context.Context, dsn string, opts Options) (*Control, error) {
	dialect, connstr, err := parseDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(string(dialect), connstr)
	if err != nil {
		return nil, fmt.Errorf("unable to open %v store, cause %w", dialect, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	c := &Control{db: db, dialect: dialect, timeout: opts.Timeout}
	if err := c.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := c.init(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to init store, cause %w", err)
	}
	return c, nil
}

func parseDSN(dsn string) (Dialect, string, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return "", "", errEmptyDSN
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return Postgres, dsn, nil
	}
	path := strings.TrimPrefix(dsn, "sqlite://")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", "", fmt.Errorf("unable to create directory for %v, cause %w", path, err)
	}
	return SQLite, fmt.Sprintf("file:%v?_busy_timeout=5000&_journal=wal&_foreign_keys=1&mode=rwc", path), nil
}

func (c *Control) Dialect() Dialect {
	return c.dialect
}

func (c *Control) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return classify("ping", c.db.PingContext(ctx))
}

// Scan runs a query expected to return at most one row and copies the
// columns into dest. sql.ErrNoRows is returned untouched.
func (c *Control) Scan(ctx context.Context, dest []interface{}, query string, args ...interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	err := c.db.QueryRowContext(ctx, c.rebind(query), args...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return classify("scan", err)
}

// Write executes a single statement and returns the number of affected
// rows.
//
// The statement is detached from the caller cancellation (but still
// bounded by the store timeout): once issued it either completes or
// fails as a whole, a client hanging up half way does not change that.
func (c *Control) Write(ctx context.Context, query string, args ...interface{}) (int64, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()
	res, err := c.db.ExecContext(ctx, c.rebind(query), args...)
	if err != nil {
		return 0, classify("write", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("write", err)
	}
	return n, nil
}

// rebind turns ? placeholders into $n when talking to postgres.
func (c *Control) rebind(query string) string {
	if c.dialect != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (c *Control) init(ctx context.Context) error {
	for _, cmd := range []string{
		`create table if not exists users(
			user_id text not null primary key,
			username text not null unique,
			password_hash text not null,
			created_at bigint not null
		)`,
		`create table if not exists sessions(
			sid text not null primary key,
			sess text not null,
			expire bigint not null
		)`,
	} {
		if _, err := c.Write(ctx, cmd); err != nil {
			return err
		}
	}
	err := c.verifySchema(ctx, map[string][]string{
		"users":    {"user_id", "username", "password_hash", "created_at"},
		"sessions": {"sid", "sess", "expire"},
	})
	if err != nil {
		return err
	}
	_, err = c.Write(ctx, `create index if not exists idx_sessions_expire on sessions(expire)`)
	return err
}

func (c *Control) verifySchema(ctx context.Context, expected map[string][]string) error {
	for table, columns := range expected {
		td, err := c.Describe(ctx, table)
		if err != nil {
			return fmt.Errorf("unable to describe table %v, cause %w", table, err)
		}
		var missing []string
		for _, col := range columns {
			if !td.HasColumn(col) {
				missing = append(missing, col)
			}
		}
		if len(missing) > 0 {
			return IncompatibleSchema{Table: table, Missing: missing}
		}
	}
	return nil
}

func (c *Control) Close() error {
	return c.db.Close()
}
