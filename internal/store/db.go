// Package store persists statements, transactions and notifications in a
// relational database. Postgres is the production dialect; SQLite serves
// local runs and tests.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect names a supported SQL backend.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

var (
	// ErrNotFound is returned when the addressed row does not exist or is
	// not owned by the caller.
	ErrNotFound = errors.New("not found")
	// ErrUnsupportedDialect is returned by Open for unknown drivers.
	ErrUnsupportedDialect = errors.New("unsupported database dialect")
)

// Config holds connection settings.
type Config struct {
	Dialect     Dialect
	URL         string
	MaxConns    int32
	DialTimeout time.Duration
}

// Store is the SQL-backed repository.
type Store struct {
	db      *sql.DB
	pool    *pgxpool.Pool
	dialect Dialect
	log     zerolog.Logger
	now     func() time.Time
}

// Open connects to the database described by cfg.
func Open(ctx context.Context, cfg Config, log zerolog.Logger) (*Store, error) {
	switch cfg.Dialect {
	case Postgres:
		return openPostgres(ctx, cfg, log)
	case SQLite:
		return openSQLite(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("store.Open: %w: %q", ErrUnsupportedDialect, cfg.Dialect)
	}
}

func openPostgres(ctx context.Context, cfg Config, log zerolog.Logger) (*Store, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("openPostgres: parse config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "finsight"

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("openPostgres: connect: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("openPostgres: ping: %w", err)
	}

	log.Info().Int32("max_conns", pc.MaxConns).Msg("Connected to Postgres")
	return &Store{
		db:      stdlib.OpenDBFromPool(pool),
		pool:    pool,
		dialect: Postgres,
		log:     log,
		now:     time.Now,
	}, nil
}

func openSQLite(ctx context.Context, cfg Config, log zerolog.Logger) (*Store, error) {
	dsn := cfg.URL
	if dsn == "" {
		dsn = ":memory:"
	}
	dsn = strings.TrimPrefix(dsn, "sqlite://")
	if !strings.Contains(dsn, "_pragma=foreign_keys") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("openSQLite: %w", err)
	}
	// One connection: in-memory databases are per connection and SQLite
	// serializes writers anyway.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("openSQLite: ping: %w", err)
	}

	log.Info().Str("dsn", cfg.URL).Msg("Opened SQLite database")
	return &Store{db: db, dialect: SQLite, log: log, now: time.Now}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Dialect reports the backend in use.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// rebind rewrites ? placeholders into $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isUniqueViolation reports whether err is a unique constraint failure on
// either dialect.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// inTx runs fn inside a database transaction. fn must only use tx.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn().Err(rbErr).Msg("Rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const (
	dateLayout = "2006-01-02"
	// Fixed-width so text timestamps sort chronologically in SQLite.
	sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// timeArg encodes a timestamp for the active dialect. SQLite stores text.
func (s *Store) timeArg(t time.Time) any {
	t = t.UTC()
	if s.dialect == SQLite {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

// dateArg encodes a calendar date for the active dialect.
func (s *Store) dateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	if s.dialect == SQLite {
		return t.Format(dateLayout)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// nullTime scans DATE and TIMESTAMP columns from either dialect.
type nullTime struct {
	Time  time.Time
	Valid bool
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	dateLayout,
}

func (n *nullTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case string:
		return n.parse(v)
	case []byte:
		return n.parse(string(v))
	default:
		return fmt.Errorf("nullTime: unsupported type %T", src)
	}
}

func (n *nullTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			n.Time, n.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("nullTime: cannot parse %q", s)
}

func (n nullTime) ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
