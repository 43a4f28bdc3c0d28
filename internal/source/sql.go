package source

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/basekick-labs/ritstream/pkg/models"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverDuckDB   = "duckdb"
	DriverPostgres = "pgx"
)

// DefaultTable is the table the ritdb exports are written to.
const DefaultTable = "ritdb1"

// maxPagePrealloc bounds the row slice allocated ahead of a page query.
const maxPagePrealloc = 2500

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds the storage collaborator settings.
type Config struct {
	Driver string
	DSN    string
	Table  string
	// Snapshot runs every page query inside one read transaction opened on
	// the first fetch, so concurrent writers cannot shift page boundaries.
	Snapshot bool
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLSource pages through the ritdb table ordered by sequence.
type SQLSource struct {
	db     *sql.DB
	cfg    Config
	logger zerolog.Logger

	pageQuery  string
	countQuery string

	mu        sync.Mutex
	tx        *sql.Tx
	closeOnce sync.Once
}

// Open connects to the configured database and verifies it with a ping.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*SQLSource, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if !identRe.MatchString(cfg.Table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, cfg.Table)
	}
	pageQuery, err := buildPageQuery(cfg.Driver, cfg.Table)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, &ConnectError{Driver: cfg.Driver, Err: err}
	}

	// One reader, one stream of pages.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &ConnectError{Driver: cfg.Driver, Err: err}
	}

	s := &SQLSource{
		db:         db,
		cfg:        cfg,
		logger:     logger.With().Str("component", "source").Logger(),
		pageQuery:  pageQuery,
		countQuery: fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, cfg.Table),
	}

	s.logger.Info().
		Str("driver", cfg.Driver).
		Str("table", cfg.Table).
		Bool("snapshot", cfg.Snapshot).
		Msg("Row source connected")

	return s, nil
}

// buildPageQuery returns the ordered offset/limit query for driver.
// Identifiers are double quoted, which all three dialects accept and which
// keeps the camel-case column names intact on PostgreSQL.
func buildPageQuery(driver, table string) (string, error) {
	var limit, offset string
	switch driver {
	case DriverSQLite, DriverDuckDB:
		limit, offset = "?", "?"
	case DriverPostgres:
		limit, offset = "$1", "$2"
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
	return fmt.Sprintf(
		`SELECT "sequence", "entityID", "indexID", "name", "value", "value2" FROM "%s" ORDER BY "sequence" ASC LIMIT %s OFFSET %s`,
		table, limit, offset,
	), nil
}

func (s *SQLSource) conn(ctx context.Context) (queryer, error) {
	if !s.cfg.Snapshot {
		return s.db, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx != nil {
		return s.tx, nil
	}

	opts := &sql.TxOptions{}
	if s.cfg.Driver == DriverPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	s.tx = tx
	return tx, nil
}

// Count returns the number of rows in the table, inside the snapshot if one is used.
func (s *SQLSource) Count(ctx context.Context) (int64, error) {
	q, err := s.conn(ctx)
	if err != nil {
		return 0, &FetchError{Err: err}
	}
	var n int64
	if err := q.QueryRowContext(ctx, s.countQuery).Scan(&n); err != nil {
		return 0, &FetchError{Err: fmt.Errorf("count query failed: %w", err)}
	}
	return n, nil
}

// FetchPage returns up to cursor.PageSize rows starting at cursor.Offset,
// ordered by ascending sequence. An empty slice means the table is exhausted.
func (s *SQLSource) FetchPage(ctx context.Context, cursor models.Cursor) ([]models.Row, error) {
	start := time.Now()

	q, err := s.conn(ctx)
	if err != nil {
		return nil, &FetchError{Offset: cursor.Offset, Limit: cursor.PageSize, Err: err}
	}

	rows, err := q.QueryContext(ctx, s.pageQuery, cursor.PageSize, cursor.Offset)
	if err != nil {
		return nil, &FetchError{Offset: cursor.Offset, Limit: cursor.PageSize, Err: err}
	}
	defer rows.Close()

	page := make([]models.Row, 0, min(max(cursor.PageSize, 0), maxPagePrealloc))
	for rows.Next() {
		var (
			r      models.Row
			raw    any
			value2 sql.NullString
		)
		if err := rows.Scan(&r.Sequence, &r.EntityID, &r.IndexID, &r.Name, &raw, &value2); err != nil {
			return nil, &FetchError{Offset: cursor.Offset, Limit: cursor.PageSize, Err: fmt.Errorf("scan failed: %w", err)}
		}
		r.Value = models.ValueOf(raw)
		if value2.Valid {
			r.Value2 = models.StringPtr(value2.String)
		}
		page = append(page, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &FetchError{Offset: cursor.Offset, Limit: cursor.PageSize, Err: err}
	}

	s.logger.Debug().
		Str("query", s.pageQuery).
		Int64("offset", cursor.Offset).
		Int64("limit", cursor.PageSize).
		Int("rows", len(page)).
		Dur("elapsed", time.Since(start)).
		Msg("Page fetched")

	return page, nil
}

// Close ends the snapshot transaction, if any, and closes the pool.
func (s *SQLSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.tx != nil {
			_ = s.tx.Rollback()
			s.tx = nil
		}
		s.mu.Unlock()

		if cerr := s.db.Close(); cerr != nil {
			err = fmt.Errorf("failed to close source database: %w", cerr)
			return
		}
		s.logger.Info().Msg("Row source closed")
	})
	return err
}

// DB returns the underlying pool.
func (s *SQLSource) DB() *sql.DB {
	return s.db
}
