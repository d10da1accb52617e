// repository/db.go
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/fadhlanhapp/splitbill-backend/config"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")
	// ErrGroupNotOutstanding is returned when a conditional write finds the group already allocated
	ErrGroupNotOutstanding = errors.New("group is not outstanding")
	// ErrStatusChanged is returned when a settlement changed between read and write
	ErrStatusChanged = errors.New("settlement status changed concurrently")
	// ErrDuplicateMember is returned when a user already belongs to the group
	ErrDuplicateMember = errors.New("user is already a member of the group")
)

// DB wraps the connection pool with the driver it was opened with.
// Queries are written with numbered placeholders and rebound for sqlite.
type DB struct {
	*sql.DB
	Driver string
}

var placeholder = regexp.MustCompile(`\$\d+`)

// Rebind rewrites $1..$n placeholders for drivers that only understand '?'.
// Every query numbers its placeholders in order of appearance, so the
// positional rewrite keeps arguments aligned.
func (d *DB) Rebind(query string) string {
	if d.Driver != "sqlite" {
		return query
	}
	return placeholder.ReplaceAllString(query, "?")
}

// InitDB opens the database, applies the pool settings and runs migrations
func InitDB(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	dsn := cfg.DSN()
	if cfg.Driver == "sqlite" {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	conn, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		// one writer at a time, foreign keys are per connection
		conn.SetMaxOpenConns(1)
		if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	} else {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{DB: conn, Driver: cfg.Driver}
	if err := db.Migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"driver": cfg.Driver,
	}).Info("Successfully connected to the database")
	return db, nil
}

// Migrate creates the schema if it does not exist yet
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

const uniqueViolation = "23505"

// isUniqueViolation recognises a unique constraint failure from any of the
// supported drivers
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == uniqueViolation
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
	}
	return false
}

// nullString maps an empty string to NULL
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
