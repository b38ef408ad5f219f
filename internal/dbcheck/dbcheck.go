// Package dbcheck probes a target database connection string before a
// sandbox is bound to it, so a workflow fails fast with a clear error
// instead of burning a sandbox acquisition and an agent run against a
// database that was never reachable to begin with.
package dbcheck

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/brojonat/cataloger/internal/catalogerr"
)

// Dialect identifies which driver a connection string resolves to.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Config controls connection pool sizing and the bound on the preflight
// ping itself. Mirrors the pool-tuning knobs production Postgres stores in
// this codebase's ancestry expose, scaled down for a short-lived probe
// connection rather than a long-lived store.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultConfig returns sane pool settings for a one-shot preflight check.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// Detect classifies a connection string by its scheme. SQLite connection
// strings are bare file paths or ":memory:", never a "scheme://" URL, so
// anything without a recognized Postgres scheme falls through to SQLite.
func Detect(dbConn string) Dialect {
	trimmed := strings.TrimSpace(dbConn)
	switch {
	case strings.HasPrefix(trimmed, "postgres://"), strings.HasPrefix(trimmed, "postgresql://"):
		return DialectPostgres
	default:
		return DialectSQLite
	}
}

// driverFor maps a Dialect to the database/sql driver name registered by its
// import above.
func driverFor(d Dialect) string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// Ping opens dbConn with the driver its dialect implies, pings it within
// cfg.ConnectTimeout, and closes it again. It never returns a live *sql.DB:
// the sandbox interpreter owns the actual long-lived connection, so this is
// purely an admission check run from the workflow worker before a sandbox is
// acquired.
func Ping(ctx context.Context, dbConn string, cfg Config) error {
	dialect := Detect(dbConn)
	driver := driverFor(dialect)

	db, err := sql.Open(driver, dbConn)
	if err != nil {
		return catalogerr.Wrap(catalogerr.DBUnreachable, "dbcheck.ping", fmt.Errorf("open %s connection: %w", dialect, err))
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return catalogerr.Wrap(catalogerr.DBUnreachable, "dbcheck.ping", fmt.Errorf("ping %s database: %w", dialect, err))
	}
	return nil
}
