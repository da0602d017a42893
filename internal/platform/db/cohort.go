package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	CohortIDKey contextKey = "cohort_id"
	DBConnKey   contextKey = "db_conn"
	DBTxKey     contextKey = "db_tx"
)

// CohortHeader selects a cohort when the token carries no cohort claim.
const CohortHeader = "X-Cohort-ID"

// ErrNoConnection is returned by RunInTx when no connection is available.
var ErrNoConnection = errors.New("no database connection in context")

var (
	cohortIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	schemaPattern   = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// ValidCohortID reports whether id is safe to splice into a schema name.
func ValidCohortID(id string) bool {
	return cohortIDPattern.MatchString(id)
}

// CohortSchema returns the Postgres schema that holds a cohort's calendar.
func CohortSchema(cohortID string) string {
	return "cohort_" + cohortID
}

// CohortMiddleware resolves the cohort for the request, pins a pooled
// connection to that cohort's schema and exposes it through the request
// context for the duration of the handler.
func CohortMiddleware(pool *pgxpool.Pool, defaultCohort string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cohortID := extractCohortID(c, defaultCohort)
			if !ValidCohortID(cohortID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid cohort identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, public", CohortSchema(cohortID))); err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "cohort resolution failed")
			}

			ctx = WithConn(ctx, cohortID, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("cohort_id", cohortID)

			return next(c)
		}
	}
}

func extractCohortID(c echo.Context, defaultCohort string) string {
	if id, ok := c.Get("jwt_cohort_id").(string); ok && id != "" {
		return id
	}
	if id := c.Request().Header.Get(CohortHeader); id != "" {
		return id
	}
	if id := c.QueryParam("cohort_id"); id != "" {
		return id
	}
	return defaultCohort
}

// WithConn binds a cohort and its schema-pinned connection to ctx. The CLI
// uses it to run the same repositories outside an HTTP request.
func WithConn(ctx context.Context, cohortID string, q Querier) context.Context {
	ctx = context.WithValue(ctx, CohortIDKey, cohortID)
	return context.WithValue(ctx, DBConnKey, q)
}

// ConnFromContext retrieves the cohort-scoped connection from context.
func ConnFromContext(ctx context.Context) Querier {
	q, _ := ctx.Value(DBConnKey).(Querier)
	return q
}

// CohortFromContext retrieves the cohort ID from context.
func CohortFromContext(ctx context.Context) string {
	id, _ := ctx.Value(CohortIDKey).(string)
	return id
}

// TxFromContext returns the transaction opened by RunInTx, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// CreateCohortSchema creates cohort_<id> and applies every migration in
// source to it.
func CreateCohortSchema(ctx context.Context, q Querier, cohortID string, source fs.FS) error {
	if !ValidCohortID(cohortID) {
		return fmt.Errorf("invalid cohort identifier: %s", cohortID)
	}

	schema := CohortSchema(cohortID)
	if _, err := q.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if source != nil {
		if _, err := NewMigrator(q, source).Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}
	return nil
}

// RunInTx runs fn in a transaction on the context's cohort connection, or on
// fallback when none is bound. The transaction is visible to repositories
// through TxFromContext. fn's error rolls back; otherwise it commits.
func RunInTx(ctx context.Context, fallback Querier, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	q := ConnFromContext(ctx)
	if q == nil {
		q = fallback
	}
	if q == nil {
		return ErrNoConnection
	}

	tx, err := q.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, DBTxKey, tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
