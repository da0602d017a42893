package db

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func newCohortContext(target string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestExtractCohortID(t *testing.T) {
	tests := []struct {
		name   string
		target string
		header string
		claim  string
		want   string
	}{
		{"default", "/", "", "", "default"},
		{"query", "/?cohort_id=fall_2024", "", "", "fall_2024"},
		{"header", "/", "spring_2025", "", "spring_2025"},
		{"header beats query", "/?cohort_id=query_cohort", "header_cohort", "", "header_cohort"},
		{"claim beats header", "/?cohort_id=q", "h", "jwt_cohort", "jwt_cohort"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCohortContext(tt.target)
			if tt.header != "" {
				c.Request().Header.Set(CohortHeader, tt.header)
			}
			if tt.claim != "" {
				c.Set("jwt_cohort_id", tt.claim)
			}
			if got := extractCohortID(c, "default"); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestExtractCohortID_EmptyClaimFallsThrough(t *testing.T) {
	c := newCohortContext("/")
	c.Set("jwt_cohort_id", "")
	c.Request().Header.Set(CohortHeader, "from_header")
	if got := extractCohortID(c, "default"); got != "from_header" {
		t.Errorf("expected from_header, got %s", got)
	}
}

func TestValidCohortID(t *testing.T) {
	valid := []string{"default", "fall_2024", "A1"}
	invalid := []string{"", "fall-2024", "x;DROP", "a b", "cohort.x"}
	for _, id := range valid {
		if !ValidCohortID(id) {
			t.Errorf("expected %q to be valid", id)
		}
	}
	for _, id := range invalid {
		if ValidCohortID(id) {
			t.Errorf("expected %q to be invalid", id)
		}
	}
}

func TestCohortSchema(t *testing.T) {
	if got := CohortSchema("fall_2024"); got != "cohort_fall_2024" {
		t.Errorf("expected cohort_fall_2024, got %s", got)
	}
}

func TestContextAccessors(t *testing.T) {
	ctx := context.Background()
	if ConnFromContext(ctx) != nil {
		t.Error("expected nil conn from empty context")
	}
	if TxFromContext(ctx) != nil {
		t.Error("expected nil tx from empty context")
	}
	if CohortFromContext(ctx) != "" {
		t.Error("expected empty cohort from empty context")
	}

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	ctx = WithConn(ctx, "demo", mock)
	if ConnFromContext(ctx) == nil {
		t.Error("expected conn after WithConn")
	}
	if got := CohortFromContext(ctx); got != "demo" {
		t.Errorf("expected demo, got %s", got)
	}
}

func TestCreateCohortSchema(t *testing.T) {
	if err := CreateCohortSchema(context.Background(), nil, "bad-id", nil); err == nil {
		t.Fatal("expected error for invalid cohort id")
	}

	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	mock.ExpectExec("CREATE SCHEMA IF NOT EXISTS cohort_demo").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	if err := CreateCohortSchema(context.Background(), mock, "demo", nil); err != nil {
		t.Fatalf("CreateCohortSchema() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRunInTx_CommitsOnSuccess(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE clients").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err = RunInTx(context.Background(), mock, func(ctx context.Context) error {
		tx := TxFromContext(ctx)
		if tx == nil {
			t.Fatal("expected tx in context")
		}
		_, err := tx.Exec(ctx, "UPDATE clients SET status = 'scheduled'")
		return err
	})
	if err != nil {
		t.Fatalf("RunInTx() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRunInTx_RollsBackOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()
	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err = RunInTx(WithConn(context.Background(), "demo", mock), nil, func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRunInTx_NoConnection(t *testing.T) {
	err := RunInTx(context.Background(), nil, func(context.Context) error { return nil })
	if !errors.Is(err, ErrNoConnection) {
		t.Fatalf("expected ErrNoConnection, got %v", err)
	}
}
