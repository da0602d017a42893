package db

import (
	"context"
	"regexp"
	"testing"
	"testing/fstest"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"001_roster.sql":       {Data: []byte("CREATE TABLE clinicians (id TEXT PRIMARY KEY);")},
		"002_appointments.sql": {Data: []byte("CREATE TABLE appointments (id TEXT PRIMARY KEY);")},
		"010_settings.sql":     {Data: []byte("CREATE TABLE settings (id INT PRIMARY KEY);")},
		"README.md":            {Data: []byte("not a migration")},
		"notes.sql":            {Data: []byte("-- no numeric prefix")},
		"abc_def.sql":          {Data: []byte("-- non-numeric prefix")},
		"embed.go":             {Data: []byte("package migrations")},
	}
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := NewMigrator(nil, testMigrations()).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}

	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	wantVersions := []int{1, 2, 10}
	for i, v := range wantVersions {
		if migrations[i].Version != v {
			t.Errorf("migration %d: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
	if migrations[0].Name != "001_roster.sql" {
		t.Errorf("expected name 001_roster.sql, got %s", migrations[0].Name)
	}
	if migrations[0].SQL != "CREATE TABLE clinicians (id TEXT PRIMARY KEY);" {
		t.Errorf("unexpected SQL content: %s", migrations[0].SQL)
	}
}

func TestLoadMigrations_Empty(t *testing.T) {
	migrations, err := NewMigrator(nil, fstest.MapFS{}).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected 0 migrations, got %d", len(migrations))
	}
}

func TestMigrator_UpAppliesPendingOnly(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS cohort_demo._migrations")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT version, applied_at FROM cohort_demo._migrations")).
		WillReturnRows(pgxmock.NewRows([]string{"version", "applied_at"}).AddRow(1, time.Now()))

	for _, mig := range []struct {
		version int
		name    string
		sql     string
	}{
		{2, "002_appointments.sql", "CREATE TABLE appointments"},
		{10, "010_settings.sql", "CREATE TABLE settings"},
	} {
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("SET LOCAL search_path TO cohort_demo, public")).
			WillReturnResult(pgxmock.NewResult("SET", 0))
		mock.ExpectExec(regexp.QuoteMeta(mig.sql)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO _migrations")).
			WithArgs(mig.version, mig.name).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()
	}

	count, err := NewMigrator(mock, testMigrations()).Up(context.Background(), "cohort_demo")
	if err != nil {
		t.Fatalf("Up() error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 applied, got %d", count)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMigrator_UpTo(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT version, applied_at").
		WillReturnRows(pgxmock.NewRows([]string{"version", "applied_at"}))
	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL search_path").WillReturnResult(pgxmock.NewResult("SET", 0))
	mock.ExpectExec("CREATE TABLE clinicians").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("INSERT INTO _migrations").WithArgs(1, "001_roster.sql").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	count, err := NewMigrator(mock, testMigrations()).UpTo(context.Background(), "cohort_demo", 1)
	if err != nil {
		t.Fatalf("UpTo() error: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 applied, got %d", count)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMigrator_Status(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	at := time.Date(2024, 1, 7, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT version, applied_at").
		WillReturnRows(pgxmock.NewRows([]string{"version", "applied_at"}).AddRow(1, at))

	statuses, err := NewMigrator(mock, testMigrations()).Status(context.Background(), "cohort_demo")
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].AppliedAt == nil || !statuses[0].AppliedAt.Equal(at) {
		t.Errorf("expected migration 1 applied at %s, got %+v", at, statuses[0])
	}
	if statuses[1].Applied || statuses[1].AppliedAt != nil {
		t.Errorf("expected migration 2 pending, got %+v", statuses[1])
	}
}

func TestMigrator_RejectsBadSchema(t *testing.T) {
	_, err := NewMigrator(nil, testMigrations()).Up(context.Background(), "cohort_demo; DROP TABLE x")
	if err == nil {
		t.Fatal("expected error for invalid schema name")
	}
}
