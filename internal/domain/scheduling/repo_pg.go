package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rehabsim/scheduler/internal/platform/db"
	engine "github.com/rehabsim/scheduler/internal/platform/scheduling"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Prepared statements render $n placeholders for pgx.
var dialect = goqu.Dialect("postgres")

func connFor(ctx context.Context, fallback db.Querier) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return fallback
}

// mapErr translates driver errors into the package sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrAlreadyExists, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: unknown client or clinician", ErrInvalid)
		case "23514":
			return fmt.Errorf("%w: %s", ErrInvalid, pgErr.ConstraintName)
		}
	}
	return err
}

// -- Clinicians --

type clinicianRepoPG struct{ pool db.Querier }

func NewClinicianRepoPG(pool db.Querier) ClinicianRepository {
	return &clinicianRepoPG{pool: pool}
}

func (r *clinicianRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

func (r *clinicianRepoPG) Create(ctx context.Context, c *Clinician) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO clinicians (id, name) VALUES ($1, $2)
		RETURNING created_at`, c.ID, c.Name).Scan(&c.CreatedAt)
	return mapErr(err)
}

func (r *clinicianRepoPG) Get(ctx context.Context, id string) (*Clinician, error) {
	var c Clinician
	err := r.conn(ctx).QueryRow(ctx, `SELECT id, name, created_at FROM clinicians WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (r *clinicianRepoPG) List(ctx context.Context) ([]*Clinician, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, name, created_at FROM clinicians ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Clinician
	for rows.Next() {
		var c Clinician
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &c)
	}
	return items, rows.Err()
}

func (r *clinicianRepoPG) Delete(ctx context.Context, id string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM clinicians WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// -- Clients --

type clientRepoPG struct{ pool db.Querier }

func NewClientRepoPG(pool db.Querier) ClientRepository {
	return &clientRepoPG{pool: pool}
}

func (r *clientRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

const clientCols = `id, name, priority, status, created_at, updated_at`

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	var priority, status string
	if err := row.Scan(&c.ID, &c.Name, &priority, &status, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Priority = Priority(priority)
	c.Status = ClientStatus(status)
	return &c, nil
}

func (r *clientRepoPG) Create(ctx context.Context, c *Client) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO clients (id, name, priority, status) VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		c.ID, c.Name, string(c.Priority), string(c.Status)).Scan(&c.CreatedAt, &c.UpdatedAt)
	return mapErr(err)
}

func (r *clientRepoPG) Get(ctx context.Context, id string) (*Client, error) {
	c, err := scanClient(r.conn(ctx).QueryRow(ctx, `SELECT `+clientCols+` FROM clients WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return c, nil
}

// List orders the queue the way the intake screen shows it: high priority
// first, then oldest referral.
func (r *clientRepoPG) List(ctx context.Context, status ClientStatus) ([]*Client, error) {
	ds := dialect.From("clients").Prepared(true).
		Select(goqu.L(clientCols)).
		Order(
			goqu.L("CASE priority WHEN 'high' THEN 0 WHEN 'medium' THEN 1 ELSE 2 END").Asc(),
			goqu.C("created_at").Asc(),
			goqu.C("id").Asc(),
		)
	if status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(status)))
	}
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build client query: %w", err)
	}

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *clientRepoPG) UpdateStatus(ctx context.Context, id string, status ClientStatus) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE clients SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkScheduled only moves a client that is still queued, so of two
// transactions booking the same client the second updates nothing.
func (r *clientRepoPG) MarkScheduled(ctx context.Context, id string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE clients SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4)`,
		id, string(ClientScheduled), string(ClientPending), string(ClientActive))
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s is no longer queued", ErrClientNotPending, id)
	}
	return nil
}

func (r *clientRepoPG) Delete(ctx context.Context, id string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM clients WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// -- Appointments --

type appointmentRepoPG struct {
	pool db.Querier
	loc  *time.Location
}

// NewAppointmentRepoPG reads DATE columns back as midnight in loc.
func NewAppointmentRepoPG(pool db.Querier, loc *time.Location) AppointmentRepository {
	if loc == nil {
		loc = time.UTC
	}
	return &appointmentRepoPG{pool: pool, loc: loc}
}

func (r *appointmentRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

var apptCols = []any{
	"id", "client_id", "clinician_id", "appointment_type", "scheduled_date",
	"sequence", "status", "cancelled_at", "created_at",
}

func (r *appointmentRepoPG) scan(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var typ, status string
	err := row.Scan(&a.ID, &a.ClientID, &a.ClinicianID, &typ, &a.ScheduledDate,
		&a.Sequence, &status, &a.CancelledAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Type = engine.AppointmentType(typ)
	a.Status = AppointmentStatus(status)
	a.ScheduledDate = inZone(a.ScheduledDate, r.loc)
	return &a, nil
}

func (r *appointmentRepoPG) collect(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *appointmentRepoPG) ListByClinician(ctx context.Context, clinicianID string) ([]*Appointment, error) {
	query, args, err := dialect.From("appointments").Prepared(true).
		Select(apptCols...).
		Where(goqu.C("clinician_id").Eq(clinicianID)).
		Order(goqu.C("scheduled_date").Asc(), goqu.C("sequence").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build appointment query: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *appointmentRepoPG) Search(ctx context.Context, f AppointmentFilter) ([]*Appointment, int, error) {
	var where []exp.Expression
	if f.ClinicianID != "" {
		where = append(where, goqu.C("clinician_id").Eq(f.ClinicianID))
	}
	if f.ClientID != "" {
		where = append(where, goqu.C("client_id").Eq(f.ClientID))
	}
	if f.Type != "" {
		where = append(where, goqu.C("appointment_type").Eq(string(f.Type)))
	}
	if f.Status != "" {
		where = append(where, goqu.C("status").Eq(string(f.Status)))
	}
	if f.From != nil {
		where = append(where, goqu.C("scheduled_date").Gte(calendarDate(*f.From)))
	}
	if f.To != nil {
		where = append(where, goqu.C("scheduled_date").Lte(calendarDate(*f.To)))
	}

	base := dialect.From("appointments").Prepared(true).Where(where...)

	countSQL, countArgs, err := base.Select(goqu.COUNT(goqu.Star())).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build count query: %w", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	ds := base.Select(apptCols...).
		Order(goqu.C("scheduled_date").Asc(), goqu.C("clinician_id").Asc(), goqu.C("sequence").Asc())
	if f.Limit > 0 {
		ds = ds.Limit(uint(f.Limit))
	}
	if f.Offset > 0 {
		ds = ds.Offset(uint(f.Offset))
	}
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build appointment query: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// CreateBatch writes the plan with one multi-row INSERT, so a constraint
// violation on any row leaves none behind.
func (r *appointmentRepoPG) CreateBatch(ctx context.Context, appts []*Appointment) error {
	if len(appts) == 0 {
		return nil
	}
	rows := make([]any, 0, len(appts))
	for _, a := range appts {
		if a.Status == "" {
			a.Status = StatusBooked
		}
		rows = append(rows, goqu.Record{
			"id":               a.ID,
			"client_id":        a.ClientID,
			"clinician_id":     a.ClinicianID,
			"appointment_type": string(a.Type),
			"scheduled_date":   calendarDate(a.ScheduledDate),
			"sequence":         a.Sequence,
			"status":           string(a.Status),
		})
	}
	query, args, err := dialect.Insert("appointments").Prepared(true).
		Rows(rows...).
		Returning("id", "created_at").
		ToSQL()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	result, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return mapErr(err)
	}
	defer result.Close()
	created := make(map[string]time.Time, len(appts))
	for result.Next() {
		var id string
		var at time.Time
		if err := result.Scan(&id, &at); err != nil {
			return err
		}
		created[id] = at
	}
	if err := result.Err(); err != nil {
		return mapErr(err)
	}
	for _, a := range appts {
		a.CreatedAt = created[a.ID]
	}
	return nil
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id string, status AppointmentStatus) (*Appointment, error) {
	rec := goqu.Record{"status": string(status), "cancelled_at": nil}
	if status == StatusCancelled {
		rec["cancelled_at"] = goqu.L("NOW()")
	}
	query, args, err := dialect.Update("appointments").Prepared(true).
		Set(rec).
		Where(goqu.C("id").Eq(id)).
		Returning(apptCols...).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build update: %w", err)
	}
	a, err := r.scan(r.conn(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		return nil, mapErr(err)
	}
	return a, nil
}

func (r *appointmentRepoPG) DeleteByClient(ctx context.Context, clientID string) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM appointments WHERE client_id = $1`, clientID)
	if err != nil {
		return 0, mapErr(err)
	}
	return tag.RowsAffected(), nil
}

// -- Settings --

type settingsRepoPG struct{ pool db.Querier }

func NewSettingsRepoPG(pool db.Querier) SettingsRepository {
	return &settingsRepoPG{pool: pool}
}

func (r *settingsRepoPG) conn(ctx context.Context) queryable { return connFor(ctx, r.pool) }

func (r *settingsRepoPG) GetConstraints(ctx context.Context) (engine.Constraints, error) {
	var c engine.Constraints
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT daily_cap, weekly_cap, ax_weekly_cap, sp_weekly_cap, search_horizon_days
		FROM scheduling_settings WHERE id = 1`).
		Scan(&c.DailyCap, &c.WeeklyCap, &c.AXWeeklyCap, &c.SPWeeklyCap, &c.SearchHorizonDays)
	if err != nil {
		return engine.Constraints{}, mapErr(err)
	}
	return c, nil
}

func (r *settingsRepoPG) SaveConstraints(ctx context.Context, c engine.Constraints) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO scheduling_settings (id, daily_cap, weekly_cap, ax_weekly_cap, sp_weekly_cap, search_horizon_days)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			daily_cap = EXCLUDED.daily_cap,
			weekly_cap = EXCLUDED.weekly_cap,
			ax_weekly_cap = EXCLUDED.ax_weekly_cap,
			sp_weekly_cap = EXCLUDED.sp_weekly_cap,
			search_horizon_days = EXCLUDED.search_horizon_days,
			updated_at = NOW()`,
		c.DailyCap, c.WeeklyCap, c.AXWeeklyCap, c.SPWeeklyCap, c.SearchHorizonDays)
	return mapErr(err)
}
