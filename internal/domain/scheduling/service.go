package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rehabsim/scheduler/internal/platform/auth"
	"github.com/rehabsim/scheduler/internal/platform/db"
	"github.com/rehabsim/scheduler/internal/platform/lock"
	"github.com/rehabsim/scheduler/internal/platform/metrics"
	engine "github.com/rehabsim/scheduler/internal/platform/scheduling"
)

// Repositories groups the stores a Service reads and writes.
type Repositories struct {
	Clinicians   ClinicianRepository
	Clients      ClientRepository
	Appointments AppointmentRepository
	Settings     SettingsRepository
}

// Options carries the deployment settings the engine is built from.
type Options struct {
	// Location decides which calendar day a timestamp belongs to.
	Location *time.Location
	// Anchor fixes week 1 of the cycle. When zero the current week is week 1.
	Anchor   time.Time
	Defaults engine.Constraints
	LockTTL  time.Duration
	Now      func() time.Time
	IDFunc   engine.IDFunc
}

type Service struct {
	repos   Repositories
	tx      TxFunc
	locker  lock.Locker
	metrics *metrics.SchedulingMetrics
	log     zerolog.Logger
	opts    Options
}

func NewService(repos Repositories, tx TxFunc, locker lock.Locker, m *metrics.SchedulingMetrics, log zerolog.Logger, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Defaults == (engine.Constraints{}) {
		opts.Defaults = engine.DefaultConstraints()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if tx == nil {
		tx = func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	return &Service{
		repos:   repos,
		tx:      tx,
		locker:  locker,
		metrics: m,
		log:     log.With().Str("component", "scheduling").Logger(),
		opts:    opts,
	}
}

// PgTx adapts db.RunInTx to TxFunc.
func PgTx(fallback db.Querier) TxFunc {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.RunInTx(ctx, fallback, fn)
	}
}

func (s *Service) Location() *time.Location { return s.opts.Location }

// Today is midnight of the current day in the scheduling zone.
func (s *Service) Today() time.Time {
	return engine.StartOfDay(s.opts.Now().In(s.opts.Location))
}

// Date keeps t's calendar day and moves it to the scheduling zone.
func (s *Service) Date(t time.Time) time.Time {
	return inZone(t, s.opts.Location)
}

func (s *Service) reference() time.Time {
	if s.opts.Anchor.IsZero() {
		return s.Today()
	}
	return s.Date(s.opts.Anchor)
}

// Constraints returns the cohort's saved caps, or the configured defaults
// until an instructor saves some.
func (s *Service) Constraints(ctx context.Context) (engine.Constraints, error) {
	c, err := s.repos.Settings.GetConstraints(ctx)
	if errors.Is(err, ErrNotFound) {
		return s.opts.Defaults, nil
	}
	if err != nil {
		return engine.Constraints{}, fmt.Errorf("load constraints: %w", err)
	}
	return c, nil
}

func (s *Service) SaveConstraints(ctx context.Context, c engine.Constraints) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := s.repos.Settings.SaveConstraints(ctx, c); err != nil {
		return fmt.Errorf("save constraints: %w", err)
	}
	s.log.Info().
		Str("cohort_id", db.CohortFromContext(ctx)).
		Str("user_id", auth.UserIDFromContext(ctx)).
		Int("daily_cap", c.DailyCap).
		Int("weekly_cap", c.WeeklyCap).
		Int("ax_weekly_cap", c.AXWeeklyCap).
		Int("sp_weekly_cap", c.SPWeeklyCap).
		Int("search_horizon_days", c.SearchHorizonDays).
		Msg("constraints updated")
	return nil
}

// Engine builds a rule engine from the cohort's current caps.
func (s *Service) Engine(ctx context.Context) (*engine.Engine, error) {
	cons, err := s.Constraints(ctx)
	if err != nil {
		return nil, err
	}
	return engine.NewEngine(
		engine.WithConstraints(cons),
		engine.WithReference(s.reference()),
		engine.WithIDFunc(s.opts.IDFunc),
	), nil
}

func (s *Service) CycleInfo(ctx context.Context, date time.Time) (engine.CycleInfo, error) {
	e, err := s.Engine(ctx)
	if err != nil {
		return engine.CycleInfo{}, err
	}
	return e.Cycle().Info(s.Date(date), e.Constraints()), nil
}

// calendar loads every appointment of one clinician in engine form.
func (s *Service) calendar(ctx context.Context, clinicianID string) ([]engine.Appointment, error) {
	if _, err := s.repos.Clinicians.Get(ctx, clinicianID); err != nil {
		return nil, fmt.Errorf("clinician %s: %w", clinicianID, err)
	}
	appts, err := s.repos.Appointments.ListByClinician(ctx, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("load calendar for %s: %w", clinicianID, err)
	}
	return toEngine(appts), nil
}

// CheckResult is a legality decision with its display message.
type CheckResult struct {
	Allowed   bool          `json:"allowed"`
	Reason    engine.Reason `json:"reason,omitempty"`
	Message   string        `json:"message,omitempty"`
	CycleWeek int           `json:"cycle_week"`
}

func (s *Service) Check(ctx context.Context, clinicianID string, date time.Time, typ engine.AppointmentType) (*CheckResult, error) {
	e, err := s.Engine(ctx)
	if err != nil {
		return nil, err
	}
	cal, err := s.calendar(ctx, clinicianID)
	if err != nil {
		return nil, err
	}
	d := e.CanSchedule(cal, clinicianID, s.Date(date), typ)
	if !d.Allowed {
		s.metrics.ObserveRejection(string(d.Reason))
	}
	return &CheckResult{
		Allowed:   d.Allowed,
		Reason:    d.Reason,
		Message:   d.Reason.Describe(e.Constraints(), d.CycleWeek),
		CycleWeek: d.CycleWeek,
	}, nil
}

type Slot struct {
	Date      time.Time
	CycleWeek int
}

// FindSlot returns engine.ErrSlotNotFound when the horizon holds no legal day.
func (s *Service) FindSlot(ctx context.Context, clinicianID string, start time.Time, typ engine.AppointmentType) (*Slot, error) {
	e, err := s.Engine(ctx)
	if err != nil {
		return nil, err
	}
	cal, err := s.calendar(ctx, clinicianID)
	if err != nil {
		return nil, err
	}
	day, ok := e.FindSlot(cal, clinicianID, s.Date(start), typ)
	if !ok {
		return nil, engine.ErrSlotNotFound
	}
	return &Slot{Date: day, CycleWeek: e.CycleWeek(day)}, nil
}

// PlanRequest asks for a care plan. A nil Start means tomorrow.
type PlanRequest struct {
	ClientID    string     `json:"client_id"`
	ClinicianID string     `json:"clinician_id"`
	Start       *time.Time `json:"start,omitempty"`
}

func (s *Service) startOf(req PlanRequest) time.Time {
	if req.Start != nil && !req.Start.IsZero() {
		return s.Date(*req.Start)
	}
	return s.Today().AddDate(0, 0, 1)
}

func (s *Service) placeFor(ctx context.Context, mode string, req PlanRequest) ([]*Appointment, error) {
	began := s.opts.Now()
	client, err := s.repos.Clients.Get(ctx, req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("client %s: %w", req.ClientID, err)
	}
	if !client.Status.Queued() {
		return nil, fmt.Errorf("%w: %s is %s", ErrClientNotPending, client.ID, client.Status)
	}

	e, err := s.Engine(ctx)
	if err != nil {
		return nil, err
	}
	cal, err := s.calendar(ctx, req.ClinicianID)
	if err != nil {
		return nil, err
	}

	placed, err := e.PlaceCarePlan(cal, req.ClientID, req.ClinicianID, s.startOf(req))
	elapsed := s.opts.Now().Sub(began)
	if err != nil {
		var pe *engine.PlacementError
		if errors.As(err, &pe) {
			s.metrics.ObservePlacement(mode, string(pe.Stage), elapsed)
			s.log.Warn().
				Str("client_id", req.ClientID).
				Str("clinician_id", req.ClinicianID).
				Str("stage", string(pe.Stage)).
				Str("mode", mode).
				Msg("care plan placement failed")
		}
		return nil, err
	}

	out := make([]*Appointment, 0, len(placed))
	for _, a := range placed {
		out = append(out, FromEngine(a))
	}
	s.metrics.ObservePlacement(mode, "", elapsed)
	return out, nil
}

// PreviewCarePlan places a plan without storing it.
func (s *Service) PreviewCarePlan(ctx context.Context, req PlanRequest) ([]*Appointment, error) {
	return s.placeFor(ctx, "preview", req)
}

// BookCarePlan places and stores a plan while holding the clinician's lock,
// then marks the client scheduled. A held lock returns lock.ErrLockHeld.
func (s *Service) BookCarePlan(ctx context.Context, req PlanRequest) ([]*Appointment, error) {
	key := lock.ClinicianKey(db.CohortFromContext(ctx), req.ClinicianID)
	lease, err := s.locker.Acquire(ctx, key, s.opts.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrLockHeld) {
			s.metrics.ObserveLockContention()
		}
		return nil, err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("release lock")
		}
	}()

	plan, err := s.placeFor(ctx, "book", req)
	if err != nil {
		return nil, err
	}

	// The clinician lock does not cover the client: a second booking for the
	// same client with another clinician loses the claim and rolls back.
	err = s.tx(ctx, func(ctx context.Context) error {
		if err := s.repos.Clients.MarkScheduled(ctx, req.ClientID); err != nil {
			return err
		}
		if err := s.repos.Appointments.CreateBatch(ctx, plan); err != nil {
			return fmt.Errorf("store care plan: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("cohort_id", db.CohortFromContext(ctx)).
		Str("user_id", auth.UserIDFromContext(ctx)).
		Str("client_id", req.ClientID).
		Str("clinician_id", req.ClinicianID).
		Time("first_visit", plan[0].ScheduledDate).
		Time("last_visit", plan[len(plan)-1].ScheduledDate).
		Msg("care plan booked")
	return plan, nil
}

// -- Roster --

func (s *Service) ListClinicians(ctx context.Context) ([]*Clinician, error) {
	return s.repos.Clinicians.List(ctx)
}

func (s *Service) CreateClinician(ctx context.Context, c *Clinician) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return s.repos.Clinicians.Create(ctx, c)
}

// DeleteClinician also removes the clinician's appointments.
func (s *Service) DeleteClinician(ctx context.Context, id string) error {
	return s.repos.Clinicians.Delete(ctx, id)
}

func (s *Service) ListClients(ctx context.Context, status ClientStatus) ([]*Client, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: invalid client status %q", ErrInvalid, status)
	}
	return s.repos.Clients.List(ctx, status)
}

func (s *Service) CreateClient(ctx context.Context, c *Client) error {
	if err := c.Validate(); err != nil {
		return err
	}
	return s.repos.Clients.Create(ctx, c)
}

func (s *Service) DeleteClient(ctx context.Context, id string) error {
	return s.repos.Clients.Delete(ctx, id)
}

// UpdateClientStatus moves a client through the queue. Returning a client to
// pending discards their booked plan so it can be placed again.
func (s *Service) UpdateClientStatus(ctx context.Context, id string, status ClientStatus) (*Client, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: invalid client status %q", ErrInvalid, status)
	}
	err := s.tx(ctx, func(ctx context.Context) error {
		if status == ClientPending {
			n, err := s.repos.Appointments.DeleteByClient(ctx, id)
			if err != nil {
				return fmt.Errorf("discard plan: %w", err)
			}
			if n > 0 {
				s.log.Info().Str("client_id", id).Int64("appointments", n).Msg("care plan discarded")
			}
		}
		return s.repos.Clients.UpdateStatus(ctx, id, status)
	})
	if err != nil {
		return nil, err
	}
	return s.repos.Clients.Get(ctx, id)
}

// -- Appointments --

func (s *Service) SearchAppointments(ctx context.Context, f AppointmentFilter) ([]*Appointment, int, error) {
	return s.repos.Appointments.Search(ctx, f)
}

func (s *Service) UpdateAppointmentStatus(ctx context.Context, id string, status AppointmentStatus) (*Appointment, error) {
	a, err := s.repos.Appointments.UpdateStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.log.Info().
		Str("user_id", auth.UserIDFromContext(ctx)).
		Str("appointment_id", id).
		Str("status", string(status)).
		Msg("appointment status changed")
	return a, nil
}
