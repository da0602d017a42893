package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/rehabsim/scheduler/internal/domain/scheduling"
	engine "github.com/rehabsim/scheduler/internal/platform/scheduling"
)

// Source is the read side of the scheduling service.
type Source interface {
	Engine(ctx context.Context) (*engine.Engine, error)
	Today() time.Time
	ListClinicians(ctx context.Context) ([]*scheduling.Clinician, error)
	ListClients(ctx context.Context, status scheduling.ClientStatus) ([]*scheduling.Client, error)
	SearchAppointments(ctx context.Context, f scheduling.AppointmentFilter) ([]*scheduling.Appointment, int, error)
}

type Service struct {
	src Source
}

func NewService(src Source) *Service {
	return &Service{src: src}
}

func (s *Service) appointments(ctx context.Context, f scheduling.AppointmentFilter) ([]*scheduling.Appointment, error) {
	items, _, err := s.src.SearchAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	return items, nil
}

func (s *Service) Weekly(ctx context.Context) (WeeklyReport, error) {
	e, err := s.src.Engine(ctx)
	if err != nil {
		return WeeklyReport{}, err
	}
	clinicians, err := s.src.ListClinicians(ctx)
	if err != nil {
		return WeeklyReport{}, fmt.Errorf("load clinicians: %w", err)
	}
	today := s.src.Today()
	from := engine.WeekStart(today).AddDate(0, 0, -7*weeksBefore)
	to := engine.WeekStart(today).AddDate(0, 0, 7*weeksAfter+6)
	appts, err := s.appointments(ctx, scheduling.AppointmentFilter{From: &from, To: &to})
	if err != nil {
		return WeeklyReport{}, err
	}
	return Weekly(e, appts, clinicians, today), nil
}

func (s *Service) Descriptive(ctx context.Context) (Descriptive, error) {
	clients, err := s.src.ListClients(ctx, "")
	if err != nil {
		return Descriptive{}, fmt.Errorf("load clients: %w", err)
	}
	appts, err := s.appointments(ctx, scheduling.AppointmentFilter{})
	if err != nil {
		return Descriptive{}, err
	}
	return Describe(appts, clients, s.src.Today()), nil
}

func (s *Service) Clinicians(ctx context.Context) ([]ClinicianStats, error) {
	e, err := s.src.Engine(ctx)
	if err != nil {
		return nil, err
	}
	clinicians, err := s.src.ListClinicians(ctx)
	if err != nil {
		return nil, fmt.Errorf("load clinicians: %w", err)
	}
	appts, err := s.appointments(ctx, scheduling.AppointmentFilter{})
	if err != nil {
		return nil, err
	}
	return Clinicians(e.Constraints(), appts, clinicians, s.src.Today()), nil
}
