package scheduling

import (
	"context"
	"errors"
	"fmt"

	engine "github.com/rehabsim/scheduler/internal/platform/scheduling"
)

// SeedResult counts the rows Seed created. Rows that already existed are
// not counted.
type SeedResult struct {
	Clinicians   int `json:"clinicians"`
	Clients      int `json:"clients"`
	Appointments int `json:"appointments"`
}

var (
	sampleClinicians = []Clinician{
		{ID: "CLIN01", Name: "Clinician 01"},
		{ID: "CLIN02", Name: "Clinician 02"},
		{ID: "CLIN03", Name: "Clinician 03"},
	}
	sampleClients = []Client{
		{ID: "C0001", Name: "Client C0001", Priority: PriorityHigh, Status: ClientPending},
		{ID: "C0002", Name: "Client C0002", Priority: PriorityMedium, Status: ClientPending},
		{ID: "C0003", Name: "Client C0003", Priority: PriorityLow, Status: ClientPending},
		{ID: "C0004", Name: "Client C0004", Priority: PriorityHigh, Status: ClientCompleted},
		{ID: "C0005", Name: "Client C0005", Priority: PriorityMedium, Status: ClientCompleted},
	}
	samplePlans = []struct {
		clientID    string
		clinicianID string
		visits      int
	}{
		{"C0004", "CLIN01", engine.PlanSize},
		{"C0005", "CLIN02", 3},
	}
)

// sampleID numbers visits per type: C0004-AX-1, C0004-BLOCK-6.
func sampleID(clientID string, t engine.AppointmentType, seq int) string {
	n := 1
	if t == engine.TypeBlock {
		n = seq - 2
	}
	return fmt.Sprintf("%s-%s-%d", clientID, t, n)
}

// Seed loads the classroom sample roster: three clinicians, a pending queue
// of three clients and two clients with plans already on the calendar. It is
// safe to run repeatedly.
func (s *Service) Seed(ctx context.Context) (SeedResult, error) {
	var res SeedResult
	err := s.tx(ctx, func(ctx context.Context) error {
		for _, c := range sampleClinicians {
			c := c
			switch err := s.repos.Clinicians.Create(ctx, &c); {
			case err == nil:
				res.Clinicians++
			case !errors.Is(err, ErrAlreadyExists):
				return fmt.Errorf("seed clinician %s: %w", c.ID, err)
			}
		}
		for _, c := range sampleClients {
			c := c
			switch err := s.repos.Clients.Create(ctx, &c); {
			case err == nil:
				res.Clients++
			case !errors.Is(err, ErrAlreadyExists):
				return fmt.Errorf("seed client %s: %w", c.ID, err)
			}
		}

		cons, err := s.Constraints(ctx)
		if err != nil {
			return err
		}
		e := engine.NewEngine(
			engine.WithConstraints(cons),
			engine.WithReference(s.reference()),
			engine.WithIDFunc(sampleID),
		)
		for _, p := range samplePlans {
			_, n, err := s.repos.Appointments.Search(ctx, AppointmentFilter{ClientID: p.clientID, Limit: 1})
			if err != nil {
				return err
			}
			if n > 0 {
				continue
			}
			cal, err := s.calendar(ctx, p.clinicianID)
			if err != nil {
				return err
			}
			placed, err := e.PlaceCarePlan(cal, p.clientID, p.clinicianID, s.Today().AddDate(0, 0, 1))
			if err != nil {
				return fmt.Errorf("seed plan for %s: %w", p.clientID, err)
			}
			batch := make([]*Appointment, 0, p.visits)
			for _, a := range placed[:p.visits] {
				batch = append(batch, FromEngine(a))
			}
			if err := s.repos.Appointments.CreateBatch(ctx, batch); err != nil {
				return fmt.Errorf("seed plan for %s: %w", p.clientID, err)
			}
			res.Appointments += len(batch)
		}
		return nil
	})
	if err != nil {
		return SeedResult{}, err
	}
	s.log.Info().
		Int("clinicians", res.Clinicians).
		Int("clients", res.Clients).
		Int("appointments", res.Appointments).
		Msg("sample data seeded")
	return res, nil
}
