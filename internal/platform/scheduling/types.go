// Package scheduling implements the appointment-placement rule engine: the
// rotating three-week cycle, per-clinician load caps, slot search and the
// greedy 8-visit care-plan placer. Everything here is a pure function over an
// in-memory slice of appointments; persistence and locking live elsewhere.
package scheduling

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// AppointmentType is the closed set of visit kinds the engine understands.
type AppointmentType string

const (
	TypeAX    AppointmentType = "AX"
	TypeSP    AppointmentType = "SP"
	TypeBlock AppointmentType = "BLOCK"
)

// ErrInvalidAppointmentType is returned by ParseAppointmentType for anything
// outside {AX, SP, BLOCK}.
var ErrInvalidAppointmentType = errors.New("invalid appointment type")

// ParseAppointmentType validates and normalises a wire value.
func ParseAppointmentType(s string) (AppointmentType, error) {
	switch t := AppointmentType(strings.ToUpper(strings.TrimSpace(s))); t {
	case TypeAX, TypeSP, TypeBlock:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAppointmentType, s)
	}
}

// Name returns the display name used by the simulator.
func (t AppointmentType) Name() string {
	switch t {
	case TypeAX:
		return "Assessment"
	case TypeSP:
		return "Service Planning"
	case TypeBlock:
		return "Therapy Block"
	}
	return string(t)
}

// Appointment is the only entity the engine reads and writes. Only the
// calendar day of ScheduledDate is significant.
type Appointment struct {
	ID            string          `json:"id"`
	ClientID      string          `json:"client_id"`
	ClinicianID   string          `json:"clinician_id"`
	Type          AppointmentType `json:"appointment_type"`
	ScheduledDate time.Time       `json:"scheduled_date"`
	Sequence      int             `json:"sequence"`
}

// Constraints holds the capacity caps applied by the legality checker.
type Constraints struct {
	DailyCap          int `json:"daily_cap"`
	WeeklyCap         int `json:"weekly_cap"`
	AXWeeklyCap       int `json:"ax_weekly_cap"`
	SPWeeklyCap       int `json:"sp_weekly_cap"`
	SearchHorizonDays int `json:"search_horizon_days"`
}

// DefaultConstraints returns the simulator's stock caps.
func DefaultConstraints() Constraints {
	return Constraints{
		DailyCap:          4,
		WeeklyCap:         20,
		AXWeeklyCap:       3,
		SPWeeklyCap:       6,
		SearchHorizonDays: 90,
	}
}

// MaxSearchHorizonDays bounds how far FindSlot may walk forward.
const MaxSearchHorizonDays = 366

// Validate rejects caps that would make every slot illegal or the search
// degenerate.
func (c Constraints) Validate() error {
	checks := []struct {
		name string
		v    int
	}{
		{"daily_cap", c.DailyCap},
		{"weekly_cap", c.WeeklyCap},
		{"ax_weekly_cap", c.AXWeeklyCap},
		{"sp_weekly_cap", c.SPWeeklyCap},
		{"search_horizon_days", c.SearchHorizonDays},
	}
	for _, ck := range checks {
		if ck.v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", ck.name, ck.v)
		}
	}
	if c.SearchHorizonDays > MaxSearchHorizonDays {
		return fmt.Errorf("search_horizon_days must be at most %d, got %d", MaxSearchHorizonDays, c.SearchHorizonDays)
	}
	return nil
}
