package scheduling

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	engine "github.com/rehabsim/scheduler/internal/platform/scheduling"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrInvalid          = errors.New("invalid request")
	ErrClientNotPending = errors.New("client is not awaiting scheduling")
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Clinician is a member of the cohort's roster. IDs are chosen by the
// instructor, e.g. CLIN01.
type Clinician struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *Clinician) Validate() error {
	if !idPattern.MatchString(c.ID) {
		return fmt.Errorf("%w: clinician id must match %s", ErrInvalid, idPattern)
	}
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		c.Name = c.ID
	}
	return nil
}

type ClientStatus string

const (
	ClientPending   ClientStatus = "pending"
	ClientActive    ClientStatus = "active"
	ClientScheduled ClientStatus = "scheduled"
	ClientCompleted ClientStatus = "completed"
)

func (s ClientStatus) Valid() bool {
	switch s {
	case ClientPending, ClientActive, ClientScheduled, ClientCompleted:
		return true
	}
	return false
}

// Queued reports whether the client is still waiting for a care plan.
func (s ClientStatus) Queued() bool {
	return s == ClientPending || s == ClientActive
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// Client is a referred child awaiting or receiving a care plan.
type Client struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Priority  Priority     `json:"priority"`
	Status    ClientStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (c *Client) Validate() error {
	if !idPattern.MatchString(c.ID) {
		return fmt.Errorf("%w: client id must match %s", ErrInvalid, idPattern)
	}
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		c.Name = "Client " + c.ID
	}
	if c.Priority == "" {
		c.Priority = PriorityMedium
	}
	if !c.Priority.Valid() {
		return fmt.Errorf("%w: invalid priority %q", ErrInvalid, c.Priority)
	}
	if c.Status == "" {
		c.Status = ClientPending
	}
	if !c.Status.Valid() {
		return fmt.Errorf("%w: invalid client status %q", ErrInvalid, c.Status)
	}
	return nil
}

type AppointmentStatus string

const (
	StatusBooked    AppointmentStatus = "Booked"
	StatusCompleted AppointmentStatus = "Completed"
	StatusCancelled AppointmentStatus = "Cancelled"
	StatusNoShow    AppointmentStatus = "No-Show"
)

// ParseAppointmentStatus accepts any casing and the "noshow" spelling.
func ParseAppointmentStatus(s string) (AppointmentStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "booked":
		return StatusBooked, nil
	case "completed":
		return StatusCompleted, nil
	case "cancelled", "canceled":
		return StatusCancelled, nil
	case "no-show", "noshow", "no_show":
		return StatusNoShow, nil
	}
	return "", fmt.Errorf("%w: invalid appointment status %q", ErrInvalid, s)
}

// Appointment is a persisted engine appointment plus its lifecycle status.
type Appointment struct {
	ID            string                 `json:"id"`
	ClientID      string                 `json:"client_id"`
	ClinicianID   string                 `json:"clinician_id"`
	Type          engine.AppointmentType `json:"appointment_type"`
	ScheduledDate time.Time              `json:"scheduled_date"`
	Sequence      int                    `json:"sequence"`
	Status        AppointmentStatus      `json:"status"`
	CancelledAt   *time.Time             `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// Engine returns the fields the rule engine reads.
func (a *Appointment) Engine() engine.Appointment {
	return engine.Appointment{
		ID:            a.ID,
		ClientID:      a.ClientID,
		ClinicianID:   a.ClinicianID,
		Type:          a.Type,
		ScheduledDate: a.ScheduledDate,
		Sequence:      a.Sequence,
	}
}

// FromEngine wraps a freshly placed appointment as Booked.
func FromEngine(e engine.Appointment) *Appointment {
	return &Appointment{
		ID:            e.ID,
		ClientID:      e.ClientID,
		ClinicianID:   e.ClinicianID,
		Type:          e.Type,
		ScheduledDate: e.ScheduledDate,
		Sequence:      e.Sequence,
		Status:        StatusBooked,
	}
}

// Every appointment counts against capacity whatever its status.
func toEngine(appts []*Appointment) []engine.Appointment {
	out := make([]engine.Appointment, 0, len(appts))
	for _, a := range appts {
		out = append(out, a.Engine())
	}
	return out
}

// AppointmentFilter narrows Search. Zero fields are ignored. From and To are
// inclusive calendar dates.
type AppointmentFilter struct {
	ClinicianID string
	ClientID    string
	Type        engine.AppointmentType
	Status      AppointmentStatus
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

// calendarDate keeps t's calendar day and drops its zone. Used when a date
// crosses into Postgres DATE columns.
func calendarDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// inZone reinterprets a DATE read from Postgres as midnight in loc.
func inZone(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
