package scheduling

import (
	"context"

	engine "github.com/rehabsim/scheduler/internal/platform/scheduling"
)

type ClinicianRepository interface {
	Create(ctx context.Context, c *Clinician) error
	Get(ctx context.Context, id string) (*Clinician, error)
	List(ctx context.Context) ([]*Clinician, error)
	Delete(ctx context.Context, id string) error
}

type ClientRepository interface {
	Create(ctx context.Context, c *Client) error
	Get(ctx context.Context, id string) (*Client, error)
	// List returns every client when status is empty.
	List(ctx context.Context, status ClientStatus) ([]*Client, error)
	UpdateStatus(ctx context.Context, id string, status ClientStatus) error
	// MarkScheduled claims a queued client for a care plan. It returns
	// ErrClientNotPending when the client is no longer pending or active.
	MarkScheduled(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

type AppointmentRepository interface {
	ListByClinician(ctx context.Context, clinicianID string) ([]*Appointment, error)
	Search(ctx context.Context, f AppointmentFilter) ([]*Appointment, int, error)
	// CreateBatch inserts all appointments or none.
	CreateBatch(ctx context.Context, appts []*Appointment) error
	UpdateStatus(ctx context.Context, id string, status AppointmentStatus) (*Appointment, error)
	DeleteByClient(ctx context.Context, clientID string) (int64, error)
}

type SettingsRepository interface {
	// GetConstraints returns ErrNotFound until an instructor saves caps.
	GetConstraints(ctx context.Context) (engine.Constraints, error)
	SaveConstraints(ctx context.Context, c engine.Constraints) error
}

// TxFunc runs fn atomically. Repositories called with the ctx passed to fn
// join the transaction.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error
