package scheduling

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// IDFunc assigns an ID to an appointment created by the placer.
type IDFunc func(clientID string, t AppointmentType, sequence int) string

// DefaultID produces "<client>-<TYPE>-<seq>-<uuid>".
func DefaultID(clientID string, t AppointmentType, sequence int) string {
	return fmt.Sprintf("%s-%s-%d-%s", clientID, t, sequence, uuid.NewString())
}

// Engine carries the configuration every rule needs. It holds no mutable
// state, so one value may be shared across goroutines.
type Engine struct {
	cons  Constraints
	cycle Cycle
	newID IDFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithConstraints overrides DefaultConstraints.
func WithConstraints(c Constraints) Option {
	return func(e *Engine) { e.cons = c }
}

// WithReference anchors the cycle on the week containing ref.
func WithReference(ref time.Time) Option {
	return func(e *Engine) { e.cycle = NewCycle(ref) }
}

// WithIDFunc replaces DefaultID.
func WithIDFunc(fn IDFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// NewEngine builds an engine. Without WithReference the cycle is anchored on
// the current week at construction time.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		cons:  DefaultConstraints(),
		cycle: NewCycle(time.Now()),
		newID: DefaultID,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Constraints returns the caps in effect.
func (e *Engine) Constraints() Constraints { return e.cons }

// Cycle returns the cycle calculator in effect.
func (e *Engine) Cycle() Cycle { return e.cycle }

// CycleWeek is shorthand for e.Cycle().Week(date).
func (e *Engine) CycleWeek(date time.Time) int { return e.cycle.Week(date) }
