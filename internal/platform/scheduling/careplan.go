package scheduling

import (
	"errors"
	"fmt"
	"time"
)

// PlanSize is the number of visits in a care plan: 1 AX, 1 SP, 6 BLOCK.
const PlanSize = 8

// BlocksPerPlan is the number of therapy blocks in a care plan.
const BlocksPerPlan = 6

// ErrSlotNotFound means the search horizon was exhausted.
var ErrSlotNotFound = errors.New("no legal slot within search horizon")

// Stage names the placement step that failed: AX, SP or BLOCK_1..BLOCK_6.
type Stage string

const (
	StageAX Stage = "AX"
	StageSP Stage = "SP"
)

// BlockStage returns the stage name of the i-th block (1-based).
func BlockStage(i int) Stage {
	return Stage(fmt.Sprintf("BLOCK_%d", i))
}

// PlacementError reports which stage of a care plan could not be placed.
type PlacementError struct {
	Stage Stage
	Err   error
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("place care plan: stage %s: %v", e.Stage, e.Err)
}

func (e *PlacementError) Unwrap() error { return e.Err }

// Describe renders the failure the way the simulator shows it.
func (e *PlacementError) Describe() string {
	switch e.Stage {
	case StageAX:
		return fmt.Sprintf("Could not find available slot for %s (%s)", TypeAX.Name(), TypeAX)
	case StageSP:
		return fmt.Sprintf("Could not find available slot for %s (%s)", TypeSP.Name(), TypeSP)
	}
	var n int
	if _, err := fmt.Sscanf(string(e.Stage), "BLOCK_%d", &n); err == nil {
		return fmt.Sprintf("Could not find available slot for Block session %d", n)
	}
	return e.Error()
}

type planStep struct {
	kind     AppointmentType
	sequence int
	stage    Stage
}

// planShape is the fixed visit order of every care plan.
var planShape = func() []planStep {
	steps := []planStep{
		{kind: TypeAX, sequence: 1, stage: StageAX},
		{kind: TypeSP, sequence: 2, stage: StageSP},
	}
	for i := 1; i <= BlocksPerPlan; i++ {
		steps = append(steps, planStep{kind: TypeBlock, sequence: 2 + i, stage: BlockStage(i)})
	}
	return steps
}()

// placement is the value folded over planShape: everything booked so far and
// where the next search starts.
type placement struct {
	known  []Appointment
	placed []Appointment
	cursor time.Time
}

// PlaceCarePlan greedily books AX, SP and six BLOCK visits for clientID with
// clinicianID, each in the nearest legal slot on or after the day following
// the previous placement. Earlier placements count against later capacity
// checks. existing is never modified. On any stage failure the whole plan is
// abandoned and a *PlacementError wrapping ErrSlotNotFound is returned.
func (e *Engine) PlaceCarePlan(existing []Appointment, clientID, clinicianID string, start time.Time) ([]Appointment, error) {
	state := placement{
		known:  existing,
		placed: make([]Appointment, 0, PlanSize),
		cursor: start,
	}
	for _, step := range planShape {
		next, err := e.placeStep(state, step, clientID, clinicianID)
		if err != nil {
			return nil, err
		}
		state = next
	}
	return state.placed, nil
}

func (e *Engine) placeStep(state placement, step planStep, clientID, clinicianID string) (placement, error) {
	day, ok := e.FindSlot(state.known, clinicianID, state.cursor, step.kind)
	if !ok {
		return state, &PlacementError{Stage: step.stage, Err: ErrSlotNotFound}
	}
	appt := Appointment{
		ID:            e.newID(clientID, step.kind, step.sequence),
		ClientID:      clientID,
		ClinicianID:   clinicianID,
		Type:          step.kind,
		ScheduledDate: day,
		Sequence:      step.sequence,
	}

	// Copy so neither the caller's slice nor an earlier snapshot is aliased.
	known := make([]Appointment, len(state.known), len(state.known)+1)
	copy(known, state.known)

	return placement{
		known:  append(known, appt),
		placed: append(state.placed, appt),
		cursor: day.AddDate(0, 0, 1),
	}, nil
}
