package scheduling

import (
	"fmt"
	"time"
)

// Reason classifies why a candidate slot was rejected.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonDailyLimit        Reason = "DAILY_LIMIT"
	ReasonWeeklyLimit       Reason = "WEEKLY_LIMIT"
	ReasonAXInPlanningWeek  Reason = "AX_NOT_IN_PLANNING_WEEK"
	ReasonSPOutsidePlanning Reason = "SP_ONLY_IN_PLANNING_WEEK"
	ReasonAXTypeLimit       Reason = "AX_TYPE_LIMIT"
	ReasonSPTypeLimit       Reason = "SP_TYPE_LIMIT"
)

// Describe renders a reason for people. cycleWeek is only used by AX_TYPE_LIMIT.
func (r Reason) Describe(c Constraints, cycleWeek int) string {
	switch r {
	case ReasonDailyLimit:
		return fmt.Sprintf("Daily limit reached (%d appointments)", c.DailyCap)
	case ReasonWeeklyLimit:
		return fmt.Sprintf("Weekly limit reached (%d appointments)", c.WeeklyCap)
	case ReasonAXInPlanningWeek:
		return fmt.Sprintf("Assessments cannot be scheduled in week %d of the cycle", PlanningWeek)
	case ReasonSPOutsidePlanning:
		return fmt.Sprintf("Service Planning can only be scheduled in week %d of the cycle", PlanningWeek)
	case ReasonAXTypeLimit:
		return fmt.Sprintf("AX limit reached for week %d (max %d)", cycleWeek, c.AXWeeklyCap)
	case ReasonSPTypeLimit:
		return fmt.Sprintf("SP limit reached for week %d (max %d)", PlanningWeek, c.SPWeeklyCap)
	case ReasonNone:
		return ""
	}
	return string(r)
}

// Decision is the result of a legality check.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Reason    Reason `json:"reason,omitempty"`
	CycleWeek int    `json:"cycle_week"`
}

func reject(r Reason, week int) Decision {
	return Decision{Reason: r, CycleWeek: week}
}

// CanSchedule decides whether clinicianID may take an appointment of type t
// on date, given appts. Checks short-circuit in a fixed order: day cap, week
// cap, then the cycle gating and per-type cap for AX and SP.
func (e *Engine) CanSchedule(appts []Appointment, clinicianID string, date time.Time, t AppointmentType) Decision {
	weekStart := WeekStart(date)
	week := e.cycle.Week(date)

	if CountOnDay(appts, clinicianID, date) >= e.cons.DailyCap {
		return reject(ReasonDailyLimit, week)
	}
	if CountInWeek(appts, clinicianID, weekStart) >= e.cons.WeeklyCap {
		return reject(ReasonWeeklyLimit, week)
	}

	switch t {
	case TypeAX:
		if week == PlanningWeek {
			return reject(ReasonAXInPlanningWeek, week)
		}
		if CountTypeInWeek(appts, clinicianID, weekStart, TypeAX) >= e.cons.AXWeeklyCap {
			return reject(ReasonAXTypeLimit, week)
		}
	case TypeSP:
		if week != PlanningWeek {
			return reject(ReasonSPOutsidePlanning, week)
		}
		if CountTypeInWeek(appts, clinicianID, weekStart, TypeSP) >= e.cons.SPWeeklyCap {
			return reject(ReasonSPTypeLimit, week)
		}
	}

	return Decision{Allowed: true, CycleWeek: week}
}
