package scheduling

import "time"

// PlanningWeek is the cycle position in which SP is allowed and AX is not.
const PlanningWeek = 3

const cycleLength = 3

// Cycle maps calendar dates onto the rotating three-week cycle. The
// reference date fixes which week is week 1.
type Cycle struct {
	Reference time.Time
}

// NewCycle anchors the rotation on the week containing ref.
func NewCycle(ref time.Time) Cycle {
	return Cycle{Reference: WeekStart(ref)}
}

// WeekStart returns midnight of the Sunday that begins t's week, in t's location.
func WeekStart(t time.Time) time.Time {
	d := StartOfDay(t)
	return d.AddDate(0, 0, -int(d.Weekday()))
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDay reports whether a and b fall on the same calendar day in b's location.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.In(b.Location()).Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// SameWeek reports whether a falls in the Sunday-start week containing b,
// evaluated in b's location.
func SameWeek(a, b time.Time) bool {
	return WeekStart(a.In(b.Location())).Equal(WeekStart(b))
}

// IsWeekday is true Monday through Friday.
func IsWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// Week returns the cycle position of date: 1, 2 or 3.
func (c Cycle) Week(date time.Time) int {
	n := weeksBetween(WeekStart(c.Reference), WeekStart(date))
	return ((n%cycleLength)+cycleLength)%cycleLength + 1
}

// weeksBetween counts whole weeks from a to b using calendar days, so a DST
// transition between the two Sundays does not shift the result.
func weeksBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.In(a.Location()).Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	days := int(db.Sub(da).Hours() / 24)
	if days < 0 {
		return -((-days + 6) / 7)
	}
	return days / 7
}

// CycleInfo describes a week of the cycle for display.
type CycleInfo struct {
	Week        int             `json:"week"`
	WeekStart   time.Time       `json:"week_start"`
	AllowedType AppointmentType `json:"allowed_type"`
	TypeCap     int             `json:"type_cap"`
}

// Info reports which gated type is bookable in date's cycle week and its cap.
func (c Cycle) Info(date time.Time, cons Constraints) CycleInfo {
	info := CycleInfo{Week: c.Week(date), WeekStart: WeekStart(date)}
	if info.Week == PlanningWeek {
		info.AllowedType = TypeSP
		info.TypeCap = cons.SPWeeklyCap
	} else {
		info.AllowedType = TypeAX
		info.TypeCap = cons.AXWeeklyCap
	}
	return info
}
