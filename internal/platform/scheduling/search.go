package scheduling

import "time"

// FindSlot scans forward one calendar day at a time from start (inclusive)
// for at most SearchHorizonDays days, skipping weekends, and returns the
// first date CanSchedule allows. ok is false when the horizon is exhausted.
func (e *Engine) FindSlot(appts []Appointment, clinicianID string, start time.Time, t AppointmentType) (time.Time, bool) {
	day := start
	for i := 0; i < e.cons.SearchHorizonDays; i++ {
		if IsWeekday(day) && e.CanSchedule(appts, clinicianID, day, t).Allowed {
			return day, true
		}
		day = day.AddDate(0, 0, 1)
	}
	return time.Time{}, false
}
