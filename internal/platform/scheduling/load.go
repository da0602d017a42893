package scheduling

import "time"

// CountInWeek counts the clinician's appointments in the Sunday-start week
// containing weekStart.
func CountInWeek(appts []Appointment, clinicianID string, weekStart time.Time) int {
	n := 0
	for _, a := range appts {
		if a.ClinicianID == clinicianID && SameWeek(a.ScheduledDate, weekStart) {
			n++
		}
	}
	return n
}

// CountOnDay counts the clinician's appointments on date's calendar day.
// Time of day is ignored.
func CountOnDay(appts []Appointment, clinicianID string, date time.Time) int {
	n := 0
	for _, a := range appts {
		if a.ClinicianID == clinicianID && SameDay(a.ScheduledDate, date) {
			n++
		}
	}
	return n
}

// CountTypeInWeek is CountInWeek restricted to one appointment type.
func CountTypeInWeek(appts []Appointment, clinicianID string, weekStart time.Time, t AppointmentType) int {
	n := 0
	for _, a := range appts {
		if a.ClinicianID == clinicianID && a.Type == t && SameWeek(a.ScheduledDate, weekStart) {
			n++
		}
	}
	return n
}
