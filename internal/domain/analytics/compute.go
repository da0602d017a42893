package analytics

import (
	"strings"
	"time"

	"github.com/rehabsim/scheduler/internal/domain/scheduling"
	engine "github.com/rehabsim/scheduler/internal/platform/scheduling"
)

// Weekly reports utilisation for the four weeks before today's week through
// the eight weeks after it. Capacity is the weekly cap times the number of
// clinicians, with a floor of one clinician.
func Weekly(e *engine.Engine, appts []*scheduling.Appointment, clinicians []*scheduling.Clinician, today time.Time) WeeklyReport {
	n := len(clinicians)
	if n == 0 {
		n = 1
	}
	capacity := e.Constraints().WeeklyCap * n
	current := engine.WeekStart(today)

	report := WeeklyReport{Weeks: make([]WeekUtilization, 0, weeksBefore+weeksAfter+1)}
	for i := -weeksBefore; i <= weeksAfter; i++ {
		start := current.AddDate(0, 0, 7*i)
		w := WeekUtilization{
			WeekStart: start,
			WeekEnd:   start.AddDate(0, 0, 6),
			CycleWeek: e.CycleWeek(start),
			Capacity:  capacity,
			IsCurrent: i == 0,
			IsPast:    i < 0,
		}

		perClinician := make(map[string]int)
		for _, a := range appts {
			if !engine.SameWeek(a.ScheduledDate, start) {
				continue
			}
			w.Total++
			perClinician[a.ClinicianID]++
			switch a.Type {
			case engine.TypeAX:
				w.AXCount++
			case engine.TypeSP:
				w.SPCount++
			case engine.TypeBlock:
				w.BlockCount++
			}
		}
		w.ClinicianCounts = make([]ClinicianCount, 0, len(clinicians))
		for _, c := range clinicians {
			w.ClinicianCounts = append(w.ClinicianCounts, ClinicianCount{ClinicianID: c.ID, Name: c.Name, Count: perClinician[c.ID]})
		}

		w.Utilization = min(percent(w.Total, capacity), 100)
		w.Level = Level(w.Utilization)
		report.Weeks = append(report.Weeks, w)
	}

	for i := range report.Weeks {
		w := &report.Weeks[i]
		if !w.IsPast {
			report.Overall.TotalScheduled += w.Total
			report.Overall.TotalCapacity += w.Capacity
		}
		if report.Overall.PeakWeek == nil || w.Utilization > report.Overall.PeakWeek.Utilization {
			report.Overall.PeakWeek = w
		}
	}
	report.Overall.AvgUtilization = percent(report.Overall.TotalScheduled, report.Overall.TotalCapacity)
	return report
}

func percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

type visitStatus int

const (
	visitOther visitStatus = iota
	visitBooked
	visitCompleted
	visitCancelled
	visitNoShow
)

// classify reads the status loosely: any status mentioning cancel, or a
// cancellation timestamp, counts as cancelled.
func classify(a *scheduling.Appointment) visitStatus {
	raw := strings.ToLower(string(a.Status))
	switch {
	case strings.Contains(raw, "cancel") || a.CancelledAt != nil:
		return visitCancelled
	case raw == "completed":
		return visitCompleted
	case raw == "no-show" || raw == "noshow":
		return visitNoShow
	case raw == "booked":
		return visitBooked
	}
	return visitOther
}

// Describe summarises the caseload. A client counts as discharged when their
// record is completed or every one of their visits has ended (completed,
// no-show or cancelled).
func Describe(appts []*scheduling.Appointment, clients []*scheduling.Client, now time.Time) Descriptive {
	var d Descriptive
	ids := make(map[string]struct{})
	for _, c := range clients {
		ids[c.ID] = struct{}{}
	}

	firstVisit := make(map[string]time.Time)
	intake := make(map[string]struct{})
	planning := make(map[string]struct{})
	visits := make(map[string]int)
	ended := make(map[string]int)

	for _, a := range appts {
		st := classify(a)
		switch st {
		case visitCancelled:
			d.StatusBreakdown.Cancelled++
		case visitCompleted:
			d.StatusBreakdown.Completed++
		case visitNoShow:
			d.StatusBreakdown.NoShow++
		case visitBooked:
			d.StatusBreakdown.Booked++
		default:
			d.StatusBreakdown.Other++
		}
		if a.ClientID == "" {
			continue
		}
		ids[a.ClientID] = struct{}{}
		visits[a.ClientID]++
		if st == visitCancelled || st == visitCompleted || st == visitNoShow {
			ended[a.ClientID]++
		}
		switch a.Type {
		case engine.TypeAX:
			intake[a.ClientID] = struct{}{}
		case engine.TypeSP:
			planning[a.ClientID] = struct{}{}
		}
		if first, ok := firstVisit[a.ClientID]; !ok || a.ScheduledDate.Before(first) {
			firstVisit[a.ClientID] = a.ScheduledDate
		}
	}

	cutoff := now.AddDate(0, 0, -30)
	for _, first := range firstVisit {
		if !first.Before(cutoff) {
			d.NewIntakes30Days++
		}
	}

	discharged := make(map[string]struct{})
	for _, c := range clients {
		if c.Status == scheduling.ClientCompleted {
			discharged[c.ID] = struct{}{}
		}
	}
	for id, n := range visits {
		if n > 0 && ended[id] == n {
			discharged[id] = struct{}{}
		}
	}

	d.TotalClients = len(ids)
	d.ClientsWithIntake = len(intake)
	d.ClientsWithPlanning = len(planning)
	d.DischargedCount = len(discharged)
	d.IntakeToDischargeRate = percent(d.DischargedCount, d.ClientsWithIntake)
	d.PlanningToDischargeRate = percent(d.DischargedCount, d.ClientsWithPlanning)
	d.TotalVisits = len(appts)
	d.CancellationRate = percent(d.StatusBreakdown.Cancelled, d.TotalVisits)
	return d
}

// Clinicians reports each clinician's load in today's week. A clinician can
// take a new client while a whole care plan still fits under the weekly cap.
func Clinicians(cons engine.Constraints, appts []*scheduling.Appointment, clinicians []*scheduling.Clinician, today time.Time) []ClinicianStats {
	weekStart := engine.WeekStart(today)
	out := make([]ClinicianStats, 0, len(clinicians))
	for _, c := range clinicians {
		s := ClinicianStats{ClinicianID: c.ID, Name: c.Name}
		for _, a := range appts {
			if a.ClinicianID != c.ID {
				continue
			}
			s.TotalAppointments++
			if engine.SameWeek(a.ScheduledDate, weekStart) {
				s.WeeklyCount++
			}
		}
		s.AvailableThisWeek = cons.WeeklyCap - s.WeeklyCount
		s.FullyBooked = s.AvailableThisWeek <= 0
		s.CanTakeNewClient = s.AvailableThisWeek >= engine.PlanSize
		out = append(out, s)
	}
	return out
}
