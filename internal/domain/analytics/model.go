// Package analytics summarises a cohort's calendar: weekly utilisation,
// caseload outcomes and per-clinician headroom.
package analytics

import "time"

// Utilisation bands, highest first.
const (
	LevelAtCapacity = "At Capacity"
	LevelHigh       = "High"
	LevelModerate   = "Moderate"
	LevelLow        = "Low"
	LevelEmpty      = "Empty"
)

var levels = []struct {
	min   float64
	label string
}{
	{90, LevelAtCapacity},
	{70, LevelHigh},
	{40, LevelModerate},
	{1, LevelLow},
}

// Level names the band a utilisation percentage falls in.
func Level(utilization float64) string {
	for _, l := range levels {
		if utilization >= l.min {
			return l.label
		}
	}
	return LevelEmpty
}

type ClinicianCount struct {
	ClinicianID string `json:"clinician_id"`
	Name        string `json:"name"`
	Count       int    `json:"count"`
}

type WeekUtilization struct {
	WeekStart       time.Time        `json:"week_start"`
	WeekEnd         time.Time        `json:"week_end"`
	CycleWeek       int              `json:"cycle_week"`
	Total           int              `json:"total"`
	Capacity        int              `json:"capacity"`
	Utilization     float64          `json:"utilization"`
	Level           string           `json:"level"`
	IsCurrent       bool             `json:"is_current"`
	IsPast          bool             `json:"is_past"`
	AXCount         int              `json:"ax_count"`
	SPCount         int              `json:"sp_count"`
	BlockCount      int              `json:"block_count"`
	ClinicianCounts []ClinicianCount `json:"clinician_counts"`
}

// OverallStats covers the current and future weeks only. PeakWeek is drawn
// from every reported week.
type OverallStats struct {
	TotalScheduled int              `json:"total_scheduled"`
	TotalCapacity  int              `json:"total_capacity"`
	AvgUtilization float64          `json:"avg_utilization"`
	PeakWeek       *WeekUtilization `json:"peak_week,omitempty"`
}

type WeeklyReport struct {
	Weeks   []WeekUtilization `json:"weeks"`
	Overall OverallStats      `json:"overall"`
}

type StatusBreakdown struct {
	Booked    int `json:"booked"`
	Completed int `json:"completed"`
	Cancelled int `json:"cancelled"`
	NoShow    int `json:"no_show"`
	Other     int `json:"other"`
}

// Descriptive is the caseload summary. Rates are percentages.
type Descriptive struct {
	TotalClients            int             `json:"total_clients"`
	NewIntakes30Days        int             `json:"new_intakes_30_days"`
	ClientsWithIntake       int             `json:"clients_with_intake"`
	ClientsWithPlanning     int             `json:"clients_with_planning"`
	DischargedCount         int             `json:"discharged_count"`
	IntakeToDischargeRate   float64         `json:"intake_to_discharge_rate"`
	PlanningToDischargeRate float64         `json:"planning_to_discharge_rate"`
	CancellationRate        float64         `json:"cancellation_rate"`
	StatusBreakdown         StatusBreakdown `json:"status_breakdown"`
	TotalVisits             int             `json:"total_visits"`
}

// ClinicianStats is one clinician's load in the current week.
type ClinicianStats struct {
	ClinicianID       string `json:"clinician_id"`
	Name              string `json:"name"`
	WeeklyCount       int    `json:"weekly_count"`
	AvailableThisWeek int    `json:"available_this_week"`
	FullyBooked       bool   `json:"fully_booked"`
	CanTakeNewClient  bool   `json:"can_take_new_client"`
	TotalAppointments int    `json:"total_appointments"`
}

// weeksBefore and weeksAfter bound the weekly report around today.
const (
	weeksBefore = 4
	weeksAfter  = 8
)
