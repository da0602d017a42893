package scheduling

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlaceCarePlan_EmptyCalendarFromMondayWeekOne(t *testing.T) {
	e := newTestEngine()

	plan, err := e.PlaceCarePlan(nil, "C0001", "CLIN01", day(1, 8))
	require.NoError(t, err)
	require.Len(t, plan, PlanSize)

	want := []struct {
		typ  AppointmentType
		date time.Time
	}{
		{TypeAX, day(1, 8)},
		{TypeSP, day(1, 22)},
		{TypeBlock, day(1, 23)},
		{TypeBlock, day(1, 24)},
		{TypeBlock, day(1, 25)},
		{TypeBlock, day(1, 26)},
		{TypeBlock, day(1, 29)},
		{TypeBlock, day(1, 30)},
	}
	for i, w := range want {
		assert.Equal(t, w.typ, plan[i].Type, "visit %d", i+1)
		assert.Equal(t, w.date, plan[i].ScheduledDate, "visit %d", i+1)
		assert.Equal(t, i+1, plan[i].Sequence)
		assert.Equal(t, "C0001", plan[i].ClientID)
		assert.Equal(t, "CLIN01", plan[i].ClinicianID)
	}
	assert.Equal(t, "C0001-AX-1", plan[0].ID)
	assert.Equal(t, "C0001-BLOCK-8", plan[7].ID)
}

func TestPlaceCarePlan_Shape(t *testing.T) {
	e := newTestEngine()
	existing := append(book("CLIN01", TypeBlock, day(1, 10), 4), book("CLIN01", TypeAX, day(1, 16), 3)...)

	for offset := 0; offset < 21; offset++ {
		start := day(1, 6).AddDate(0, 0, offset)
		plan, err := e.PlaceCarePlan(existing, "C0002", "CLIN01", start)
		require.NoError(t, err, "start %s", start)
		require.Len(t, plan, PlanSize)

		assert.Equal(t, TypeAX, plan[0].Type)
		assert.Equal(t, TypeSP, plan[1].Type)
		assert.NotEqual(t, PlanningWeek, e.CycleWeek(plan[0].ScheduledDate))
		assert.Equal(t, PlanningWeek, e.CycleWeek(plan[1].ScheduledDate))
		assert.False(t, plan[0].ScheduledDate.Before(start))

		for i, a := range plan {
			assert.True(t, IsWeekday(a.ScheduledDate), "visit %d on %s", i+1, a.ScheduledDate.Weekday())
			if i > 0 {
				assert.True(t, a.ScheduledDate.After(plan[i-1].ScheduledDate), "visit %d not after %d", i+1, i)
			}
			if i >= 2 {
				assert.Equal(t, TypeBlock, a.Type)
			}
		}
	}
}

func TestPlaceCarePlan_CapsHoldOverCombinedCalendar(t *testing.T) {
	e := newTestEngine()
	existing := book("CLIN01", TypeBlock, day(1, 23), 3)
	existing = append(existing, book("CLIN01", TypeBlock, day(1, 24), 3)...)

	var all []Appointment
	all = append(all, existing...)
	for _, client := range []string{"C0001", "C0002", "C0003"} {
		plan, err := e.PlaceCarePlan(all, client, "CLIN01", day(1, 8))
		require.NoError(t, err)
		all = append(all, plan...)
	}

	cons := e.Constraints()
	for offset := 0; offset < 70; offset++ {
		d := day(1, 7).AddDate(0, 0, offset)
		assert.LessOrEqual(t, CountOnDay(all, "CLIN01", d), cons.DailyCap, d)
		if d.Weekday() == time.Sunday {
			assert.LessOrEqual(t, CountInWeek(all, "CLIN01", d), cons.WeeklyCap, d)
			assert.LessOrEqual(t, CountTypeInWeek(all, "CLIN01", d, TypeAX), cons.AXWeeklyCap, d)
			assert.LessOrEqual(t, CountTypeInWeek(all, "CLIN01", d, TypeSP), cons.SPWeeklyCap, d)
		}
	}
}

func TestPlaceCarePlan_DoesNotMutateInput(t *testing.T) {
	e := newTestEngine()
	existing := book("CLIN01", TypeBlock, day(1, 8), 2)
	snapshot := append([]Appointment(nil), existing...)

	_, err := e.PlaceCarePlan(existing[:1], "C0001", "CLIN01", day(1, 8))
	require.NoError(t, err)
	assert.Equal(t, snapshot, existing)
}

func TestPlaceCarePlan_Deterministic(t *testing.T) {
	e := newTestEngine()
	existing := book("CLIN02", TypeAX, day(1, 9), 2)

	first, err := e.PlaceCarePlan(existing, "C0004", "CLIN02", day(1, 9))
	require.NoError(t, err)
	second, err := e.PlaceCarePlan(existing, "C0004", "CLIN02", day(1, 9))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPlaceCarePlan_FullyBookedFailsAtAX(t *testing.T) {
	cons := DefaultConstraints()
	cons.SearchHorizonDays = 14
	e := newTestEngine(WithConstraints(cons))

	var existing []Appointment
	for offset := 0; offset < 14; offset++ {
		existing = append(existing, book("CLIN01", TypeBlock, day(1, 8).AddDate(0, 0, offset), 4)...)
	}

	plan, err := e.PlaceCarePlan(existing, "C0001", "CLIN01", day(1, 8))
	assert.Nil(t, plan)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSlotNotFound))

	var pe *PlacementError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StageAX, pe.Stage)
	assert.Equal(t, "Could not find available slot for Assessment (AX)", pe.Describe())
}

func TestPlaceCarePlan_WeeklyCapAcrossHorizonFailsAtAX(t *testing.T) {
	e := newTestEngine()
	require.Equal(t, 90, e.Constraints().SearchHorizonDays)

	// Twenty visits a week, all on the weekend, so no weekday hits the daily
	// cap and only the weekly cap blocks placement.
	var existing []Appointment
	for w := 0; w < 15; w++ {
		sun := day(1, 7).AddDate(0, 0, 7*w)
		existing = append(existing, book("CLIN01", TypeBlock, sun, 10)...)
		existing = append(existing, book("CLIN01", TypeBlock, sun.AddDate(0, 0, 6), 10)...)
	}

	wed := day(1, 10)
	assert.Equal(t, 0, CountOnDay(existing, "CLIN01", wed))
	assert.Equal(t, ReasonWeeklyLimit, e.CanSchedule(existing, "CLIN01", wed, TypeAX).Reason)

	plan, err := e.PlaceCarePlan(existing, "C0001", "CLIN01", day(1, 8))
	assert.Nil(t, plan)
	assert.ErrorIs(t, err, ErrSlotNotFound)
	var pe *PlacementError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StageAX, pe.Stage)

	// Another clinician's calendar is untouched by that load.
	plan, err = e.PlaceCarePlan(existing, "C0001", "CLIN02", day(1, 8))
	require.NoError(t, err)
	assert.Len(t, plan, PlanSize)
}

func TestPlaceCarePlan_FailsAtSP(t *testing.T) {
	cons := DefaultConstraints()
	cons.SearchHorizonDays = 10
	e := newTestEngine(WithConstraints(cons))

	_, err := e.PlaceCarePlan(nil, "C0001", "CLIN01", day(1, 8))
	var pe *PlacementError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StageSP, pe.Stage)
}

func TestPlaceCarePlan_FailsAtBlock(t *testing.T) {
	cons := DefaultConstraints()
	cons.SearchHorizonDays = 3
	e := newTestEngine(WithConstraints(cons))

	// AX lands on Friday of week 2, SP on Monday of week 3 and blocks 1-3
	// Tuesday to Thursday. Friday is full and the window then hits the weekend.
	existing := book("CLIN01", TypeBlock, day(1, 26), 4)

	_, err := e.PlaceCarePlan(existing, "C0001", "CLIN01", day(1, 19))
	var pe *PlacementError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, BlockStage(4), pe.Stage)
	assert.Equal(t, "Could not find available slot for Block session 4", pe.Describe())
}

func TestBlockStage(t *testing.T) {
	assert.Equal(t, Stage("BLOCK_1"), BlockStage(1))
	assert.Equal(t, Stage("BLOCK_6"), BlockStage(6))
}
