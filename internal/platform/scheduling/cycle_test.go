package scheduling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Sunday 7 Jan 2024 begins cycle week 1 in every test in this package.
var anchor = time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)

func day(month time.Month, d int) time.Time {
	return time.Date(2024, month, d, 0, 0, 0, 0, time.UTC)
}

func TestCycle_Week(t *testing.T) {
	c := NewCycle(anchor)
	tests := []struct {
		name string
		date time.Time
		want int
	}{
		{"anchor sunday", day(1, 7), 1},
		{"anchor saturday", day(1, 13), 1},
		{"second week", day(1, 15), 2},
		{"planning week", day(1, 22), 3},
		{"wraps to one", day(1, 29), 1},
		{"week before anchor", time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), 3},
		{"two weeks before anchor", time.Date(2023, 12, 24, 0, 0, 0, 0, time.UTC), 2},
		{"time of day ignored", time.Date(2024, 1, 24, 23, 59, 0, 0, time.UTC), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Week(tt.date))
		})
	}
}

func TestCycle_WeekIsConstantWithinWeek(t *testing.T) {
	c := NewCycle(anchor)
	for offset := 0; offset < 60; offset++ {
		d := day(1, 7).AddDate(0, 0, offset)
		assert.Equal(t, c.Week(WeekStart(d)), c.Week(d), "offset %d", offset)
		assert.Equal(t, c.Week(d)%3+1, c.Week(d.AddDate(0, 0, 7)), "offset %d", offset)
	}
}

func TestNewCycle_AnchorsOnWeekStart(t *testing.T) {
	c := NewCycle(time.Date(2024, 1, 10, 15, 30, 0, 0, time.UTC))
	assert.Equal(t, anchor, c.Reference)
	assert.Equal(t, 1, c.Week(day(1, 7)))
}

func TestCycle_AcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	c := NewCycle(time.Date(2024, 3, 3, 0, 0, 0, 0, ny))
	assert.Equal(t, 1, c.Week(time.Date(2024, 3, 4, 0, 0, 0, 0, ny)))
	assert.Equal(t, 2, c.Week(time.Date(2024, 3, 11, 0, 0, 0, 0, ny)))
	assert.Equal(t, 3, c.Week(time.Date(2024, 3, 17, 0, 30, 0, 0, ny)))
}

func TestSameWeek(t *testing.T) {
	assert.True(t, SameWeek(day(1, 7), day(1, 13)))
	assert.False(t, SameWeek(day(1, 13), day(1, 14)))
}

func TestSameDay(t *testing.T) {
	assert.True(t, SameDay(time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC), day(1, 8)))
	assert.False(t, SameDay(day(1, 9), day(1, 8)))
}

func TestIsWeekday(t *testing.T) {
	assert.False(t, IsWeekday(day(1, 6)))
	assert.False(t, IsWeekday(day(1, 7)))
	assert.True(t, IsWeekday(day(1, 8)))
	assert.True(t, IsWeekday(day(1, 12)))
}

func TestCycle_Info(t *testing.T) {
	c := NewCycle(anchor)
	cons := DefaultConstraints()

	info := c.Info(day(1, 10), cons)
	assert.Equal(t, 1, info.Week)
	assert.Equal(t, TypeAX, info.AllowedType)
	assert.Equal(t, 3, info.TypeCap)
	assert.Equal(t, day(1, 7), info.WeekStart)

	info = c.Info(day(1, 24), cons)
	assert.Equal(t, 3, info.Week)
	assert.Equal(t, TypeSP, info.AllowedType)
	assert.Equal(t, 6, info.TypeCap)
}
