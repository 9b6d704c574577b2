package scheduling

import (
	"errors"
	"fmt"
	"testing"

	"carecoop/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func dates(bookings []models.Booking) []string {
	out := make([]string, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, b.Date)
	}
	return out
}

var visit = models.BookingTemplate{
	StaffID:   "s1",
	PatientID: "p1",
	StartTime: "09:00",
	EndTime:   "10:00",
	Type:      models.TypeHomeVisit,
}

func TestExpandRecurrence_Patterns(t *testing.T) {
	tests := []struct {
		pattern Pattern
		first   string
		last    string
		want    []string
	}{
		{Weekly, "2024-01-01", "2024-01-29", []string{"2024-01-01", "2024-01-08", "2024-01-15", "2024-01-22", "2024-01-29"}},
		{Daily, "2024-02-27", "2024-03-02", []string{"2024-02-27", "2024-02-28", "2024-02-29", "2024-03-01", "2024-03-02"}},
		{Biweekly, "2024-01-01", "2024-02-11", []string{"2024-01-01", "2024-01-15", "2024-01-29"}},
		{Monthly, "2024-01-31", "2024-05-31", []string{"2024-01-31", "2024-02-29", "2024-03-31", "2024-04-30", "2024-05-31"}},
		{Monthly, "2024-01-15", "2024-03-14", []string{"2024-01-15", "2024-02-15"}},
		{Daily, "2024-01-01", "2024-01-01", []string{"2024-01-01"}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%s", tt.pattern, tt.first), func(t *testing.T) {
			got, err := ExpandRecurrence(visit, tt.pattern, tt.first, tt.last, sequentialIDs())
			require.NoError(t, err)
			assert.Equal(t, tt.want, dates(got))
		})
	}
}

func TestExpandRecurrence_Instances(t *testing.T) {
	got, err := ExpandRecurrence(visit, Weekly, "2024-01-01", "2024-01-15", sequentialIDs())
	require.NoError(t, err)
	require.Len(t, got, 3)

	for i, b := range got {
		assert.Equal(t, fmt.Sprintf("id-%d", i+1), b.ID)
		assert.Equal(t, "s1", b.StaffID)
		assert.Equal(t, "p1", b.PatientID)
		assert.Equal(t, "09:00", b.StartTime)
		assert.Equal(t, "10:00", b.EndTime)
		assert.Equal(t, models.TypeHomeVisit, b.Type)
	}
}

func TestExpandRecurrence_DefaultIDsAreUnique(t *testing.T) {
	got, err := ExpandRecurrence(visit, Daily, "2024-01-01", "2024-01-10", nil)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, b := range got {
		require.NotEmpty(t, b.ID)
		assert.False(t, seen[b.ID])
		seen[b.ID] = true
	}
}

func TestExpandRecurrence_FirstAfterLast(t *testing.T) {
	got, err := ExpandRecurrence(visit, Daily, "2024-02-01", "2024-01-01", nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestExpandRecurrence_Invalid(t *testing.T) {
	_, err := ExpandRecurrence(visit, Pattern("yearly"), "2024-01-01", "2024-12-31", nil)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "recurrence.pattern", vErr.Field)

	_, err = ExpandRecurrence(visit, Daily, "2024-13-01", "2024-12-31", nil)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "recurrence.firstDate", vErr.Field)

	_, err = ExpandRecurrence(visit, Daily, "2024-01-01", "", nil)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "recurrence.endDate", vErr.Field)
}

func TestEngine_ExpandRecurrenceLimit(t *testing.T) {
	e := NewEngine(Options{MaxInstances: 5, NewID: sequentialIDs()})

	got, err := e.ExpandRecurrence(visit, Daily, "2024-01-01", "2024-01-05")
	require.NoError(t, err)
	assert.Len(t, got, 5)

	_, err = e.ExpandRecurrence(visit, Daily, "2024-01-01", "2024-01-06")
	assert.True(t, errors.Is(err, ErrTooManyInstances))
}

func TestParsePattern(t *testing.T) {
	for _, s := range []string{"daily", "weekly", "biweekly", "monthly"} {
		p, err := ParsePattern(s)
		require.NoError(t, err)
		assert.Equal(t, Pattern(s), p)
	}
	_, err := ParsePattern("Weekly")
	assert.Error(t, err)
}
