package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"carecoop/internal/models"
	"carecoop/internal/scheduling"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func runCmd(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name string, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

var existing = []models.Booking{
	{ID: "a", StaffID: "s1", PatientID: "p1", Date: "2024-03-04", StartTime: "09:00", EndTime: "10:00"},
	{ID: "b", StaffID: "s1", PatientID: "p2", Date: "2024-03-04", StartTime: "11:00", EndTime: "12:00", Status: models.StatusCancelled},
}

func TestSlotsCommand(t *testing.T) {
	bookings := writeFile(t, "bookings.json", existing)

	out, err := runCmd(t, "", "slots", "--bookings", bookings, "--staff", "s1", "--date", "2024-03-04",
		"--duration", "60", "--work-start", "08:00", "--work-end", "12:00")
	require.NoError(t, err)

	var body struct {
		Slots []string `json:"slots"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, []string{"08:00", "10:00", "10:30", "11:00"}, body.Slots)
}

func TestSlotsCommand_Absence(t *testing.T) {
	absences := writeFile(t, "absences.json", []models.Absence{{ID: "x", StaffID: "s1", Date: "2024-03-04", StartTime: "08:00", EndTime: "10:30"}})

	out, err := runCmd(t, "", "slots", "--absences", absences, "--staff", "s1", "--date", "2024-03-04",
		"--duration", "60", "--work-start", "08:00", "--work-end", "12:00")
	require.NoError(t, err)
	assert.Contains(t, out, `"10:30"`)
	assert.NotContains(t, out, `"10:00"`)
}

func TestSlotsCommand_BadInput(t *testing.T) {
	_, err := runCmd(t, "", "slots", "--staff", "s1", "--date", "2024-13-01", "--duration", "30")
	require.Error(t, err)
	assert.True(t, scheduling.IsValidationError(err))

	_, err = runCmd(t, "", "slots", "--staff", "s1", "--date", "2024-03-04", "--duration", "30", "--work-start", "18:00", "--work-end", "08:00")
	assert.Error(t, err)

	_, err = runCmd(t, "", "slots", "--staff", "s1", "--date", "2024-03-04")
	assert.Error(t, err)
}

func TestConflictsCommand(t *testing.T) {
	bookings := writeFile(t, "bookings.json", existing)
	candidate := `{"id":"c","staffId":"s1","patientId":"p3","date":"2024-03-04","startTime":"09:30","endTime":"10:30"}`

	out, err := runCmd(t, candidate, "conflicts", "--bookings", bookings)
	require.NoError(t, err)

	var body struct {
		Conflicts []models.Conflict `json:"conflicts"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.Len(t, body.Conflicts, 1)
	assert.Equal(t, models.ConflictOverlap, body.Conflicts[0].Type)
	assert.Equal(t, "a", body.Conflicts[0].BookingID)
	assert.NotEmpty(t, body.Conflicts[0].Suggestions)
}

func TestConflictsCommand_CancelledIgnored(t *testing.T) {
	bookings := writeFile(t, "bookings.json", existing)
	candidate := writeFile(t, "candidate.json", models.Booking{ID: "c", StaffID: "s1", Date: "2024-03-04", StartTime: "11:00", EndTime: "12:00"})

	out, err := runCmd(t, "", "conflicts", "--bookings", bookings, "--candidate", candidate)
	require.NoError(t, err)
	assert.JSONEq(t, `{"conflicts":[]}`, out)
}

func TestConflictsCommand_UnknownField(t *testing.T) {
	_, err := runCmd(t, `{"staff":"s1"}`, "conflicts")
	assert.Error(t, err)
}

func TestExpandCommand(t *testing.T) {
	tpl := `{"staffId":"s1","patientId":"p1","startTime":"09:00","durationMinutes":30}`
	bookings := writeFile(t, "bookings.json", existing)

	out, err := runCmd(t, tpl, "expand", "--pattern", "weekly", "--first", "2024-02-26", "--last", "2024-03-11", "--bookings", bookings)
	require.NoError(t, err)

	var body struct {
		Instances []models.Booking           `json:"instances"`
		Conflicts []scheduling.BatchConflict `json:"conflicts"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	require.Len(t, body.Instances, 3)
	assert.Equal(t, "2024-03-04", body.Instances[1].Date)
	require.Len(t, body.Conflicts, 1)
	assert.Equal(t, "2024-03-04", body.Conflicts[0].Date)
}

func TestExpandCommand_Monthly(t *testing.T) {
	tpl := `{"staffId":"s1","startTime":"09:00","durationMinutes":30}`
	out, err := runCmd(t, tpl, "expand", "--pattern", "monthly", "--first", "2024-01-31", "--last", "2024-04-30")
	require.NoError(t, err)

	var body struct {
		Instances []models.Booking `json:"instances"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	dates := make([]string, len(body.Instances))
	for i, b := range body.Instances {
		dates[i] = b.Date
	}
	assert.Equal(t, []string{"2024-01-31", "2024-02-29", "2024-03-31", "2024-04-30"}, dates)
}

func TestExpandCommand_Limit(t *testing.T) {
	tpl := `{"staffId":"s1","startTime":"09:00","durationMinutes":30}`
	_, err := runCmd(t, tpl, "expand", "--pattern", "daily", "--first", "2024-01-01", "--last", "2024-01-10", "--max-instances", "5")
	assert.ErrorIs(t, err, scheduling.ErrTooManyInstances)

	_, err = runCmd(t, tpl, "expand", "--pattern", "yearly", "--first", "2024-01-01", "--last", "2024-01-10")
	assert.Error(t, err)
}

func TestEndTimeCommand(t *testing.T) {
	out, err := runCmd(t, "", "end-time", "23:30", "45")
	require.NoError(t, err)
	assert.Equal(t, "00:15\n", out)

	_, err = runCmd(t, "", "end-time", "23:30", "soon")
	assert.Error(t, err)

	_, err = runCmd(t, "", "end-time", "23:30")
	assert.Error(t, err)
}

func TestDurationCommand(t *testing.T) {
	out, err := runCmd(t, "", "duration", "09:15", "17:45")
	require.NoError(t, err)
	assert.Equal(t, "8h 30m\n", out)

	out, err = runCmd(t, "", "duration", "--json", "22:00", "06:00")
	require.NoError(t, err)
	assert.JSONEq(t, `{"hours":8,"minutes":0,"totalMinutes":480}`, out)
}

func TestExportCommand(t *testing.T) {
	bookings := writeFile(t, "bookings.json", existing)
	dir := t.TempDir()

	out, err := runCmd(t, "", "export", "--bookings", bookings, "--from", "2024-03-04", "--to", "2024-03-08", "--out", dir)
	require.NoError(t, err)

	path := strings.TrimSpace(out)
	assert.Equal(t, filepath.Join(dir, "roster_2024-03-04_to_2024-03-08.xlsx"), path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows("Bookings")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}
