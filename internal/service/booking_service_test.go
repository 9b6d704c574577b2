package service

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"carecoop/internal/domain"
	"carecoop/internal/events"
	"carecoop/internal/models"
	"carecoop/internal/repository"
	"carecoop/internal/scheduling"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishJSON(eventType string, payload interface{}) error {
	return m.Called(eventType, payload).Error(0)
}

type mockSyncer struct {
	mock.Mock
}

func (m *mockSyncer) EnqueueTask(ctx context.Context, taskType string, bookingID string, booking *models.Booking, status models.Status) error {
	return m.Called(ctx, taskType, bookingID, booking, status).Error(0)
}

type mockReplacer struct {
	mock.Mock
}

func (m *mockReplacer) ReplaceAll(ctx context.Context, bookings []models.Booking) error {
	return m.Called(ctx, bookings).Error(0)
}

type fixture struct {
	svc    *BookingService
	store  *repository.MemoryStore
	events *mockPublisher
	sync   *mockSyncer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	pub := &mockPublisher{}
	pub.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)
	syncer := &mockSyncer{}
	syncer.On("EnqueueTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	ids := 0
	engine := scheduling.NewEngine(scheduling.Options{NewID: func() string {
		ids++
		return "gen-" + string(rune('a'+ids-1))
	}})
	return &fixture{
		svc:    NewBookingService(store, engine, pub, syncer, nil),
		store:  store,
		events: pub,
		sync:   syncer,
	}
}

func visit(staff, patient, date, start, end string) models.Booking {
	return models.Booking{StaffID: staff, PatientID: patient, Date: date, StartTime: start, EndTime: end, Type: models.TypeHomeVisit}
}

func (f *fixture) mustCreate(t *testing.T, b models.Booking) *models.Booking {
	t.Helper()
	res, err := f.svc.CreateBooking(context.Background(), b, false)
	require.NoError(t, err)
	require.True(t, res.Saved, "unexpected conflicts: %+v", res.Conflicts)
	return res.Booking
}

func eventTypes(m *mockPublisher) []string {
	var types []string
	for _, c := range m.Calls {
		if c.Method == "PublishJSON" {
			types = append(types, c.Arguments.String(0))
		}
	}
	return types
}

func TestCreateBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := visit("s1", "p1", "2024-03-04", "09:00", "")
	b.DurationMinutes = 90
	res, err := f.svc.CreateBooking(ctx, b, false)
	require.NoError(t, err)

	assert.True(t, res.Saved)
	assert.Empty(t, res.Conflicts)
	assert.NotNil(t, res.Conflicts)
	assert.Equal(t, "gen-a", res.Booking.ID)
	assert.Equal(t, int64(1), res.Booking.Version)
	assert.Equal(t, "10:30", res.Booking.EndTime)
	assert.Equal(t, models.StatusScheduled, res.Booking.Status)

	stored, err := f.store.Get(ctx, "gen-a")
	require.NoError(t, err)
	assert.Equal(t, "10:30", stored.EndTime)

	assert.Equal(t, []string{events.EventBookingCreated}, eventTypes(f.events))
	f.sync.AssertCalled(t, "EnqueueTask", mock.Anything, "upsert", "gen-a", mock.Anything, models.Status(""))
}

func TestCreateBooking_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		b     models.Booking
		field string
	}{
		{"MissingStaff", visit("", "p1", "2024-03-04", "09:00", "10:00"), "staffId"},
		{"BadDate", visit("s1", "p1", "2024/03/04", "09:00", "10:00"), "date"},
		{"BadStart", visit("s1", "p1", "2024-03-04", "9am", "10:00"), "startTime"},
		{"EndBeforeStart", visit("s1", "p1", "2024-03-04", "10:00", "09:00"), "endTime"},
		{"UnknownStatus", func() models.Booking {
			b := visit("s1", "p1", "2024-03-04", "09:00", "10:00")
			b.Status = "pending"
			return b
		}(), "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateBooking(ctx, tt.b, false)
			var vErr *scheduling.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}

	all, err := f.store.List(ctx, models.BookingFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, eventTypes(f.events))
}

func TestCreateBooking_ConflictBlocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.mustCreate(t, visit("s1", "p1", "2024-03-04", "09:00", "10:00"))

	res, err := f.svc.CreateBooking(ctx, visit("s1", "p2", "2024-03-04", "09:30", "10:30"), false)
	require.NoError(t, err)
	assert.False(t, res.Saved)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, models.ConflictOverlap, res.Conflicts[0].Type)
	assert.Equal(t, first.ID, res.Conflicts[0].BookingID)
	assert.Equal(t, []string{"10:00", "10:30", "08:00"}, res.Conflicts[0].Suggestions)

	all, err := f.store.List(ctx, models.BookingFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, []string{events.EventBookingCreated}, eventTypes(f.events))
}

func TestCreateBooking_Force(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustCreate(t, visit("s1", "p1", "2024-03-04", "09:00", "10:00"))

	res, err := f.svc.CreateBooking(ctx, visit("s1", "p1", "2024-03-04", "09:30", "10:30"), true)
	require.NoError(t, err)
	assert.True(t, res.Saved)
	require.Len(t, res.Conflicts, 2)
	assert.Equal(t, models.ConflictOverlap, res.Conflicts[0].Type)
	assert.Equal(t, models.ConflictPatientDoubleBooked, res.Conflicts[1].Type)

	assert.Equal(t, []string{
		events.EventBookingCreated, events.EventBookingCreated, events.EventConflictOverridden,
	}, eventTypes(f.events))

	last := f.events.Calls[len(f.events.Calls)-1].Arguments.Get(1).(events.BookingEventPayload)
	assert.Equal(t, []models.ConflictType{models.ConflictOverlap, models.ConflictPatientDoubleBooked}, last.Conflicts)
}

func TestCreateBooking_DuplicateID(t *testing.T) {
	f := newFixture(t)
	b := visit("s1", "p1", "2024-03-04", "09:00", "10:00")
	b.ID = "fixed"
	f.mustCreate(t, b)

	b.Date = "2024-03-05"
	_, err := f.svc.CreateBooking(context.Background(), b, false)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestCreateBooking_Absence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddAbsence(ctx, models.Absence{StaffID: "s1", Date: "2024-03-04", StartTime: "12:00", EndTime: "14:00", Reason: "training"})
	require.NoError(t, err)

	res, err := f.svc.CreateBooking(ctx, visit("s1", "p1", "2024-03-04", "13:00", "13:30"), false)
	require.NoError(t, err)
	assert.False(t, res.Saved)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, models.ConflictStaffUnavailable, res.Conflicts[0].Type)
	assert.Contains(t, res.Conflicts[0].Message, "training")

	res, err = f.svc.CreateBooking(ctx, visit("s1", "p1", "2024-03-05", "13:00", "13:30"), false)
	require.NoError(t, err)
	assert.True(t, res.Saved)
}

func TestUpdateBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.mustCreate(t, visit("s1", "p1", "2024-03-04", "09:00", "10:00"))
	f.mustCreate(t, visit("s1", "p2", "2024-03-04", "11:00", "12:00"))

	t.Run("Reschedule", func(t *testing.T) {
		moved := *a
		moved.StartTime, moved.EndTime = "14:00", "15:00"
		res, err := f.svc.UpdateBooking(ctx, moved, false)
		require.NoError(t, err)
		assert.True(t, res.Saved)
		assert.Equal(t, int64(2), res.Booking.Version)
		*a = *res.Booking
	})

	t.Run("OwnSlotIsNotAConflict", func(t *testing.T) {
		same := *a
		same.Notes = "ring twice"
		res, err := f.svc.UpdateBooking(ctx, same, false)
		require.NoError(t, err)
		assert.True(t, res.Saved)
		*a = *res.Booking
	})

	t.Run("IntoConflict", func(t *testing.T) {
		moved := *a
		moved.StartTime, moved.EndTime = "11:30", "12:30"
		res, err := f.svc.UpdateBooking(ctx, moved, false)
		require.NoError(t, err)
		assert.False(t, res.Saved)
		stored, _ := f.store.Get(ctx, a.ID)
		assert.Equal(t, "14:00", stored.StartTime)
	})

	t.Run("StaleVersion", func(t *testing.T) {
		stale := *a
		stale.Version = 1
		_, err := f.svc.UpdateBooking(ctx, stale, false)
		assert.ErrorIs(t, err, domain.ErrConcurrentModification)
	})

	t.Run("Missing", func(t *testing.T) {
		ghost := visit("s1", "", "2024-03-04", "16:00", "17:00")
		ghost.ID, ghost.Version = "ghost", 1
		_, err := f.svc.UpdateBooking(ctx, ghost, false)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("NoVersion", func(t *testing.T) {
		b := *a
		b.Version = 0
		_, err := f.svc.UpdateBooking(ctx, b, false)
		assert.True(t, scheduling.IsValidationError(err))
	})
}

func TestUpdateBooking_KeepsStatusWhenOmitted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.mustCreate(t, visit("s1", "p1", "2024-03-04", "09:00", "10:00"))

	res, err := f.svc.ChangeStatus(ctx, a.ID, a.Version, models.StatusCancelled, false)
	require.NoError(t, err)

	edit := *res.Booking
	edit.Status = ""
	edit.Notes = "family called"
	res, err = f.svc.UpdateBooking(ctx, edit, false)
	require.NoError(t, err)
	require.True(t, res.Saved)
	assert.Equal(t, models.StatusCancelled, res.Booking.Status)

	stored, err := f.store.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, stored.Status)
	assert.Equal(t, "family called", stored.Notes)

	ghost := visit("s1", "", "2024-03-04", "16:00", "17:00")
	ghost.ID, ghost.Version = "ghost", 1
	_, err = f.svc.UpdateBooking(ctx, ghost, false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBookingEndingAtMidnight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	late := visit("s1", "p1", "2024-03-04", "23:00", "")
	late.DurationMinutes = 60

	var vErr *scheduling.ValidationError
	_, err := f.svc.CheckConflicts(ctx, late)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "durationMinutes", vErr.Field)

	_, err = f.svc.CreateBooking(ctx, late, false)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "durationMinutes", vErr.Field)

	tpl := models.BookingTemplate{StaffID: "s1", PatientID: "p1", StartTime: "23:00", DurationMinutes: 60}
	_, err = f.svc.PlanRecurring(ctx, tpl, "daily", "2024-03-04", "2024-03-05")
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "durationMinutes", vErr.Field)

	late.DurationMinutes = 59
	res, err := f.svc.CreateBooking(ctx, late, false)
	require.NoError(t, err)
	assert.True(t, res.Saved)
	assert.Equal(t, "23:59", res.Booking.EndTime)

	all, err := f.store.List(ctx, models.BookingFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestChangeStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.mustCreate(t, visit("s1", "p1", "2024-03-04", "09:00", "10:00"))

	res, err := f.svc.ChangeStatus(ctx, a.ID, a.Version, models.StatusCancelled, false)
	require.NoError(t, err)
	assert.True(t, res.Saved)
	assert.Equal(t, models.StatusCancelled, res.Booking.Status)
	f.sync.AssertCalled(t, "EnqueueTask", mock.Anything, "update_status", a.ID, mock.Anything, models.StatusCancelled)

	payload := f.events.Calls[len(f.events.Calls)-1].Arguments.Get(1).(events.BookingEventPayload)
	assert.Equal(t, models.StatusScheduled, payload.PreviousStatus)
	assert.Equal(t, models.StatusCancelled, payload.Status)

	// The freed slot can be taken, and then the cancelled booking cannot
	// come back without force.
	f.mustCreate(t, visit("s1", "p2", "2024-03-04", "09:00", "10:00"))

	res, err = f.svc.ChangeStatus(ctx, a.ID, res.Booking.Version, models.StatusScheduled, false)
	require.NoError(t, err)
	assert.False(t, res.Saved)
	require.NotEmpty(t, res.Conflicts)

	_, err = f.svc.ChangeStatus(ctx, a.ID, 1, models.StatusConfirmed, false)
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)

	_, err = f.svc.ChangeStatus(ctx, a.ID, 2, "archived", false)
	assert.True(t, scheduling.IsValidationError(err))

	_, err = f.svc.ChangeStatus(ctx, "ghost", 1, models.StatusConfirmed, false)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteBooking(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.mustCreate(t, visit("s1", "p1", "2024-03-04", "09:00", "10:00"))

	require.NoError(t, f.svc.DeleteBooking(ctx, a.ID))
	_, err := f.svc.GetBooking(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, eventTypes(f.events), events.EventBookingDeleted)
	f.sync.AssertCalled(t, "EnqueueTask", mock.Anything, "delete", a.ID, mock.Anything, models.Status(""))

	assert.ErrorIs(t, f.svc.DeleteBooking(ctx, a.ID), domain.ErrNotFound)
}

func TestAvailableSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustCreate(t, visit("s1", "p1", "2024-03-04", "07:00", "12:00"))
	f.mustCreate(t, visit("s2", "p2", "2024-03-04", "12:00", "20:00"))
	_, err := f.svc.AddAbsence(ctx, models.Absence{StaffID: "s1", Date: "2024-03-04", StartTime: "13:00", EndTime: "20:00"})
	require.NoError(t, err)

	slots, err := f.svc.AvailableSlots(ctx, "s1", "2024-03-04", 60)
	require.NoError(t, err)
	assert.Equal(t, []string{"12:00"}, slots)

	_, err = f.svc.AvailableSlots(ctx, "s1", "03/04/2024", 60)
	assert.True(t, scheduling.IsValidationError(err))
}

func TestCheckConflictsPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustCreate(t, visit("s1", "p1", "2024-03-04", "09:00", "10:00"))

	conflicts, err := f.svc.CheckConflicts(ctx, visit("s2", "p1", "2024-03-04", "09:30", "10:00"))
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.ConflictPatientDoubleBooked, conflicts[0].Type)

	all, _ := f.store.List(ctx, models.BookingFilter{})
	assert.Len(t, all, 1)
}

func TestRecurring(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	blocker := f.mustCreate(t, visit("s1", "p9", "2024-03-18", "09:30", "10:00"))

	tpl := models.BookingTemplate{StaffID: "s1", PatientID: "p1", StartTime: "09:00", DurationMinutes: 60}
	plan, err := f.svc.PlanRecurring(ctx, tpl, "weekly", "2024-03-04", "2024-03-25")
	require.NoError(t, err)
	require.Len(t, plan.Instances, 4)
	assert.Equal(t, "10:00", plan.Instances[0].EndTime)
	require.Len(t, plan.Conflicts, 1)
	assert.Equal(t, 2, plan.Conflicts[0].Index)
	assert.Equal(t, blocker.ID, plan.Conflicts[0].Conflicts[0].BookingID)

	t.Run("BlockedIsAllOrNothing", func(t *testing.T) {
		res, err := f.svc.CommitRecurring(ctx, plan.Instances, false)
		require.NoError(t, err)
		assert.False(t, res.Saved)
		require.Len(t, res.Conflicts, 1)

		all, _ := f.store.List(ctx, models.BookingFilter{})
		assert.Len(t, all, 1)
	})

	t.Run("Forced", func(t *testing.T) {
		res, err := f.svc.CommitRecurring(ctx, plan.Instances, true)
		require.NoError(t, err)
		assert.True(t, res.Saved)
		for _, b := range res.Bookings {
			assert.Equal(t, int64(1), b.Version)
		}

		all, _ := f.store.List(ctx, models.BookingFilter{})
		assert.Len(t, all, 5)
		assert.Contains(t, eventTypes(f.events), events.EventRecurrenceCommitted)
	})

	t.Run("Replay", func(t *testing.T) {
		_, err := f.svc.CommitRecurring(ctx, plan.Instances, true)
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
	})

	t.Run("BadPattern", func(t *testing.T) {
		_, err := f.svc.PlanRecurring(ctx, tpl, "fortnightly", "2024-03-04", "2024-03-25")
		assert.True(t, scheduling.IsValidationError(err))
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := f.svc.CommitRecurring(ctx, nil, false)
		assert.True(t, scheduling.IsValidationError(err))
	})
}

func TestRecurring_SelfCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := visit("s1", "p1", "2024-03-04", "09:00", "10:00")
	a.ID = "a"
	b := visit("s1", "p2", "2024-03-04", "09:30", "10:30")
	b.ID = "b"

	res, err := f.svc.CommitRecurring(ctx, []models.Booking{a, b}, false)
	require.NoError(t, err)
	assert.False(t, res.Saved)
	require.Len(t, res.Conflicts, 1)
	assert.Equal(t, "b", res.Conflicts[0].BookingID)

	b.ID = "a"
	_, err = f.svc.CommitRecurring(ctx, []models.Booking{a, b}, false)
	assert.True(t, scheduling.IsValidationError(err))
}

func TestAbsences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.AddAbsence(ctx, models.Absence{StaffID: "s1", Date: "2024-03-04"})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)

	list, err := f.svc.ListAbsences(ctx, "s1", "")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = f.svc.AddAbsence(ctx, models.Absence{StaffID: "s1", Date: "2024-03-04", StartTime: "15:00", EndTime: "14:00"})
	assert.True(t, scheduling.IsValidationError(err))

	require.NoError(t, f.svc.RemoveAbsence(ctx, a.ID))
	assert.ErrorIs(t, f.svc.RemoveAbsence(ctx, a.ID), domain.ErrNotFound)
}

func TestExportAndResyncRoster(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mustCreate(t, visit("s1", "p1", "2024-03-04", "09:00", "10:00"))
	f.mustCreate(t, visit("s1", "p1", "2024-04-04", "09:00", "10:00"))

	var buf bytes.Buffer
	require.NoError(t, f.svc.ExportRoster(ctx, &buf, "2024-03-01", "2024-03-31"))
	wb, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	rows, err := wb.GetRows("Bookings")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	wb.Close()

	err = f.svc.ExportRoster(ctx, &buf, "March", "2024-03-31")
	var vErr *scheduling.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "from", vErr.Field)

	_, err = f.svc.ResyncRoster(ctx, "2024-03-01", "2024-03-31")
	assert.ErrorIs(t, err, ErrRosterDisabled)

	replacer := &mockReplacer{}
	replacer.On("ReplaceAll", mock.Anything, mock.MatchedBy(func(b []models.Booking) bool { return len(b) == 1 })).Return(nil)
	f.svc.SetRosterReplacer(replacer)
	n, err := f.svc.ResyncRoster(ctx, "2024-03-01", "2024-03-31")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	replacer.AssertExpectations(t)

	failing := &mockReplacer{}
	failing.On("ReplaceAll", mock.Anything, mock.Anything).Return(errors.New("quota"))
	f.svc.SetRosterReplacer(failing)
	_, err = f.svc.ResyncRoster(ctx, "2024-03-01", "2024-03-31")
	assert.Error(t, err)
}

func TestSideEffectFailuresDoNotFailSave(t *testing.T) {
	store := repository.NewMemoryStore()
	pub := &mockPublisher{}
	pub.On("PublishJSON", mock.Anything, mock.Anything).Return(errors.New("bus down"))
	syncer := &mockSyncer{}
	syncer.On("EnqueueTask", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("queue down"))

	svc := NewBookingService(store, nil, pub, syncer, nil)
	res, err := svc.CreateBooking(context.Background(), visit("s1", "p1", "2024-03-04", "09:00", "10:00"), false)
	require.NoError(t, err)
	assert.True(t, res.Saved)
}

func TestConflictErrorMessage(t *testing.T) {
	err := &ConflictError{Conflicts: []scheduling.BatchConflict{{
		Conflicts: []models.Conflict{{Type: models.ConflictOverlap, Message: "staff s1 already booked"}},
	}}}
	assert.Equal(t, "1 scheduling conflict(s): staff s1 already booked", err.Error())
	assert.Equal(t, "scheduling conflicts", (&ConflictError{}).Error())
}

func TestSaveRosterExport(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SaveRosterExport(ctx, "2024-03-01", "2024-03-31")
	require.ErrorIs(t, err, ErrExportDisabled)

	dir := t.TempDir()
	f.svc.SetExportDir(dir)
	f.mustCreate(t, visit("s1", "p1", "2024-03-04", "09:00", "10:00"))

	path, err := f.svc.SaveRosterExport(ctx, "2024-03-01", "2024-03-31")
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Contains(t, path, "roster_2024-03-01_to_2024-03-31.xlsx")

	_, err = f.svc.SaveRosterExport(ctx, "2024-03-01", "March")
	assert.True(t, scheduling.IsValidationError(err))
}
