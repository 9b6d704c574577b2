package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"carecoop/internal/domain"
	"carecoop/internal/events"
	"carecoop/internal/metrics"
	"carecoop/internal/models"
	"carecoop/internal/scheduling"

	"github.com/rs/zerolog"
)

// ConflictError is returned from a store check to abort a save that hit
// scheduling conflicts. The service turns it into an unsaved SaveResult.
type ConflictError struct {
	Conflicts []scheduling.BatchConflict
}

func (e *ConflictError) Error() string {
	n := 0
	for _, c := range e.Conflicts {
		n += len(c.Conflicts)
	}
	if n == 0 {
		return "scheduling conflicts"
	}
	return fmt.Sprintf("%d scheduling conflict(s): %s", n, e.Conflicts[0].Conflicts[0].Message)
}

// SaveResult reports the outcome of a single booking write. Conflicts are
// listed whether or not the booking was saved.
type SaveResult struct {
	Booking   *models.Booking   `json:"booking"`
	Conflicts []models.Conflict `json:"conflicts"`
	Saved     bool              `json:"saved"`
}

type BookingService struct {
	store    domain.Store
	engine   *scheduling.Engine
	eventBus domain.EventPublisher
	syncer   domain.SyncWorker
	replacer domain.RosterReplacer
	logger   *zerolog.Logger

	exportDir string
}

// NewBookingService wires the service. eventBus and syncer may be nil.
func NewBookingService(store domain.Store, engine *scheduling.Engine, eventBus domain.EventPublisher, syncer domain.SyncWorker, logger *zerolog.Logger) *BookingService {
	if engine == nil {
		engine = scheduling.NewEngine(scheduling.Options{})
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "booking_service").Logger()
	return &BookingService{
		store:    store,
		engine:   engine,
		eventBus: eventBus,
		syncer:   syncer,
		logger:   &l,
	}
}

// SetSyncWorker attaches the roster sync queue once it is running.
func (s *BookingService) SetSyncWorker(w domain.SyncWorker) {
	s.syncer = w
}

// SetExportDir enables SaveRosterExport.
func (s *BookingService) SetExportDir(dir string) {
	s.exportDir = dir
}

// SetRosterReplacer enables ResyncRoster.
func (s *BookingService) SetRosterReplacer(r domain.RosterReplacer) {
	s.replacer = r
}

// Engine exposes the configured scheduling rules.
func (s *BookingService) Engine() *scheduling.Engine {
	return s.engine
}

// CreateBooking validates and stores a new booking. Conflicts block the save
// unless force is set.
func (s *BookingService) CreateBooking(ctx context.Context, booking models.Booking, force bool) (*SaveResult, error) {
	if booking.ID == "" {
		booking.ID = s.engine.NewID()
	}
	booking.Version = 0
	if err := normalize(&booking); err != nil {
		return nil, err
	}

	res, err := s.save(ctx, &booking, force)
	if err != nil || !res.Saved {
		return res, err
	}

	metrics.IncSaved("create", 1)
	s.publish(events.EventBookingCreated, events.NewBookingPayload(&booking))
	s.afterForce(&booking, res.Conflicts, force)
	s.enqueueSync(ctx, &booking, "upsert")
	return res, nil
}

// UpdateBooking replaces a stored booking. The caller's Version must match
// the stored one.
func (s *BookingService) UpdateBooking(ctx context.Context, booking models.Booking, force bool) (*SaveResult, error) {
	if booking.ID == "" {
		return nil, &scheduling.ValidationError{Field: "id", Reason: "is required"}
	}
	if booking.Version <= 0 {
		return nil, &scheduling.ValidationError{Field: "version", Value: fmt.Sprint(booking.Version), Reason: "must be the stored version"}
	}
	// An omitted status keeps the stored one; ChangeStatus is the way to
	// move a booking between states.
	if booking.Status == "" {
		current, err := s.store.Get(ctx, booking.ID)
		if err != nil {
			return nil, err
		}
		booking.Status = current.EffectiveStatus()
	}
	if err := normalize(&booking); err != nil {
		return nil, err
	}

	res, err := s.save(ctx, &booking, force)
	if err != nil || !res.Saved {
		return res, err
	}

	metrics.IncSaved("update", 1)
	s.publish(events.EventBookingUpdated, events.NewBookingPayload(&booking))
	s.afterForce(&booking, res.Conflicts, force)
	s.enqueueSync(ctx, &booking, "upsert")
	return res, nil
}

// ChangeStatus moves a booking to status. Conflicts are only re-checked when
// a terminal booking becomes active again.
func (s *BookingService) ChangeStatus(ctx context.Context, id string, version int64, status models.Status, force bool) (*SaveResult, error) {
	if !status.Valid() {
		return nil, &scheduling.ValidationError{Field: "status", Value: string(status), Reason: "unknown status"}
	}
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Version != version {
		return nil, fmt.Errorf("booking %s: %w", id, domain.ErrConcurrentModification)
	}

	previous := current.EffectiveStatus()
	next := *current
	next.Status = status

	var res *SaveResult
	if !current.IsActive() && status.IsActive() {
		res, err = s.save(ctx, &next, force)
		if err != nil || !res.Saved {
			return res, err
		}
	} else {
		if err := s.store.Put(ctx, &next); err != nil {
			return nil, err
		}
		res = &SaveResult{Booking: &next, Conflicts: []models.Conflict{}, Saved: true}
	}

	metrics.IncSaved("status", 1)
	payload := events.NewBookingPayload(&next)
	payload.PreviousStatus = previous
	s.publish(events.EventBookingStatusChanged, payload)
	s.afterForce(&next, res.Conflicts, force)
	s.enqueueSync(ctx, &next, "update_status")
	return res, nil
}

// DeleteBooking removes a booking.
func (s *BookingService) DeleteBooking(ctx context.Context, id string) error {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	metrics.IncSaved("delete", 1)
	s.publish(events.EventBookingDeleted, events.NewBookingPayload(current))
	s.enqueueSync(ctx, current, "delete")
	return nil
}

func (s *BookingService) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return s.store.Get(ctx, id)
}

func (s *BookingService) ListBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	return s.store.List(ctx, filter)
}

// AvailableSlots lists free start times for staffID on date, honouring both
// stored bookings and declared absences.
func (s *BookingService) AvailableSlots(ctx context.Context, staffID, date string, durationMinutes int) ([]string, error) {
	if _, err := scheduling.ParseDate(date); err != nil {
		return nil, err
	}
	existing, err := s.store.List(ctx, models.BookingFilter{StaffID: staffID, DateFrom: date, DateTo: date})
	if err != nil {
		return nil, err
	}
	engine, err := s.engineFor(ctx, staffID, date)
	if err != nil {
		return nil, err
	}
	return engine.AvailableSlots(existing, staffID, date, durationMinutes)
}

// CheckConflicts previews the conflicts candidate would have if saved now.
func (s *BookingService) CheckConflicts(ctx context.Context, candidate models.Booking) ([]models.Conflict, error) {
	if _, err := scheduling.ValidateBooking(candidate); err != nil {
		return nil, err
	}
	existing, err := s.store.List(ctx, models.BookingFilter{DateFrom: candidate.Date, DateTo: candidate.Date})
	if err != nil {
		return nil, err
	}
	engine, err := s.engineFor(ctx, candidate.StaffID, candidate.Date)
	if err != nil {
		return nil, err
	}
	return engine.CheckConflicts(existing, candidate)
}

// save runs the conflict check and the write as one store operation.
func (s *BookingService) save(ctx context.Context, booking *models.Booking, force bool) (*SaveResult, error) {
	engine, err := s.engineFor(ctx, booking.StaffID, booking.Date)
	if err != nil {
		return nil, err
	}

	var found []models.Conflict
	check := func(snapshot []models.Booking) error {
		conflicts, err := engine.CheckConflicts(snapshot, *booking)
		if err != nil {
			return err
		}
		found = conflicts
		if len(conflicts) > 0 && !force {
			return &ConflictError{Conflicts: []scheduling.BatchConflict{{
				BookingID: booking.ID,
				Date:      booking.Date,
				Conflicts: conflicts,
			}}}
		}
		return nil
	}

	err = s.store.CheckAndPut(ctx, []*models.Booking{booking}, check)
	countConflicts(found)

	var cErr *ConflictError
	if errors.As(err, &cErr) {
		s.logger.Info().
			Str("booking_id", booking.ID).
			Str("staff_id", booking.StaffID).
			Str("date", booking.Date).
			Int("conflicts", len(found)).
			Msg("booking blocked by conflicts")
		return &SaveResult{Booking: booking, Conflicts: found, Saved: false}, nil
	}
	if err != nil {
		return nil, err
	}
	if found == nil {
		found = []models.Conflict{}
	}
	return &SaveResult{Booking: booking, Conflicts: found, Saved: true}, nil
}

// engineFor returns the engine with the absences of staffID on date (all
// dates when empty) attached.
func (s *BookingService) engineFor(ctx context.Context, staffID, date string) (*scheduling.Engine, error) {
	absences, err := s.store.ListAbsences(ctx, staffID, date)
	if err != nil {
		return nil, fmt.Errorf("load absences: %w", err)
	}
	return s.engine.WithRoster(scheduling.AbsenceList(absences)), nil
}

func (s *BookingService) afterForce(booking *models.Booking, conflicts []models.Conflict, force bool) {
	if !force || len(conflicts) == 0 {
		return
	}
	types := conflictTypes(conflicts)
	s.logger.Warn().
		Str("booking_id", booking.ID).
		Str("staff_id", booking.StaffID).
		Str("date", booking.Date).
		Str("conflicts", joinTypes(types)).
		Msg("booking saved over conflicts")

	payload := events.NewBookingPayload(booking)
	payload.Conflicts = types
	s.publish(events.EventConflictOverridden, payload)
}

func (s *BookingService) publish(eventType string, payload interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("publish event error")
	}
}

func (s *BookingService) enqueueSync(ctx context.Context, booking *models.Booking, taskType string) {
	if s.syncer == nil {
		return
	}

	var status models.Status
	if taskType == "update_status" {
		status = booking.EffectiveStatus()
	}
	snapshot := *booking
	if err := s.syncer.EnqueueTask(ctx, taskType, booking.ID, &snapshot, status); err != nil {
		s.logger.Error().Err(err).Str("booking_id", booking.ID).Str("task", taskType).Msg("roster enqueue error")
	}
}

// normalize validates b and fills in its derived fields: status defaults to
// scheduled, and EndTime and DurationMinutes are both set from whichever
// was given.
func normalize(b *models.Booking) error {
	if b.Status == "" {
		b.Status = models.StatusScheduled
	}
	if !b.Status.Valid() {
		return &scheduling.ValidationError{Field: "status", Value: string(b.Status), Reason: "unknown status", BookingID: b.ID}
	}
	iv, err := scheduling.ValidateBooking(*b)
	if err != nil {
		return err
	}
	b.EndTime = scheduling.FormatTimeOfDay(iv.End)
	b.DurationMinutes = iv.End - iv.Start
	return nil
}

func countConflicts(conflicts []models.Conflict) {
	for _, c := range conflicts {
		metrics.IncConflict(string(c.Type))
	}
}

func conflictTypes(conflicts []models.Conflict) []models.ConflictType {
	seen := make(map[models.ConflictType]bool)
	var types []models.ConflictType
	for _, c := range conflicts {
		if !seen[c.Type] {
			seen[c.Type] = true
			types = append(types, c.Type)
		}
	}
	return types
}

func joinTypes(types []models.ConflictType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ",")
}
