package service

import (
	"context"
	"errors"
	"fmt"

	"carecoop/internal/events"
	"carecoop/internal/metrics"
	"carecoop/internal/models"
	"carecoop/internal/scheduling"
)

// RecurrencePlan is an expanded series with the conflicts each instance
// would have. Nothing in it is stored.
type RecurrencePlan struct {
	Instances []models.Booking           `json:"instances"`
	Conflicts []scheduling.BatchConflict `json:"conflicts"`
}

// BatchResult reports the outcome of an all-or-nothing series write.
type BatchResult struct {
	Bookings  []models.Booking           `json:"bookings"`
	Conflicts []scheduling.BatchConflict `json:"conflicts"`
	Saved     bool                       `json:"saved"`
}

// PlanRecurring expands tpl over [firstDate, lastDate] and checks every
// instance against stored bookings and the instances before it.
func (s *BookingService) PlanRecurring(ctx context.Context, tpl models.BookingTemplate, pattern, firstDate, lastDate string) (*RecurrencePlan, error) {
	p, err := scheduling.ParsePattern(pattern)
	if err != nil {
		return nil, err
	}
	if tpl.Status == "" {
		tpl.Status = models.StatusScheduled
	}

	instances, err := s.engine.ExpandRecurrence(tpl, p, firstDate, lastDate)
	if err != nil {
		return nil, err
	}
	for i := range instances {
		if err := normalize(&instances[i]); err != nil {
			return nil, err
		}
	}

	existing, err := s.store.List(ctx, models.BookingFilter{DateFrom: firstDate, DateTo: lastDate})
	if err != nil {
		return nil, err
	}
	engine, err := s.engineFor(ctx, tpl.StaffID, "")
	if err != nil {
		return nil, err
	}
	report, err := engine.CheckBatch(existing, instances)
	if err != nil {
		return nil, err
	}
	return &RecurrencePlan{Instances: instances, Conflicts: report}, nil
}

// CommitRecurring stores a planned series. Either every instance is saved or
// none is; conflicts block the series unless force is set.
func (s *BookingService) CommitRecurring(ctx context.Context, instances []models.Booking, force bool) (*BatchResult, error) {
	if len(instances) == 0 {
		return nil, &scheduling.ValidationError{Field: "instances", Reason: "at least one instance is required"}
	}

	batch := make([]models.Booking, len(instances))
	ptrs := make([]*models.Booking, len(instances))
	seen := make(map[string]bool, len(instances))
	staff := make(map[string]bool)
	for i, b := range instances {
		if b.ID == "" {
			b.ID = s.engine.NewID()
		}
		if seen[b.ID] {
			return nil, &scheduling.ValidationError{Field: "id", Value: b.ID, Reason: "duplicate id in series", BookingID: b.ID}
		}
		seen[b.ID] = true
		b.Version = 0
		if err := normalize(&b); err != nil {
			return nil, err
		}
		batch[i] = b
		ptrs[i] = &batch[i]
		staff[b.StaffID] = true
	}

	var absences []models.Absence
	for id := range staff {
		list, err := s.store.ListAbsences(ctx, id, "")
		if err != nil {
			return nil, fmt.Errorf("load absences: %w", err)
		}
		absences = append(absences, list...)
	}
	engine := s.engine.WithRoster(scheduling.AbsenceList(absences))

	var found []scheduling.BatchConflict
	check := func(snapshot []models.Booking) error {
		report, err := engine.CheckBatch(snapshot, batch)
		if err != nil {
			return err
		}
		found = report
		if len(report) > 0 && !force {
			return &ConflictError{Conflicts: report}
		}
		return nil
	}

	err := s.store.CheckAndPut(ctx, ptrs, check)
	for _, bc := range found {
		countConflicts(bc.Conflicts)
	}

	var cErr *ConflictError
	if errors.As(err, &cErr) {
		s.logger.Info().Int("instances", len(batch)).Int("conflicting", len(found)).Msg("series blocked by conflicts")
		return &BatchResult{Bookings: batch, Conflicts: found, Saved: false}, nil
	}
	if err != nil {
		return nil, err
	}
	if found == nil {
		found = []scheduling.BatchConflict{}
	}

	metrics.IncSaved("recurrence", len(batch))
	ids := make([]string, len(batch))
	for i := range batch {
		ids[i] = batch[i].ID
		s.enqueueSync(ctx, &batch[i], "upsert")
	}
	first, last := batch[0].Date, batch[0].Date
	for _, b := range batch {
		if b.Date < first {
			first = b.Date
		}
		if b.Date > last {
			last = b.Date
		}
	}
	payload := events.RecurrenceEventPayload{
		BookingIDs: ids,
		StaffID:    batch[0].StaffID,
		PatientID:  batch[0].PatientID,
		FirstDate:  first,
		LastDate:   last,
	}
	if force {
		payload.Overridden = len(found)
		if len(found) > 0 {
			s.logger.Warn().Int("instances", len(batch)).Int("conflicting", len(found)).Msg("series saved over conflicts")
		}
	}
	s.publish(events.EventRecurrenceCommitted, payload)

	return &BatchResult{Bookings: batch, Conflicts: found, Saved: true}, nil
}
