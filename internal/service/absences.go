package service

import (
	"context"

	"carecoop/internal/models"
	"carecoop/internal/scheduling"
)

// AddAbsence stores declared unavailability. An empty time range blocks the
// whole day.
func (s *BookingService) AddAbsence(ctx context.Context, absence models.Absence) (*models.Absence, error) {
	if err := scheduling.ValidateAbsence(absence); err != nil {
		return nil, err
	}
	if absence.ID == "" {
		absence.ID = s.engine.NewID()
	}
	if err := s.store.PutAbsence(ctx, &absence); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("absence_id", absence.ID).
		Str("staff_id", absence.StaffID).
		Str("date", absence.Date).
		Msg("absence recorded")
	return &absence, nil
}

func (s *BookingService) ListAbsences(ctx context.Context, staffID, date string) ([]models.Absence, error) {
	return s.store.ListAbsences(ctx, staffID, date)
}

func (s *BookingService) RemoveAbsence(ctx context.Context, id string) error {
	return s.store.DeleteAbsence(ctx, id)
}
