package service

import (
	"context"
	"errors"
	"io"

	"carecoop/internal/export"
	"carecoop/internal/models"
	"carecoop/internal/scheduling"
)

var (
	// ErrRosterDisabled is returned by ResyncRoster when no roster is configured.
	ErrRosterDisabled = errors.New("roster sync is not configured")
	// ErrExportDisabled is returned by SaveRosterExport without an export directory.
	ErrExportDisabled = errors.New("roster export directory is not configured")
)

// ExportRoster writes the xlsx roster for [from, to] to w.
func (s *BookingService) ExportRoster(ctx context.Context, w io.Writer, from, to string) error {
	bookings, err := s.rangeBookings(ctx, from, to)
	if err != nil {
		return err
	}
	return export.WriteRoster(w, from, to, bookings)
}

// SaveRosterExport writes the xlsx roster for [from, to] into the export
// directory and returns the file path.
func (s *BookingService) SaveRosterExport(ctx context.Context, from, to string) (string, error) {
	if s.exportDir == "" {
		return "", ErrExportDisabled
	}
	bookings, err := s.rangeBookings(ctx, from, to)
	if err != nil {
		return "", err
	}
	path, err := export.SaveRoster(s.exportDir, from, to, bookings)
	if err != nil {
		return "", err
	}
	s.logger.Info().Str("path", path).Int("bookings", len(bookings)).Msg("roster export saved")
	return path, nil
}

// ResyncRoster rewrites the shared roster from stored bookings in [from, to].
func (s *BookingService) ResyncRoster(ctx context.Context, from, to string) (int, error) {
	if s.replacer == nil {
		return 0, ErrRosterDisabled
	}
	bookings, err := s.rangeBookings(ctx, from, to)
	if err != nil {
		return 0, err
	}
	if err := s.replacer.ReplaceAll(ctx, bookings); err != nil {
		return 0, err
	}
	s.logger.Info().Str("from", from).Str("to", to).Int("bookings", len(bookings)).Msg("roster resynced")
	return len(bookings), nil
}

func (s *BookingService) rangeBookings(ctx context.Context, from, to string) ([]models.Booking, error) {
	if _, err := scheduling.ParseDate(from); err != nil {
		return nil, fieldError(err, "from")
	}
	if _, err := scheduling.ParseDate(to); err != nil {
		return nil, fieldError(err, "to")
	}
	return s.store.List(ctx, models.BookingFilter{DateFrom: from, DateTo: to})
}

func fieldError(err error, field string) error {
	var vErr *scheduling.ValidationError
	if errors.As(err, &vErr) {
		cp := *vErr
		cp.Field = field
		return &cp
	}
	return err
}
