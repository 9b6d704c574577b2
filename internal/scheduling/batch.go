package scheduling

import "carecoop/internal/models"

// BatchConflict is the conflict report of one candidate in a batch.
type BatchConflict struct {
	Index     int               `json:"index"`
	BookingID string            `json:"bookingId"`
	Date      string            `json:"date"`
	Conflicts []models.Conflict `json:"conflicts"`
}

// CheckBatch runs CheckConflicts for every candidate against existing plus
// the candidates before it in the batch, so a series that collides with
// itself is reported too. Only candidates with conflicts are returned, in
// batch order. Nothing is persisted.
func (e *Engine) CheckBatch(existing []models.Booking, candidates []models.Booking) ([]BatchConflict, error) {
	pool := make([]models.Booking, 0, len(existing)+len(candidates))
	pool = append(pool, existing...)

	report := make([]BatchConflict, 0)
	for i, c := range candidates {
		conflicts, err := e.CheckConflicts(pool, c)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			report = append(report, BatchConflict{
				Index:     i,
				BookingID: c.ID,
				Date:      c.Date,
				Conflicts: conflicts,
			})
		}
		pool = append(pool, c)
	}
	return report, nil
}
