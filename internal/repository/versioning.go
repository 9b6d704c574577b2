package repository

import (
	"fmt"
	"sort"
	"time"

	"carecoop/internal/domain"
	"carecoop/internal/models"
)

// stamp applies the optimistic version rules of domain.BookingStore to b
// given the currently stored record (nil when absent).
func stamp(current *models.Booking, b models.Booking, now time.Time) (models.Booking, error) {
	if b.Version == 0 {
		if current != nil {
			return models.Booking{}, fmt.Errorf("booking %s: %w", b.ID, domain.ErrAlreadyExists)
		}
		b.Version = 1
		b.CreatedAt = now
		b.UpdatedAt = now
		return b, nil
	}

	if current == nil {
		return models.Booking{}, fmt.Errorf("booking %s: %w", b.ID, domain.ErrNotFound)
	}
	if current.Version != b.Version {
		return models.Booking{}, fmt.Errorf("booking %s: %w", b.ID, domain.ErrConcurrentModification)
	}
	b.Version++
	b.CreatedAt = current.CreatedAt
	b.UpdatedAt = now
	return b, nil
}

func sortBookings(bookings []models.Booking) {
	sort.Slice(bookings, func(i, j int) bool {
		a, b := bookings[i], bookings[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID < b.ID
	})
}

func sortAbsences(absences []models.Absence) {
	sort.Slice(absences, func(i, j int) bool {
		a, b := absences[i], absences[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.StaffID != b.StaffID {
			return a.StaffID < b.StaffID
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		return a.ID < b.ID
	})
}

func matchAbsence(a models.Absence, staffID, date string) bool {
	return (staffID == "" || a.StaffID == staffID) && (date == "" || a.Date == date)
}

func distinctDates(bookings []*models.Booking) []string {
	seen := make(map[string]bool, len(bookings))
	var dates []string
	for _, b := range bookings {
		if !seen[b.Date] {
			seen[b.Date] = true
			dates = append(dates, b.Date)
		}
	}
	return dates
}
