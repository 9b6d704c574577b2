package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"carecoop/internal/domain"
	"carecoop/internal/models"
)

// MemoryStore keeps bookings and absences in process memory. It backs the
// memory storage backend and serves as the failover target for redis.
type MemoryStore struct {
	mu       sync.RWMutex
	bookings map[string]models.Booking
	absences map[string]models.Absence
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bookings: make(map[string]models.Booking),
		absences: make(map[string]models.Absence),
		now:      time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	return &b, nil
}

func (s *MemoryStore) List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Booking, 0)
	for _, b := range s.bookings {
		if filter.Match(b) {
			out = append(out, b)
		}
	}
	sortBookings(out)
	return out, nil
}

func (s *MemoryStore) Put(ctx context.Context, booking *models.Booking) error {
	return s.CheckAndPut(ctx, []*models.Booking{booking}, nil)
}

func (s *MemoryStore) CheckAndPut(ctx context.Context, bookings []*models.Booking, check domain.ConflictCheck) error {
	if len(bookings) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if check != nil {
		dates := make(map[string]bool)
		for _, d := range distinctDates(bookings) {
			dates[d] = true
		}
		snapshot := make([]models.Booking, 0)
		for _, b := range s.bookings {
			if dates[b.Date] {
				snapshot = append(snapshot, b)
			}
		}
		sortBookings(snapshot)
		if err := check(snapshot); err != nil {
			return err
		}
	}

	now := s.now()
	staged := make(map[string]models.Booking, len(bookings))
	saved := make([]models.Booking, len(bookings))
	for i, b := range bookings {
		var current *models.Booking
		if c, ok := staged[b.ID]; ok {
			current = &c
		} else if c, ok := s.bookings[b.ID]; ok {
			current = &c
		}
		next, err := stamp(current, *b, now)
		if err != nil {
			return err
		}
		staged[b.ID] = next
		saved[i] = next
	}

	for id, b := range staged {
		s.bookings[id] = b
	}
	for i := range bookings {
		*bookings[i] = saved[i]
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bookings[id]; !ok {
		return fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	delete(s.bookings, id)
	return nil
}

func (s *MemoryStore) ListAbsences(ctx context.Context, staffID, date string) ([]models.Absence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Absence, 0)
	for _, a := range s.absences {
		if matchAbsence(a, staffID, date) {
			out = append(out, a)
		}
	}
	sortAbsences(out)
	return out, nil
}

func (s *MemoryStore) PutAbsence(ctx context.Context, absence *models.Absence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.absences[absence.ID] = *absence
	return nil
}

func (s *MemoryStore) DeleteAbsence(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.absences[id]; !ok {
		return fmt.Errorf("absence %s: %w", id, domain.ErrNotFound)
	}
	delete(s.absences, id)
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
