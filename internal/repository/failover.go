package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"carecoop/internal/domain"
	"carecoop/internal/models"

	"github.com/rs/zerolog"
)

const defaultRecoveryInterval = time.Minute

// FailoverStore serves from primary and switches to fallback when primary
// returns an infrastructure error. While down, primary is probed with Ping
// once per recovery interval. Records written during an outage live only in
// fallback.
type FailoverStore struct {
	primary  domain.Store
	fallback domain.Store
	logger   *zerolog.Logger

	mu        sync.Mutex
	down      bool
	lastCheck time.Time
	interval  time.Duration
	now       func() time.Time
}

func NewFailoverStore(primary, fallback domain.Store, logger *zerolog.Logger) *FailoverStore {
	return &FailoverStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		interval: defaultRecoveryInterval,
		now:      time.Now,
	}
}

// Degraded reports whether requests are currently served by the fallback.
func (s *FailoverStore) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down
}

// active picks the store for the next call, probing primary when the
// recovery interval has passed.
func (s *FailoverStore) active(ctx context.Context) domain.Store {
	s.mu.Lock()
	if !s.down {
		s.mu.Unlock()
		return s.primary
	}
	if s.now().Sub(s.lastCheck) < s.interval {
		s.mu.Unlock()
		return s.fallback
	}
	s.lastCheck = s.now()
	s.mu.Unlock()

	if err := s.primary.Ping(ctx); err != nil {
		return s.fallback
	}

	s.mu.Lock()
	s.down = false
	s.mu.Unlock()
	s.logger.Warn().Msg("Primary store recovered; bookings written during the outage remain only in memory")
	return s.primary
}

// failed records a primary failure and reports whether the call should be
// retried on fallback.
func (s *FailoverStore) failed(store domain.Store, err error) bool {
	if store != s.primary || err == nil || isDomainError(err) {
		return false
	}
	s.mu.Lock()
	s.down = true
	s.lastCheck = s.now()
	s.mu.Unlock()
	s.logger.Error().Err(err).Msg("Primary store failed, falling back to memory")
	return true
}

func isDomainError(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrAlreadyExists) ||
		errors.Is(err, domain.ErrConcurrentModification) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (s *FailoverStore) Get(ctx context.Context, id string) (*models.Booking, error) {
	store := s.active(ctx)
	b, err := store.Get(ctx, id)
	if s.failed(store, err) {
		return s.fallback.Get(ctx, id)
	}
	return b, err
}

func (s *FailoverStore) List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	store := s.active(ctx)
	out, err := store.List(ctx, filter)
	if s.failed(store, err) {
		return s.fallback.List(ctx, filter)
	}
	return out, err
}

func (s *FailoverStore) Put(ctx context.Context, booking *models.Booking) error {
	store := s.active(ctx)
	err := store.Put(ctx, booking)
	if s.failed(store, err) {
		return s.fallback.Put(ctx, booking)
	}
	return err
}

func (s *FailoverStore) CheckAndPut(ctx context.Context, bookings []*models.Booking, check domain.ConflictCheck) error {
	var checkErr error
	guarded := func(snapshot []models.Booking) error {
		if check == nil {
			return nil
		}
		checkErr = check(snapshot)
		return checkErr
	}

	store := s.active(ctx)
	err := store.CheckAndPut(ctx, bookings, guarded)
	if checkErr != nil && errors.Is(err, checkErr) {
		return err
	}
	if s.failed(store, err) {
		return s.fallback.CheckAndPut(ctx, bookings, check)
	}
	return err
}

func (s *FailoverStore) Delete(ctx context.Context, id string) error {
	store := s.active(ctx)
	err := store.Delete(ctx, id)
	if s.failed(store, err) {
		return s.fallback.Delete(ctx, id)
	}
	return err
}

func (s *FailoverStore) ListAbsences(ctx context.Context, staffID, date string) ([]models.Absence, error) {
	store := s.active(ctx)
	out, err := store.ListAbsences(ctx, staffID, date)
	if s.failed(store, err) {
		return s.fallback.ListAbsences(ctx, staffID, date)
	}
	return out, err
}

func (s *FailoverStore) PutAbsence(ctx context.Context, absence *models.Absence) error {
	store := s.active(ctx)
	err := store.PutAbsence(ctx, absence)
	if s.failed(store, err) {
		return s.fallback.PutAbsence(ctx, absence)
	}
	return err
}

func (s *FailoverStore) DeleteAbsence(ctx context.Context, id string) error {
	store := s.active(ctx)
	err := store.DeleteAbsence(ctx, id)
	if s.failed(store, err) {
		return s.fallback.DeleteAbsence(ctx, id)
	}
	return err
}

// Ping succeeds while either store is reachable.
func (s *FailoverStore) Ping(ctx context.Context) error {
	if err := s.primary.Ping(ctx); err != nil {
		return s.fallback.Ping(ctx)
	}
	return nil
}

func (s *FailoverStore) Close() error {
	return errors.Join(s.primary.Close(), s.fallback.Close())
}
