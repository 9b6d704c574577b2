package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"carecoop/internal/config"
	"carecoop/internal/domain"
	"carecoop/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	bookingKeyPrefix  = "booking:"
	bookingDatePrefix = "bookings:date:"
	bookingIndexKey   = "bookings:all"
	absenceKeyPrefix  = "absence:"
	absenceIndexKey   = "absences:all"

	maxTxRetries = 10
)

// NewRedisClient builds a client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisStore stores each booking as a JSON record under booking:<id>, the
// same shape the browser store used, plus per-date id sets for snapshot
// reads. Writes use WATCH/MULTI and are retried when a watched key changes.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func bookingKey(id string) string { return bookingKeyPrefix + id }
func dateKey(date string) string  { return bookingDatePrefix + date }
func absenceKey(id string) string { return absenceKeyPrefix + id }

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Booking, error) {
	b, err := getBooking(ctx, s.client, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	return b, nil
}

func (s *RedisStore) List(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error) {
	ids, err := s.client.SMembers(ctx, bookingIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list booking ids: %w", err)
	}
	all, err := loadBookings(ctx, s.client, ids)
	if err != nil {
		return nil, err
	}

	out := make([]models.Booking, 0, len(all))
	for _, b := range all {
		if filter.Match(b) {
			out = append(out, b)
		}
	}
	sortBookings(out)
	return out, nil
}

func (s *RedisStore) Put(ctx context.Context, booking *models.Booking) error {
	return s.CheckAndPut(ctx, []*models.Booking{booking}, nil)
}

func (s *RedisStore) CheckAndPut(ctx context.Context, bookings []*models.Booking, check domain.ConflictCheck) error {
	if len(bookings) == 0 {
		return nil
	}

	dates := distinctDates(bookings)
	watched := make([]string, 0, len(dates)+len(bookings))
	for _, d := range dates {
		watched = append(watched, dateKey(d))
	}
	for _, b := range bookings {
		watched = append(watched, bookingKey(b.ID))
	}

	var saved []models.Booking
	txf := func(tx *redis.Tx) error {
		if check != nil {
			snapshot, err := s.snapshot(ctx, tx, dates)
			if err != nil {
				return err
			}
			if err := check(snapshot); err != nil {
				return err
			}
		}

		now := s.now()
		staged := make(map[string]models.Booking, len(bookings))
		previousDate := make(map[string]string, len(bookings))
		saved = make([]models.Booking, len(bookings))
		for i, b := range bookings {
			current, ok := staged[b.ID]
			var currentPtr *models.Booking
			if ok {
				currentPtr = &current
			} else {
				stored, err := getBooking(ctx, tx, b.ID)
				if err != nil {
					return err
				}
				currentPtr = stored
				if stored != nil {
					previousDate[b.ID] = stored.Date
				}
			}
			next, err := stamp(currentPtr, *b, now)
			if err != nil {
				return err
			}
			staged[b.ID] = next
			saved[i] = next
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for id, b := range staged {
				data, err := json.Marshal(b)
				if err != nil {
					return fmt.Errorf("failed to marshal booking: %w", err)
				}
				pipe.Set(ctx, bookingKey(id), data, 0)
				pipe.SAdd(ctx, bookingIndexKey, id)
				pipe.SAdd(ctx, dateKey(b.Date), id)
				if prev, ok := previousDate[id]; ok && prev != b.Date {
					pipe.SRem(ctx, dateKey(prev), id)
				}
			}
			return nil
		})
		return err
	}

	if err := s.retryWatch(ctx, txf, watched...); err != nil {
		return err
	}
	for i := range bookings {
		*bookings[i] = saved[i]
	}
	return nil
}

// snapshot reads every booking on dates inside the transaction, watching
// the individual records so a concurrent edit aborts the write.
func (s *RedisStore) snapshot(ctx context.Context, tx *redis.Tx, dates []string) ([]models.Booking, error) {
	var ids []string
	for _, d := range dates {
		members, err := tx.SMembers(ctx, dateKey(d)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read date index: %w", err)
		}
		ids = append(ids, members...)
	}
	if len(ids) == 0 {
		return []models.Booking{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = bookingKey(id)
	}
	if err := tx.Watch(ctx, keys...).Err(); err != nil {
		return nil, fmt.Errorf("failed to watch bookings: %w", err)
	}

	bookings, err := loadBookings(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	sortBookings(bookings)
	return bookings, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	key := bookingKey(id)
	return s.retryWatch(ctx, func(tx *redis.Tx) error {
		b, err := getBooking(ctx, tx, id)
		if err != nil {
			return err
		}
		if b == nil {
			return fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SRem(ctx, bookingIndexKey, id)
			pipe.SRem(ctx, dateKey(b.Date), id)
			return nil
		})
		return err
	}, key)
}

func (s *RedisStore) retryWatch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redis transaction retries exhausted: %w", domain.ErrConcurrentModification)
}

func (s *RedisStore) ListAbsences(ctx context.Context, staffID, date string) ([]models.Absence, error) {
	ids, err := s.client.SMembers(ctx, absenceIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list absence ids: %w", err)
	}
	out := make([]models.Absence, 0)
	if len(ids) == 0 {
		return out, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = absenceKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load absences: %w", err)
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var a models.Absence
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("failed to unmarshal absence: %w", err)
		}
		if matchAbsence(a, staffID, date) {
			out = append(out, a)
		}
	}
	sortAbsences(out)
	return out, nil
}

func (s *RedisStore) PutAbsence(ctx context.Context, absence *models.Absence) error {
	data, err := json.Marshal(absence)
	if err != nil {
		return fmt.Errorf("failed to marshal absence: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, absenceKey(absence.ID), data, 0)
		pipe.SAdd(ctx, absenceIndexKey, absence.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save absence: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteAbsence(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, absenceKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete absence: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("absence %s: %w", id, domain.ErrNotFound)
	}
	return s.client.SRem(ctx, absenceIndexKey, id).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// reader is the read subset shared by *redis.Client and *redis.Tx.
type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

func getBooking(ctx context.Context, c reader, id string) (*models.Booking, error) {
	raw, err := c.Get(ctx, bookingKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking from redis: %w", err)
	}
	var b models.Booking
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("failed to unmarshal booking %s: %w", id, err)
	}
	return &b, nil
}

func loadBookings(ctx context.Context, c reader, ids []string) ([]models.Booking, error) {
	out := make([]models.Booking, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = bookingKey(id)
	}
	values, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load bookings: %w", err)
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var b models.Booking
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal booking: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}
