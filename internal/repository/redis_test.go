package repository

import (
	"context"
	"encoding/json"
	"testing"

	"carecoop/internal/config"
	"carecoop/internal/domain"
	"carecoop/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewRedisClient(config.RedisConfig{Address: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisStore(client)
}

func TestRedisStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) domain.Store {
		_, s := newTestRedis(t)
		return s
	})
}

func TestRedisStore_KeyLayout(t *testing.T) {
	mr, s := newTestRedis(t)
	ctx := context.Background()

	b := newBooking("b1", "s1", "2024-03-04", "09:00", "10:00")
	b.PatientID = "p1"
	require.NoError(t, s.Put(ctx, b))

	raw, err := mr.Get("booking:b1")
	require.NoError(t, err)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &record))
	assert.Equal(t, "s1", record["staffId"])
	assert.Equal(t, "p1", record["patientId"])
	assert.Equal(t, "2024-03-04", record["date"])

	members, err := mr.Members("bookings:date:2024-03-04")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, members)
}

func TestRedisStore_ReadsForeignRecords(t *testing.T) {
	mr, s := newTestRedis(t)
	ctx := context.Background()

	// Records copied from the browser store carry no version or timestamps.
	require.NoError(t, mr.Set("booking:legacy", `{"id":"legacy","staffId":"s1","date":"2024-03-04","startTime":"09:00","durationMinutes":30}`))
	mr.SAdd("bookings:all", "legacy")
	mr.SAdd("bookings:date:2024-03-04", "legacy")

	got, err := s.Get(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, 30, got.DurationMinutes)
	assert.Equal(t, models.StatusScheduled, got.EffectiveStatus())

	list, err := s.List(ctx, models.BookingFilter{StaffID: "s1"})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, s := newTestRedis(t)
	mr.Close()

	ctx := context.Background()
	assert.Error(t, s.Ping(ctx))
	_, err := s.Get(ctx, "b1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestNewRedisClient(t *testing.T) {
	client := NewRedisClient(config.RedisConfig{Address: "localhost:6390", DB: 2, PoolSize: 4})
	defer client.Close()

	opts := client.Options()
	assert.Equal(t, "localhost:6390", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 4, opts.PoolSize)
}
