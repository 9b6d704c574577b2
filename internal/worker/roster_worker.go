package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"carecoop/internal/domain"
	"carecoop/internal/metrics"
	"carecoop/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Roster task types.
const (
	TaskUpsert       = "upsert"
	TaskDelete       = "delete"
	TaskUpdateStatus = "update_status"
)

const (
	redisQueueKey = "roster:queue"
	deadLetterKey = "roster:deadletter"
)

// rosterTaskPayload is persisted in SyncTask.Payload as JSON.
type rosterTaskPayload struct {
	BookingID string          `json:"bookingId"`
	Booking   *models.Booking `json:"booking,omitempty"`
	Status    models.Status   `json:"status,omitempty"`
}

// RosterSyncWorker drains the sync queue into the shared roster. Tasks are
// always persisted first; redis and the in-memory channel only shorten the
// path to the worker, the database poll picks up anything they miss.
type RosterSyncWorker struct {
	store        domain.SyncTaskStore
	roster       domain.RosterWriter
	redis        *redis.Client
	retryPolicy  RetryPolicy
	queue        chan models.SyncTask
	pollInterval time.Duration
	redisWait    time.Duration
	batchSize    int
	logger       *zerolog.Logger
	now          func() time.Time
}

// NewRosterSyncWorker builds a worker. redisClient may be nil.
func NewRosterSyncWorker(store domain.SyncTaskStore, roster domain.RosterWriter, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *RosterSyncWorker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "roster_sync").Logger()

	return &RosterSyncWorker{
		store:        store,
		roster:       roster,
		redis:        redisClient,
		retryPolicy:  retry.withDefaults(),
		queue:        make(chan models.SyncTask, models.WorkerQueueSize),
		pollInterval: 2 * time.Second,
		redisWait:    time.Second,
		batchSize:    20,
		logger:       &l,
		now:          time.Now,
	}
}

// EnqueueTask persists a roster task and hands it to the fastest available
// queue.
func (w *RosterSyncWorker) EnqueueTask(ctx context.Context, taskType string, bookingID string, booking *models.Booking, status models.Status) error {
	switch taskType {
	case TaskUpsert, TaskDelete, TaskUpdateStatus:
	case "":
		return errors.New("task type is required")
	default:
		return fmt.Errorf("unknown task type: %s", taskType)
	}
	if bookingID == "" && booking != nil {
		bookingID = booking.ID
	}
	if bookingID == "" {
		return errors.New("booking id is required")
	}

	payloadBytes, err := json.Marshal(rosterTaskPayload{
		BookingID: bookingID,
		Booking:   booking,
		Status:    status,
	})
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.SyncTask{
		TaskType:  taskType,
		BookingID: bookingID,
		Payload:   string(payloadBytes),
		Status:    models.SyncStatusPending,
	}
	if err := w.store.CreateSyncTask(ctx, &task); err != nil {
		return fmt.Errorf("persist sync task: %w", err)
	}

	if w.redis != nil {
		err := w.pushRedis(ctx, redisQueueKey, &task)
		if err == nil {
			return nil
		}
		w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("redis push failed, using memory queue")
	}

	select {
	case w.queue <- task:
	default:
		w.logger.Warn().Int64("task_id", task.ID).Msg("memory queue full, task left to polling")
	}
	return nil
}

// Start runs the worker loop until ctx is done.
func (w *RosterSyncWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("roster sync worker started")
	defer w.logger.Info().Msg("roster sync worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}
		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		n, err := w.ProcessPending(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("fetch pending tasks")
		}
		if n > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.pollInterval):
		}
	}
}

// ProcessPending handles one batch of due tasks from the store and returns
// how many were processed.
func (w *RosterSyncWorker) ProcessPending(ctx context.Context) (int, error) {
	tasks, err := w.store.GetPendingSyncTasks(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	for i := range tasks {
		w.processTask(ctx, &tasks[i])
	}
	return len(tasks), nil
}

func (w *RosterSyncWorker) tryLocalQueue() (models.SyncTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.SyncTask{}, false
	}
}

func (w *RosterSyncWorker) tryRedis(ctx context.Context) (models.SyncTask, bool) {
	if w.redis == nil {
		return models.SyncTask{}, false
	}
	res, err := w.redis.BRPop(ctx, w.redisWait, redisQueueKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("redis BRPOP")
		}
		return models.SyncTask{}, false
	}
	if len(res) != 2 {
		return models.SyncTask{}, false
	}
	var task models.SyncTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Error().Err(err).Msg("decode redis task")
		return models.SyncTask{}, false
	}
	return task, true
}

func (w *RosterSyncWorker) processTask(ctx context.Context, task *models.SyncTask) {
	status, superseded, err := w.store.SyncTaskState(ctx, task.ID)
	if err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("load task state")
		return
	}
	if status != models.SyncStatusPending && status != models.SyncStatusRetry {
		w.logger.Debug().Int64("task_id", task.ID).Str("status", status).Msg("task already handled")
		return
	}
	// A later task for the same booking has reached the roster; applying
	// this one now would overwrite it with older state.
	if superseded {
		if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusCompleted, "superseded by a later task", nil); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark superseded")
		}
		w.logger.Info().Int64("task_id", task.ID).Str("booking_id", task.BookingID).Msg("stale roster task skipped")
		metrics.IncSync("superseded")
		return
	}

	payload, err := decodePayload(task.Payload)
	if err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := w.apply(ctx, task.TaskType, payload); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark completed")
	}
	metrics.IncSync(models.SyncStatusCompleted)
}

func (w *RosterSyncWorker) apply(ctx context.Context, taskType string, payload rosterTaskPayload) error {
	switch taskType {
	case TaskUpsert:
		if payload.Booking == nil {
			return errors.New("booking payload missing")
		}
		return w.roster.UpsertBooking(ctx, payload.Booking)
	case TaskDelete:
		if payload.BookingID == "" {
			return errors.New("booking id missing")
		}
		return w.roster.DeleteBookingRow(ctx, payload.BookingID)
	case TaskUpdateStatus:
		if payload.BookingID == "" || payload.Status == "" {
			return errors.New("booking id or status missing")
		}
		return w.roster.UpdateBookingStatus(ctx, payload.BookingID, payload.Status)
	default:
		return fmt.Errorf("unknown task type: %s", taskType)
	}
}

func (w *RosterSyncWorker) retryOrFail(ctx context.Context, task *models.SyncTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		w.failTask(ctx, task, cause)
		return
	}

	next := w.now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusRetry, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark retry")
	}
	w.logger.Warn().Err(cause).Int64("task_id", task.ID).Int("attempt", attempt).Time("next_retry_at", next).Msg("roster task will be retried")
	metrics.IncSync(models.SyncStatusRetry)
}

func (w *RosterSyncWorker) failTask(ctx context.Context, task *models.SyncTask, cause error) {
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("mark failed")
	}
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Str("booking_id", task.BookingID).Msg("roster task failed")
	metrics.IncSync(models.SyncStatusFailed)

	if w.redis != nil {
		if err := w.pushRedis(ctx, deadLetterKey, task); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("dead letter push")
		}
	}
}

func decodePayload(raw string) (rosterTaskPayload, error) {
	var payload rosterTaskPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return payload, err
	}
	return payload, nil
}

func (w *RosterSyncWorker) pushRedis(ctx context.Context, key string, task *models.SyncTask) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, key, data).Err()
}
