package events

import (
	"encoding/json"
	"sync"
	"time"

	"carecoop/internal/models"

	"github.com/rs/zerolog"
)

const (
	EventBookingCreated       = "booking_created"
	EventBookingUpdated       = "booking_updated"
	EventBookingStatusChanged = "booking_status_changed"
	EventBookingDeleted       = "booking_deleted"
	EventRecurrenceCommitted  = "recurrence_committed"
	EventConflictOverridden   = "conflict_overridden"
)

// BookingEventPayload is the booking snapshot sent to event consumers.
type BookingEventPayload struct {
	BookingID      string                `json:"bookingId"`
	StaffID        string                `json:"staffId"`
	PatientID      string                `json:"patientId,omitempty"`
	Date           string                `json:"date"`
	StartTime      string                `json:"startTime"`
	EndTime        string                `json:"endTime,omitempty"`
	Status         models.Status         `json:"status"`
	PreviousStatus models.Status         `json:"previousStatus,omitempty"`
	Version        int64                 `json:"version"`
	Conflicts      []models.ConflictType `json:"conflicts,omitempty"`
}

// NewBookingPayload snapshots b.
func NewBookingPayload(b *models.Booking) BookingEventPayload {
	return BookingEventPayload{
		BookingID: b.ID,
		StaffID:   b.StaffID,
		PatientID: b.PatientID,
		Date:      b.Date,
		StartTime: b.StartTime,
		EndTime:   b.EndTime,
		Status:    b.EffectiveStatus(),
		Version:   b.Version,
	}
}

// RecurrenceEventPayload summarizes a committed series.
type RecurrenceEventPayload struct {
	BookingIDs []string `json:"bookingIds"`
	StaffID    string   `json:"staffId"`
	PatientID  string   `json:"patientId,omitempty"`
	FirstDate  string   `json:"firstDate"`
	LastDate   string   `json:"lastDate"`
	Overridden int      `json:"overridden,omitempty"`
}

// Event is a published domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus is an in-process pub/sub. Handlers run synchronously in
// subscription order; a failing handler does not stop the others.
type EventBus struct {
	subscribers map[string][]EventHandler
	wildcard    []EventHandler
	onError     func(event *Event, err error)
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeAll registers a handler for every event type.
func (b *EventBus) SubscribeAll(handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.wildcard = append(b.wildcard, handler)
}

// OnError sets a callback for handler failures.
func (b *EventBus) OnError(fn func(event *Event, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	handlers = append(handlers, b.wildcard...)
	onError := b.onError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}

// LogHandler writes every event to logger at debug level.
func LogHandler(logger *zerolog.Logger) EventHandler {
	return func(event *Event) error {
		logger.Debug().
			Str("event", event.Type).
			RawJSON("payload", event.Payload).
			Time("at", event.CreatedAt).
			Msg("Domain event")
		return nil
	}
}
