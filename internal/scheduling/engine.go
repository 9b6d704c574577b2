package scheduling

import (
	"carecoop/internal/models"

	"github.com/google/uuid"
)

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	Window      WorkWindow
	StepMinutes int
	// MaxSuggestions caps the alternative slots attached to conflicts.
	// Negative disables suggestions.
	MaxSuggestions int
	// MaxInstances caps recurrence expansion. Zero means unlimited.
	MaxInstances int
	NewID        func() string
}

// Engine bundles the scheduling rules with the configured work window,
// slot step and an optional roster of staff absences. It keeps no booking
// state: every call works on the snapshot passed in.
type Engine struct {
	opts   Options
	roster Roster
}

// NewEngine returns an engine with defaults applied to opts.
func NewEngine(opts Options) *Engine {
	if opts.Window == (WorkWindow{}) {
		opts.Window = DefaultWorkWindow
	}
	if opts.StepMinutes <= 0 {
		opts.StepMinutes = models.DefaultStepMinutes
	}
	if opts.MaxSuggestions == 0 {
		opts.MaxSuggestions = models.DefaultMaxSuggestions
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Engine{opts: opts}
}

// WithRoster returns a copy of the engine that consults r for staff
// unavailability.
func (e *Engine) WithRoster(r Roster) *Engine {
	cp := *e
	cp.roster = r
	return &cp
}

// NewID returns a fresh booking id from the configured generator.
func (e *Engine) NewID() string {
	return e.opts.NewID()
}

// Window returns the configured work window.
func (e *Engine) Window() WorkWindow {
	return e.opts.Window
}

// AvailableSlots is AvailableSlots with the engine's window and step. Absences
// from the attached roster are treated as busy time as well.
func (e *Engine) AvailableSlots(existing []models.Booking, staffID, date string, durationMinutes int) ([]string, error) {
	q := SlotQuery{
		StaffID:         staffID,
		Date:            date,
		DurationMinutes: durationMinutes,
		Window:          e.opts.Window,
		StepMinutes:     e.opts.StepMinutes,
	}
	blocked, err := e.absenceBusy(staffID, date)
	if err != nil {
		return nil, err
	}
	return availableSlots(existing, q, blocked)
}

// ExpandRecurrence is ExpandRecurrence with the engine's id generator and
// instance limit.
func (e *Engine) ExpandRecurrence(tpl models.BookingTemplate, pattern Pattern, firstDate, lastDate string) ([]models.Booking, error) {
	return expand(tpl, pattern, firstDate, lastDate, e.opts.NewID, e.opts.MaxInstances)
}

func (e *Engine) absenceBusy(staffID, date string) ([]Interval, error) {
	if e.roster == nil {
		return nil, nil
	}
	var busy []Interval
	for _, a := range e.roster.Absences(staffID, date) {
		iv, err := absenceInterval(a)
		if err != nil {
			return nil, err
		}
		busy = append(busy, iv)
	}
	return busy, nil
}
