package stepper

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/username/taxmitra/backend/src/logger"
	"github.com/username/taxmitra/backend/src/models"
)

// DefaultAutosaveDebounce is the quiet period after the last step-data change
// before an autosave fires.
const DefaultAutosaveDebounce = 2 * time.Second

// ErrStepOutOfRange rejects navigation requests outside [0, stepCount).
var ErrStepOutOfRange = errors.New("step index out of range")

// StepStatus classifies a step index relative to the active index and the
// completed set.
type StepStatus string

const (
	StatusCompleted StepStatus = "completed"
	StatusCurrent   StepStatus = "current"
	StatusPending   StepStatus = "pending"
	StatusUpcoming  StepStatus = "upcoming"
)

// SaveDraftFunc persists the per-step data map. It is the onSaveDraft
// collaborator contract; the stepper only reports success or failure.
type SaveDraftFunc func(data map[int]json.RawMessage) error

// Options configures a Stepper.
type Options struct {
	Steps         []models.Step
	AllowStepBack bool
	// AutosaveDebounce defaults to DefaultAutosaveDebounce when zero.
	AutosaveDebounce time.Duration
	// OnStepChange receives navigation requests. The owner remains the
	// source of truth for the current step and must call SetCurrentStep to
	// actually advance.
	OnStepChange func(index int)
	SaveDraft    SaveDraftFunc
}

// Stepper tracks progress through a fixed sequence of wizard steps: the
// active index, the monotonically growing completed set, per-step draft data,
// and the autosave lifecycle. Navigation follows the controlled-component
// pattern: RequestTransition only emits intent, it never moves the stepper
// itself.
type Stepper struct {
	mu            sync.Mutex
	steps         []models.Step
	allowStepBack bool
	current       int
	completed     map[int]bool
	stepData      map[int]json.RawMessage
	lastSavedAt   time.Time
	saving        bool

	onStepChange func(int)
	saveDraft    SaveDraftFunc
	debouncer    *Debouncer
}

// State is a point-in-time snapshot of the stepper for presentation.
type State struct {
	CurrentStep    int          `json:"currentStep"`
	StepCount      int          `json:"stepCount"`
	Statuses       []StepStatus `json:"statuses"`
	CompletedSteps []int        `json:"completedSteps"`
	Progress       float64      `json:"progress"`
	LastSavedAt    *time.Time   `json:"lastSavedAt,omitempty"`
	IsSaving       bool         `json:"isSaving"`
}

// New creates a stepper positioned at step 0 with nothing completed.
func New(opts Options) *Stepper {
	debounce := opts.AutosaveDebounce
	if debounce <= 0 {
		debounce = DefaultAutosaveDebounce
	}
	return &Stepper{
		steps:         opts.Steps,
		allowStepBack: opts.AllowStepBack,
		completed:     make(map[int]bool),
		stepData:      make(map[int]json.RawMessage),
		onStepChange:  opts.OnStepChange,
		saveDraft:     opts.SaveDraft,
		debouncer:     NewDebouncer(debounce),
	}
}

// Steps returns the step definitions.
func (s *Stepper) Steps() []models.Step { return s.steps }

// RequestTransition emits a navigation request for step index. Only the range
// is checked here; richer gating (validation, back-navigation policy) belongs
// to the owner, which may veto by simply not applying the transition.
func (s *Stepper) RequestTransition(index int) error {
	if index < 0 || index >= len(s.steps) {
		return fmt.Errorf("%w: %d (steps: %d)", ErrStepOutOfRange, index, len(s.steps))
	}
	if s.onStepChange != nil {
		s.onStepChange(index)
	}
	return nil
}

// SetCurrentStep applies a transition. This is the owner's acknowledgement of
// a navigation request; out-of-range indices are rejected.
func (s *Stepper) SetCurrentStep(index int) error {
	if index < 0 || index >= len(s.steps) {
		return fmt.Errorf("%w: %d (steps: %d)", ErrStepOutOfRange, index, len(s.steps))
	}
	s.mu.Lock()
	s.current = index
	s.mu.Unlock()
	return nil
}

// Status classifies the given step index.
func (s *Stepper) Status(index int) StepStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(index)
}

func (s *Stepper) statusLocked(index int) StepStatus {
	switch {
	case s.completed[index]:
		return StatusCompleted
	case index == s.current:
		return StatusCurrent
	case index < s.current:
		return StatusPending
	default:
		return StatusUpcoming
	}
}

// IsClickable reports whether the UI should offer the step as a navigation
// target. This is a presentation hint only; RequestTransition itself performs
// just the range check.
func (s *Stepper) IsClickable(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allowStepBack && (s.completed[index] || index == s.current)
}

// MarkCompleted adds the step to the completed set and records its data.
// Completion is never revoked within a session. Non-empty data schedules an
// autosave.
func (s *Stepper) MarkCompleted(index int, data json.RawMessage) error {
	if index < 0 || index >= len(s.steps) {
		return fmt.Errorf("%w: %d (steps: %d)", ErrStepOutOfRange, index, len(s.steps))
	}
	s.mu.Lock()
	s.completed[index] = true
	if data != nil {
		s.stepData[index] = data
	}
	hasData := len(s.stepData) > 0
	s.mu.Unlock()
	if hasData {
		s.scheduleAutosave()
	}
	return nil
}

// SetStepData records draft data for a step without completing it, resetting
// the autosave quiet period.
func (s *Stepper) SetStepData(index int, data json.RawMessage) error {
	if index < 0 || index >= len(s.steps) {
		return fmt.Errorf("%w: %d (steps: %d)", ErrStepOutOfRange, index, len(s.steps))
	}
	s.mu.Lock()
	s.stepData[index] = data
	s.mu.Unlock()
	s.scheduleAutosave()
	return nil
}

// Restore loads previously saved progress without scheduling an autosave,
// e.g. when reopening a draft. Indices outside the step range are dropped.
func (s *Stepper) Restore(current int, completed []int, data map[int]json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if current >= 0 && current < len(s.steps) {
		s.current = current
	}
	for _, i := range completed {
		if i >= 0 && i < len(s.steps) {
			s.completed[i] = true
		}
	}
	for i, d := range data {
		if i >= 0 && i < len(s.steps) {
			s.stepData[i] = d
		}
	}
}

// Progress returns the completed fraction in [0, 1].
func (s *Stepper) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steps) == 0 {
		return 0
	}
	return float64(len(s.completed)) / float64(len(s.steps))
}

// Snapshot returns the full presentation state.
func (s *Stepper) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]StepStatus, len(s.steps))
	completed := make([]int, 0, len(s.completed))
	for i := range s.steps {
		statuses[i] = s.statusLocked(i)
		if s.completed[i] {
			completed = append(completed, i)
		}
	}
	st := State{
		CurrentStep:    s.current,
		StepCount:      len(s.steps),
		Statuses:       statuses,
		CompletedSteps: completed,
		IsSaving:       s.saving,
	}
	if len(s.steps) > 0 {
		st.Progress = float64(len(s.completed)) / float64(len(s.steps))
	}
	if !s.lastSavedAt.IsZero() {
		t := s.lastSavedAt
		st.LastSavedAt = &t
	}
	return st
}

// StepData returns a copy of the per-step draft data map.
func (s *Stepper) StepData() map[int]json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyDataLocked()
}

// LastSavedAt returns the timestamp of the last successful save, zero if none.
func (s *Stepper) LastSavedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSavedAt
}

// IsSaving reports whether a save is currently in flight.
func (s *Stepper) IsSaving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saving
}

// SaveNow performs a manual save immediately, bypassing the debounce timer.
// Unlike autosave it does not consult the in-flight guard: a user-triggered
// save is always attempted.
func (s *Stepper) SaveNow() error {
	s.mu.Lock()
	s.saving = true
	data := s.copyDataLocked()
	s.mu.Unlock()
	return s.runSave(data, "manual")
}

// Close cancels any pending autosave. An in-flight save is not interrupted;
// its result is simply recorded or discarded as usual.
func (s *Stepper) Close() {
	s.debouncer.Stop()
}

func (s *Stepper) scheduleAutosave() {
	s.debouncer.Trigger(s.autosave)
}

func (s *Stepper) autosave() {
	s.mu.Lock()
	if s.saving {
		s.mu.Unlock()
		if logger.L != nil {
			logger.L.Debug("Skipping autosave, save already in flight")
		}
		return
	}
	if len(s.stepData) == 0 {
		s.mu.Unlock()
		return
	}
	s.saving = true
	data := s.copyDataLocked()
	s.mu.Unlock()
	// Failure is already logged inside runSave; the user retries manually.
	_ = s.runSave(data, "autosave")
}

func (s *Stepper) runSave(data map[int]json.RawMessage, trigger string) error {
	var err error
	if s.saveDraft != nil {
		err = s.saveDraft(data)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving = false
	if err != nil {
		// Not fatal: the draft stays dirty and lastSavedAt untouched; the
		// user can retry with a manual save.
		if logger.L != nil {
			logger.L.Error("Draft save failed", "trigger", trigger, "error", err)
		}
		return err
	}
	s.lastSavedAt = time.Now()
	if logger.L != nil {
		logger.L.Debug("Draft saved", "trigger", trigger, "steps", len(data))
	}
	return nil
}

func (s *Stepper) copyDataLocked() map[int]json.RawMessage {
	out := make(map[int]json.RawMessage, len(s.stepData))
	for k, v := range s.stepData {
		out[k] = v
	}
	return out
}
