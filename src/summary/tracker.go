package summary

import (
	"sync"
	"time"

	"github.com/username/taxmitra/backend/src/logger"
	"github.com/username/taxmitra/backend/src/models"
)

// DefaultHistoryLimit caps the bounded change history.
const DefaultHistoryLimit = 10

// DefaultExplainFloor is the tax-change magnitude above which the
// explain-tax-change affordance is surfaced. Fixed business rule from the
// filing flow: small movements are not worth an explanation round-trip.
const DefaultExplainFloor = 5000.0

// trackedFields is the fixed field set diffed between consecutive snapshots.
var trackedFields = []string{
	"grossIncome",
	"totalDeductions",
	"taxableIncome",
	"estimatedTax",
	"estimatedRefund",
}

// Options configures a Tracker.
type Options struct {
	// HistoryLimit defaults to DefaultHistoryLimit when zero or negative.
	HistoryLimit int
	// ExplainFloor defaults to DefaultExplainFloor when zero.
	ExplainFloor float64
	// DisableHistory turns off snapshot recording; the zero Options value
	// keeps it on.
	DisableHistory bool
	// OnExplainTaxChange and OnWhatIfSimulation delegate to external
	// collaborators; either may be nil.
	OnExplainTaxChange func(amount float64)
	OnWhatIfSimulation func()
}

// Tracker holds the latest externally computed filing summary and a bounded,
// newest-first history of snapshots with per-field deltas. Deltas are fixed
// at record time against the immediately preceding snapshot and never
// recomputed.
type Tracker struct {
	mu           sync.Mutex
	limit        int
	explainFloor float64
	trackHistory bool
	latest       *models.SummaryData
	lastUpdate   time.Time
	history      []models.SummarySnapshot

	onExplain func(float64)
	onWhatIf  func()
}

// NewTracker creates an empty tracker.
func NewTracker(opts Options) *Tracker {
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	floor := opts.ExplainFloor
	if floor == 0 {
		floor = DefaultExplainFloor
	}
	return &Tracker{
		limit:        limit,
		explainFloor: floor,
		trackHistory: !opts.DisableHistory,
		onExplain:    opts.OnExplainTaxChange,
		onWhatIf:     opts.OnWhatIfSimulation,
	}
}

// Update records a new summary: it stamps the update time and, when history
// tracking is enabled, prepends a snapshot diffed against the previous one,
// truncating to the configured limit.
func (t *Tracker) Update(data models.SummaryData) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.lastUpdate = now

	if t.trackHistory {
		var deltas []models.FieldDelta
		if len(t.history) > 0 {
			deltas = diffSummaries(t.history[0].Data, data)
		}
		snap := models.SummarySnapshot{
			Timestamp: now,
			Data:      data,
			Deltas:    deltas,
		}
		t.history = append([]models.SummarySnapshot{snap}, t.history...)
		if len(t.history) > t.limit {
			t.history = t.history[:t.limit]
		}
	}

	t.latest = &data
}

// Latest returns the most recently recorded summary, nil before any update.
func (t *Tracker) Latest() *models.SummaryData {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.latest == nil {
		return nil
	}
	cp := *t.latest
	return &cp
}

// LastUpdate returns the timestamp of the most recent Update, zero if none.
func (t *Tracker) LastUpdate() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastUpdate
}

// History returns a copy of the snapshot history, newest first.
func (t *Tracker) History() []models.SummarySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.SummarySnapshot, len(t.history))
	copy(out, t.history)
	return out
}

// CanExplainTaxChange reports whether the current tax change is large enough
// to surface the explanation affordance.
func (t *Tracker) CanExplainTaxChange() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest != nil && t.latest.TaxChange != nil && *t.latest.TaxChange > t.explainFloor
}

// ExplainTaxChange invokes the explanation collaborator when the threshold is
// met. Returns whether the delegation happened.
func (t *Tracker) ExplainTaxChange() bool {
	t.mu.Lock()
	eligible := t.latest != nil && t.latest.TaxChange != nil && *t.latest.TaxChange > t.explainFloor
	var amount float64
	if eligible {
		amount = *t.latest.TaxChange
	}
	cb := t.onExplain
	t.mu.Unlock()

	if !eligible {
		if logger.L != nil {
			logger.L.Debug("Explain-tax-change request below threshold, ignoring")
		}
		return false
	}
	if cb != nil {
		cb(amount)
	}
	return true
}

// WhatIfSimulation delegates unconditionally to the what-if collaborator.
func (t *Tracker) WhatIfSimulation() {
	t.mu.Lock()
	cb := t.onWhatIf
	t.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// diffSummaries computes per-field deltas over the fixed tracked field set,
// treating unset values as zero. Unchanged fields produce no delta.
func diffSummaries(prev, next models.SummaryData) []models.FieldDelta {
	var deltas []models.FieldDelta
	for _, field := range trackedFields {
		oldVal := fieldValue(prev, field)
		newVal := fieldValue(next, field)
		if oldVal == newVal {
			continue
		}
		deltas = append(deltas, models.FieldDelta{
			Field:  field,
			Old:    oldVal,
			New:    newVal,
			Change: newVal - oldVal,
		})
	}
	return deltas
}

func fieldValue(data models.SummaryData, field string) float64 {
	var p *float64
	switch field {
	case "grossIncome":
		p = data.GrossIncome
	case "totalDeductions":
		p = data.TotalDeductions
	case "taxableIncome":
		p = data.TaxableIncome
	case "estimatedTax":
		p = data.EstimatedTax
	case "estimatedRefund":
		p = data.EstimatedRefund
	}
	if p == nil {
		return 0
	}
	return *p
}

// Trend maps a delta to the presentation indicator: "up" for positive,
// "down" for negative, empty for zero change.
func Trend(change float64) string {
	switch {
	case change > 0:
		return "up"
	case change < 0:
		return "down"
	default:
		return ""
	}
}
