package models

import "time"

// LineItem represents a single income or deduction entry inside one category
// breakdown. All fields remain editable after creation; items only leave the
// list through an explicit remove.
type LineItem struct {
	ID            string    `json:"id"`
	Description   string    `json:"description"`
	Amount        float64   `json:"amount"`
	Source        string    `json:"source"`
	ProofUploaded bool      `json:"proofUploaded"`
	ProofRef      string    `json:"proofRef,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	Date          string    `json:"date,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CategoryRules holds the eligibility threshold and statutory cap for one
// category. Nil means the rule is not configured.
type CategoryRules struct {
	MinAmount *float64 `json:"minAmount,omitempty"`
	Cap       *float64 `json:"cap,omitempty"`
}

// CategoryTotals is derived from a line-item list and its rules; it is never
// stored. FinalValue <= TotalEligible always, and FinalValue <= Cap when a cap
// is configured.
type CategoryTotals struct {
	ItemCount     int     `json:"itemCount"`
	EligibleCount int     `json:"eligibleCount"`
	TotalEligible float64 `json:"totalEligible"`
	FinalValue    float64 `json:"finalValue"`
	IsCapReached  bool    `json:"isCapReached"`
}

// Step describes one wizard step. It carries no state of its own; progress is
// tracked per index by the stepper.
type Step struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	EstimatedTime string `json:"estimatedTime,omitempty"`
}

// SummaryData is the externally computed filing summary rendered by the
// realtime panel. Numeric fields are pointers so "not yet computed" is
// distinguishable from zero.
type SummaryData struct {
	GrossIncome        *float64           `json:"grossIncome,omitempty"`
	TotalDeductions    *float64           `json:"totalDeductions,omitempty"`
	TaxableIncome      *float64           `json:"taxableIncome,omitempty"`
	EstimatedTax       *float64           `json:"estimatedTax,omitempty"`
	EstimatedRefund    *float64           `json:"estimatedRefund,omitempty"`
	TaxChange          *float64           `json:"taxChange,omitempty"`
	Warnings           []string           `json:"warnings,omitempty"`
	DeductionBreakdown map[string]float64 `json:"deductionBreakdown,omitempty"`
}

// FieldDelta records how one summary field moved between two consecutive
// snapshots.
type FieldDelta struct {
	Field  string  `json:"field"`
	Old    float64 `json:"old"`
	New    float64 `json:"new"`
	Change float64 `json:"change"`
}

// SummarySnapshot is one entry in the bounded summary history. Deltas are
// computed against the immediately preceding snapshot at record time and are
// never recomputed afterwards.
type SummarySnapshot struct {
	Timestamp time.Time    `json:"timestamp"`
	Data      SummaryData  `json:"data"`
	Deltas    []FieldDelta `json:"deltas"`
}

// Filing ties a wizard session to its owner.
type Filing struct {
	ID             string    `json:"id"`
	UserID         int64     `json:"userId"`
	AssessmentYear string    `json:"assessmentYear"`
	Status         string    `json:"status"` // draft, submitted
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// PrefillRecord is one row extracted from an AIS/26AS export before it is
// turned into a suggested line item.
type PrefillRecord struct {
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Source      string  `json:"source"`
	Amount      float64 `json:"amount"`
	Date        string  `json:"date,omitempty"`
}
