package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/username/taxmitra/backend/src/models"
	"github.com/username/taxmitra/backend/src/stepper"
)

// DraftRecord is everything a filing session persists between visits: wizard
// step data, completion progress, and the line items per category.
type DraftRecord struct {
	FilingID    string                       `json:"filingId"`
	CurrentStep int                          `json:"currentStep"`
	Completed   []int                        `json:"completed"`
	StepData    map[int]json.RawMessage      `json:"stepData"`
	Items       map[string][]models.LineItem `json:"items"`
	TaxesPaid   float64                      `json:"taxesPaid,omitempty"`
	UpdatedAt   time.Time                    `json:"updatedAt"`
}

// DraftStore persists filing drafts. It is the backend implementation of the
// wizard's onSaveDraft collaborator contract.
type DraftStore interface {
	SaveDraft(record DraftRecord) error
	LoadDraft(filingID string) (*DraftRecord, error)
	DeleteDraft(filingID string) error
}

// EmailService sends account lifecycle emails.
type EmailService interface {
	SendVerificationEmail(toEmail, username, token string) error
	SendPasswordResetEmail(toEmail, username, token string) error
}

// PANResult is the verification collaborator's answer for one PAN.
type PANResult struct {
	PAN           string `json:"pan"`
	Valid         bool   `json:"valid"`
	FullName      string `json:"fullName,omitempty"`
	Category      string `json:"category,omitempty"` // person, company, ...
	AadhaarSeeded bool   `json:"aadhaarSeeded,omitempty"`
}

// PANVerifier is the thin client contract for the external PAN verification
// service.
type PANVerifier interface {
	VerifyPAN(ctx context.Context, pan string) (*PANResult, error)
}

// TaxComputer estimates tax for a taxable income under both regimes. The real
// computation backend is an external service; the default implementation is a
// thin slab calculator used when no remote endpoint is configured.
type TaxComputer interface {
	EstimateTax(grossIncome, totalDeductions float64) TaxEstimate
}

// TaxEstimate carries both regime figures plus the recommended one.
type TaxEstimate struct {
	OldRegimeTax      float64 `json:"oldRegimeTax"`
	NewRegimeTax      float64 `json:"newRegimeTax"`
	RecommendedRegime string  `json:"recommendedRegime"`
	EstimatedTax      float64 `json:"estimatedTax"`
}

// Preferences is the typed per-user settings blob (interaction mode, wizard
// behaviour). Loaded and saved explicitly, never read as ambient global state.
type Preferences struct {
	InteractionMode string          `json:"interactionMode"` // guided or quick
	Extra           json.RawMessage `json:"extra,omitempty"`
}

// PreferenceStore persists Preferences per user.
type PreferenceStore interface {
	Load(userID int64) (*Preferences, error)
	Save(userID int64, prefs Preferences) error
}

// FilingService is the orchestration surface behind the filing wizard REST
// routes: per-category breakdowns, grand totals, summary history, and wizard
// progress for each open filing.
type FilingService interface {
	CreateFiling(userID int64, assessmentYear string) (*models.Filing, error)
	GetFiling(filingID string, userID int64) (*models.Filing, error)
	ListFilingsByUser(userID int64) ([]models.Filing, error)
	ListAllFilings() ([]models.Filing, error)

	AddItem(filingID string, userID int64, category string) (models.LineItem, error)
	UpdateItem(filingID string, userID int64, category, itemID, field, value string) error
	RemoveItem(filingID string, userID int64, category, itemID string) error
	AttachProof(filingID string, userID int64, category, itemID string) (string, error)
	Items(filingID string, userID int64, category string) ([]models.LineItem, error)
	CategoryTotals(filingID string, userID int64, category string) (models.CategoryTotals, error)

	ApplyPrefill(filingID string, userID int64, records []models.PrefillRecord) (int, error)
	SetTaxesPaid(filingID string, userID int64, amount float64) error

	Summary(filingID string, userID int64) (models.SummaryData, error)
	SummaryHistory(filingID string, userID int64) ([]models.SummarySnapshot, error)
	ExplainTaxChange(filingID string, userID int64) (bool, error)
	WhatIfSimulation(filingID string, userID int64) error

	WizardState(filingID string, userID int64) (stepper.State, []models.Step, error)
	Navigate(filingID string, userID int64, step int) error
	CompleteStep(filingID string, userID int64, step int, data json.RawMessage) error
	SetStepData(filingID string, userID int64, step int, data json.RawMessage) error
	SaveNow(filingID string, userID int64) error
}
