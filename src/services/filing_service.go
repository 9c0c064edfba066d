package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/username/taxmitra/backend/src/breakdown"
	"github.com/username/taxmitra/backend/src/logger"
	"github.com/username/taxmitra/backend/src/model"
	"github.com/username/taxmitra/backend/src/models"
	"github.com/username/taxmitra/backend/src/prefill"
	"github.com/username/taxmitra/backend/src/stepper"
	"github.com/username/taxmitra/backend/src/summary"
	"github.com/username/taxmitra/backend/src/utils"
)

var (
	// ErrNotOwner is returned when a user touches a filing they do not own.
	ErrNotOwner = errors.New("filing does not belong to user")
	// ErrUnknownCategory is returned for category names outside the fixed set.
	ErrUnknownCategory = errors.New("unknown category")
	// ErrItemLimit is returned when a category already holds the maximum
	// number of line items.
	ErrItemLimit = errors.New("line item limit reached for category")
	// ErrItemNotFound is returned when no line item matches the given id.
	ErrItemNotFound = errors.New("line item not found")
)

// defaultWizardSteps is the fixed filing wizard sequence.
var defaultWizardSteps = []models.Step{
	{Name: "Personal Details", Description: "PAN, contact and bank details", EstimatedTime: "2 min"},
	{Name: "Income", Description: "Salary, house property, capital gains and other income", EstimatedTime: "10 min"},
	{Name: "Deductions", Description: "Chapter VI-A deductions: 80C, 80D, 80G and more", EstimatedTime: "8 min"},
	{Name: "Taxes Paid", Description: "TDS, advance tax and self-assessment tax", EstimatedTime: "5 min"},
	{Name: "Review", Description: "Check the computed summary before filing", EstimatedTime: "3 min"},
}

// FilingServiceOptions carries the tunables normally sourced from config.
// Zero values fall back to the package defaults.
type FilingServiceOptions struct {
	MaxItems            int
	HistoryLimit        int
	ExplainFloor        float64
	AutosaveDebounce    time.Duration
	SummaryCacheTTL     time.Duration
	SummaryCacheCleanup time.Duration
	// SessionIdleTTL bounds how long an untouched in-memory session keeps
	// its breakdowns and autosave timer before being persisted and evicted.
	SessionIdleTTL time.Duration
}

// DefaultSessionIdleTTL is the fallback idle window for open sessions.
const DefaultSessionIdleTTL = 30 * time.Minute

// filingSession is the in-memory working state for one open filing: the
// per-category breakdowns, the wizard stepper and the summary tracker. Field
// access is guarded by mu; the breakdowns have no locking of their own.
type filingSession struct {
	mu         sync.Mutex
	filing     *models.Filing
	breakdowns map[string]*breakdown.Breakdown
	stepper    *stepper.Stepper
	tracker    *summary.Tracker
	taxesPaid  float64
	restoring  bool

	// lastAccess is guarded by the service mutex, not sess.mu.
	lastAccess time.Time
}

type filingService struct {
	db           *sql.DB
	draftStore   DraftStore
	taxComputer  TaxComputer
	summaryCache *cache.Cache
	opts         FilingServiceOptions

	mu       sync.Mutex
	sessions map[string]*filingSession
}

// NewFilingService creates the orchestration service behind the filing
// wizard. Sessions are opened lazily per filing and restored from the draft
// store when a draft exists.
func NewFilingService(db *sql.DB, drafts DraftStore, tax TaxComputer, opts FilingServiceOptions) FilingService {
	if opts.MaxItems <= 0 {
		opts.MaxItems = breakdown.DefaultMaxItems
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = summary.DefaultHistoryLimit
	}
	if opts.ExplainFloor <= 0 {
		opts.ExplainFloor = summary.DefaultExplainFloor
	}
	if opts.AutosaveDebounce <= 0 {
		opts.AutosaveDebounce = stepper.DefaultAutosaveDebounce
	}
	if opts.SummaryCacheTTL <= 0 {
		opts.SummaryCacheTTL = 15 * time.Minute
	}
	if opts.SummaryCacheCleanup <= 0 {
		opts.SummaryCacheCleanup = 30 * time.Minute
	}
	if opts.SessionIdleTTL <= 0 {
		opts.SessionIdleTTL = DefaultSessionIdleTTL
	}
	return &filingService{
		db:           db,
		draftStore:   drafts,
		taxComputer:  tax,
		summaryCache: cache.New(opts.SummaryCacheTTL, opts.SummaryCacheCleanup),
		opts:         opts,
		sessions:     make(map[string]*filingSession),
	}
}

func (s *filingService) CreateFiling(userID int64, assessmentYear string) (*models.Filing, error) {
	if assessmentYear == "" {
		return nil, fmt.Errorf("assessment year is required")
	}
	now := time.Now()
	f := &models.Filing{
		ID:             uuid.NewString(),
		UserID:         userID,
		AssessmentYear: assessmentYear,
		Status:         "draft",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := model.InsertFiling(s.db, f); err != nil {
		return nil, err
	}
	if logger.L != nil {
		logger.L.Info("Filing created", "filingID", f.ID, "userID", userID, "assessmentYear", assessmentYear)
	}
	return f, nil
}

func (s *filingService) GetFiling(filingID string, userID int64) (*models.Filing, error) {
	f, err := model.GetFilingByID(s.db, filingID)
	if err != nil {
		return nil, err
	}
	if f.UserID != userID {
		return nil, ErrNotOwner
	}
	return f, nil
}

func (s *filingService) ListFilingsByUser(userID int64) ([]models.Filing, error) {
	return model.ListFilingsByUser(s.db, userID)
}

func (s *filingService) ListAllFilings() ([]models.Filing, error) {
	return model.ListAllFilings(s.db)
}

func (s *filingService) AddItem(filingID string, userID int64, category string) (models.LineItem, error) {
	sess, err := s.session(filingID, userID)
	if err != nil {
		return models.LineItem{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	bd, ok := sess.breakdowns[category]
	if !ok {
		return models.LineItem{}, ErrUnknownCategory
	}
	item, added := bd.AddItem()
	if !added {
		return models.LineItem{}, ErrItemLimit
	}
	return item, nil
}

func (s *filingService) UpdateItem(filingID string, userID int64, category, itemID, field, value string) error {
	sess, err := s.session(filingID, userID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	bd, ok := sess.breakdowns[category]
	if !ok {
		return ErrUnknownCategory
	}
	bd.UpdateItemField(itemID, field, value)
	return nil
}

func (s *filingService) RemoveItem(filingID string, userID int64, category, itemID string) error {
	sess, err := s.session(filingID, userID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	bd, ok := sess.breakdowns[category]
	if !ok {
		return ErrUnknownCategory
	}
	bd.RemoveItem(itemID)
	return nil
}

func (s *filingService) AttachProof(filingID string, userID int64, category, itemID string) (string, error) {
	sess, err := s.session(filingID, userID)
	if err != nil {
		return "", err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	bd, ok := sess.breakdowns[category]
	if !ok {
		return "", ErrUnknownCategory
	}
	ref, attached := bd.AttachProof(itemID)
	if !attached {
		return "", ErrItemNotFound
	}
	return ref, nil
}

func (s *filingService) Items(filingID string, userID int64, category string) ([]models.LineItem, error) {
	sess, err := s.session(filingID, userID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	bd, ok := sess.breakdowns[category]
	if !ok {
		return nil, ErrUnknownCategory
	}
	return bd.Items(), nil
}

func (s *filingService) CategoryTotals(filingID string, userID int64, category string) (models.CategoryTotals, error) {
	sess, err := s.session(filingID, userID)
	if err != nil {
		return models.CategoryTotals{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	bd, ok := sess.breakdowns[category]
	if !ok {
		return models.CategoryTotals{}, ErrUnknownCategory
	}
	return bd.Totals(), nil
}

// ApplyPrefill appends suggested line items extracted from an AIS/26AS export.
// Items beyond a category's ceiling are dropped. Returns the number applied.
func (s *filingService) ApplyPrefill(filingID string, userID int64, records []models.PrefillRecord) (int, error) {
	sess, err := s.session(filingID, userID)
	if err != nil {
		return 0, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	byCategory := make(map[string][]models.PrefillRecord)
	for _, rec := range records {
		if !models.KnownCategory(rec.Category) {
			continue
		}
		byCategory[rec.Category] = append(byCategory[rec.Category], rec)
	}

	applied := 0
	for category, recs := range byCategory {
		bd := sess.breakdowns[category]
		existing := bd.Items()
		room := s.opts.MaxItems - len(existing)
		if room <= 0 {
			if logger.L != nil {
				logger.L.Warn("Prefill skipped, category full", "filingID", filingID, "category", category)
			}
			continue
		}
		recs = recs[:utils.MinInt(len(recs), room)]
		adopted := prefill.ToLineItems(recs, category)
		for i := range adopted {
			adopted[i].ID = uuid.NewString()
			adopted[i].CreatedAt = time.Now()
		}
		applied += len(adopted)
		bd.SetItems(append(existing, adopted...))
	}
	if logger.L != nil {
		logger.L.Info("Prefill applied", "filingID", filingID, "records", len(records), "applied", applied)
	}
	return applied, nil
}

func (s *filingService) SetTaxesPaid(filingID string, userID int64, amount float64) error {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Errorf("taxes paid must be a non-negative amount")
	}
	sess, err := s.session(filingID, userID)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.taxesPaid = amount
	s.refreshLocked(sess)
	s.persistLocked(sess)
	return nil
}

func (s *filingService) Summary(filingID string, userID int64) (models.SummaryData, error) {
	sess, err := s.session(filingID, userID)
	if err != nil {
		return models.SummaryData{}, err
	}
	if cached, found := s.summaryCache.Get(filingID); found {
		return cached.(models.SummaryData), nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if latest := sess.tracker.Latest(); latest != nil {
		s.summaryCache.SetDefault(filingID, *latest)
		return *latest, nil
	}
	data := s.computeSummaryLocked(sess)
	sess.tracker.Update(data)
	s.summaryCache.SetDefault(filingID, data)
	return data, nil
}

func (s *filingService) SummaryHistory(filingID string, userID int64) ([]models.SummarySnapshot, error) {
	sess, err := s.session(filingID, userID)
	if err != nil {
		return nil, err
	}
	return sess.tracker.History(), nil
}

func (s *filingService) ExplainTaxChange(filingID string, userID int64) (bool, error) {
	sess, err := s.session(filingID, userID)
	if err != nil {
		return false, err
	}
	return sess.tracker.ExplainTaxChange(), nil
}

func (s *filingService) WhatIfSimulation(filingID string, userID int64) error {
	sess, err := s.session(filingID, userID)
	if err != nil {
		return err
	}
	sess.tracker.WhatIfSimulation()
	return nil
}

func (s *filingService) WizardState(filingID string, userID int64) (stepper.State, []models.Step, error) {
	sess, err := s.session(filingID, userID)
	if err != nil {
		return stepper.State{}, nil, err
	}
	return sess.stepper.Snapshot(), sess.stepper.Steps(), nil
}

func (s *filingService) Navigate(filingID string, userID int64, step int) error {
	sess, err := s.session(filingID, userID)
	if err != nil {
		return err
	}
	// The stepper only emits the request; the OnStepChange hook installed at
	// session open applies it.
	if err := sess.stepper.RequestTransition(step); err != nil {
		return err
	}
	sess.mu.Lock()
	s.persistLocked(sess)
	sess.mu.Unlock()
	return nil
}

func (s *filingService) CompleteStep(filingID string, userID int64, step int, data json.RawMessage) error {
	sess, err := s.session(filingID, userID)
	if err != nil {
		return err
	}
	if err := sess.stepper.MarkCompleted(step, data); err != nil {
		return err
	}
	_ = model.TouchFiling(s.db, filingID)
	return nil
}

func (s *filingService) SetStepData(filingID string, userID int64, step int, data json.RawMessage) error {
	sess, err := s.session(filingID, userID)
	if err != nil {
		return err
	}
	return sess.stepper.SetStepData(step, data)
}

func (s *filingService) SaveNow(filingID string, userID int64) error {
	sess, err := s.session(filingID, userID)
	if err != nil {
		return err
	}
	return sess.stepper.SaveNow()
}

// session returns the open session for the filing, opening and restoring one
// when needed, and enforces ownership.
func (s *filingService) session(filingID string, userID int64) (*filingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictIdleLocked(filingID)

	if sess, ok := s.sessions[filingID]; ok {
		if sess.filing.UserID != userID {
			return nil, ErrNotOwner
		}
		sess.lastAccess = time.Now()
		return sess, nil
	}

	f, err := model.GetFilingByID(s.db, filingID)
	if err != nil {
		return nil, err
	}
	if f.UserID != userID {
		return nil, ErrNotOwner
	}

	sess, err := s.openSession(f)
	if err != nil {
		return nil, err
	}
	sess.lastAccess = time.Now()
	s.sessions[filingID] = sess
	return sess, nil
}

// evictIdleLocked persists and drops sessions untouched for longer than the
// idle TTL, skipping the one being accessed. The cancelled autosave timer is
// harmless: the final persist below captures the same state it would have
// written. Callers hold s.mu.
func (s *filingService) evictIdleLocked(activeFilingID string) {
	cutoff := time.Now().Add(-s.opts.SessionIdleTTL)
	for id, sess := range s.sessions {
		if id == activeFilingID || sess.lastAccess.After(cutoff) {
			continue
		}
		sess.stepper.Close()
		sess.mu.Lock()
		s.persistLocked(sess)
		sess.mu.Unlock()
		delete(s.sessions, id)
		if logger.L != nil {
			logger.L.Info("Idle filing session evicted", "filingID", id, "idleSince", sess.lastAccess)
		}
	}
}

func (s *filingService) openSession(f *models.Filing) (*filingSession, error) {
	sess := &filingSession{
		filing:     f,
		breakdowns: make(map[string]*breakdown.Breakdown),
	}

	for category, rules := range models.DefaultCategoryRules {
		cat := category
		sess.breakdowns[category] = breakdown.New(category, rules, s.opts.MaxItems,
			func(items []models.LineItem) {
				// Runs with sess.mu held by the mutating caller.
				s.onItemsChangedLocked(sess, cat)
			})
	}

	sess.stepper = stepper.New(stepper.Options{
		Steps:            defaultWizardSteps,
		AllowStepBack:    true,
		AutosaveDebounce: s.opts.AutosaveDebounce,
		OnStepChange: func(index int) {
			// The service applies every in-range request unconditionally;
			// step gating lives in the frontend wizard.
			_ = sess.stepper.SetCurrentStep(index)
		},
		SaveDraft: func(data map[int]json.RawMessage) error {
			sess.mu.Lock()
			record := s.draftRecordLocked(sess)
			record.StepData = data
			sess.mu.Unlock()
			return s.draftStore.SaveDraft(record)
		},
	})

	sess.tracker = summary.NewTracker(summary.Options{
		HistoryLimit: s.opts.HistoryLimit,
		ExplainFloor: s.opts.ExplainFloor,
		OnExplainTaxChange: func(amount float64) {
			if logger.L != nil {
				logger.L.Info("Tax change explanation requested",
					"filingID", f.ID, "taxChange", amount)
			}
		},
		OnWhatIfSimulation: func() {
			if logger.L != nil {
				logger.L.Info("What-if simulation requested", "filingID", f.ID)
			}
		},
	})

	draft, err := s.draftStore.LoadDraft(f.ID)
	if err != nil {
		return nil, err
	}
	if draft != nil {
		sess.mu.Lock()
		sess.restoring = true
		for category, items := range draft.Items {
			if bd, ok := sess.breakdowns[category]; ok {
				bd.SetItems(items)
			}
		}
		sess.taxesPaid = draft.TaxesPaid
		sess.restoring = false
		sess.stepper.Restore(draft.CurrentStep, draft.Completed, draft.StepData)
		// Seed the summary panel once from the restored state.
		s.refreshLocked(sess)
		sess.mu.Unlock()
		if logger.L != nil {
			logger.L.Info("Draft restored", "filingID", f.ID, "currentStep", draft.CurrentStep)
		}
	}
	return sess, nil
}

// onItemsChangedLocked reacts to a line-item mutation: persist the draft,
// drop the cached summary and record a fresh snapshot. Callers hold sess.mu.
func (s *filingService) onItemsChangedLocked(sess *filingSession, category string) {
	if sess.restoring {
		return
	}
	s.refreshLocked(sess)
	s.persistLocked(sess)
	if logger.L != nil {
		logger.L.Debug("Line items changed", "filingID", sess.filing.ID, "category", category)
	}
}

// refreshLocked recomputes the summary, records it in the tracker and updates
// the cache. Callers hold sess.mu.
func (s *filingService) refreshLocked(sess *filingSession) {
	data := s.computeSummaryLocked(sess)
	sess.tracker.Update(data)
	s.summaryCache.SetDefault(sess.filing.ID, data)
}

func (s *filingService) persistLocked(sess *filingSession) {
	record := s.draftRecordLocked(sess)
	if err := s.draftStore.SaveDraft(record); err != nil && logger.L != nil {
		logger.L.Error("Failed to persist draft", "filingID", sess.filing.ID, "error", err)
	}
}

func (s *filingService) draftRecordLocked(sess *filingSession) DraftRecord {
	snap := sess.stepper.Snapshot()
	items := make(map[string][]models.LineItem, len(sess.breakdowns))
	for category, bd := range sess.breakdowns {
		if list := bd.Items(); len(list) > 0 {
			items[category] = list
		}
	}
	return DraftRecord{
		FilingID:    sess.filing.ID,
		CurrentStep: snap.CurrentStep,
		Completed:   snap.CompletedSteps,
		StepData:    sess.stepper.StepData(),
		Items:       items,
		TaxesPaid:   sess.taxesPaid,
		UpdatedAt:   time.Now(),
	}
}

// computeSummaryLocked aggregates the category totals into the summary shape
// the realtime panel renders. Callers hold sess.mu.
func (s *filingService) computeSummaryLocked(sess *filingSession) models.SummaryData {
	var gross, deductions float64
	var warnings []string
	deductionBreakdown := make(map[string]float64)

	for _, category := range models.IncomeCategories {
		totals := sess.breakdowns[category].Totals()
		gross += totals.FinalValue
	}
	for _, category := range models.DeductionCategories {
		totals := sess.breakdowns[category].Totals()
		deductions += totals.FinalValue
		if totals.FinalValue > 0 {
			deductionBreakdown[category] = totals.FinalValue
		}
		if totals.IsCapReached {
			warnings = append(warnings, fmt.Sprintf("Deduction limit reached for %s", category))
		}
	}

	taxable := math.Max(0, gross-deductions)
	est := s.taxComputer.EstimateTax(gross, deductions)
	refund := math.Max(0, sess.taxesPaid-est.EstimatedTax)

	data := models.SummaryData{
		GrossIncome:        &gross,
		TotalDeductions:    &deductions,
		TaxableIncome:      &taxable,
		EstimatedTax:       &est.EstimatedTax,
		EstimatedRefund:    &refund,
		Warnings:           warnings,
		DeductionBreakdown: deductionBreakdown,
	}
	if prev := sess.tracker.Latest(); prev != nil && prev.EstimatedTax != nil {
		change := est.EstimatedTax - *prev.EstimatedTax
		data.TaxChange = &change
	}
	return data
}
