package services

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/username/taxmitra/backend/src/breakdown"
	"github.com/username/taxmitra/backend/src/database"
	"github.com/username/taxmitra/backend/src/model"
	"github.com/username/taxmitra/backend/src/models"
)

func newTestFilingService(t *testing.T) (FilingService, DraftStore) {
	t.Helper()
	database.InitDB(filepath.Join(t.TempDir(), "test.db"))
	drafts := NewSQLiteDraftStore(database.DB)
	svc := NewFilingService(database.DB, drafts, NewSlabTaxComputer(), FilingServiceOptions{})
	return svc, drafts
}

func TestCreateFilingAndOwnership(t *testing.T) {
	svc, _ := newTestFilingService(t)

	f, err := svc.CreateFiling(1, "2025-26")
	if err != nil {
		t.Fatalf("CreateFiling failed: %v", err)
	}
	if f.ID == "" || f.Status != "draft" {
		t.Errorf("unexpected filing %+v", f)
	}

	if _, err := svc.CreateFiling(1, "2025-26"); !errors.Is(err, model.ErrFilingExists) {
		t.Errorf("duplicate assessment year error = %v, want ErrFilingExists", err)
	}

	if _, err := svc.GetFiling(f.ID, 2); !errors.Is(err, ErrNotOwner) {
		t.Errorf("foreign user error = %v, want ErrNotOwner", err)
	}
	if _, err := svc.GetFiling("nope", 1); !errors.Is(err, model.ErrFilingNotFound) {
		t.Errorf("missing filing error = %v, want ErrFilingNotFound", err)
	}

	mine, err := svc.ListFilingsByUser(1)
	if err != nil || len(mine) != 1 {
		t.Errorf("ListFilingsByUser = %v, %v, want one filing", mine, err)
	}
}

func TestLineItemFlowAndSummary(t *testing.T) {
	svc, _ := newTestFilingService(t)
	f, err := svc.CreateFiling(7, "2025-26")
	if err != nil {
		t.Fatalf("CreateFiling failed: %v", err)
	}

	salary, err := svc.AddItem(f.ID, 7, models.CategorySalary)
	if err != nil {
		t.Fatalf("AddItem salary failed: %v", err)
	}
	if err := svc.UpdateItem(f.ID, 7, models.CategorySalary, salary.ID, breakdown.FieldAmount, "1200000"); err != nil {
		t.Fatalf("UpdateItem failed: %v", err)
	}

	ded, err := svc.AddItem(f.ID, 7, models.CategorySection80C)
	if err != nil {
		t.Fatalf("AddItem 80c failed: %v", err)
	}
	if err := svc.UpdateItem(f.ID, 7, models.CategorySection80C, ded.ID, breakdown.FieldAmount, "200000"); err != nil {
		t.Fatalf("UpdateItem failed: %v", err)
	}

	totals, err := svc.CategoryTotals(f.ID, 7, models.CategorySection80C)
	if err != nil {
		t.Fatalf("CategoryTotals failed: %v", err)
	}
	if totals.FinalValue != 150000 || !totals.IsCapReached {
		t.Errorf("80c totals = %+v, want final 150000 with cap reached", totals)
	}

	sum, err := svc.Summary(f.ID, 7)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if sum.GrossIncome == nil || *sum.GrossIncome != 1200000 {
		t.Errorf("GrossIncome = %v, want 1200000", sum.GrossIncome)
	}
	if sum.TotalDeductions == nil || *sum.TotalDeductions != 150000 {
		t.Errorf("TotalDeductions = %v, want 150000", sum.TotalDeductions)
	}
	if sum.TaxableIncome == nil || *sum.TaxableIncome != 1050000 {
		t.Errorf("TaxableIncome = %v, want 1050000", sum.TaxableIncome)
	}
	if len(sum.Warnings) == 0 {
		t.Error("expected a cap-reached warning for 80c")
	}
	if sum.DeductionBreakdown[models.CategorySection80C] != 150000 {
		t.Errorf("DeductionBreakdown = %v, want 80c at 150000", sum.DeductionBreakdown)
	}

	if err := svc.SetTaxesPaid(f.ID, 7, 200000); err != nil {
		t.Fatalf("SetTaxesPaid failed: %v", err)
	}
	sum, err = svc.Summary(f.ID, 7)
	if err != nil {
		t.Fatalf("Summary after taxes paid failed: %v", err)
	}
	if sum.EstimatedRefund == nil || *sum.EstimatedRefund != 200000-*sum.EstimatedTax {
		t.Errorf("EstimatedRefund = %v, want taxes paid minus estimated tax", sum.EstimatedRefund)
	}

	if _, err := svc.AddItem(f.ID, 7, "not_a_category"); !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("unknown category error = %v, want ErrUnknownCategory", err)
	}
}

func TestAddItemCeiling(t *testing.T) {
	database.InitDB(filepath.Join(t.TempDir(), "test.db"))
	drafts := NewSQLiteDraftStore(database.DB)
	svc := NewFilingService(database.DB, drafts, NewSlabTaxComputer(), FilingServiceOptions{MaxItems: 2})

	f, err := svc.CreateFiling(1, "2025-26")
	if err != nil {
		t.Fatalf("CreateFiling failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := svc.AddItem(f.ID, 1, models.CategorySalary); err != nil {
			t.Fatalf("AddItem %d failed: %v", i, err)
		}
	}
	if _, err := svc.AddItem(f.ID, 1, models.CategorySalary); !errors.Is(err, ErrItemLimit) {
		t.Errorf("over-limit error = %v, want ErrItemLimit", err)
	}
}

func TestSummaryHistoryAndExplain(t *testing.T) {
	svc, _ := newTestFilingService(t)
	f, err := svc.CreateFiling(3, "2025-26")
	if err != nil {
		t.Fatalf("CreateFiling failed: %v", err)
	}

	item, err := svc.AddItem(f.ID, 3, models.CategorySalary)
	if err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}

	// Adding a zero-amount item seeds the history; no tax change yet.
	eligible, err := svc.ExplainTaxChange(f.ID, 3)
	if err != nil {
		t.Fatalf("ExplainTaxChange failed: %v", err)
	}
	if eligible {
		t.Error("explain should not be eligible before any tax change")
	}

	if err := svc.UpdateItem(f.ID, 3, models.CategorySalary, item.ID, breakdown.FieldAmount, "1500000"); err != nil {
		t.Fatalf("UpdateItem failed: %v", err)
	}
	eligible, err = svc.ExplainTaxChange(f.ID, 3)
	if err != nil {
		t.Fatalf("ExplainTaxChange failed: %v", err)
	}
	if !eligible {
		t.Error("a jump from zero to 15L of salary should clear the explain floor")
	}

	history, err := svc.SummaryHistory(f.ID, 3)
	if err != nil {
		t.Fatalf("SummaryHistory failed: %v", err)
	}
	if len(history) < 2 {
		t.Fatalf("history length = %d, want at least 2", len(history))
	}
	latest := history[0]
	if latest.Data.TaxChange == nil || *latest.Data.TaxChange <= 5000 {
		t.Errorf("latest TaxChange = %v, want above the explain floor", latest.Data.TaxChange)
	}

	if err := svc.WhatIfSimulation(f.ID, 3); err != nil {
		t.Errorf("WhatIfSimulation failed: %v", err)
	}
}

func TestWizardFlowAndDraftRestore(t *testing.T) {
	database.InitDB(filepath.Join(t.TempDir(), "test.db"))
	drafts := NewSQLiteDraftStore(database.DB)
	svc := NewFilingService(database.DB, drafts, NewSlabTaxComputer(), FilingServiceOptions{})

	f, err := svc.CreateFiling(5, "2025-26")
	if err != nil {
		t.Fatalf("CreateFiling failed: %v", err)
	}

	item, err := svc.AddItem(f.ID, 5, models.CategorySalary)
	if err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if err := svc.UpdateItem(f.ID, 5, models.CategorySalary, item.ID, breakdown.FieldAmount, "800000"); err != nil {
		t.Fatalf("UpdateItem failed: %v", err)
	}

	if err := svc.CompleteStep(f.ID, 5, 0, json.RawMessage(`{"pan":"ABCDE1234F"}`)); err != nil {
		t.Fatalf("CompleteStep failed: %v", err)
	}
	if err := svc.Navigate(f.ID, 5, 1); err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}
	if err := svc.SaveNow(f.ID, 5); err != nil {
		t.Fatalf("SaveNow failed: %v", err)
	}

	state, steps, err := svc.WizardState(f.ID, 5)
	if err != nil {
		t.Fatalf("WizardState failed: %v", err)
	}
	if len(steps) != len(defaultWizardSteps) {
		t.Errorf("steps = %d, want %d", len(steps), len(defaultWizardSteps))
	}
	if state.CurrentStep != 1 {
		t.Errorf("CurrentStep = %d, want 1", state.CurrentStep)
	}
	if len(state.CompletedSteps) != 1 || state.CompletedSteps[0] != 0 {
		t.Errorf("CompletedSteps = %v, want [0]", state.CompletedSteps)
	}

	// A fresh service over the same database restores the draft.
	svc2 := NewFilingService(database.DB, drafts, NewSlabTaxComputer(), FilingServiceOptions{})
	items, err := svc2.Items(f.ID, 5, models.CategorySalary)
	if err != nil {
		t.Fatalf("Items after restore failed: %v", err)
	}
	if len(items) != 1 || items[0].Amount != 800000 {
		t.Errorf("restored items = %+v, want one salary item of 800000", items)
	}
	state, _, err = svc2.WizardState(f.ID, 5)
	if err != nil {
		t.Fatalf("WizardState after restore failed: %v", err)
	}
	if state.CurrentStep != 1 || len(state.CompletedSteps) != 1 {
		t.Errorf("restored state = %+v, want step 1 with step 0 completed", state)
	}

	if err := svc.Navigate(f.ID, 5, 99); err == nil {
		t.Error("out-of-range navigation should fail")
	}
}

func TestApplyPrefill(t *testing.T) {
	svc, _ := newTestFilingService(t)
	f, err := svc.CreateFiling(9, "2025-26")
	if err != nil {
		t.Fatalf("CreateFiling failed: %v", err)
	}

	records := []models.PrefillRecord{
		{Category: models.CategorySalary, Description: "Salary credit", Source: "Acme Corp", Amount: 950000},
		{Category: models.CategorySection80C, Description: "LIC premium", Source: "LIC", Amount: 48000},
		{Category: "bogus", Description: "ignored", Amount: 1},
	}
	applied, err := svc.ApplyPrefill(f.ID, 9, records)
	if err != nil {
		t.Fatalf("ApplyPrefill failed: %v", err)
	}
	if applied != 2 {
		t.Errorf("applied = %d, want 2", applied)
	}

	items, err := svc.Items(f.ID, 9, models.CategorySalary)
	if err != nil {
		t.Fatalf("Items failed: %v", err)
	}
	if len(items) != 1 || items[0].Amount != 950000 || items[0].ID == "" {
		t.Errorf("prefilled items = %+v, want one item of 950000 with an id", items)
	}
}

func TestPreferenceStoreRoundTrip(t *testing.T) {
	database.InitDB(filepath.Join(t.TempDir(), "test.db"))
	store := NewPreferenceStore(database.DB)

	prefs, err := store.Load(42)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if prefs.InteractionMode != "guided" {
		t.Errorf("default mode = %q, want guided", prefs.InteractionMode)
	}

	if err := store.Save(42, Preferences{InteractionMode: "quick", Extra: json.RawMessage(`{"theme":"dark"}`)}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	prefs, err = store.Load(42)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if prefs.InteractionMode != "quick" || string(prefs.Extra) != `{"theme":"dark"}` {
		t.Errorf("loaded prefs = %+v, want quick mode with extra blob", prefs)
	}

	if err := store.Save(42, Preferences{InteractionMode: "invalid"}); err == nil {
		t.Error("unknown interaction mode should be rejected")
	}
}

func TestIdleSessionEviction(t *testing.T) {
	database.InitDB(filepath.Join(t.TempDir(), "test.db"))
	drafts := NewSQLiteDraftStore(database.DB)
	svc := NewFilingService(database.DB, drafts, NewSlabTaxComputer(), FilingServiceOptions{
		SessionIdleTTL: 10 * time.Millisecond,
	})

	idle, err := svc.CreateFiling(1, "2025-26")
	if err != nil {
		t.Fatalf("CreateFiling failed: %v", err)
	}
	active, err := svc.CreateFiling(1, "2024-25")
	if err != nil {
		t.Fatalf("CreateFiling failed: %v", err)
	}

	item, err := svc.AddItem(idle.ID, 1, models.CategorySalary)
	if err != nil {
		t.Fatalf("AddItem failed: %v", err)
	}
	if err := svc.UpdateItem(idle.ID, 1, models.CategorySalary, item.ID, breakdown.FieldAmount, "500000"); err != nil {
		t.Fatalf("UpdateItem failed: %v", err)
	}

	time.Sleep(25 * time.Millisecond)

	// Touching another filing sweeps the idle one out.
	if _, err := svc.AddItem(active.ID, 1, models.CategorySalary); err != nil {
		t.Fatalf("AddItem on active filing failed: %v", err)
	}

	impl := svc.(*filingService)
	impl.mu.Lock()
	_, stillOpen := impl.sessions[idle.ID]
	impl.mu.Unlock()
	if stillOpen {
		t.Fatal("idle session should have been evicted")
	}

	// The evicted state must be recoverable from the persisted draft.
	items, err := svc.Items(idle.ID, 1, models.CategorySalary)
	if err != nil {
		t.Fatalf("Items after eviction failed: %v", err)
	}
	if len(items) != 1 || items[0].Amount != 500000 {
		t.Errorf("restored items = %+v, want one of 500000", items)
	}
}
