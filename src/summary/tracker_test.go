package summary

import (
	"testing"

	"github.com/username/taxmitra/backend/src/models"
)

func fptr(v float64) *float64 { return &v }

func summaryWith(gross, deductions float64) models.SummaryData {
	taxable := gross - deductions
	return models.SummaryData{
		GrossIncome:     fptr(gross),
		TotalDeductions: fptr(deductions),
		TaxableIncome:   fptr(taxable),
	}
}

func TestHistoryBoundedNewestFirst(t *testing.T) {
	tr := NewTracker(Options{HistoryLimit: 10})

	for i := 0; i < 15; i++ {
		tr.Update(summaryWith(float64(1000*(i+1)), 0))
	}

	history := tr.History()
	if len(history) != 10 {
		t.Fatalf("history length = %d, want 10", len(history))
	}
	// Newest first: entry 0 carries the last update's gross income.
	if got := *history[0].Data.GrossIncome; got != 15000 {
		t.Errorf("history[0].GrossIncome = %v, want 15000", got)
	}
	if got := *history[9].Data.GrossIncome; got != 6000 {
		t.Errorf("history[9].GrossIncome = %v, want 6000", got)
	}
	for i := 0; i < len(history)-1; i++ {
		if history[i].Timestamp.Before(history[i+1].Timestamp) {
			t.Errorf("history not ordered newest first at %d", i)
		}
	}
}

func TestDeltasAgainstPreviousSnapshotOnly(t *testing.T) {
	tr := NewTracker(Options{})

	tr.Update(summaryWith(500000, 50000))
	tr.Update(summaryWith(700000, 50000))
	tr.Update(summaryWith(700000, 150000))

	history := tr.History()
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}

	// First snapshot has no predecessor, so no deltas.
	if len(history[2].Deltas) != 0 {
		t.Errorf("first snapshot should carry no deltas, got %+v", history[2].Deltas)
	}

	// Second snapshot: gross 500000 -> 700000, taxable 450000 -> 650000.
	wantSecond := map[string]models.FieldDelta{
		"grossIncome":   {Field: "grossIncome", Old: 500000, New: 700000, Change: 200000},
		"taxableIncome": {Field: "taxableIncome", Old: 450000, New: 650000, Change: 200000},
	}
	assertDeltas(t, history[1].Deltas, wantSecond)

	// Third snapshot: deductions 50000 -> 150000, taxable 650000 -> 550000.
	wantThird := map[string]models.FieldDelta{
		"totalDeductions": {Field: "totalDeductions", Old: 50000, New: 150000, Change: 100000},
		"taxableIncome":   {Field: "taxableIncome", Old: 650000, New: 550000, Change: -100000},
	}
	assertDeltas(t, history[0].Deltas, wantThird)
}

func assertDeltas(t *testing.T, got []models.FieldDelta, want map[string]models.FieldDelta) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("deltas = %+v, want fields %v", got, want)
	}
	tracked := map[string]bool{
		"grossIncome": true, "totalDeductions": true, "taxableIncome": true,
		"estimatedTax": true, "estimatedRefund": true,
	}
	for _, d := range got {
		if !tracked[d.Field] {
			t.Errorf("delta references untracked field %q", d.Field)
		}
		w, ok := want[d.Field]
		if !ok {
			t.Errorf("unexpected delta for %q: %+v", d.Field, d)
			continue
		}
		if d != w {
			t.Errorf("delta for %q = %+v, want %+v", d.Field, d, w)
		}
	}
}

func TestDisableHistory(t *testing.T) {
	tr := NewTracker(Options{DisableHistory: true})
	tr.Update(summaryWith(100000, 0))
	if len(tr.History()) != 0 {
		t.Error("history recorded despite being disabled")
	}
	if tr.Latest() == nil {
		t.Error("latest summary should still be tracked")
	}
	if tr.LastUpdate().IsZero() {
		t.Error("last update timestamp should still be recorded")
	}
}

func TestExplainTaxChangeThreshold(t *testing.T) {
	tests := []struct {
		name      string
		taxChange *float64
		want      bool
	}{
		{"no tax change", nil, false},
		{"below threshold", fptr(4000), false},
		{"at threshold", fptr(5000), false},
		{"above threshold", fptr(5001), true},
		{"well above threshold", fptr(25000), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var explained []float64
			tr := NewTracker(Options{
				OnExplainTaxChange: func(amount float64) { explained = append(explained, amount) },
			})
			tr.Update(models.SummaryData{TaxChange: tt.taxChange})

			if got := tr.CanExplainTaxChange(); got != tt.want {
				t.Errorf("CanExplainTaxChange() = %v, want %v", got, tt.want)
			}
			if got := tr.ExplainTaxChange(); got != tt.want {
				t.Errorf("ExplainTaxChange() = %v, want %v", got, tt.want)
			}
			if tt.want && (len(explained) != 1 || explained[0] != *tt.taxChange) {
				t.Errorf("collaborator calls = %v, want [%v]", explained, *tt.taxChange)
			}
			if !tt.want && len(explained) != 0 {
				t.Errorf("collaborator must not be called below threshold, got %v", explained)
			}
		})
	}
}

func TestWhatIfDelegatesUnconditionally(t *testing.T) {
	calls := 0
	tr := NewTracker(Options{OnWhatIfSimulation: func() { calls++ }})
	tr.WhatIfSimulation()
	tr.Update(models.SummaryData{})
	tr.WhatIfSimulation()
	if calls != 2 {
		t.Errorf("what-if collaborator calls = %d, want 2", calls)
	}
}

func TestTrend(t *testing.T) {
	if got := Trend(1500); got != "up" {
		t.Errorf("Trend(1500) = %q", got)
	}
	if got := Trend(-0.5); got != "down" {
		t.Errorf("Trend(-0.5) = %q", got)
	}
	if got := Trend(0); got != "" {
		t.Errorf("Trend(0) = %q", got)
	}
}

func TestFormatINR(t *testing.T) {
	tests := []struct {
		name   string
		amount *float64
		want   string
	}{
		{"nil renders zero", nil, "₹0"},
		{"zero", fptr(0), "₹0"},
		{"under a thousand", fptr(999), "₹999"},
		{"thousands", fptr(1234), "₹1,234"},
		{"lakhs", fptr(150000), "₹1,50,000"},
		{"ten lakhs", fptr(1234567), "₹12,34,567"},
		{"crores", fptr(123456789), "₹12,34,56,789"},
		{"rounds to integer", fptr(2500.75), "₹2,501"},
		{"negative", fptr(-45000), "-₹45,000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatINR(tt.amount); got != tt.want {
				t.Errorf("FormatINR() = %q, want %q", got, tt.want)
			}
		})
	}
}
