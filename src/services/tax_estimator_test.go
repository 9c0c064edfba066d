package services

import (
	"math"
	"testing"
)

func TestSlabTaxComputerEstimates(t *testing.T) {
	computer := NewSlabTaxComputer()

	tests := []struct {
		name       string
		gross      float64
		deductions float64
		wantOld    float64
		wantNew    float64
		wantRegime string
	}{
		{
			name:       "zero income",
			gross:      0,
			deductions: 0,
			wantOld:    0,
			wantNew:    0,
			wantRegime: "new",
		},
		{
			name:       "below both exemption limits",
			gross:      240000,
			deductions: 0,
			wantOld:    0,
			wantNew:    0,
			wantRegime: "new",
		},
		{
			name:       "mid slab without deductions",
			gross:      500000,
			deductions: 0,
			wantOld:    13000, // 12500 + 4% cess
			wantNew:    10400, // 10000 + 4% cess
			wantRegime: "new",
		},
		{
			name:       "deductions only reduce the old regime",
			gross:      2000000,
			deductions: 150000,
			wantOld:    382200, // slab tax on 18.5L plus cess
			wantNew:    312000, // slab tax on 20L plus cess
			wantRegime: "new",
		},
		{
			name:       "heavy deductions favour the old regime",
			gross:      900000,
			deductions: 450000,
			wantOld:    10400, // taxable 4.5L
			wantNew:    46800, // taxable 9L
			wantRegime: "old",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := computer.EstimateTax(tt.gross, tt.deductions)
			if math.Abs(est.OldRegimeTax-tt.wantOld) > 0.01 {
				t.Errorf("OldRegimeTax = %v, want %v", est.OldRegimeTax, tt.wantOld)
			}
			if math.Abs(est.NewRegimeTax-tt.wantNew) > 0.01 {
				t.Errorf("NewRegimeTax = %v, want %v", est.NewRegimeTax, tt.wantNew)
			}
			if est.RecommendedRegime != tt.wantRegime {
				t.Errorf("RecommendedRegime = %q, want %q", est.RecommendedRegime, tt.wantRegime)
			}
			wantEstimated := tt.wantOld
			if tt.wantRegime == "new" {
				wantEstimated = tt.wantNew
			}
			if math.Abs(est.EstimatedTax-wantEstimated) > 0.01 {
				t.Errorf("EstimatedTax = %v, want %v", est.EstimatedTax, wantEstimated)
			}
		})
	}
}

func TestApplySlabsNegativeAndEdge(t *testing.T) {
	if got := applySlabs(0, oldRegimeSlabs); got != 0 {
		t.Errorf("applySlabs(0) = %v, want 0", got)
	}
	// Exactly on a slab boundary taxes the full lower bracket only.
	if got := applySlabs(250000, oldRegimeSlabs); got != 0 {
		t.Errorf("applySlabs(250000) = %v, want 0", got)
	}
	if got := applySlabs(1000000, oldRegimeSlabs); math.Abs(got-112500) > 0.01 {
		t.Errorf("applySlabs(1000000) = %v, want 112500", got)
	}
}
