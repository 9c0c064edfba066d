package services

import (
	"math"

	"github.com/username/taxmitra/backend/src/utils"
)

// slab is one progressive bracket: income above `upTo` of the previous slab
// and at most `upTo` of this one is taxed at `rate`.
type slab struct {
	upTo float64 // math.Inf(1) for the top slab
	rate float64
}

var oldRegimeSlabs = []slab{
	{upTo: 250000, rate: 0},
	{upTo: 500000, rate: 0.05},
	{upTo: 1000000, rate: 0.20},
	{upTo: math.Inf(1), rate: 0.30},
}

var newRegimeSlabs = []slab{
	{upTo: 300000, rate: 0},
	{upTo: 600000, rate: 0.05},
	{upTo: 900000, rate: 0.10},
	{upTo: 1200000, rate: 0.15},
	{upTo: 1500000, rate: 0.20},
	{upTo: math.Inf(1), rate: 0.30},
}

const cessRate = 0.04

// slabTaxComputer is the default TaxComputer. It runs the plain slab math for
// both regimes; the new regime ignores chapter VI-A deductions.
type slabTaxComputer struct{}

// NewSlabTaxComputer returns the built-in estimator used when no remote
// computation endpoint is configured.
func NewSlabTaxComputer() TaxComputer {
	return &slabTaxComputer{}
}

func (c *slabTaxComputer) EstimateTax(grossIncome, totalDeductions float64) TaxEstimate {
	oldTaxable := math.Max(0, grossIncome-totalDeductions)
	newTaxable := math.Max(0, grossIncome)

	oldTax := applySlabs(oldTaxable, oldRegimeSlabs)
	newTax := applySlabs(newTaxable, newRegimeSlabs)

	oldTax = utils.RoundFloat(oldTax*(1+cessRate), 2)
	newTax = utils.RoundFloat(newTax*(1+cessRate), 2)

	est := TaxEstimate{
		OldRegimeTax: oldTax,
		NewRegimeTax: newTax,
	}
	if newTax <= oldTax {
		est.RecommendedRegime = "new"
		est.EstimatedTax = newTax
	} else {
		est.RecommendedRegime = "old"
		est.EstimatedTax = oldTax
	}
	return est
}

func applySlabs(taxable float64, slabs []slab) float64 {
	var tax float64
	lower := 0.0
	for _, s := range slabs {
		if taxable <= lower {
			break
		}
		portion := math.Min(taxable, s.upTo) - lower
		tax += portion * s.rate
		lower = s.upTo
	}
	return tax
}
