package models

// Category keys used across the filing wizard. Income categories feed gross
// income; deduction categories feed total deductions.
const (
	CategorySalary        = "salary"
	CategoryHouseProperty = "house_property"
	CategoryOtherSources  = "other_sources"
	CategoryCapitalGains  = "capital_gains"

	CategorySection80C   = "80c"
	CategorySection80CCD = "80ccd_1b"
	CategorySection80D   = "80d"
	CategorySection80G   = "80g"
	CategorySection80TTA = "80tta"
)

func f(v float64) *float64 { return &v }

// DefaultCategoryRules maps each known category to its statutory rules.
// Income categories are uncapped; deduction caps follow the Income Tax Act
// limits for the old regime.
var DefaultCategoryRules = map[string]CategoryRules{
	CategorySalary:        {},
	CategoryHouseProperty: {},
	CategoryOtherSources:  {},
	CategoryCapitalGains:  {},

	CategorySection80C:   {Cap: f(150000)},
	CategorySection80CCD: {Cap: f(50000)},
	CategorySection80D:   {Cap: f(25000)},
	CategorySection80G:   {MinAmount: f(500)},
	CategorySection80TTA: {Cap: f(10000)},
}

// IncomeCategories lists the categories whose final values sum into gross
// income. Order matters only for stable presentation.
var IncomeCategories = []string{
	CategorySalary,
	CategoryHouseProperty,
	CategoryOtherSources,
	CategoryCapitalGains,
}

// DeductionCategories lists the categories whose final values sum into total
// deductions.
var DeductionCategories = []string{
	CategorySection80C,
	CategorySection80CCD,
	CategorySection80D,
	CategorySection80G,
	CategorySection80TTA,
}

// IsIncomeCategory reports whether the given category contributes to gross
// income.
func IsIncomeCategory(category string) bool {
	for _, c := range IncomeCategories {
		if c == category {
			return true
		}
	}
	return false
}

// KnownCategory reports whether the category has configured rules.
func KnownCategory(category string) bool {
	_, ok := DefaultCategoryRules[category]
	return ok
}
