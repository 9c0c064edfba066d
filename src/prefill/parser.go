package prefill

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/username/taxmitra/backend/src/logger"
	"github.com/username/taxmitra/backend/src/models"
	"github.com/username/taxmitra/backend/src/security/validation"
)

// ErrParsingFailed wraps CSV-level failures so handlers can map them to a 400.
var ErrParsingFailed = errors.New("prefill parsing failed")

// Parser turns AIS/26AS CSV exports into suggested line items grouped by
// category.
type Parser interface {
	Parse(file io.Reader) ([]models.PrefillRecord, error)
}

// sourceCategory maps the information codes that appear in AIS/26AS exports
// to wizard categories. Codes outside this map are skipped.
var sourceCategory = map[string]string{
	"SAL":  models.CategorySalary,
	"192":  models.CategorySalary,
	"RENT": models.CategoryHouseProperty,
	"194I": models.CategoryHouseProperty,
	"INT":  models.CategoryOtherSources,
	"194A": models.CategoryOtherSources,
	"DIV":  models.CategoryOtherSources,
	"194":  models.CategoryOtherSources,
	"CG":   models.CategoryCapitalGains,
	"LIC":  models.CategorySection80C,
	"PPF":  models.CategorySection80C,
	"NPS":  models.CategorySection80CCD,
	"MED":  models.CategorySection80D,
	"DON":  models.CategorySection80G,
	"SBIN": models.CategorySection80TTA,
}

type aisParser struct{}

// NewAISParser creates a parser for the comma-separated AIS/26AS statement
// layout: code, description, deductor/source, amount, date.
func NewAISParser() Parser {
	return &aisParser{}
}

func (p *aisParser) Parse(file io.Reader) ([]models.PrefillRecord, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	// Header row is layout documentation, not data.
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("%w: failed to read CSV header: %v", ErrParsingFailed, err)
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read CSV records: %v", ErrParsingFailed, err)
	}

	var out []models.PrefillRecord
	skipped := 0
	for _, record := range records {
		if len(record) < 4 {
			skipped++
			continue
		}
		code := strings.ToUpper(strings.TrimSpace(record[0]))
		category, ok := sourceCategory[code]
		if !ok {
			skipped++
			continue
		}

		amount, err := strconv.ParseFloat(strings.TrimSpace(record[3]), 64)
		if err != nil || amount <= 0 {
			skipped++
			continue
		}

		rec := models.PrefillRecord{
			Category:    category,
			Description: sanitizeCell(record[1]),
			Source:      sanitizeCell(record[2]),
			Amount:      amount,
		}
		if len(record) >= 5 {
			rec.Date = strings.TrimSpace(record[4])
		}
		out = append(out, rec)
	}

	if logger.L != nil && skipped > 0 {
		logger.L.Info("Prefill parse skipped unrecognized rows", "skipped", skipped, "kept", len(out))
	}
	return out, nil
}

// sanitizeCell cleans one untrusted CSV cell: strips unprintable runes and
// neutralizes spreadsheet formula prefixes, since line items can be exported
// back to CSV later.
func sanitizeCell(cell string) string {
	return validation.SanitizeForFormulaInjection(validation.StripUnprintable(strings.TrimSpace(cell)))
}

// ToLineItems converts prefill records of one category into line items the
// breakdown can adopt. IDs are assigned by the breakdown when adopted, not
// here, so suggestions remain inert until accepted.
func ToLineItems(records []models.PrefillRecord, category string) []models.LineItem {
	var items []models.LineItem
	for _, r := range records {
		if r.Category != category {
			continue
		}
		items = append(items, models.LineItem{
			Description: r.Description,
			Source:      r.Source,
			Amount:      r.Amount,
			Date:        r.Date,
		})
	}
	return items
}
