package breakdown

import (
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/username/taxmitra/backend/src/logger"
	"github.com/username/taxmitra/backend/src/models"
)

// DefaultMaxItems is the ceiling on line items per category breakdown.
const DefaultMaxItems = 10

// Editable line-item field names accepted by UpdateItemField.
const (
	FieldDescription = "description"
	FieldAmount      = "amount"
	FieldSource      = "source"
	FieldNotes       = "notes"
	FieldDate        = "date"
)

// Breakdown owns the ordered line-item list for one category and exposes
// totals under that category's rules. Every mutation notifies the owner with
// the new full list; the owner is responsible for persistence and downstream
// aggregation.
type Breakdown struct {
	category      string
	rules         models.CategoryRules
	maxItems      int
	items         []models.LineItem
	onItemsChange func([]models.LineItem)
}

// New creates an empty breakdown for the given category. A nil onItemsChange
// is allowed; mutations then only update internal state. maxItems <= 0 falls
// back to DefaultMaxItems.
func New(category string, rules models.CategoryRules, maxItems int, onItemsChange func([]models.LineItem)) *Breakdown {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	return &Breakdown{
		category:      category,
		rules:         rules,
		maxItems:      maxItems,
		onItemsChange: onItemsChange,
	}
}

// Category returns the category key this breakdown aggregates.
func (b *Breakdown) Category() string { return b.category }

// Rules returns the rules applied when computing totals.
func (b *Breakdown) Rules() models.CategoryRules { return b.rules }

// Items returns a copy of the current line-item list.
func (b *Breakdown) Items() []models.LineItem {
	out := make([]models.LineItem, len(b.items))
	copy(out, b.items)
	return out
}

// SetItems replaces the whole list, e.g. when restoring a draft or applying
// prefill suggestions. The list is truncated to maxItems and the owner is
// notified.
func (b *Breakdown) SetItems(items []models.LineItem) {
	if len(items) > b.maxItems {
		if logger.L != nil {
			logger.L.Warn("Truncating restored line items to category ceiling",
				"category", b.category, "got", len(items), "maxItems", b.maxItems)
		}
		items = items[:b.maxItems]
	}
	b.items = make([]models.LineItem, len(items))
	copy(b.items, items)
	b.notify()
}

// AddItem appends a fresh zero-amount line item and returns it. When the list
// is already at the ceiling the call is a silent no-op apart from a warning
// log, and ok is false.
func (b *Breakdown) AddItem() (item models.LineItem, ok bool) {
	if len(b.items) >= b.maxItems {
		if logger.L != nil {
			logger.L.Warn("Maximum line items reached for category",
				"category", b.category, "maxItems", b.maxItems)
		}
		return models.LineItem{}, false
	}
	item = models.LineItem{
		ID:        uuid.NewString(),
		Amount:    0,
		CreatedAt: time.Now(),
	}
	b.items = append(b.items, item)
	b.notify()
	return item, true
}

// UpdateItemField replaces one field on the item with the given id. Amounts
// are coerced through ParseFloat and default to 0 when unparseable or NaN.
// An unknown id or field name is a no-op.
func (b *Breakdown) UpdateItemField(id, field, value string) {
	for i := range b.items {
		if b.items[i].ID != id {
			continue
		}
		switch field {
		case FieldAmount:
			b.items[i].Amount = coerceAmount(value)
		case FieldDescription:
			b.items[i].Description = value
		case FieldSource:
			b.items[i].Source = value
		case FieldNotes:
			b.items[i].Notes = value
		case FieldDate:
			b.items[i].Date = value
		default:
			if logger.L != nil {
				logger.L.Warn("Ignoring update for unknown line-item field",
					"category", b.category, "field", field)
			}
			return
		}
		b.notify()
		return
	}
}

// RemoveItem filters the item with the given id out of the list. A missing id
// leaves the list untouched but still notifies the owner, matching add/update
// behaviour of always reporting the current list.
func (b *Breakdown) RemoveItem(id string) {
	filtered := b.items[:0]
	for _, it := range b.items {
		if it.ID != id {
			filtered = append(filtered, it)
		}
	}
	b.items = filtered
	b.notify()
}

// AttachProof marks the item's proof as uploaded and assigns a synthetic
// proof-file reference. Real upload and storage belong to the document
// service; this only records the acknowledgement.
func (b *Breakdown) AttachProof(id string) (ref string, ok bool) {
	for i := range b.items {
		if b.items[i].ID != id {
			continue
		}
		ref = "proof-" + b.category + "-" + uuid.NewString()
		b.items[i].ProofUploaded = true
		b.items[i].ProofRef = ref
		b.notify()
		return ref, true
	}
	return "", false
}

// Totals computes the derived totals for the current list.
func (b *Breakdown) Totals() models.CategoryTotals {
	return ComputeTotals(b.items, b.rules)
}

// ComputeTotals is a pure function of a line-item list and category rules.
// An item is eligible when its amount is strictly positive and, if a minimum
// threshold is configured, at least that threshold. The cap is applied to the
// summed eligible amount, never to individual items.
func ComputeTotals(items []models.LineItem, rules models.CategoryRules) models.CategoryTotals {
	totals := models.CategoryTotals{ItemCount: len(items)}
	for _, it := range items {
		if it.Amount <= 0 {
			continue
		}
		if rules.MinAmount != nil && it.Amount < *rules.MinAmount {
			continue
		}
		totals.EligibleCount++
		totals.TotalEligible += it.Amount
	}
	totals.FinalValue = totals.TotalEligible
	if rules.Cap != nil {
		if totals.TotalEligible >= *rules.Cap {
			totals.FinalValue = *rules.Cap
			totals.IsCapReached = true
		}
	}
	return totals
}

func (b *Breakdown) notify() {
	if b.onItemsChange == nil {
		return
	}
	b.onItemsChange(b.Items())
}

func coerceAmount(value string) float64 {
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0
	}
	return parsed
}
