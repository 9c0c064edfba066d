package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/username/taxmitra/backend/src/logger"
	"github.com/username/taxmitra/backend/src/models"
)

// sqliteDraftStore persists drafts in the filing_drafts table: one row per
// filing, step data and items as JSON columns.
type sqliteDraftStore struct {
	db *sql.DB
}

// NewSQLiteDraftStore creates a DraftStore over the given database.
func NewSQLiteDraftStore(db *sql.DB) DraftStore {
	return &sqliteDraftStore{db: db}
}

// draftPayload is the persisted shape of the wizard progress portion.
type draftPayload struct {
	CurrentStep int                     `json:"currentStep"`
	Completed   []int                   `json:"completed"`
	StepData    map[int]json.RawMessage `json:"stepData"`
	TaxesPaid   float64                 `json:"taxesPaid,omitempty"`
}

func (s *sqliteDraftStore) SaveDraft(record DraftRecord) error {
	payload, err := json.Marshal(draftPayload{
		CurrentStep: record.CurrentStep,
		Completed:   record.Completed,
		StepData:    record.StepData,
		TaxesPaid:   record.TaxesPaid,
	})
	if err != nil {
		return fmt.Errorf("marshal draft payload: %w", err)
	}
	items, err := json.Marshal(record.Items)
	if err != nil {
		return fmt.Errorf("marshal draft items: %w", err)
	}

	_, err = s.db.Exec(`
	INSERT INTO filing_drafts (filing_id, step_data, items, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(filing_id) DO UPDATE SET
		step_data = excluded.step_data,
		items = excluded.items,
		updated_at = excluded.updated_at`,
		record.FilingID, string(payload), string(items), time.Now())
	if err != nil {
		return fmt.Errorf("save draft for filing %s: %w", record.FilingID, err)
	}
	if logger.L != nil {
		logger.L.Debug("Draft persisted", "filingID", record.FilingID)
	}
	return nil
}

func (s *sqliteDraftStore) LoadDraft(filingID string) (*DraftRecord, error) {
	var stepData string
	var items sql.NullString
	var updatedAt time.Time
	err := s.db.QueryRow(`
	SELECT step_data, items, updated_at FROM filing_drafts WHERE filing_id = ?`,
		filingID).Scan(&stepData, &items, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // no draft yet is not an error
		}
		return nil, fmt.Errorf("load draft for filing %s: %w", filingID, err)
	}

	var payload draftPayload
	if err := json.Unmarshal([]byte(stepData), &payload); err != nil {
		return nil, fmt.Errorf("decode draft payload for filing %s: %w", filingID, err)
	}

	record := &DraftRecord{
		FilingID:    filingID,
		CurrentStep: payload.CurrentStep,
		Completed:   payload.Completed,
		StepData:    payload.StepData,
		TaxesPaid:   payload.TaxesPaid,
		UpdatedAt:   updatedAt,
	}
	if items.Valid && items.String != "" {
		if err := json.Unmarshal([]byte(items.String), &record.Items); err != nil {
			return nil, fmt.Errorf("decode draft items for filing %s: %w", filingID, err)
		}
	}
	if record.Items == nil {
		record.Items = make(map[string][]models.LineItem)
	}
	return record, nil
}

func (s *sqliteDraftStore) DeleteDraft(filingID string) error {
	_, err := s.db.Exec(`DELETE FROM filing_drafts WHERE filing_id = ?`, filingID)
	return err
}
