package services

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/username/taxmitra/backend/src/logger"
)

const defaultInteractionMode = "guided"

type sqlitePreferenceStore struct {
	db *sql.DB
}

// NewPreferenceStore returns a PreferenceStore backed by the user_preferences
// table.
func NewPreferenceStore(db *sql.DB) PreferenceStore {
	return &sqlitePreferenceStore{db: db}
}

// Load returns the stored preferences, or the defaults when the user has none
// saved yet.
func (s *sqlitePreferenceStore) Load(userID int64) (*Preferences, error) {
	var mode string
	var data sql.NullString
	err := s.db.QueryRow(
		"SELECT interaction_mode, data FROM user_preferences WHERE user_id = ?",
		userID,
	).Scan(&mode, &data)
	if err == sql.ErrNoRows {
		return &Preferences{InteractionMode: defaultInteractionMode}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences for user %d: %w", userID, err)
	}

	prefs := &Preferences{InteractionMode: mode}
	if data.Valid && data.String != "" {
		prefs.Extra = json.RawMessage(data.String)
	}
	return prefs, nil
}

func (s *sqlitePreferenceStore) Save(userID int64, prefs Preferences) error {
	if prefs.InteractionMode != "guided" && prefs.InteractionMode != "quick" {
		return fmt.Errorf("unknown interaction mode %q", prefs.InteractionMode)
	}

	var extra interface{}
	if len(prefs.Extra) > 0 {
		if !json.Valid(prefs.Extra) {
			return fmt.Errorf("preferences extra blob is not valid JSON")
		}
		extra = string(prefs.Extra)
	}

	_, err := s.db.Exec(`
		INSERT INTO user_preferences (user_id, interaction_mode, data)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			interaction_mode = excluded.interaction_mode,
			data = excluded.data,
			updated_at = CURRENT_TIMESTAMP`,
		userID, prefs.InteractionMode, extra,
	)
	if err != nil {
		return fmt.Errorf("failed to save preferences for user %d: %w", userID, err)
	}
	if logger.L != nil {
		logger.L.Debug("Saved user preferences", "userID", userID, "mode", prefs.InteractionMode)
	}
	return nil
}
