package model

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/username/taxmitra/backend/src/models"
)

// ErrFilingNotFound is returned when no filing row matches the given id.
var ErrFilingNotFound = errors.New("filing not found")

// ErrFilingExists is returned when the user already has a filing for the
// assessment year.
var ErrFilingExists = errors.New("filing already exists for this assessment year")

func InsertFiling(db *sql.DB, f *models.Filing) error {
	_, err := db.Exec(`
	INSERT INTO filings (id, user_id, assessment_year, status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)`,
		f.ID, f.UserID, f.AssessmentYear, f.Status, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrFilingExists
		}
		return fmt.Errorf("failed to insert filing: %w", err)
	}
	return nil
}

func GetFilingByID(db *sql.DB, id string) (*models.Filing, error) {
	row := db.QueryRow(`
	SELECT id, user_id, assessment_year, status, created_at, updated_at
	FROM filings WHERE id = ?`, id)

	var f models.Filing
	err := row.Scan(&f.ID, &f.UserID, &f.AssessmentYear, &f.Status, &f.CreatedAt, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrFilingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get filing %s: %w", id, err)
	}
	return &f, nil
}

func ListFilingsByUser(db *sql.DB, userID int64) ([]models.Filing, error) {
	return listFilings(db, `
	SELECT id, user_id, assessment_year, status, created_at, updated_at
	FROM filings WHERE user_id = ? ORDER BY created_at DESC`, userID)
}

func ListAllFilings(db *sql.DB) ([]models.Filing, error) {
	return listFilings(db, `
	SELECT id, user_id, assessment_year, status, created_at, updated_at
	FROM filings ORDER BY created_at DESC`)
}

func listFilings(db *sql.DB, query string, args ...interface{}) ([]models.Filing, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list filings: %w", err)
	}
	defer rows.Close()

	var filings []models.Filing
	for rows.Next() {
		var f models.Filing
		if err := rows.Scan(&f.ID, &f.UserID, &f.AssessmentYear, &f.Status, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan filing row: %w", err)
		}
		filings = append(filings, f)
	}
	return filings, rows.Err()
}

func TouchFiling(db *sql.DB, id string) error {
	_, err := db.Exec(`UPDATE filings SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

// isUniqueViolation matches SQLite's constraint error text; the driver does
// not export a typed error for it.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
