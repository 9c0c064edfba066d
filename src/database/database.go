package database

import (
	"database/sql"
	stdlog "log"

	"github.com/username/taxmitra/backend/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

func InitDB(databasePath string) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	DB = db

	if logger.L != nil {
		logger.L.Info("Checking database migrations", "databasePath", databasePath)
	} else {
		stdlog.Println("Checking database migrations for:", databasePath)
	}
	migrateUserTable() // Adds columns introduced after the first users schema

	createTableStatement := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		role TEXT NOT NULL DEFAULT 'taxpayer',
		auth_provider TEXT DEFAULT 'local',
		is_email_verified BOOLEAN DEFAULT FALSE,
		email_verification_token TEXT,
		email_verification_token_expires_at TIMESTAMP,
		password_reset_token TEXT,
		password_reset_token_expires_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		token TEXT NOT NULL,
		refresh_token TEXT NOT NULL,
		user_agent TEXT,
		client_ip TEXT,
		is_blocked BOOLEAN DEFAULT FALSE,
		expires_at TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(user_id) REFERENCES users(id)
	);

	CREATE TABLE IF NOT EXISTS filings (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL,
		assessment_year TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'draft',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(user_id) REFERENCES users(id),
		UNIQUE(user_id, assessment_year)
	);

	CREATE TABLE IF NOT EXISTS filing_drafts (
		filing_id TEXT PRIMARY KEY,
		step_data TEXT NOT NULL,
		items TEXT,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(filing_id) REFERENCES filings(id)
	);

	CREATE TABLE IF NOT EXISTS user_preferences (
		user_id INTEGER PRIMARY KEY,
		interaction_mode TEXT NOT NULL DEFAULT 'guided',
		data TEXT,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY(user_id) REFERENCES users(id)
	);
	`

	_, err = DB.Exec(createTableStatement)
	if err != nil {
		if logger.L != nil {
			logger.L.Error("failed to create tables", "error", err)
		}
		stdlog.Fatalf("failed to create tables: %v", err)
	}
	if logger.L != nil {
		logger.L.Info("Database tables ensured/created.")
	} else {
		stdlog.Println("Database tables ensured/created.")
	}
}

// migrateUserTable backfills columns on databases created before the
// multi-role schema.
func migrateUserTable() {
	var tableName string
	err := DB.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='users'").Scan(&tableName)
	if err != nil {
		if err == sql.ErrNoRows {
			if logger.L != nil {
				logger.L.Info("'users' table does not exist, no migration needed as table will be created.")
			} else {
				stdlog.Println("'users' table does not exist, no migration needed as table will be created.")
			}
			return
		}
		if logger.L != nil {
			logger.L.Error("Error checking for 'users' table", "error", err)
		} else {
			stdlog.Printf("Error checking for 'users' table: %v", err)
		}
		return
	}

	rows, err := DB.Query("PRAGMA table_info(users)")
	if err != nil {
		if logger.L != nil {
			logger.L.Error("Error querying table schema for 'users'", "error", err)
		} else {
			stdlog.Printf("Error querying table schema for 'users': %v", err)
		}
		return
	}
	defer rows.Close()

	columnExists := make(map[string]bool)
	for rows.Next() {
		var cid, pk int
		var name, dataType string
		var notnullVal int
		var dfltValue interface{}

		if err := rows.Scan(&cid, &name, &dataType, &notnullVal, &dfltValue, &pk); err != nil {
			if logger.L != nil {
				logger.L.Error("Error scanning column info for 'users'", "error", err)
			} else {
				stdlog.Printf("Error scanning column info for 'users': %v", err)
			}
			return
		}
		columnExists[name] = true
	}
	if err = rows.Err(); err != nil {
		if logger.L != nil {
			logger.L.Error("Error iterating over column info for 'users'", "error", err)
		} else {
			stdlog.Printf("Error iterating over column info for 'users': %v", err)
		}
		return
	}

	addColumn := func(column, definition string) {
		if _, ok := columnExists[column]; ok {
			return
		}
		_, err := DB.Exec("ALTER TABLE users ADD COLUMN " + column + " " + definition)
		if err != nil {
			logger.L.Error("Error adding column to 'users' table", "column", column, "error", err)
		} else {
			logger.L.Info("Added column to 'users' table", "column", column)
		}
	}

	addColumn("role", "TEXT NOT NULL DEFAULT 'taxpayer'")
	addColumn("auth_provider", "TEXT DEFAULT 'local'")
	addColumn("is_email_verified", "BOOLEAN DEFAULT FALSE")
	addColumn("email_verification_token", "TEXT")
	addColumn("email_verification_token_expires_at", "TIMESTAMP")
	addColumn("password_reset_token", "TEXT")
	addColumn("password_reset_token_expires_at", "TIMESTAMP")
	addColumn("created_at", "TIMESTAMP DEFAULT CURRENT_TIMESTAMP")
	addColumn("updated_at", "TIMESTAMP DEFAULT CURRENT_TIMESTAMP")
}
