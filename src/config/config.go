package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	JWTSecret    string
	Port         string
	DatabasePath string
	LogLevel     string

	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	MaxUploadSizeBytes int64

	// Filing wizard tuning knobs. Defaults mirror the frontend behaviour:
	// 10 line items per category, 2s autosave quiet period, 10 summary
	// snapshots, explain-tax-change surfaced above 5000 rupees.
	MaxLineItems          int
	AutosaveDebounce      time.Duration
	SummaryHistoryLimit   int
	TaxChangeExplainFloor float64
	SummaryCacheTTL       time.Duration
	SummaryCacheCleanup   time.Duration
	SessionIdleTTL        time.Duration

	EmailServiceProvider string

	SMTPServer   string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string

	MailgunDomain        string
	MailgunPrivateAPIKey string

	SenderEmail string
	SenderName  string

	VerificationEmailBaseURL string
	VerificationTokenExpiry  time.Duration

	PasswordResetBaseURL     string
	PasswordResetTokenExpiry time.Duration

	// PAN verification collaborator (SurePass-style REST API).
	PANVerifyBaseURL  string
	PANVerifyAPIKey   string
	PANVerifyAttempts int

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	FrontendBaseURL    string
}

var Cfg *AppConfig

func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	jwtSecret := getEnv("JWT_SECRET", "your-very-secure-and-long-jwt-secret-key-for-hs256-minimum-32-bytes")
	if jwtSecret == "your-very-secure-and-long-jwt-secret-key-for-hs256-minimum-32-bytes" {
		log.Println("WARNING: Using default insecure JWT_SECRET. Set JWT_SECRET environment variable for production.")
	}

	maxUploadSizeBytesStr := getEnv("MAX_UPLOAD_SIZE_BYTES", "10485760")
	maxUploadSizeBytes, err := strconv.ParseInt(maxUploadSizeBytesStr, 10, 64)
	if err != nil {
		log.Printf("WARNING: Invalid MAX_UPLOAD_SIZE_BYTES format '%s'. Using default 10MB. Error: %v", maxUploadSizeBytesStr, err)
		maxUploadSizeBytes = 10 * 1024 * 1024
	}

	explainFloorStr := getEnv("TAX_CHANGE_EXPLAIN_FLOOR", "5000")
	explainFloor, err := strconv.ParseFloat(explainFloorStr, 64)
	if err != nil {
		log.Printf("WARNING: Invalid TAX_CHANGE_EXPLAIN_FLOOR '%s'. Using default 5000. Error: %v", explainFloorStr, err)
		explainFloor = 5000
	}

	Cfg = &AppConfig{
		JWTSecret:    jwtSecret,
		Port:         getEnv("PORT", "8080"),
		DatabasePath: getEnv("DATABASE_PATH", "./taxmitra.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 60*time.Minute),
		RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 168*time.Hour),
		MaxUploadSizeBytes: maxUploadSizeBytes,

		MaxLineItems:          getEnvAsInt("MAX_LINE_ITEMS", 10),
		AutosaveDebounce:      getEnvAsDuration("AUTOSAVE_DEBOUNCE", 2*time.Second),
		SummaryHistoryLimit:   getEnvAsInt("SUMMARY_HISTORY_LIMIT", 10),
		TaxChangeExplainFloor: explainFloor,
		SummaryCacheTTL:       getEnvAsDuration("SUMMARY_CACHE_TTL", 15*time.Minute),
		SummaryCacheCleanup:   getEnvAsDuration("SUMMARY_CACHE_CLEANUP", 30*time.Minute),
		SessionIdleTTL:        getEnvAsDuration("SESSION_IDLE_TTL", 30*time.Minute),

		EmailServiceProvider: getEnv("EMAIL_SERVICE_PROVIDER", "mock"),

		SMTPServer:   getEnv("SMTP_SERVER", ""),
		SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),

		MailgunDomain:        getEnv("MAILGUN_DOMAIN", ""),
		MailgunPrivateAPIKey: getEnv("MAILGUN_PRIVATE_API_KEY", ""),

		SenderEmail: getEnv("SENDER_EMAIL", "noreply@example.com"),
		SenderName:  getEnv("SENDER_NAME", "TaxMitra App"),

		VerificationEmailBaseURL: getEnv("VERIFICATION_EMAIL_BASE_URL", "http://localhost:3000/verify-email"),
		VerificationTokenExpiry:  getEnvAsDuration("VERIFICATION_TOKEN_EXPIRY", 24*time.Hour),

		PasswordResetBaseURL:     getEnv("PASSWORD_RESET_BASE_URL", "http://localhost:3000/reset-password"),
		PasswordResetTokenExpiry: getEnvAsDuration("PASSWORD_RESET_TOKEN_EXPIRY", 1*time.Hour),

		PANVerifyBaseURL:  getEnv("PAN_VERIFY_BASE_URL", "https://kyc-api.surepass.io/api/v1/pan"),
		PANVerifyAPIKey:   getEnv("PAN_VERIFY_API_KEY", ""),
		PANVerifyAttempts: getEnvAsInt("PAN_VERIFY_ATTEMPTS", 3),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", "http://localhost:8080/api/auth/google/callback"),
		FrontendBaseURL:    getEnv("FRONTEND_BASE_URL", "http://localhost:3000"),
	}

	if Cfg.EmailServiceProvider == "mailgun" {
		if Cfg.MailgunDomain == "" {
			log.Fatalf("FATAL: MAILGUN_DOMAIN is required when EMAIL_SERVICE_PROVIDER is 'mailgun', but it's not set in environment or .env file.")
		}
		if Cfg.MailgunPrivateAPIKey == "" {
			log.Fatalf("FATAL: MAILGUN_PRIVATE_API_KEY is required when EMAIL_SERVICE_PROVIDER is 'mailgun', but it's not set in environment or .env file.")
		}
		if Cfg.SenderEmail == "noreply@example.com" || Cfg.SenderEmail == "" {
			log.Fatalf("FATAL: SENDER_EMAIL must be configured properly (e.g., your Mailgun sender) when EMAIL_SERVICE_PROVIDER is 'mailgun'.")
		}
	}

	if Cfg.MaxLineItems <= 0 {
		log.Printf("WARNING: MAX_LINE_ITEMS must be positive, got %d. Using default 10.", Cfg.MaxLineItems)
		Cfg.MaxLineItems = 10
	}
	if Cfg.SummaryHistoryLimit <= 0 {
		log.Printf("WARNING: SUMMARY_HISTORY_LIMIT must be positive, got %d. Using default 10.", Cfg.SummaryHistoryLimit)
		Cfg.SummaryHistoryLimit = 10
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, EmailProvider=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.EmailServiceProvider)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	log.Printf("Environment variable %s not set, using default: %s", key, fallback)
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Integer value for %s not set or empty, using default: %d", key, fallback)
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		log.Printf("Duration value for %s not set or empty, using default: %s", key, fallback.String())
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}
