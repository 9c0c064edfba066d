package main

import (
	"encoding/json"
	stdlog "log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/username/taxmitra/backend/src/config"
	"github.com/username/taxmitra/backend/src/database"
	"github.com/username/taxmitra/backend/src/handlers"
	"github.com/username/taxmitra/backend/src/logger"
	"github.com/username/taxmitra/backend/src/model"
	"github.com/username/taxmitra/backend/src/prefill"
	"github.com/username/taxmitra/backend/src/security"
	"github.com/username/taxmitra/backend/src/services"
	"golang.org/x/time/rate"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			config.Cfg.FrontendBaseURL: true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-Requested-With, Cookie, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "X-CSRF-Token, ETag")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			logger.L.Debug("Handling OPTIONS preflight request", "path", r.URL.Path, "origin", origin)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("TaxMitra backend server starting...")

	if config.Cfg.JWTSecret == "" || len(config.Cfg.JWTSecret) < 32 {
		logger.L.Error("JWT_SECRET configuration invalid. Must be at least 32 bytes.")
		os.Exit(1)
	}

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	logger.L.Info("Database initialized successfully.")

	logger.L.Info("Initializing services and handlers...")
	authService := security.NewAuthService(config.Cfg.JWTSecret)
	emailService := services.NewEmailService()
	userHandler := handlers.NewUserHandler(authService, emailService)
	handlers.InitializeGoogleOAuthConfig()

	draftStore := services.NewSQLiteDraftStore(database.DB)
	taxComputer := services.NewSlabTaxComputer()
	filingService := services.NewFilingService(database.DB, draftStore, taxComputer, services.FilingServiceOptions{
		MaxItems:            config.Cfg.MaxLineItems,
		HistoryLimit:        config.Cfg.SummaryHistoryLimit,
		ExplainFloor:        config.Cfg.TaxChangeExplainFloor,
		AutosaveDebounce:    config.Cfg.AutosaveDebounce,
		SummaryCacheTTL:     config.Cfg.SummaryCacheTTL,
		SummaryCacheCleanup: config.Cfg.SummaryCacheCleanup,
		SessionIdleTTL:      config.Cfg.SessionIdleTTL,
	})
	panVerifier := services.NewPANVerifier(config.Cfg.PANVerifyBaseURL, config.Cfg.PANVerifyAPIKey, config.Cfg.PANVerifyAttempts)
	preferenceStore := services.NewPreferenceStore(database.DB)

	filingHandler := handlers.NewFilingHandler(filingService, prefill.NewAISParser())
	wizardHandler := handlers.NewWizardHandler(filingService)
	summaryHandler := handlers.NewSummaryHandler(filingService)
	preferenceHandler := handlers.NewPreferenceHandler(preferenceStore)
	panHandler := handlers.NewPANHandler(panVerifier)

	logger.L.Info("Configuring routes...")
	rootMux := http.NewServeMux()
	apiRouter := http.NewServeMux()

	// Public GET routes (no CSRF needed for these GETs)
	apiRouter.HandleFunc("GET /api/auth/csrf", handlers.GetCSRFToken)
	apiRouter.HandleFunc("GET /api/auth/verify-email", userHandler.VerifyEmailHandler) // Token in query param
	apiRouter.HandleFunc("GET /api/auth/google/login", userHandler.HandleGoogleLogin)
	apiRouter.HandleFunc("GET /api/auth/google/callback", userHandler.HandleGoogleCallback)

	// Auth actions router - POST routes generally need CSRF
	authActionRouter := http.NewServeMux()
	authActionRouter.HandleFunc("POST /login", userHandler.LoginUserHandler)
	authActionRouter.HandleFunc("POST /register", userHandler.RegisterUserHandler)
	authActionRouter.HandleFunc("POST /refresh", userHandler.RefreshTokenHandler)
	authActionRouter.HandleFunc("POST /logout", userHandler.AuthMiddleware(userHandler.LogoutUserHandler))
	authActionRouter.HandleFunc("POST /request-password-reset", userHandler.RequestPasswordResetHandler)
	authActionRouter.HandleFunc("POST /reset-password", userHandler.ResetPasswordHandler)

	// Apply CSRF to the entire authActionRouter group
	apiRouter.Handle("/api/auth/", http.StripPrefix("/api/auth", handlers.CSRFMiddleware(authActionRouter)))

	// CSRF and Auth middleware for protected API routes
	applyCsrfAndAuth := func(handler http.HandlerFunc) http.Handler {
		return handlers.CSRFMiddleware(http.HandlerFunc(userHandler.AuthMiddleware(handler)))
	}

	// Filings and line items
	apiRouter.Handle("POST /api/filings", applyCsrfAndAuth(filingHandler.HandleCreateFiling))
	apiRouter.Handle("GET /api/filings", applyCsrfAndAuth(filingHandler.HandleListFilings))
	apiRouter.Handle("GET /api/filings/{filingID}", applyCsrfAndAuth(filingHandler.HandleGetFiling))
	apiRouter.Handle("GET /api/filings/{filingID}/categories/{category}/items", applyCsrfAndAuth(filingHandler.HandleListItems))
	apiRouter.Handle("POST /api/filings/{filingID}/categories/{category}/items", applyCsrfAndAuth(filingHandler.HandleAddItem))
	apiRouter.Handle("PATCH /api/filings/{filingID}/categories/{category}/items/{itemID}", applyCsrfAndAuth(filingHandler.HandleUpdateItem))
	apiRouter.Handle("DELETE /api/filings/{filingID}/categories/{category}/items/{itemID}", applyCsrfAndAuth(filingHandler.HandleRemoveItem))
	apiRouter.Handle("POST /api/filings/{filingID}/categories/{category}/items/{itemID}/proof", applyCsrfAndAuth(filingHandler.HandleAttachProof))
	apiRouter.Handle("GET /api/filings/{filingID}/categories/{category}/totals", applyCsrfAndAuth(filingHandler.HandleGetCategoryTotals))
	apiRouter.Handle("POST /api/filings/{filingID}/prefill", applyCsrfAndAuth(filingHandler.HandlePrefillUpload))
	apiRouter.Handle("PUT /api/filings/{filingID}/taxes-paid", applyCsrfAndAuth(filingHandler.HandleSetTaxesPaid))

	// Filing wizard
	apiRouter.Handle("GET /api/filings/{filingID}/wizard", applyCsrfAndAuth(wizardHandler.HandleGetState))
	apiRouter.Handle("POST /api/filings/{filingID}/wizard/navigate", applyCsrfAndAuth(wizardHandler.HandleNavigate))
	apiRouter.Handle("POST /api/filings/{filingID}/wizard/steps/{step}/complete", applyCsrfAndAuth(wizardHandler.HandleCompleteStep))
	apiRouter.Handle("PUT /api/filings/{filingID}/wizard/steps/{step}/data", applyCsrfAndAuth(wizardHandler.HandleSetStepData))
	apiRouter.Handle("POST /api/filings/{filingID}/wizard/save", applyCsrfAndAuth(wizardHandler.HandleSaveNow))

	// Realtime summary panel
	apiRouter.Handle("GET /api/filings/{filingID}/summary", applyCsrfAndAuth(summaryHandler.HandleGetSummary))
	apiRouter.Handle("GET /api/filings/{filingID}/summary/history", applyCsrfAndAuth(summaryHandler.HandleGetHistory))
	apiRouter.Handle("POST /api/filings/{filingID}/summary/explain", applyCsrfAndAuth(summaryHandler.HandleExplainTaxChange))
	apiRouter.Handle("POST /api/filings/{filingID}/summary/what-if", applyCsrfAndAuth(summaryHandler.HandleWhatIfSimulation))

	// PAN verification and user preferences
	apiRouter.Handle("POST /api/pan/verify", applyCsrfAndAuth(panHandler.HandleVerifyPAN))
	apiRouter.Handle("GET /api/preferences", applyCsrfAndAuth(preferenceHandler.HandleGetPreferences))
	apiRouter.Handle("PUT /api/preferences", applyCsrfAndAuth(preferenceHandler.HandleSavePreferences))

	// Role-gated views
	apiRouter.Handle("GET /api/admin/users", applyCsrfAndAuth(handlers.RequireRole(userHandler.ListUsersHandler, model.RolePlatformAdmin)))
	apiRouter.Handle("GET /api/admin/filings", applyCsrfAndAuth(handlers.RequireRole(filingHandler.HandleListAllFilings, model.RoleCA, model.RoleFirmAdmin, model.RolePlatformAdmin)))

	rootMux.Handle("/api/", apiRouter)

	rootMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"message": "TaxMitra Backend is running"})
		} else {
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				logger.L.Warn("Root level path not found", "method", r.Method, "path", r.URL.Path)
				http.NotFound(w, r)
			}
		}
	})

	logger.L.Info("Applying global middleware...")
	finalHandler := enableCORS(rateLimitMiddleware(rootMux))

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      finalHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	} else if err == http.ErrServerClosed {
		logger.L.Info("Server stopped gracefully.")
	}
}
