package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/username/taxmitra/backend/src/config"
	"github.com/username/taxmitra/backend/src/database"
	"github.com/username/taxmitra/backend/src/logger"
	"github.com/username/taxmitra/backend/src/model"
	"github.com/username/taxmitra/backend/src/prefill"
	"github.com/username/taxmitra/backend/src/security"
	"github.com/username/taxmitra/backend/src/services"
)

type testEnv struct {
	mux           *http.ServeMux
	authService   *security.AuthService
	filingService services.FilingService
	userHandler   *UserHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	config.Cfg = &config.AppConfig{
		JWTSecret:                "test-secret-key-that-is-at-least-32-bytes!!",
		AccessTokenExpiry:        time.Hour,
		RefreshTokenExpiry:       24 * time.Hour,
		MaxUploadSizeBytes:       1 << 20,
		VerificationTokenExpiry:  time.Hour,
		PasswordResetTokenExpiry: time.Hour,
	}
	logger.InitLogger("error")
	database.InitDB(filepath.Join(t.TempDir(), "test.db"))

	authService := security.NewAuthService(config.Cfg.JWTSecret)
	drafts := services.NewSQLiteDraftStore(database.DB)
	filingService := services.NewFilingService(database.DB, drafts, services.NewSlabTaxComputer(), services.FilingServiceOptions{})

	userHandler := NewUserHandler(authService, &services.MockEmailService{})
	filingHandler := NewFilingHandler(filingService, prefill.NewAISParser())
	wizardHandler := NewWizardHandler(filingService)
	summaryHandler := NewSummaryHandler(filingService)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/filings", filingHandler.HandleCreateFiling)
	mux.HandleFunc("GET /api/filings", filingHandler.HandleListFilings)
	mux.HandleFunc("GET /api/filings/{filingID}", filingHandler.HandleGetFiling)
	mux.HandleFunc("POST /api/filings/{filingID}/categories/{category}/items", filingHandler.HandleAddItem)
	mux.HandleFunc("GET /api/filings/{filingID}/categories/{category}/items", filingHandler.HandleListItems)
	mux.HandleFunc("PATCH /api/filings/{filingID}/categories/{category}/items/{itemID}", filingHandler.HandleUpdateItem)
	mux.HandleFunc("DELETE /api/filings/{filingID}/categories/{category}/items/{itemID}", filingHandler.HandleRemoveItem)
	mux.HandleFunc("POST /api/filings/{filingID}/categories/{category}/items/{itemID}/proof", filingHandler.HandleAttachProof)
	mux.HandleFunc("POST /api/filings/{filingID}/prefill", filingHandler.HandlePrefillUpload)
	mux.HandleFunc("GET /api/filings/{filingID}/summary", summaryHandler.HandleGetSummary)
	mux.HandleFunc("GET /api/filings/{filingID}/summary/history", summaryHandler.HandleGetHistory)
	mux.HandleFunc("POST /api/filings/{filingID}/summary/explain", summaryHandler.HandleExplainTaxChange)
	mux.HandleFunc("GET /api/filings/{filingID}/wizard", wizardHandler.HandleGetState)
	mux.HandleFunc("POST /api/filings/{filingID}/wizard/navigate", wizardHandler.HandleNavigate)
	mux.HandleFunc("POST /api/filings/{filingID}/wizard/steps/{step}/complete", wizardHandler.HandleCompleteStep)
	mux.HandleFunc("POST /api/filings/{filingID}/wizard/save", wizardHandler.HandleSaveNow)

	return &testEnv{
		mux:           mux,
		authService:   authService,
		filingService: filingService,
		userHandler:   userHandler,
	}
}

// do routes a request through the mux with an authenticated user in context,
// sidestepping token issuance for endpoint-focused tests.
func (e *testEnv) do(t *testing.T, userID int64, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	ctx := context.WithValue(req.Context(), userIDContextKey, userID)
	ctx = context.WithValue(ctx, userRoleContextKey, model.RoleTaxpayer)
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req.WithContext(ctx))
	return rec
}

func (e *testEnv) createFiling(t *testing.T, userID int64) string {
	t.Helper()
	rec := e.do(t, userID, http.MethodPost, "/api/filings", []byte(`{"assessmentYear":"2025-26"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create filing status = %d, body %s", rec.Code, rec.Body.String())
	}
	var filing struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &filing); err != nil {
		t.Fatalf("decode filing: %v", err)
	}
	return filing.ID
}

func TestFilingEndpoints(t *testing.T) {
	env := newTestEnv(t)
	filingID := env.createFiling(t, 1)

	rec := env.do(t, 1, http.MethodGet, "/api/filings/"+filingID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get filing status = %d", rec.Code)
	}

	// Another user must not see this filing.
	rec = env.do(t, 2, http.MethodGet, "/api/filings/"+filingID, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("foreign get filing status = %d, want 403", rec.Code)
	}

	rec = env.do(t, 1, http.MethodPost, "/api/filings/"+filingID+"/categories/salary/items", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("add item status = %d, body %s", rec.Code, rec.Body.String())
	}
	var item struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &item); err != nil {
		t.Fatalf("decode item: %v", err)
	}

	rec = env.do(t, 1, http.MethodPatch,
		"/api/filings/"+filingID+"/categories/salary/items/"+item.ID,
		[]byte(`{"field":"amount","value":"750000"}`))
	if rec.Code != http.StatusNoContent {
		t.Errorf("update item status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, 1, http.MethodGet, "/api/filings/"+filingID+"/categories/salary/items", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list items status = %d", rec.Code)
	}
	var listing struct {
		Items []struct {
			Amount float64 `json:"amount"`
		} `json:"items"`
		Totals struct {
			TotalEligible float64 `json:"totalEligible"`
		} `json:"totals"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Items) != 1 || listing.Items[0].Amount != 750000 {
		t.Errorf("items = %+v, want one of 750000", listing.Items)
	}
	if listing.Totals.TotalEligible != 750000 {
		t.Errorf("totalEligible = %v, want 750000", listing.Totals.TotalEligible)
	}

	rec = env.do(t, 1, http.MethodPost,
		"/api/filings/"+filingID+"/categories/salary/items/"+item.ID+"/proof", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "proof-salary-") {
		t.Errorf("attach proof status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, 1, http.MethodPost, "/api/filings/"+filingID+"/categories/bogus/items", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown category status = %d, want 400", rec.Code)
	}

	rec = env.do(t, 1, http.MethodDelete,
		"/api/filings/"+filingID+"/categories/salary/items/"+item.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("remove item status = %d", rec.Code)
	}
}

func TestSummaryEndpointETag(t *testing.T) {
	env := newTestEnv(t)
	filingID := env.createFiling(t, 1)

	rec := env.do(t, 1, http.MethodGet, "/api/filings/"+filingID+"/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary status = %d", rec.Code)
	}
	etag := rec.Header().Get("ETag")
	if etag == "" {
		t.Fatal("summary response is missing an ETag")
	}
	if !strings.Contains(rec.Body.String(), `"formatted"`) {
		t.Error("summary response is missing the formatted block")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/filings/"+filingID+"/summary", nil)
	req.Header.Set("If-None-Match", etag)
	ctx := context.WithValue(req.Context(), userIDContextKey, int64(1))
	rec2 := httptest.NewRecorder()
	env.mux.ServeHTTP(rec2, req.WithContext(ctx))
	if rec2.Code != http.StatusNotModified {
		t.Errorf("conditional summary status = %d, want 304", rec2.Code)
	}
}

func TestWizardEndpoints(t *testing.T) {
	env := newTestEnv(t)
	filingID := env.createFiling(t, 1)

	rec := env.do(t, 1, http.MethodGet, "/api/filings/"+filingID+"/wizard", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("wizard state status = %d", rec.Code)
	}
	var wizard struct {
		State struct {
			CurrentStep int      `json:"currentStep"`
			Statuses    []string `json:"statuses"`
		} `json:"state"`
		Steps []struct {
			Name string `json:"name"`
		} `json:"steps"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &wizard); err != nil {
		t.Fatalf("decode wizard state: %v", err)
	}
	if len(wizard.Steps) != 5 || wizard.State.CurrentStep != 0 {
		t.Errorf("wizard = %+v, want 5 steps starting at 0", wizard)
	}
	if wizard.State.Statuses[0] != "current" || wizard.State.Statuses[1] != "upcoming" {
		t.Errorf("statuses = %v, want current then upcoming", wizard.State.Statuses)
	}

	rec = env.do(t, 1, http.MethodPost,
		"/api/filings/"+filingID+"/wizard/steps/0/complete", []byte(`{"pan":"ABCDE1234F"}`))
	if rec.Code != http.StatusNoContent {
		t.Errorf("complete step status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, 1, http.MethodPost,
		"/api/filings/"+filingID+"/wizard/navigate", []byte(`{"step":1}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("navigate status = %d, body %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &wizard); err != nil {
		t.Fatalf("decode wizard state: %v", err)
	}
	if wizard.State.CurrentStep != 1 {
		t.Errorf("CurrentStep after navigate = %d, want 1", wizard.State.CurrentStep)
	}

	rec = env.do(t, 1, http.MethodPost,
		"/api/filings/"+filingID+"/wizard/navigate", []byte(`{"step":42}`))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("out-of-range navigate status = %d, want 400", rec.Code)
	}

	rec = env.do(t, 1, http.MethodPost, "/api/filings/"+filingID+"/wizard/save", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("save now status = %d", rec.Code)
	}
}

func TestPrefillUploadEndpoint(t *testing.T) {
	env := newTestEnv(t)
	filingID := env.createFiling(t, 1)

	csvBody := "code,description,source,amount,date\n" +
		"SAL,Salary credited,Acme Corp,950000,2025-04-30\n" +
		"LIC,Premium paid,LIC of India,48000,2025-06-15\n" +
		"XYZ,Unknown code,Nobody,100,2025-01-01\n"

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	partHeader := textproto.MIMEHeader{}
	partHeader.Set("Content-Disposition", `form-data; name="file"; filename="ais.csv"`)
	partHeader.Set("Content-Type", "text/csv")
	part, err := writer.CreatePart(partHeader)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	fmt.Fprint(part, csvBody)
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/filings/"+filingID+"/prefill", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	ctx := context.WithValue(req.Context(), userIDContextKey, int64(1))
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req.WithContext(ctx))

	if rec.Code != http.StatusOK {
		t.Fatalf("prefill status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Parsed  int `json:"parsed"`
		Applied int `json:"applied"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode prefill result: %v", err)
	}
	if result.Parsed != 2 || result.Applied != 2 {
		t.Errorf("prefill result = %+v, want 2 parsed and applied", result)
	}

	rec = env.do(t, 1, http.MethodGet, "/api/filings/"+filingID+"/categories/salary/items", nil)
	if !strings.Contains(rec.Body.String(), "950000") {
		t.Errorf("salary items after prefill missing amount: %s", rec.Body.String())
	}
}

func TestAuthMiddlewareAndRoles(t *testing.T) {
	env := newTestEnv(t)

	hashed, err := env.authService.HashPassword("hunter2-long")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &model.User{Username: "asha", Email: "asha@example.com", Password: hashed, Role: model.RoleCA}
	if err := user.CreateUser(database.DB); err != nil {
		t.Fatalf("create user: %v", err)
	}

	token, err := env.authService.GenerateToken(fmt.Sprintf("%d", user.ID), user.Role)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	session := &model.Session{
		UserID:       user.ID,
		Token:        token,
		RefreshToken: "r",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	if err := model.CreateSession(database.DB, session); err != nil {
		t.Fatalf("create session: %v", err)
	}

	var gotUserID int64
	var gotRole string
	protected := env.userHandler.AuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = GetUserIDFromContext(r.Context())
		gotRole, _ = GetUserRoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protected(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authorized request status = %d, body %s", rec.Code, rec.Body.String())
	}
	if gotUserID != user.ID || gotRole != model.RoleCA {
		t.Errorf("context userID=%d role=%q, want %d and ca", gotUserID, gotRole, user.ID)
	}

	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec = httptest.NewRecorder()
	protected(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing token status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	protected(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", rec.Code)
	}

	// Role gating: a CA is not a platform admin.
	admin := env.userHandler.AuthMiddleware(RequireRole(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, model.RolePlatformAdmin))
	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	admin(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("role-gated status = %d, want 403", rec.Code)
	}

	caView := env.userHandler.AuthMiddleware(RequireRole(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, model.RoleCA, model.RoleFirmAdmin))
	req = httptest.NewRequest(http.MethodGet, "/clients", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	caView(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("ca view status = %d, want 200", rec.Code)
	}
}

func TestCSRFMiddleware(t *testing.T) {
	newTestEnv(t)

	handler := CSRFMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// GET passes without a token.
	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("GET status = %d, want 200", rec.Code)
	}

	// POST without a token is rejected.
	req = httptest.NewRequest(http.MethodPost, "/anything", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("unprotected POST status = %d, want 403", rec.Code)
	}

	// POST with matching header and cookie passes.
	req = httptest.NewRequest(http.MethodPost, "/anything", nil)
	req.Header.Set("X-CSRF-Token", "tok-123")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "tok-123"})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("protected POST status = %d, want 200", rec.Code)
	}

	// Mismatched tokens fail.
	req = httptest.NewRequest(http.MethodPost, "/anything", nil)
	req.Header.Set("X-CSRF-Token", "tok-123")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "tok-456"})
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("mismatched POST status = %d, want 403", rec.Code)
	}
}

func TestRegisterAndLoginFlow(t *testing.T) {
	env := newTestEnv(t)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", env.userHandler.RegisterUserHandler)
	mux.HandleFunc("POST /api/auth/login", env.userHandler.LoginUserHandler)

	body := `{"username":"ravi","email":"ravi@example.com","password":"long-enough-pw"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Self-assigned platform_admin is refused.
	body = `{"username":"evil","email":"evil@example.com","password":"long-enough-pw","role":"platform_admin"}`
	req = httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(body))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("admin self-assign status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"username":"ravi","password":"long-enough-pw"}`))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	var loginResp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		User         struct {
			Role string `json:"role"`
		} `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &loginResp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	if loginResp.AccessToken == "" || loginResp.RefreshToken == "" {
		t.Error("login response is missing tokens")
	}
	if loginResp.User.Role != model.RoleTaxpayer {
		t.Errorf("default role = %q, want taxpayer", loginResp.User.Role)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"username":"ravi","password":"wrong"}`))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad password status = %d, want 401", rec.Code)
	}
}
