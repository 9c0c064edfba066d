package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/username/taxmitra/backend/src/config"
	"github.com/username/taxmitra/backend/src/database"
	"github.com/username/taxmitra/backend/src/logger"
	"github.com/username/taxmitra/backend/src/model"
	"github.com/username/taxmitra/backend/src/security"
	"github.com/username/taxmitra/backend/src/services"
	"github.com/username/taxmitra/backend/src/utils"
)

// contextKey is unexported so values stored by this package cannot collide
// with keys from other packages.
type contextKey string

const (
	userIDContextKey   contextKey = "userID"
	userRoleContextKey contextKey = "userRole"
)

type UserHandler struct {
	authService  *security.AuthService
	emailService services.EmailService
}

func NewUserHandler(authService *security.AuthService, emailService services.EmailService) *UserHandler {
	return &UserHandler{
		authService:  authService,
		emailService: emailService,
	}
}

func (h *UserHandler) RegisterUserHandler(w http.ResponseWriter, r *http.Request) {
	var credentials struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}

	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		utils.SendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if credentials.Username == "" || credentials.Email == "" || len(credentials.Password) < 8 {
		utils.SendJSONError(w, "Username, email and a password of at least 8 characters are required", http.StatusBadRequest)
		return
	}
	if credentials.Role == "" {
		credentials.Role = model.RoleTaxpayer
	}
	if !model.ValidRole(credentials.Role) {
		utils.SendJSONError(w, "Unknown role", http.StatusBadRequest)
		return
	}
	// Privileged roles are granted by a platform admin after signup, never
	// self-assigned.
	if credentials.Role == model.RolePlatformAdmin {
		utils.SendJSONError(w, "Role cannot be self-assigned", http.StatusForbidden)
		return
	}

	hashedPassword, err := h.authService.HashPassword(credentials.Password)
	if err != nil {
		utils.SendJSONError(w, "Failed to hash password", http.StatusInternalServerError)
		return
	}

	user := &model.User{
		Username: credentials.Username,
		Email:    credentials.Email,
		Password: hashedPassword,
		Role:     credentials.Role,
	}
	if err := user.CreateUser(database.DB); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			utils.SendJSONError(w, "Username or email already exists", http.StatusConflict)
			return
		}
		logger.L.Error("Failed to create user", "username", credentials.Username, "error", err)
		utils.SendJSONError(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	verificationToken := generateHexToken()
	expiry := time.Now().Add(config.Cfg.VerificationTokenExpiry)
	if err := model.SetEmailVerificationToken(database.DB, user.ID, verificationToken, expiry); err != nil {
		logger.L.Error("Failed to store verification token", "userID", user.ID, "error", err)
	} else if err := h.emailService.SendVerificationEmail(user.Email, user.Username, verificationToken); err != nil {
		logger.L.Error("Failed to send verification email", "userID", user.ID, "error", err)
	}

	utils.SendJSON(w, http.StatusCreated, map[string]string{
		"message": "User registered successfully. Please verify your email.",
	})
}

func (h *UserHandler) LoginUserHandler(w http.ResponseWriter, r *http.Request) {
	var credentials struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		utils.SendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := model.GetUserByUsername(database.DB, credentials.Username)
	if err != nil {
		logger.L.Debug("Login lookup failed", "username", credentials.Username, "error", err)
		utils.SendJSONError(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}
	if err := user.CheckPassword(credentials.Password); err != nil {
		logger.L.Debug("Password check failed", "username", credentials.Username)
		utils.SendJSONError(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}

	accessToken, err := h.authService.GenerateToken(fmt.Sprintf("%d", user.ID), user.Role)
	if err != nil {
		utils.SendJSONError(w, "Failed to generate access token", http.StatusInternalServerError)
		return
	}
	refreshToken, err := h.authService.GenerateRefreshToken()
	if err != nil {
		utils.SendJSONError(w, "Failed to generate refresh token", http.StatusInternalServerError)
		return
	}

	session := &model.Session{
		UserID:       user.ID,
		Token:        accessToken,
		RefreshToken: refreshToken,
		UserAgent:    r.UserAgent(),
		ClientIP:     r.RemoteAddr,
		IsBlocked:    false,
		ExpiresAt:    time.Now().Add(config.Cfg.RefreshTokenExpiry),
	}
	if err := model.CreateSession(database.DB, session); err != nil {
		utils.SendJSONError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	logger.L.Info("User logged in", "userID", user.ID, "role", user.Role)
	utils.SendJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"user": map[string]interface{}{
			"id":       user.ID,
			"username": user.Username,
			"email":    user.Email,
			"role":     user.Role,
		},
	})
}

func (h *UserHandler) RefreshTokenHandler(w http.ResponseWriter, r *http.Request) {
	var requestBody struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		utils.SendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if requestBody.RefreshToken == "" {
		utils.SendJSONError(w, "Refresh token is required", http.StatusBadRequest)
		return
	}

	session, err := model.GetSessionByRefreshToken(database.DB, requestBody.RefreshToken)
	if err != nil || session.IsBlocked || time.Now().After(session.ExpiresAt) {
		logger.L.Warn("Refresh token rejected", "error", err)
		utils.SendJSONError(w, "Invalid or expired refresh token", http.StatusUnauthorized)
		return
	}

	user, err := model.GetUserByID(database.DB, session.UserID)
	if err != nil {
		utils.SendJSONError(w, "User not found", http.StatusUnauthorized)
		return
	}

	newAccessToken, err := h.authService.GenerateToken(fmt.Sprintf("%d", user.ID), user.Role)
	if err != nil {
		utils.SendJSONError(w, "Failed to generate new access token", http.StatusInternalServerError)
		return
	}
	newRefreshToken, err := h.authService.GenerateRefreshToken()
	if err != nil {
		utils.SendJSONError(w, "Failed to generate new refresh token", http.StatusInternalServerError)
		return
	}

	if err := model.DeleteSessionByToken(database.DB, session.Token); err != nil {
		logger.L.Warn("Failed to delete rotated session", "error", err)
	}
	newSession := &model.Session{
		UserID:       user.ID,
		Token:        newAccessToken,
		RefreshToken: newRefreshToken,
		UserAgent:    r.UserAgent(),
		ClientIP:     r.RemoteAddr,
		ExpiresAt:    time.Now().Add(config.Cfg.RefreshTokenExpiry),
	}
	if err := model.CreateSession(database.DB, newSession); err != nil {
		utils.SendJSONError(w, "Failed to create new session on refresh", http.StatusInternalServerError)
		return
	}

	utils.SendJSON(w, http.StatusOK, map[string]string{
		"access_token":  newAccessToken,
		"refresh_token": newRefreshToken,
	})
}

func (h *UserHandler) LogoutUserHandler(w http.ResponseWriter, r *http.Request) {
	tokenString := bearerToken(r)
	if tokenString == "" {
		utils.SendJSONError(w, "Authorization header required", http.StatusUnauthorized)
		return
	}
	if err := model.DeleteSessionByToken(database.DB, tokenString); err != nil {
		logger.L.Warn("Logout: failed to delete session", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) VerifyEmailHandler(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		utils.SendJSONError(w, "Verification token is required", http.StatusBadRequest)
		return
	}
	if err := model.VerifyEmailByToken(database.DB, token); err != nil {
		logger.L.Warn("Email verification failed", "error", err)
		utils.SendJSONError(w, "Invalid or expired verification token", http.StatusBadRequest)
		return
	}
	utils.SendJSON(w, http.StatusOK, map[string]string{"message": "Email verified successfully"})
}

func (h *UserHandler) RequestPasswordResetHandler(w http.ResponseWriter, r *http.Request) {
	var requestBody struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil || requestBody.Email == "" {
		utils.SendJSONError(w, "Email is required", http.StatusBadRequest)
		return
	}

	// Always answer 200 so the endpoint cannot be used to probe for accounts.
	user, err := model.GetUserByEmail(database.DB, requestBody.Email)
	if err == nil {
		resetToken := generateHexToken()
		expiry := time.Now().Add(config.Cfg.PasswordResetTokenExpiry)
		if err := model.SetPasswordResetToken(database.DB, user.ID, resetToken, expiry); err != nil {
			logger.L.Error("Failed to store password reset token", "userID", user.ID, "error", err)
		} else if err := h.emailService.SendPasswordResetEmail(user.Email, user.Username, resetToken); err != nil {
			logger.L.Error("Failed to send password reset email", "userID", user.ID, "error", err)
		}
	}
	utils.SendJSON(w, http.StatusOK, map[string]string{
		"message": "If the email exists, a password reset link has been sent",
	})
}

func (h *UserHandler) ResetPasswordHandler(w http.ResponseWriter, r *http.Request) {
	var requestBody struct {
		Token       string `json:"token"`
		NewPassword string `json:"new_password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		utils.SendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if requestBody.Token == "" || len(requestBody.NewPassword) < 8 {
		utils.SendJSONError(w, "Token and a password of at least 8 characters are required", http.StatusBadRequest)
		return
	}

	hashedPassword, err := h.authService.HashPassword(requestBody.NewPassword)
	if err != nil {
		utils.SendJSONError(w, "Failed to hash password", http.StatusInternalServerError)
		return
	}
	if err := model.ResetPasswordByToken(database.DB, requestBody.Token, hashedPassword); err != nil {
		logger.L.Warn("Password reset failed", "error", err)
		utils.SendJSONError(w, "Invalid or expired reset token", http.StatusBadRequest)
		return
	}
	utils.SendJSON(w, http.StatusOK, map[string]string{"message": "Password reset successfully"})
}

// ListUsersHandler is the platform admin user listing.
func (h *UserHandler) ListUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := model.ListUsers(database.DB)
	if err != nil {
		logger.L.Error("Failed to list users", "error", err)
		utils.SendJSONError(w, "Failed to list users", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// GetUserIDFromContext retrieves the authenticated user's id stored by
// AuthMiddleware.
func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDContextKey).(int64)
	return userID, ok
}

// GetUserRoleFromContext retrieves the authenticated user's role stored by
// AuthMiddleware.
func GetUserRoleFromContext(ctx context.Context) (string, bool) {
	role, ok := ctx.Value(userRoleContextKey).(string)
	return role, ok
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	return strings.TrimPrefix(authHeader, "Bearer ")
}

func generateHexToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
