package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/username/taxmitra/backend/src/database"
	"github.com/username/taxmitra/backend/src/logger"
	"github.com/username/taxmitra/backend/src/model"
	"github.com/username/taxmitra/backend/src/utils"
)

// AuthMiddleware validates the bearer token, checks the session for local
// accounts, and stores the user id and role in the request context.
func (h *UserHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if tokenString == "" {
			logger.L.Debug("AuthMiddleware: Authorization header missing", "path", r.URL.Path)
			utils.SendJSONError(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		userIDStr, role, err := h.authService.ValidateToken(tokenString)
		if err != nil {
			logger.L.Warn("AuthMiddleware: Token validation failed", "path", r.URL.Path, "error", err)
			utils.SendJSONError(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		userIDInt, err := strconv.ParseInt(userIDStr, 10, 64)
		if err != nil {
			logger.L.Error("AuthMiddleware: Invalid user ID format in token", "userIDStr", userIDStr, "error", err)
			utils.SendJSONError(w, "Invalid user ID in token", http.StatusInternalServerError)
			return
		}

		if _, err := model.GetSessionByToken(database.DB, tokenString); err != nil {
			// OAuth logins carry no session row; only local accounts are
			// required to have one.
			user, userErr := model.GetUserByID(database.DB, userIDInt)
			if userErr != nil {
				logger.L.Warn("AuthMiddleware: User not found after session check failed", "userID", userIDStr, "error", userErr)
				utils.SendJSONError(w, "Invalid session or user", http.StatusUnauthorized)
				return
			}
			if user.AuthProvider == "local" {
				logger.L.Warn("AuthMiddleware: Session validation failed for local user", "path", r.URL.Path, "error", err)
				utils.SendJSONError(w, "Invalid or expired session", http.StatusUnauthorized)
				return
			}
		}

		ctx := context.WithValue(r.Context(), userIDContextKey, userIDInt)
		ctx = context.WithValue(ctx, userRoleContextKey, role)
		next(w, r.WithContext(ctx))
	}
}

// RequireRole gates a handler to the given roles. It must run after
// AuthMiddleware, which stores the role in the context.
func RequireRole(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role, ok := GetUserRoleFromContext(r.Context())
		if !ok {
			utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
			return
		}
		for _, allowed := range roles {
			if role == allowed {
				next(w, r)
				return
			}
		}
		logger.L.Warn("Role check failed", "path", r.URL.Path, "role", role)
		utils.SendJSONError(w, "Insufficient permissions", http.StatusForbidden)
	}
}
