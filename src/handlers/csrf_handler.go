package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/username/taxmitra/backend/src/logger"
	"github.com/username/taxmitra/backend/src/utils"
)

const csrfCookieName = "_csrf_token"

// GetCSRFToken issues a fresh CSRF token as both a cookie and a response
// header. The frontend echoes the header value on mutating requests.
func GetCSRFToken(w http.ResponseWriter, r *http.Request) {
	token := generateRandomToken()

	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		SameSite: http.SameSiteLaxMode,
		HttpOnly: true,
		Secure:   false, // Set to true in production with HTTPS
		MaxAge:   3600,
	})

	w.Header().Set("X-CSRF-Token", token)
	utils.SendJSON(w, http.StatusOK, map[string]string{"csrfToken": token})
}

func generateRandomToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		logger.L.Error("Error generating random bytes for CSRF token", "error", err)
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return base64.StdEncoding.EncodeToString(b)
}

// CSRFMiddleware validates mutating requests by comparing the X-CSRF-Token
// header against the CSRF cookie (double-submit pattern; the token itself is
// random, no signing key involved). Safe methods pass through.
func CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		headerToken := r.Header.Get("X-CSRF-Token")
		cookie, err := r.Cookie(csrfCookieName)
		if headerToken != "" && err == nil && headerToken == cookie.Value {
			next.ServeHTTP(w, r)
			return
		}

		logger.L.Warn("CSRF validation failed",
			"method", r.Method, "path", r.URL.Path, "haveHeader", headerToken != "", "cookieErr", err)
		utils.SendJSONError(w, "CSRF token validation failed", http.StatusForbidden)
	})
}
