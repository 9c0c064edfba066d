package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/username/taxmitra/backend/src/logger"
	"github.com/username/taxmitra/backend/src/services"
	"github.com/username/taxmitra/backend/src/utils"
)

type PANHandler struct {
	verifier services.PANVerifier
}

func NewPANHandler(verifier services.PANVerifier) *PANHandler {
	return &PANHandler{verifier: verifier}
}

// HandleVerifyPAN checks a PAN against the external verification service.
// Persistent upstream failures come back as 502 so the frontend can offer a
// manual retry.
func (h *PANHandler) HandleVerifyPAN(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var body struct {
		PAN string `json:"pan"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PAN == "" {
		utils.SendJSONError(w, "pan is required", http.StatusBadRequest)
		return
	}

	result, err := h.verifier.VerifyPAN(r.Context(), body.PAN)
	if err != nil {
		if errors.Is(err, services.ErrInvalidPANFormat) {
			utils.SendJSONError(w, "PAN must match the format AAAAA9999A", http.StatusBadRequest)
			return
		}
		logger.L.Error("PAN verification unavailable", "userID", userID, "error", err)
		utils.SendJSONError(w, "PAN verification service unavailable, please try again", http.StatusBadGateway)
		return
	}
	utils.SendJSON(w, http.StatusOK, result)
}
