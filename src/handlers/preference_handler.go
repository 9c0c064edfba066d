package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/username/taxmitra/backend/src/logger"
	"github.com/username/taxmitra/backend/src/services"
	"github.com/username/taxmitra/backend/src/utils"
)

type PreferenceHandler struct {
	store services.PreferenceStore
}

func NewPreferenceHandler(store services.PreferenceStore) *PreferenceHandler {
	return &PreferenceHandler{store: store}
}

func (h *PreferenceHandler) HandleGetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	prefs, err := h.store.Load(userID)
	if err != nil {
		logger.L.Error("Failed to load preferences", "userID", userID, "error", err)
		utils.SendJSONError(w, "Failed to load preferences", http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, http.StatusOK, prefs)
}

func (h *PreferenceHandler) HandleSavePreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	var prefs services.Preferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		utils.SendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.store.Save(userID, prefs); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	utils.SendJSON(w, http.StatusOK, prefs)
}
