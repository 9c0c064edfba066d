package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/username/taxmitra/backend/src/services"
	"github.com/username/taxmitra/backend/src/stepper"
	"github.com/username/taxmitra/backend/src/utils"
)

type WizardHandler struct {
	filingService services.FilingService
}

func NewWizardHandler(filingService services.FilingService) *WizardHandler {
	return &WizardHandler{filingService: filingService}
}

func (h *WizardHandler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	state, steps, err := h.filingService.WizardState(r.PathValue("filingID"), userID)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, map[string]interface{}{
		"state": state,
		"steps": steps,
	})
}

func (h *WizardHandler) HandleNavigate(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	var body struct {
		Step int `json:"step"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.SendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.filingService.Navigate(r.PathValue("filingID"), userID, body.Step); err != nil {
		if errors.Is(err, stepper.ErrStepOutOfRange) {
			utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		sendServiceError(w, err)
		return
	}
	state, steps, err := h.filingService.WizardState(r.PathValue("filingID"), userID)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, map[string]interface{}{
		"state": state,
		"steps": steps,
	})
}

func (h *WizardHandler) HandleCompleteStep(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	step, err := strconv.Atoi(r.PathValue("step"))
	if err != nil {
		utils.SendJSONError(w, "Invalid step index", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		utils.SendJSONError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if len(data) > 0 && !json.Valid(data) {
		utils.SendJSONError(w, "Step data must be valid JSON", http.StatusBadRequest)
		return
	}

	if err := h.filingService.CompleteStep(r.PathValue("filingID"), userID, step, data); err != nil {
		if errors.Is(err, stepper.ErrStepOutOfRange) {
			utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WizardHandler) HandleSetStepData(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	step, err := strconv.Atoi(r.PathValue("step"))
	if err != nil {
		utils.SendJSONError(w, "Invalid step index", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		utils.SendJSONError(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	if !json.Valid(data) {
		utils.SendJSONError(w, "Step data must be valid JSON", http.StatusBadRequest)
		return
	}

	if err := h.filingService.SetStepData(r.PathValue("filingID"), userID, step, data); err != nil {
		if errors.Is(err, stepper.ErrStepOutOfRange) {
			utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSaveNow is the manual "Save draft" button: it saves immediately and
// does not care whether an autosave is already in flight.
func (h *WizardHandler) HandleSaveNow(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if err := h.filingService.SaveNow(r.PathValue("filingID"), userID); err != nil {
		sendServiceError(w, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, map[string]string{"message": "Draft saved"})
}
