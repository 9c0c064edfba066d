package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/username/taxmitra/backend/src/config"
	"github.com/username/taxmitra/backend/src/logger"
	"github.com/username/taxmitra/backend/src/model"
	"github.com/username/taxmitra/backend/src/prefill"
	"github.com/username/taxmitra/backend/src/security/validation"
	"github.com/username/taxmitra/backend/src/services"
	"github.com/username/taxmitra/backend/src/utils"
)

type FilingHandler struct {
	filingService services.FilingService
	prefillParser prefill.Parser
}

func NewFilingHandler(filingService services.FilingService, prefillParser prefill.Parser) *FilingHandler {
	return &FilingHandler{
		filingService: filingService,
		prefillParser: prefillParser,
	}
}

// sendServiceError maps the filing service's sentinel errors onto HTTP
// status codes.
func sendServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrFilingNotFound):
		utils.SendJSONError(w, "Filing not found", http.StatusNotFound)
	case errors.Is(err, services.ErrNotOwner):
		utils.SendJSONError(w, "Filing does not belong to you", http.StatusForbidden)
	case errors.Is(err, services.ErrUnknownCategory):
		utils.SendJSONError(w, "Unknown category", http.StatusBadRequest)
	case errors.Is(err, services.ErrItemLimit):
		utils.SendJSONError(w, "Line item limit reached for this category", http.StatusConflict)
	case errors.Is(err, services.ErrItemNotFound):
		utils.SendJSONError(w, "Line item not found", http.StatusNotFound)
	case errors.Is(err, model.ErrFilingExists):
		utils.SendJSONError(w, "A filing for this assessment year already exists", http.StatusConflict)
	default:
		logger.L.Error("Filing operation failed", "error", err)
		utils.SendJSONError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (h *FilingHandler) HandleCreateFiling(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var body struct {
		AssessmentYear string `json:"assessmentYear"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.AssessmentYear == "" {
		utils.SendJSONError(w, "assessmentYear is required", http.StatusBadRequest)
		return
	}

	filing, err := h.filingService.CreateFiling(userID, body.AssessmentYear)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	utils.SendJSON(w, http.StatusCreated, filing)
}

func (h *FilingHandler) HandleListFilings(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	filings, err := h.filingService.ListFilingsByUser(userID)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, map[string]interface{}{"filings": filings})
}

// HandleListAllFilings is the CA and firm admin view across all clients.
func (h *FilingHandler) HandleListAllFilings(w http.ResponseWriter, r *http.Request) {
	filings, err := h.filingService.ListAllFilings()
	if err != nil {
		sendServiceError(w, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, map[string]interface{}{"filings": filings})
}

func (h *FilingHandler) HandleGetFiling(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	filing, err := h.filingService.GetFiling(r.PathValue("filingID"), userID)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, filing)
}

func (h *FilingHandler) HandleListItems(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	filingID := r.PathValue("filingID")
	category := r.PathValue("category")

	items, err := h.filingService.Items(filingID, userID, category)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	totals, err := h.filingService.CategoryTotals(filingID, userID, category)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, map[string]interface{}{
		"items":  items,
		"totals": totals,
	})
}

func (h *FilingHandler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	item, err := h.filingService.AddItem(r.PathValue("filingID"), userID, r.PathValue("category"))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	utils.SendJSON(w, http.StatusCreated, item)
}

func (h *FilingHandler) HandleUpdateItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	var body struct {
		Field string `json:"field"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Field == "" {
		utils.SendJSONError(w, "field is required", http.StatusBadRequest)
		return
	}

	err := h.filingService.UpdateItem(r.PathValue("filingID"), userID,
		r.PathValue("category"), r.PathValue("itemID"),
		body.Field, validation.StripUnprintable(body.Value))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FilingHandler) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	err := h.filingService.RemoveItem(r.PathValue("filingID"), userID,
		r.PathValue("category"), r.PathValue("itemID"))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FilingHandler) HandleAttachProof(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	ref, err := h.filingService.AttachProof(r.PathValue("filingID"), userID,
		r.PathValue("category"), r.PathValue("itemID"))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, map[string]string{"proofRef": ref})
}

func (h *FilingHandler) HandleGetCategoryTotals(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	totals, err := h.filingService.CategoryTotals(r.PathValue("filingID"), userID, r.PathValue("category"))
	if err != nil {
		sendServiceError(w, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, totals)
}

// HandlePrefillUpload ingests an AIS/26AS CSV export and applies the
// extracted records as suggested line items.
func (h *FilingHandler) HandlePrefillUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.Cfg.MaxUploadSizeBytes)
	if err := r.ParseMultipartForm(config.Cfg.MaxUploadSizeBytes); err != nil {
		utils.SendJSONError(w, fmt.Sprintf("Failed to parse form or request too large (max %d MB)",
			config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.SendJSONError(w, "Failed to retrieve file from request. Ensure 'file' field is used.", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if err := validation.ValidateClientContentType(header.Header.Get("Content-Type")); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}
	if _, err := validation.ValidateFileContentByMagicBytes(file); err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}
	if _, err := file.Seek(0, 0); err != nil {
		utils.SendJSONError(w, "Failed to rewind uploaded file", http.StatusInternalServerError)
		return
	}

	records, err := h.prefillParser.Parse(file)
	if err != nil {
		logger.L.Warn("Prefill parse failed", "filename", header.Filename, "error", err)
		utils.SendJSONError(w, "Could not extract any records from the uploaded statement", http.StatusUnprocessableEntity)
		return
	}

	applied, err := h.filingService.ApplyPrefill(r.PathValue("filingID"), userID, records)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, map[string]interface{}{
		"parsed":  len(records),
		"applied": applied,
	})
}

func (h *FilingHandler) HandleSetTaxesPaid(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	var body struct {
		Amount float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		utils.SendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.filingService.SetTaxesPaid(r.PathValue("filingID"), userID, body.Amount); err != nil {
		if errors.Is(err, services.ErrNotOwner) || errors.Is(err, model.ErrFilingNotFound) {
			sendServiceError(w, err)
			return
		}
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
