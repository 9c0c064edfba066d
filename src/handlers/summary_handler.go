package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/username/taxmitra/backend/src/logger"
	"github.com/username/taxmitra/backend/src/services"
	"github.com/username/taxmitra/backend/src/summary"
	"github.com/username/taxmitra/backend/src/utils"
)

type SummaryHandler struct {
	filingService services.FilingService
}

func NewSummaryHandler(filingService services.FilingService) *SummaryHandler {
	return &SummaryHandler{filingService: filingService}
}

// HandleGetSummary serves the realtime summary panel payload. Responses carry
// an ETag so the polling frontend can skip unchanged bodies.
func (h *SummaryHandler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	data, err := h.filingService.Summary(r.PathValue("filingID"), userID)
	if err != nil {
		sendServiceError(w, err)
		return
	}

	currentETag, etagErr := utils.GenerateETag(data)
	if etagErr != nil {
		logger.L.Error("Failed to generate ETag for summary", "userID", userID, "error", etagErr)
	}

	w.Header().Set("Cache-Control", "no-cache, private")
	if etagErr == nil && currentETag != "" {
		quotedETag := fmt.Sprintf("%q", currentETag)
		w.Header().Set("ETag", quotedETag)
		for _, cETag := range strings.Split(r.Header.Get("If-None-Match"), ",") {
			if strings.TrimSpace(cETag) == quotedETag {
				w.WriteHeader(http.StatusNotModified)
				return
			}
		}
	}

	// Formatted figures ride along so every client renders the same Indian
	// digit grouping.
	utils.SendJSON(w, http.StatusOK, map[string]interface{}{
		"summary": data,
		"formatted": map[string]string{
			"grossIncome":     summary.FormatINR(data.GrossIncome),
			"totalDeductions": summary.FormatINR(data.TotalDeductions),
			"taxableIncome":   summary.FormatINR(data.TaxableIncome),
			"estimatedTax":    summary.FormatINR(data.EstimatedTax),
			"estimatedRefund": summary.FormatINR(data.EstimatedRefund),
		},
	})
}

func (h *SummaryHandler) HandleGetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	history, err := h.filingService.SummaryHistory(r.PathValue("filingID"), userID)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, map[string]interface{}{"history": history})
}

// HandleExplainTaxChange triggers the explanation flow when the latest tax
// movement is large enough to warrant one.
func (h *SummaryHandler) HandleExplainTaxChange(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	triggered, err := h.filingService.ExplainTaxChange(r.PathValue("filingID"), userID)
	if err != nil {
		sendServiceError(w, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, map[string]bool{"triggered": triggered})
}

func (h *SummaryHandler) HandleWhatIfSimulation(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	if err := h.filingService.WhatIfSimulation(r.PathValue("filingID"), userID); err != nil {
		sendServiceError(w, err)
		return
	}
	utils.SendJSON(w, http.StatusOK, map[string]string{"message": "What-if simulation started"})
}
