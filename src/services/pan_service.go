package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/taxmitra/backend/src/logger"
	"github.com/username/taxmitra/backend/src/security/validation"
	"golang.org/x/net/publicsuffix"
)

// ErrInvalidPANFormat rejects inputs before any network call is made.
var ErrInvalidPANFormat = errors.New("invalid PAN format")

// panVerifierImpl is the thin client for the SurePass-style PAN verification
// API. Retries are a fixed small count with no backoff; persistent failures
// surface to the caller, who offers a manual "try again".
type panVerifierImpl struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	maxAttempts int
	resultCache *cache.Cache
}

// NewPANVerifier creates the verification client. Results are cached so the
// same PAN is not re-verified within a session window.
func NewPANVerifier(baseURL, apiKey string, maxAttempts int) PANVerifier {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		logger.L.Error("Failed to create cookie jar for PAN verifier", "error", err)
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &panVerifierImpl{
		httpClient: &http.Client{
			Jar:     jar,
			Timeout: 20 * time.Second,
		},
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		maxAttempts: maxAttempts,
		resultCache: cache.New(30*time.Minute, time.Hour),
	}
}

type panAPIResponse struct {
	Data struct {
		PANNumber     string `json:"pan_number"`
		FullName      string `json:"full_name"`
		Category      string `json:"category"`
		AadhaarSeeded bool   `json:"aadhaar_seeding_status"`
	} `json:"data"`
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func (p *panVerifierImpl) VerifyPAN(ctx context.Context, pan string) (*PANResult, error) {
	pan = strings.ToUpper(strings.TrimSpace(pan))
	if !validation.ValidPANFormat(pan) {
		return nil, ErrInvalidPANFormat
	}

	if cached, found := p.resultCache.Get(pan); found {
		result := cached.(PANResult)
		logger.L.Debug("PAN verification cache hit", "pan", maskPAN(pan))
		return &result, nil
	}

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		result, err := p.verifyOnce(ctx, pan)
		if err == nil {
			p.resultCache.SetDefault(pan, *result)
			return result, nil
		}
		lastErr = err
		logger.L.Warn("PAN verification attempt failed",
			"pan", maskPAN(pan), "attempt", attempt, "maxAttempts", p.maxAttempts, "error", err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("PAN verification failed after %d attempts: %w", p.maxAttempts, lastErr)
}

func (p *panVerifierImpl) verifyOnce(ctx context.Context, pan string) (*PANResult, error) {
	payload, err := json.Marshal(map[string]string{"id_number": pan})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verification request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read verification response: %w", err)
	}

	if resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusNotFound {
		// The API knows the PAN is wrong; no point retrying.
		return &PANResult{PAN: pan, Valid: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verification service returned status %d", resp.StatusCode)
	}

	var apiResp panAPIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode verification response: %w", err)
	}
	if !apiResp.Success {
		return &PANResult{PAN: pan, Valid: false}, nil
	}

	return &PANResult{
		PAN:           pan,
		Valid:         true,
		FullName:      apiResp.Data.FullName,
		Category:      apiResp.Data.Category,
		AadhaarSeeded: apiResp.Data.AadhaarSeeded,
	}, nil
}

// maskPAN keeps only the leading and trailing character for log lines.
func maskPAN(pan string) string {
	if len(pan) < 4 {
		return "****"
	}
	return pan[:1] + "********" + pan[len(pan)-1:]
}
