package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/wonny/metricengine/internal/batch"
	"github.com/wonny/metricengine/internal/contracts"
	"github.com/wonny/metricengine/internal/definition"
	"github.com/wonny/metricengine/internal/engine"
	"github.com/wonny/metricengine/pkg/logger"
)

// Runner runs one batch request end to end
type Runner interface {
	Run(ctx context.Context, req batch.Request) (*contracts.BatchResult, error)
}

// ComputeHandler handles metric computation endpoints
// ⭐ SSOT: compute API 핸들러는 이 구조체에서만
type ComputeHandler struct {
	runner      Runner
	definitions definition.Store
	registry    *engine.Registry
	logger      *logger.Logger
}

// NewComputeHandler creates a new compute handler
func NewComputeHandler(runner Runner, defs definition.Store, registry *engine.Registry, log *logger.Logger) *ComputeHandler {
	return &ComputeHandler{
		runner:      runner,
		definitions: defs,
		registry:    registry,
		logger:      log,
	}
}

// OverwriteRequest selects the persistence policy
type OverwriteRequest struct {
	Mode  string   `json:"mode"` // "fill_nulls_only" (default), "force"
	Scope []string `json:"scope"`
}

// ComputeRequest represents a batch computation request
type ComputeRequest struct {
	From      string           `json:"from"` // Optional: YYYY-MM-DD
	To        string           `json:"to"`   // Optional: YYYY-MM-DD
	Tickers   []string         `json:"tickers"`
	Metrics   []string         `json:"metrics"`
	Overwrite OverwriteRequest `json:"overwrite"`
	DryRun    bool             `json:"dry_run"`
}

// toBatch validates the request and converts it into a batch.Request
func (req ComputeRequest) toBatch() (batch.Request, error) {
	out := batch.Request{
		Metrics: req.Metrics,
		DryRun:  req.DryRun,
	}

	if req.From != "" {
		from, err := time.Parse(contracts.DateLayout, req.From)
		if err != nil {
			return out, errors.New("invalid 'from' date format (expected YYYY-MM-DD)")
		}
		out.Filter.From = &from
	}
	if req.To != "" {
		to, err := time.Parse(contracts.DateLayout, req.To)
		if err != nil {
			return out, errors.New("invalid 'to' date format (expected YYYY-MM-DD)")
		}
		out.Filter.To = &to
	}
	if out.Filter.From != nil && out.Filter.To != nil && out.Filter.To.Before(*out.Filter.From) {
		return out, errors.New("'to' must not be before 'from'")
	}

	for _, t := range req.Tickers {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			out.Filter.Tickers = append(out.Filter.Tickers, t)
		}
	}

	switch contracts.OverwriteMode(req.Overwrite.Mode) {
	case "", contracts.FillNullsOnly:
		out.Policy.Mode = contracts.FillNullsOnly
	case contracts.ForceOverwrite:
		out.Policy.Mode = contracts.ForceOverwrite
	default:
		return out, errors.New("invalid overwrite mode (expected fill_nulls_only or force)")
	}
	out.Policy.Scope = req.Overwrite.Scope

	return out, nil
}

// Compute runs a batch over the stored events
// POST /api/v1/compute
func (h *ComputeHandler) Compute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	breq, err := req.toBatch()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"tickers": len(breq.Filter.Tickers),
		"metrics": breq.Metrics,
		"mode":    breq.Policy.Mode,
		"dry_run": breq.DryRun,
	}).Info("Computation triggered")

	result, err := h.runner.Run(ctx, breq)
	if err != nil {
		if errors.Is(err, contracts.ErrUnknownMetric) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.WithError(err).Error("Failed to compute batch")
		respondError(w, http.StatusInternalServerError, "Failed to compute batch")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// ValidateResponse reports catalog diagnostics
type ValidateResponse struct {
	OK          bool                `json:"ok"`
	Path        string              `json:"path,omitempty"`
	Error       string              `json:"error,omitempty"`
	Diagnostics *engine.Diagnostics `json:"diagnostics,omitempty"`
}

// ValidateDefinitions loads the catalog and reports what a run would schedule
// GET /api/v1/definitions/validate
func (h *ComputeHandler) ValidateDefinitions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var resp ValidateResponse
	if fs, ok := h.definitions.(*definition.FileStore); ok {
		resp.Path = fs.Path()
	}

	cat, err := h.definitions.LoadCatalog(ctx)
	if err != nil {
		resp.Error = err.Error()
		respondJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	diag, err := engine.Diagnose(cat, h.registry)
	if err != nil {
		h.logger.WithError(err).Error("Failed to diagnose definitions")
		respondError(w, http.StatusInternalServerError, "Failed to diagnose definitions")
		return
	}

	resp.OK = diag.OK()
	resp.Diagnostics = diag
	respondJSON(w, http.StatusOK, resp)
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
