package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mohamedkhairy/indicator-engine/internal/indicator"
	"github.com/mohamedkhairy/indicator-engine/internal/models"
	"github.com/mohamedkhairy/indicator-engine/pkg/logger"
)

// maxComputeCandles bounds the stateless compute endpoint
const maxComputeCandles = 50000

// IndicatorHandler handles indicator management endpoints
type IndicatorHandler struct {
	pipeline *indicator.Pipeline
}

// NewIndicatorHandler creates a new indicator handler
func NewIndicatorHandler(pipeline *indicator.Pipeline) *IndicatorHandler {
	return &IndicatorHandler{pipeline: pipeline}
}

// RegisterRoutes mounts the handler on router
func (h *IndicatorHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/indicators", h.ListIndicators).Methods("GET")
	router.HandleFunc("/indicators/available", h.ListAvailable).Methods("GET")
	router.HandleFunc("/indicators/{id}", h.GetIndicator).Methods("GET")
	router.HandleFunc("/indicators", h.AddIndicator).Methods("POST")
	router.HandleFunc("/indicators/{id}", h.RemoveIndicator).Methods("DELETE")
	router.HandleFunc("/snapshot", h.GetSnapshot).Methods("GET")
	router.HandleFunc("/compute", h.Compute).Methods("POST")
}

// ListIndicators handles GET /api/v1/indicators
func (h *IndicatorHandler) ListIndicators(w http.ResponseWriter, r *http.Request) {
	specs := h.pipeline.Engine().Specs()
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"indicators": specs,
		"count":      len(specs),
	})
}

// ListAvailable handles GET /api/v1/indicators/available
func (h *IndicatorHandler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	registry := h.pipeline.Engine().Registry()
	names := registry.ListAvailable()

	available := make([]indicator.IndicatorMetadata, 0, len(names))
	for _, name := range names {
		if meta, ok := registry.GetMetadata(name); ok {
			available = append(available, meta)
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"indicators": available,
		"count":      len(available),
	})
}

// GetIndicator handles GET /api/v1/indicators/{id}
func (h *IndicatorHandler) GetIndicator(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	engine := h.pipeline.Engine()

	state, ok := engine.State(id)
	if !ok {
		respondWithError(w, http.StatusNotFound, "Indicator not found")
		return
	}
	series, _ := engine.Series(id)

	var spec models.IndicatorSpec
	for _, s := range engine.Specs() {
		if s.ID == id {
			spec = s
			break
		}
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"spec":   spec,
		"state":  state,
		"points": series,
	})
}

// AddIndicator handles POST /api/v1/indicators
func (h *IndicatorHandler) AddIndicator(w http.ResponseWriter, r *http.Request) {
	var spec models.IndicatorSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if spec.ID == "" && spec.Name != "" {
		spec.ID = spec.Name + "-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	}

	if err := h.pipeline.AddIndicator(spec); err != nil {
		respondWithError(w, statusFor(err), err.Error())
		return
	}

	series, _ := h.pipeline.Engine().Series(spec.ID)
	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"spec":            spec,
		"backfill_points": len(series),
	})
}

// RemoveIndicator handles DELETE /api/v1/indicators/{id}
func (h *IndicatorHandler) RemoveIndicator(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.pipeline.RemoveIndicator(id); err != nil {
		respondWithError(w, statusFor(err), err.Error())
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"message": "Indicator removed"})
}

// GetSnapshot handles GET /api/v1/snapshot
func (h *IndicatorHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.pipeline.Engine().Snapshot())
}

// ComputeRequest is the body of POST /api/v1/compute
type ComputeRequest struct {
	Candles []models.Candle        `json:"candles"`
	Specs   []models.IndicatorSpec `json:"specs"`
}

// Compute handles POST /api/v1/compute. It runs a one-shot batch on a
// throwaway engine; the live engine is not touched.
func (h *IndicatorHandler) Compute(w http.ResponseWriter, r *http.Request) {
	var req ComputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Specs) == 0 {
		respondWithError(w, http.StatusBadRequest, "At least one spec is required")
		return
	}
	if len(req.Candles) > maxComputeCandles {
		respondWithError(w, http.StatusBadRequest, "Too many candles")
		return
	}

	engine := h.pipeline.Engine()
	config := engine.Config()
	if config.MaxBars < len(req.Candles) {
		config.MaxBars = len(req.Candles)
	}

	results, err := indicator.BatchCompute(engine.Registry(), config, req.Specs, req.Candles)
	failures := map[string]string{}
	if err != nil {
		var computeErrs []*models.ComputeError
		for _, e := range flatten(err) {
			var ce *models.ComputeError
			if !errors.As(e, &ce) {
				respondWithError(w, statusFor(err), err.Error())
				return
			}
			computeErrs = append(computeErrs, ce)
		}
		for _, ce := range computeErrs {
			failures[ce.SpecID] = ce.Err.Error()
		}
		logger.Warn("Compute request completed with errors",
			logger.Int("failed_specs", len(failures)),
		)
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"errors":  failures,
	})
}

// flatten unpacks an errors.Join tree one level deep
func flatten(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

// statusFor maps engine errors to HTTP status codes
func statusFor(err error) int {
	var unknownName *models.UnknownIndicatorError
	switch {
	case errors.As(err, &unknownName):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrUnknownIndicator):
		return http.StatusNotFound
	case errors.Is(err, models.ErrHasDependents):
		return http.StatusConflict
	case errors.Is(err, models.ErrValidation),
		errors.Is(err, models.ErrUnknownDependency),
		errors.Is(err, models.ErrDependencyCycle),
		errors.Is(err, models.ErrDuplicateIndicator):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
