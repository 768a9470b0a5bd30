package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dextrack/chainsight/internal/engine"
	"github.com/dextrack/chainsight/internal/logger"
	"github.com/dextrack/chainsight/internal/query"
	"github.com/ethereum/go-ethereum/common"
)

const maxBatchSubjects = 100

// QueryService answers point-in-time index lookups.
type QueryService interface {
	Query(ctx context.Context, subject common.Address, atHeight uint64) (*query.Result, error)
	QueryBatch(ctx context.Context, subjects []common.Address, atHeight uint64) ([]*query.Result, error)
}

// StatusProvider exposes the indexing engine's current state.
type StatusProvider interface {
	Status() engine.Status
}

// SubjectCounter reports how many subjects the index currently holds.
type SubjectCounter interface {
	SubjectCount(ctx context.Context) (int64, error)
}

// Handler handles HTTP requests for the API.
type Handler struct {
	query  QueryService
	engine StatusProvider
	store  SubjectCounter
	log    *logger.Logger
}

// NewHandler creates a new API handler.
func NewHandler(qs QueryService, status StatusProvider, store SubjectCounter, log *logger.Logger) *Handler {
	return &Handler{
		query:  qs,
		engine: status,
		store:  store,
		log:    log,
	}
}

// GetIndex returns one subject's aggregated value at a height.
// @Summary Query a subject's indexed value
// @Description Returns the subject's aggregated state as of the given height, or as of the cursor when no height is given
// @Tags Index
// @Produce json
// @Param subject path string true "Subject address (hex)"
// @Param at query integer false "Height to resolve at (defaults to the committed cursor)"
// @Success 200 {object} ValueResponse "Aggregated value"
// @Failure 400 {object} ErrorResponse "Invalid subject or height above the cursor"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /index/{subject} [get]
func (h *Handler) GetIndex(w http.ResponseWriter, r *http.Request) {
	subject, ok := parseSubject(w, r.PathValue("subject"))
	if !ok {
		return
	}

	atHeight, err := parseAtHeight(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.query.Query(r.Context(), subject, atHeight)
	if err != nil {
		h.respondQueryError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toValueResponse(result))
}

// GetIndexBatch returns several subjects' values resolved at one height.
// @Summary Query multiple subjects at one height
// @Description Resolves all given subjects against a single consistent snapshot
// @Tags Index
// @Produce json
// @Param subjects query string true "Comma-separated subject addresses (hex)"
// @Param at query integer false "Height to resolve at (defaults to the committed cursor)"
// @Success 200 {object} BatchResponse "Aggregated values"
// @Failure 400 {object} ErrorResponse "Invalid subjects or height above the cursor"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /index [get]
func (h *Handler) GetIndexBatch(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("subjects")
	if raw == "" {
		respondError(w, http.StatusBadRequest, "subjects parameter is required")
		return
	}

	parts := strings.Split(raw, ",")
	if len(parts) > maxBatchSubjects {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("too many subjects: %d (max %d)", len(parts), maxBatchSubjects))
		return
	}

	subjects := make([]common.Address, 0, len(parts))
	for _, part := range parts {
		subject, ok := parseSubject(w, strings.TrimSpace(part))
		if !ok {
			return
		}
		subjects = append(subjects, subject)
	}

	atHeight, err := parseAtHeight(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	results, err := h.query.QueryBatch(r.Context(), subjects, atHeight)
	if err != nil {
		h.respondQueryError(w, err)
		return
	}

	response := BatchResponse{Results: make([]ValueResponse, len(results))}
	for i, result := range results {
		response.AsOf = result.AsOf
		response.Results[i] = toValueResponse(result)
	}

	respondJSON(w, http.StatusOK, response)
}

// GetStatus returns the indexer's cursor position and engine state.
// @Summary Indexer status
// @Description Returns the committed cursor, the engine state and the number of indexed subjects
// @Tags Status
// @Produce json
// @Success 200 {object} StatusResponse "Indexer status"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /status [get]
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := h.engine.Status()

	subjects, err := h.store.SubjectCount(r.Context())
	if err != nil {
		h.log.Errorf("failed to count subjects: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to read index status")
		return
	}

	respondJSON(w, http.StatusOK, StatusResponse{
		State:        string(status.State),
		CursorHeight: status.CursorHeight,
		CursorHash:   status.CursorHash,
		Subjects:     subjects,
		LastError:    status.LastError,
	})
}

// Health returns the health status of the service.
// @Summary Health check
// @Description Check the health of the API and the indexing engine
// @Tags Health
// @Produce json
// @Success 200 {object} HealthResponse "Service health"
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.engine.Status()

	state := "ok"
	if status.State == engine.StateHalted {
		state = "degraded"
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:       state,
		Timestamp:    time.Now(),
		EngineState:  string(status.State),
		CursorHeight: status.CursorHeight,
	})
}

func (h *Handler) respondQueryError(w http.ResponseWriter, err error) {
	var rangeErr *query.OutOfRangeError
	if errors.As(err, &rangeErr) {
		respondError(w, http.StatusBadRequest, rangeErr.Error())
		return
	}

	h.log.Errorf("query failed: %v", err)
	respondError(w, http.StatusInternalServerError, "query failed")
}

func parseSubject(w http.ResponseWriter, raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid subject address: %q", raw))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func parseAtHeight(r *http.Request) (uint64, error) {
	raw := r.URL.Query().Get("at")
	if raw == "" {
		return 0, nil
	}

	height, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid at parameter: %q", raw)
	}

	return height, nil
}

func toValueResponse(result *query.Result) ValueResponse {
	response := ValueResponse{
		Subject: strings.ToLower(result.Subject.Hex()),
		AsOf:    result.AsOf,
		Found:   result.Found,
	}
	if result.Found {
		response.Balance = result.Value.Balance.String()
		response.EventCount = result.Value.EventCount
	}

	return response
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")

	// Encode JSON first to catch any errors before writing status
	encoded, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)

	if _, err := w.Write(encoded); err != nil {
		// Headers already sent, nothing useful left to do
		return
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	response := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	}
	respondJSON(w, status, response)
}
