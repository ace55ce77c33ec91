package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bimakw/position-indexer/internal/application/services"
)

// HoldersHandler handles HTTP requests for token holders
type HoldersHandler struct {
	service *services.HoldersService
	logger  *zap.Logger
}

// NewHoldersHandler creates a new holders handler
func NewHoldersHandler(service *services.HoldersService, logger *zap.Logger) *HoldersHandler {
	return &HoldersHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers the holders routes on a chi router
func (h *HoldersHandler) RegisterRoutes(r chi.Router) {
	r.Get("/tokens/{address}/holders", h.GetHolders)
}

// GetHolders handles GET /api/v1/tokens/{address}/holders
func (h *HoldersHandler) GetHolders(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	if !isValidAddress(address) {
		h.respondError(w, http.StatusBadRequest, "Invalid token address format")
		return
	}

	limit, offset, includeFormer := pageParams(r)

	response, err := h.service.GetHolders(r.Context(), services.HoldersQuery{
		TokenAddress:  address,
		IncludeFormer: includeFormer,
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		h.logger.Error("Failed to get holders", zap.Error(err), zap.String("address", address))
		h.respondError(w, http.StatusInternalServerError, "Failed to get holders")
		return
	}

	h.respondJSON(w, http.StatusOK, response)
}

func (h *HoldersHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *HoldersHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
