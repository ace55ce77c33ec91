package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/bimakw/position-indexer/internal/application/services"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// PositionHandler handles HTTP requests for position endpoints
type PositionHandler struct {
	service *services.PositionService
	logger  *zap.Logger
}

// NewPositionHandler creates a new position handler
func NewPositionHandler(service *services.PositionService, logger *zap.Logger) *PositionHandler {
	return &PositionHandler{
		service: service,
		logger:  logger,
	}
}

// RegisterRoutes registers the position routes on a chi router
func (h *PositionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/accounts/{address}", func(r chi.Router) {
		r.Get("/positions", h.GetPositions)
		r.Get("/positions/{tokenAddress}", h.GetPosition)
		r.Get("/locks/{tokenAddress}", h.GetLockedPositions)
	})
	r.Get("/indexer/checkpoints/{tokenType}", h.GetCheckpoint)
}

// GetPositions handles GET /api/v1/accounts/{address}/positions
func (h *PositionHandler) GetPositions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	address := chi.URLParam(r, "address")

	if !isValidAddress(address) {
		h.respondError(w, http.StatusBadRequest, "Invalid account address format")
		return
	}

	limit, offset, includeFormer := pageParams(r)
	query := services.PositionQuery{
		AccountAddress: address,
		IncludeFormer:  includeFormer,
		Limit:          limit,
		Offset:         offset,
	}

	response, err := h.service.GetPositions(ctx, query)
	if err != nil {
		h.logger.Error("Failed to get positions",
			zap.Error(err),
			zap.String("address", address),
		)
		h.respondError(w, http.StatusInternalServerError, "Failed to get positions")
		return
	}

	h.respondJSON(w, http.StatusOK, response)
}

// GetPosition handles GET /api/v1/accounts/{address}/positions/{tokenAddress}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountAddress := chi.URLParam(r, "address")
	tokenAddress := chi.URLParam(r, "tokenAddress")

	if !isValidAddress(accountAddress) {
		h.respondError(w, http.StatusBadRequest, "Invalid account address format")
		return
	}
	if !isValidAddress(tokenAddress) {
		h.respondError(w, http.StatusBadRequest, "Invalid token address format")
		return
	}

	response, err := h.service.GetPosition(ctx, accountAddress, tokenAddress)
	if err != nil {
		h.logger.Error("Failed to get position",
			zap.Error(err),
			zap.String("account", accountAddress),
			zap.String("token", tokenAddress),
		)
		h.respondError(w, http.StatusInternalServerError, "Failed to get position")
		return
	}

	if response == nil {
		h.respondError(w, http.StatusNotFound, "Position not found")
		return
	}

	h.respondJSON(w, http.StatusOK, response)
}

// GetLockedPositions handles GET /api/v1/accounts/{address}/locks/{tokenAddress}
func (h *PositionHandler) GetLockedPositions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	accountAddress := chi.URLParam(r, "address")
	tokenAddress := chi.URLParam(r, "tokenAddress")

	if !isValidAddress(accountAddress) {
		h.respondError(w, http.StatusBadRequest, "Invalid account address format")
		return
	}
	if !isValidAddress(tokenAddress) {
		h.respondError(w, http.StatusBadRequest, "Invalid token address format")
		return
	}

	response, err := h.service.GetLockedPositions(ctx, accountAddress, tokenAddress)
	if err != nil {
		h.logger.Error("Failed to get locked positions",
			zap.Error(err),
			zap.String("account", accountAddress),
			zap.String("token", tokenAddress),
		)
		h.respondError(w, http.StatusInternalServerError, "Failed to get locked positions")
		return
	}

	h.respondJSON(w, http.StatusOK, response)
}

// GetCheckpoint handles GET /api/v1/indexer/checkpoints/{tokenType}
func (h *PositionHandler) GetCheckpoint(w http.ResponseWriter, r *http.Request) {
	tokenType := chi.URLParam(r, "tokenType")

	response, err := h.service.GetCheckpoint(r.Context(), tokenType)
	if err != nil {
		h.logger.Error("Failed to get checkpoint",
			zap.Error(err),
			zap.String("token_type", tokenType),
		)
		h.respondError(w, http.StatusInternalServerError, "Failed to get checkpoint")
		return
	}

	h.respondJSON(w, http.StatusOK, response)
}

func (h *PositionHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *PositionHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// pageParams reads limit, offset and include_former. Invalid or out of range
// values keep their defaults.
func pageParams(r *http.Request) (limit, offset int, includeFormer bool) {
	limit = defaultLimit
	q := r.URL.Query()

	if v := q.Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 && l <= maxLimit {
			limit = l
		}
	}
	if v := q.Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil && o >= 0 {
			offset = o
		}
	}
	if v := q.Get("include_former"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			includeFormer = b
		}
	}
	return limit, offset, includeFormer
}

func isValidAddress(addr string) bool {
	return strings.HasPrefix(addr, "0x") && common.IsHexAddress(addr)
}
