package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"prediction-ledger/internal/blockchain"
	"prediction-ledger/internal/services"
)

// SyncHandler exposes the reconciliation engine's invocation contract
type SyncHandler struct {
	syncService *services.SyncService
	logger      *zap.Logger
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(syncService *services.SyncService, logger *zap.Logger) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		logger:      logger,
	}
}

// Execute dispatches a single operation request
// POST /api/sync
func (h *SyncHandler) Execute(c *gin.Context) {
	var req services.OperationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	payload, err := h.syncService.Execute(c.Request.Context(), req)
	if err != nil {
		h.logger.Warn("operation failed",
			zap.String("operation", req.Operation),
			zap.Error(err))
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	response := gin.H{"success": true}
	for k, v := range payload {
		response[k] = v
	}
	c.JSON(http.StatusOK, response)
}

// SyncChain runs a batch scan over a block range. With no body (or no
// bounds) the scan advances the persistent cursor toward the chain head;
// an optional event name narrows a bounded scan to one event type.
// POST /api/sync/chain
func (h *SyncHandler) SyncChain(c *gin.Context) {
	var req struct {
		FromBlock *uint64 `json:"from_block"`
		ToBlock   *uint64 `json:"to_block"`
		Event     string  `json:"event"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var (
		result *services.SyncResult
		err    error
	)
	switch {
	case req.Event != "" && (req.FromBlock == nil || req.ToBlock == nil):
		c.JSON(http.StatusBadRequest, gin.H{"error": "event filter requires from_block and to_block"})
		return
	case req.Event != "":
		result, err = h.syncService.SyncEvents(c.Request.Context(), req.Event, *req.FromBlock, *req.ToBlock)
	case req.FromBlock != nil && req.ToBlock != nil:
		result, err = h.syncService.SyncRange(c.Request.Context(), *req.FromBlock, *req.ToBlock)
	default:
		result, err = h.syncService.SyncLatest(c.Request.Context())
	}
	if err != nil {
		h.logger.Error("chain sync failed", zap.Error(err))
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"result":  result,
	})
}

// statusForError maps engine errors onto HTTP statuses
func statusForError(err error) int {
	var (
		validation  *services.ValidationError
		conflict    *services.StateConflictError
		configErr   *services.ConfigurationError
		unavailable *blockchain.ChainUnavailableError
	)

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrInsufficientBalance):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrVaultNotFound),
		errors.Is(err, services.ErrPredictionNotFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &configErr):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}
