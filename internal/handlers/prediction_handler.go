package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"prediction-ledger/internal/models"
	"prediction-ledger/internal/services"
)

// PredictionHandler exposes read endpoints over reconciled predictions
type PredictionHandler struct {
	db          *gorm.DB
	predictions *services.PredictionReconciler
	logger      *zap.Logger
}

// NewPredictionHandler creates a new prediction handler
func NewPredictionHandler(db *gorm.DB, predictions *services.PredictionReconciler, logger *zap.Logger) *PredictionHandler {
	return &PredictionHandler{
		db:          db,
		predictions: predictions,
		logger:      logger,
	}
}

// GetPrediction returns a prediction by its on-chain id
// GET /api/predictions/:id
func (h *PredictionHandler) GetPrediction(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid prediction id"})
		return
	}

	prediction, err := h.predictions.GetPrediction(c.Request.Context(), id)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"prediction": prediction,
	})
}

// GetPredictionBets lists the bets of a prediction, oldest first
// GET /api/predictions/:id/bets
func (h *PredictionHandler) GetPredictionBets(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid prediction id"})
		return
	}

	var bets []models.Bet
	if err := h.db.Where("prediction_id = ?", id).
		Order("block_number ASC, log_index ASC").
		Find(&bets).Error; err != nil {
		h.logger.Error("failed to list bets", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list bets"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"bets":    bets,
	})
}

// GetBettorStats returns aggregate statistics for a bettor address
// GET /api/bettors/:address/stats
func (h *PredictionHandler) GetBettorStats(c *gin.Context) {
	address := c.Param("address")

	var stats models.BettorStats
	if err := h.db.Where("bettor = ?", address).First(&stats).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no stats for bettor"})
			return
		}
		h.logger.Error("failed to load bettor stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   stats,
	})
}
