package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"prediction-ledger/internal/models"
	"prediction-ledger/internal/services"
)

// VaultHandler exposes read endpoints over the vault ledger
type VaultHandler struct {
	db     *gorm.DB
	vaults *services.VaultReconciler
	logger *zap.Logger
}

// NewVaultHandler creates a new vault handler
func NewVaultHandler(db *gorm.DB, vaults *services.VaultReconciler, logger *zap.Logger) *VaultHandler {
	return &VaultHandler{
		db:     db,
		vaults: vaults,
		logger: logger,
	}
}

// GetBalance returns the vault balances for a user address
// GET /api/vaults/:address/balance
func (h *VaultHandler) GetBalance(c *gin.Context) {
	address := c.Param("address")

	vault, err := h.vaults.GetBalance(c.Request.Context(), address)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"vault":   vault,
	})
}

// GetTransactions lists ledger transactions for a user address, newest first
// GET /api/vaults/:address/transactions
func (h *VaultHandler) GetTransactions(c *gin.Context) {
	address := c.Param("address")

	vault, err := h.vaults.GetBalance(c.Request.Context(), address)
	if err != nil {
		c.JSON(statusForError(err), gin.H{"error": err.Error()})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	var transactions []models.LedgerTransaction
	if err := h.db.Where("vault_id = ?", vault.ID).
		Order("created_at DESC").
		Limit(limit).
		Find(&transactions).Error; err != nil {
		h.logger.Error("failed to list ledger transactions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list transactions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"transactions": transactions,
	})
}
