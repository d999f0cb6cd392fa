package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"prediction-ledger/internal/blockchain"
	"prediction-ledger/internal/models"
)

// VaultChain is the slice of the chain client the vault reconciler needs
type VaultChain interface {
	GetUserVault(ctx context.Context, address string) (*blockchain.VaultState, error)
}

// VaultReconciler applies deposit/withdrawal events and full on-chain
// balance pulls to the per-user vault ledger. The (tx_hash, asset) unique
// constraint on ledger_transactions is the idempotency boundary: the
// conditional insert and the balance mutation share one store transaction.
type VaultReconciler struct {
	db          *gorm.DB
	chain       VaultChain
	units       *blockchain.UnitConverter
	fees        *FeeService
	tokenAssets map[string]string
	nativeAsset string
	logger      *zap.Logger
}

// NewVaultReconciler creates a vault balance reconciler
func NewVaultReconciler(db *gorm.DB, chain VaultChain, units *blockchain.UnitConverter, fees *FeeService, tokenAssets map[string]string, nativeAsset string, logger *zap.Logger) *VaultReconciler {
	return &VaultReconciler{
		db:          db,
		chain:       chain,
		units:       units,
		fees:        fees,
		tokenAssets: tokenAssets,
		nativeAsset: nativeAsset,
		logger:      logger,
	}
}

// ledgerMetadata is serialized into LedgerTransaction.Metadata for audit
type ledgerMetadata struct {
	RequestID         string `json:"request_id"`
	DefaultFeeApplied bool   `json:"default_fee_applied,omitempty"`
	BlockNumber       uint64 `json:"block_number,omitempty"`
	Snapshot          string `json:"snapshot,omitempty"`
}

func (m ledgerMetadata) encode() string {
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ProcessDeposit applies a single deposit: idempotency-checks the tx hash,
// computes fee/net, appends a ledger transaction and adjusts the vault
// balance and running total in one atomic store transaction.
// Returns (ledger row, applied); applied is false on replay.
func (r *VaultReconciler) ProcessDeposit(ctx context.Context, userID uint, asset string, gross decimal.Decimal, txHash, fromAddress string, blockNumber uint64) (*models.LedgerTransaction, bool, error) {
	return r.processMovement(ctx, models.LedgerTxTypeDeposit, userID, asset, gross, txHash, fromAddress, blockNumber)
}

// ProcessWithdrawal applies a single withdrawal. The balance decrement is
// a conditional update guarded by sufficiency, so two concurrent
// withdrawals can never produce a lost update or a negative balance.
func (r *VaultReconciler) ProcessWithdrawal(ctx context.Context, userID uint, asset string, gross decimal.Decimal, txHash, toAddress string, blockNumber uint64) (*models.LedgerTransaction, bool, error) {
	return r.processMovement(ctx, models.LedgerTxTypeWithdrawal, userID, asset, gross, txHash, toAddress, blockNumber)
}

func (r *VaultReconciler) processMovement(ctx context.Context, txType string, userID uint, asset string, gross decimal.Decimal, txHash, counterparty string, blockNumber uint64) (*models.LedgerTransaction, bool, error) {
	if txHash == "" {
		return nil, false, validationErrorf("tx_hash is required")
	}
	if !gross.IsPositive() {
		return nil, false, validationErrorf("amount must be positive, got %s", gross)
	}
	column, ok := models.BalanceColumn(asset)
	if !ok {
		return nil, false, validationErrorf("unknown asset %q", asset)
	}

	quote, err := r.fees.ComputeFee(txType, gross)
	if err != nil {
		return nil, false, err
	}

	metadata := ledgerMetadata{
		RequestID:         uuid.New().String(),
		DefaultFeeApplied: quote.DefaultApplied,
		BlockNumber:       blockNumber,
	}

	var ledgerTx models.LedgerTransaction
	applied := false
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var vault models.Vault
		if err := tx.Where("user_id = ?", userID).First(&vault).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrVaultNotFound
			}
			return fmt.Errorf("failed to load vault for user %d: %w", userID, err)
		}

		// Reject an obviously insufficient withdrawal before writing the
		// ledger row. The conditional debit below remains the authoritative
		// guard under concurrent movements.
		if txType == models.LedgerTxTypeWithdrawal {
			if balance, ok := vault.Balance(asset); ok && balance.LessThan(quote.Net) {
				return ErrInsufficientBalance
			}
		}

		ledgerTx = models.LedgerTransaction{
			VaultID:     vault.ID,
			TxHash:      txHash,
			Asset:       asset,
			Type:        txType,
			GrossAmount: gross,
			FeeAmount:   quote.Fee,
			NetAmount:   quote.Net,
			Status:      models.LedgerTxStatusCompleted,
			OnChain:     true,
			BlockNumber: blockNumber,
			Metadata:    metadata.encode(),
		}
		if txType == models.LedgerTxTypeDeposit {
			ledgerTx.FromAddress = counterparty
			ledgerTx.ToAddress = vault.Address
		} else {
			ledgerTx.FromAddress = vault.Address
			ledgerTx.ToAddress = counterparty
		}

		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_hash"}, {Name: "asset"}},
			DoNothing: true,
		}).Create(&ledgerTx)
		if result.Error != nil {
			return fmt.Errorf("failed to insert ledger transaction %s: %w", txHash, result.Error)
		}
		if result.RowsAffected == 0 {
			// Replay: return the previously recorded row untouched
			if err := tx.Where("tx_hash = ? AND asset = ?", txHash, asset).First(&ledgerTx).Error; err != nil {
				return fmt.Errorf("failed to reload ledger transaction %s: %w", txHash, err)
			}
			return nil
		}
		applied = true

		if txType == models.LedgerTxTypeDeposit {
			if err := tx.Model(&models.Vault{}).
				Where("id = ?", vault.ID).
				Updates(map[string]interface{}{
					column:            gorm.Expr(column+" + ?", quote.Net),
					"total_deposited": gorm.Expr("total_deposited + ?", quote.Net),
				}).Error; err != nil {
				return fmt.Errorf("failed to credit vault %d: %w", vault.ID, err)
			}
			return nil
		}

		debit := tx.Model(&models.Vault{}).
			Where("id = ? AND "+column+" >= ?", vault.ID, quote.Net).
			Updates(map[string]interface{}{
				column:            gorm.Expr(column+" - ?", quote.Net),
				"total_withdrawn": gorm.Expr("total_withdrawn + ?", quote.Net),
			})
		if debit.Error != nil {
			return fmt.Errorf("failed to debit vault %d: %w", vault.ID, debit.Error)
		}
		if debit.RowsAffected == 0 {
			return ErrInsufficientBalance
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if applied {
		r.logger.Info("vault movement applied",
			zap.String("type", txType),
			zap.Uint("user_id", userID),
			zap.String("asset", asset),
			zap.String("gross", gross.String()),
			zap.String("fee", quote.Fee.String()),
			zap.String("net", quote.Net.String()),
			zap.String("tx_hash", txHash))
	} else {
		r.logger.Info("vault movement replayed, no-op",
			zap.String("type", txType),
			zap.String("tx_hash", txHash))
	}
	return &ledgerTx, applied, nil
}

// SyncVault pulls the authoritative on-chain vault state and overwrites
// the stored balance snapshot. The chain read completes before the store
// transaction begins; the local ledger stays the source of truth for
// history while the chain is the source of truth for the snapshot.
func (r *VaultReconciler) SyncVault(ctx context.Context, userID uint, txHash string) (*models.Vault, error) {
	var vault models.Vault
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&vault).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVaultNotFound
		}
		return nil, fmt.Errorf("failed to load vault for user %d: %w", userID, err)
	}

	state, err := r.chain.GetUserVault(ctx, vault.Address)
	if err != nil {
		return nil, err
	}
	if !state.Exists {
		return nil, ErrVaultNotFound
	}

	bnbBalance, err := r.units.ToDecimal(state.BNBBalance, "BNB")
	if err != nil {
		return nil, &ConfigurationError{Msg: "cannot convert BNB balance", Err: err}
	}
	usdtBalance, err := r.units.ToDecimal(state.USDTBalance, "USDT")
	if err != nil {
		return nil, &ConfigurationError{Msg: "cannot convert USDT balance", Err: err}
	}
	totalDeposited, err := r.units.ToDecimal(state.TotalDeposited, r.nativeAsset)
	if err != nil {
		return nil, &ConfigurationError{Msg: "cannot convert total deposited", Err: err}
	}
	totalWithdrawn, err := r.units.ToDecimal(state.TotalWithdrawn, r.nativeAsset)
	if err != nil {
		return nil, &ConfigurationError{Msg: "cannot convert total withdrawn", Err: err}
	}

	if txHash == "" {
		txHash = "sync-" + uuid.New().String()
	}

	now := time.Now().UTC()
	snapshot := fmt.Sprintf("BNB=%s USDT=%s", bnbBalance, usdtBalance)
	metadata := ledgerMetadata{
		RequestID: uuid.New().String(),
		Snapshot:  snapshot,
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Vault{}).
			Where("id = ?", vault.ID).
			Updates(map[string]interface{}{
				"bnb_balance":     bnbBalance,
				"usdt_balance":    usdtBalance,
				"total_deposited": totalDeposited,
				"total_withdrawn": totalWithdrawn,
				"last_sync_at":    now,
			}).Error; err != nil {
			return fmt.Errorf("failed to overwrite vault %d snapshot: %w", vault.ID, err)
		}

		// Record the resync itself for audit continuity
		syncTx := models.LedgerTransaction{
			VaultID:     vault.ID,
			TxHash:      txHash,
			Asset:       r.nativeAsset,
			Type:        models.LedgerTxTypeSync,
			GrossAmount: decimal.Zero,
			FeeAmount:   decimal.Zero,
			NetAmount:   decimal.Zero,
			Status:      models.LedgerTxStatusCompleted,
			OnChain:     true,
			ToAddress:   vault.Address,
			Metadata:    metadata.encode(),
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_hash"}, {Name: "asset"}},
			DoNothing: true,
		}).Create(&syncTx).Error; err != nil {
			return fmt.Errorf("failed to record sync transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := r.db.WithContext(ctx).First(&vault, vault.ID).Error; err != nil {
		return nil, fmt.Errorf("failed to reload vault %d: %w", vault.ID, err)
	}

	r.logger.Info("vault synced from chain",
		zap.Uint("user_id", userID),
		zap.String("address", vault.Address),
		zap.String("snapshot", snapshot))
	return &vault, nil
}

// GetBalance returns the vault for a user address. A missing vault is
// NotFound, never a zeroed balance object.
func (r *VaultReconciler) GetBalance(ctx context.Context, userAddress string) (*models.Vault, error) {
	if !blockchain.ValidateAddress(userAddress) {
		return nil, validationErrorf("invalid user address %q", userAddress)
	}

	var vault models.Vault
	err := r.db.WithContext(ctx).
		Where("address = ?", blockchain.NormalizeAddress(userAddress)).
		First(&vault).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVaultNotFound
		}
		return nil, err
	}
	return &vault, nil
}

// ApplyVaultCreated provisions a vault row from a VaultCreated event.
// Replays are no-ops via the unique address/user constraints.
func (r *VaultReconciler) ApplyVaultCreated(ctx context.Context, ev *blockchain.VaultCreatedEvent) (bool, error) {
	vault := models.Vault{
		UserID:  uint(ev.UserID),
		Address: blockchain.NormalizeAddress(ev.User),
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&vault)
	if result.Error != nil {
		return false, fmt.Errorf("failed to provision vault for %s: %w", ev.User, result.Error)
	}

	if result.RowsAffected > 0 {
		r.logger.Info("vault provisioned",
			zap.Uint64("user_id", ev.UserID),
			zap.String("address", ev.User))
		return true, nil
	}
	return false, nil
}

// ApplyDeposited folds an on-chain Deposited event into the ledger
func (r *VaultReconciler) ApplyDeposited(ctx context.Context, ev *blockchain.DepositedEvent, txHash string, blockNumber uint64) (bool, error) {
	return r.applyMovementEvent(ctx, models.LedgerTxTypeDeposit, ev.User, ev.Token, ev.Amount, txHash, blockNumber)
}

// ApplyWithdrawn folds an on-chain Withdrawn event into the ledger
func (r *VaultReconciler) ApplyWithdrawn(ctx context.Context, ev *blockchain.WithdrawnEvent, txHash string, blockNumber uint64) (bool, error) {
	return r.applyMovementEvent(ctx, models.LedgerTxTypeWithdrawal, ev.User, ev.Token, ev.Amount, txHash, blockNumber)
}

func (r *VaultReconciler) applyMovementEvent(ctx context.Context, txType, user, token string, rawAmount *big.Int, txHash string, blockNumber uint64) (bool, error) {
	asset, err := r.assetForToken(token)
	if err != nil {
		return false, err
	}

	gross, err := r.units.ToDecimal(rawAmount, asset)
	if err != nil {
		return false, &ConfigurationError{Msg: "cannot convert event amount", Err: err}
	}

	var vault models.Vault
	if err := r.db.WithContext(ctx).
		Where("address = ?", blockchain.NormalizeAddress(user)).
		First(&vault).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrVaultNotFound
		}
		return false, fmt.Errorf("failed to load vault for %s: %w", user, err)
	}

	counterparty := blockchain.NormalizeAddress(user)
	_, applied, err := r.processMovement(ctx, txType, vault.UserID, asset, gross, txHash, counterparty, blockNumber)
	return applied, err
}

// assetForToken resolves a token contract address to an asset symbol.
// The zero address is the native coin; anything else must appear in the
// configured token registry.
func (r *VaultReconciler) assetForToken(token string) (string, error) {
	if strings.EqualFold(token, blockchain.ZeroAddress) {
		return r.nativeAsset, nil
	}
	if asset, ok := r.tokenAssets[strings.ToLower(token)]; ok && asset != "" {
		return asset, nil
	}
	return "", &ConfigurationError{Msg: fmt.Sprintf("no asset configured for token %s", token)}
}
