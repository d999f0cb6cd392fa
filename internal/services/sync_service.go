package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"prediction-ledger/internal/blockchain"
	"prediction-ledger/internal/models"
)

// Scan cursor scope for the contract event scan
const scanScopeContractEvents = "contract_events"

// EventSource is the slice of the chain client the orchestrator needs
type EventSource interface {
	FetchAllEvents(ctx context.Context, fromBlock, toBlock uint64) ([]blockchain.RawEvent, error)
	FetchEvents(ctx context.Context, eventName string, fromBlock, toBlock uint64) ([]blockchain.RawEvent, error)
	LatestBlock(ctx context.Context) (uint64, error)
	CapRange(fromBlock, toBlock uint64) (uint64, uint64)
}

// OperationRequest is the transport-agnostic invocation envelope
type OperationRequest struct {
	Operation string          `json:"operation" binding:"required"`
	Data      json.RawMessage `json:"data"`
}

// Operation names accepted by Execute
const (
	OpSyncVault         = "sync_vault"
	OpProcessDeposit    = "process_deposit"
	OpProcessWithdrawal = "process_withdrawal"
	OpGetBalance        = "get_balance"
)

type syncVaultData struct {
	UserID uint   `json:"user_id"`
	TxHash string `json:"tx_hash"`
}

type movementData struct {
	UserID      uint            `json:"user_id"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`
	TxHash      string          `json:"tx_hash"`
	FromAddress string          `json:"from_address"`
}

type getBalanceData struct {
	UserAddress string `json:"user_address"`
}

// SyncResult summarizes a batch scan over a block range. Failures on
// individual events never abort the batch; the next idempotent scan
// catches whatever was missed. RetryFromBlock is the block of the first
// transiently-failed event, zero when nothing needs revisiting.
type SyncResult struct {
	FromBlock      uint64 `json:"from_block"`
	ToBlock        uint64 `json:"to_block"`
	Events         int    `json:"events"`
	Applied        int    `json:"applied"`
	Replayed       int    `json:"replayed"`
	Skipped        int    `json:"skipped"`
	Failed         int    `json:"failed"`
	RetryFromBlock uint64 `json:"retry_from_block,omitempty"`
}

// SyncService is the entry point of the reconciliation engine: it accepts
// an operation request, dispatches to the appropriate reconciler, and
// returns a structured result
type SyncService struct {
	db          *gorm.DB
	chain       EventSource
	predictions *PredictionReconciler
	vaults      *VaultReconciler
	logger      *zap.Logger
}

// NewSyncService creates the sync orchestrator
func NewSyncService(db *gorm.DB, chain EventSource, predictions *PredictionReconciler, vaults *VaultReconciler, logger *zap.Logger) *SyncService {
	return &SyncService{
		db:          db,
		chain:       chain,
		predictions: predictions,
		vaults:      vaults,
		logger:      logger,
	}
}

// Execute dispatches a single operation request
func (s *SyncService) Execute(ctx context.Context, req OperationRequest) (map[string]interface{}, error) {
	switch req.Operation {
	case OpSyncVault:
		var data syncVaultData
		if err := decodeData(req.Data, &data); err != nil {
			return nil, err
		}
		if data.UserID == 0 {
			return nil, validationErrorf("user_id is required")
		}
		vault, err := s.vaults.SyncVault(ctx, data.UserID, data.TxHash)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"vault": vault}, nil

	case OpProcessDeposit, OpProcessWithdrawal:
		var data movementData
		if err := decodeData(req.Data, &data); err != nil {
			return nil, err
		}
		if data.UserID == 0 {
			return nil, validationErrorf("user_id is required")
		}
		if data.Asset == "" {
			return nil, validationErrorf("asset is required")
		}

		var (
			ledgerTx *models.LedgerTransaction
			applied  bool
			err      error
		)
		if req.Operation == OpProcessDeposit {
			ledgerTx, applied, err = s.vaults.ProcessDeposit(ctx, data.UserID, data.Asset, data.Amount, data.TxHash, data.FromAddress, 0)
		} else {
			ledgerTx, applied, err = s.vaults.ProcessWithdrawal(ctx, data.UserID, data.Asset, data.Amount, data.TxHash, data.FromAddress, 0)
		}
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"transaction": ledgerTx, "applied": applied}, nil

	case OpGetBalance:
		var data getBalanceData
		if err := decodeData(req.Data, &data); err != nil {
			return nil, err
		}
		if data.UserAddress == "" {
			return nil, validationErrorf("user_address is required")
		}
		vault, err := s.vaults.GetBalance(ctx, data.UserAddress)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"vault": vault}, nil
	}

	return nil, validationErrorf("unknown operation %q", req.Operation)
}

func decodeData(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return validationErrorf("data is required")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return validationErrorf("malformed data: %v", err)
	}
	return nil
}

// SyncRange reads every contract event in a block range and folds each
// into the store. One malformed or out-of-order event never blocks the
// rest of the batch.
func (s *SyncService) SyncRange(ctx context.Context, fromBlock, toBlock uint64) (*SyncResult, error) {
	return s.scanRange(ctx, "", fromBlock, toBlock)
}

// SyncEvents folds a single named event type over a block range, for
// targeted backfills where rescanning every event is wasteful
func (s *SyncService) SyncEvents(ctx context.Context, eventName string, fromBlock, toBlock uint64) (*SyncResult, error) {
	switch eventName {
	case blockchain.EventPredictionCreated, blockchain.EventBetPlaced, blockchain.EventPredictionSettled,
		blockchain.EventVaultCreated, blockchain.EventDeposited, blockchain.EventWithdrawn:
	default:
		return nil, validationErrorf("unknown event name %q", eventName)
	}
	return s.scanRange(ctx, eventName, fromBlock, toBlock)
}

func (s *SyncService) scanRange(ctx context.Context, eventName string, fromBlock, toBlock uint64) (*SyncResult, error) {
	fromBlock, toBlock = s.chain.CapRange(fromBlock, toBlock)

	var (
		events []blockchain.RawEvent
		err    error
	)
	if eventName == "" {
		events, err = s.chain.FetchAllEvents(ctx, fromBlock, toBlock)
	} else {
		events, err = s.chain.FetchEvents(ctx, eventName, fromBlock, toBlock)
	}
	if err != nil {
		return nil, err
	}

	result := &SyncResult{FromBlock: fromBlock, ToBlock: toBlock, Events: len(events)}
	for _, ev := range events {
		applied, err := s.applyEvent(ctx, ev)
		switch {
		case err == nil && applied:
			result.Applied++
		case err == nil:
			result.Replayed++
		default:
			var conflict *StateConflictError
			if errors.As(err, &conflict) || errors.Is(err, ErrVaultNotFound) {
				s.logger.Warn("event skipped",
					zap.String("event", ev.Payload.EventName()),
					zap.String("tx_hash", ev.TxHash),
					zap.Uint64("block", ev.BlockNumber),
					zap.Error(err))
				result.Skipped++
				continue
			}
			s.logger.Warn("event failed",
				zap.String("event", ev.Payload.EventName()),
				zap.String("tx_hash", ev.TxHash),
				zap.Uint64("block", ev.BlockNumber),
				zap.Error(err))
			result.Failed++

			// Validation, configuration and insufficient-balance failures
			// are permanent: a rescan replays the same error forever, so
			// the cursor skips past them. Anything else is assumed
			// transient and marks its block for the next pass to revisit.
			var validation *ValidationError
			var configErr *ConfigurationError
			if !errors.As(err, &validation) && !errors.As(err, &configErr) &&
				!errors.Is(err, ErrInsufficientBalance) &&
				(result.RetryFromBlock == 0 || ev.BlockNumber < result.RetryFromBlock) {
				result.RetryFromBlock = ev.BlockNumber
			}
		}
	}

	s.logger.Info("batch sync finished",
		zap.Uint64("from_block", fromBlock),
		zap.Uint64("to_block", toBlock),
		zap.Int("events", result.Events),
		zap.Int("applied", result.Applied),
		zap.Int("replayed", result.Replayed),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed))
	return result, nil
}

// applyEvent routes a decoded event to its reconciler
func (s *SyncService) applyEvent(ctx context.Context, ev blockchain.RawEvent) (bool, error) {
	switch payload := ev.Payload.(type) {
	case *blockchain.PredictionCreatedEvent:
		return s.predictions.ApplyPredictionCreated(ctx, payload, ev.TxHash, ev.BlockNumber)
	case *blockchain.BetPlacedEvent:
		return s.predictions.ApplyBetPlaced(ctx, payload, ev.TxHash, ev.BlockNumber, ev.LogIndex)
	case *blockchain.PredictionSettledEvent:
		return s.predictions.ApplyPredictionSettled(ctx, payload, ev.TxHash)
	case *blockchain.VaultCreatedEvent:
		return s.vaults.ApplyVaultCreated(ctx, payload)
	case *blockchain.DepositedEvent:
		return s.vaults.ApplyDeposited(ctx, payload, ev.TxHash, ev.BlockNumber)
	case *blockchain.WithdrawnEvent:
		return s.vaults.ApplyWithdrawn(ctx, payload, ev.TxHash, ev.BlockNumber)
	}
	return false, fmt.Errorf("unhandled event payload %T", ev.Payload)
}

// SyncLatest advances the persistent scan cursor toward the chain head,
// processing at most one capped block window per call. The external
// trigger (cron or manual) simply calls this repeatedly.
func (s *SyncService) SyncLatest(ctx context.Context) (*SyncResult, error) {
	latest, err := s.chain.LatestBlock(ctx)
	if err != nil {
		return nil, err
	}

	var cursor models.ScanCursor
	if err := s.db.WithContext(ctx).
		Where(models.ScanCursor{Scope: scanScopeContractEvents}).
		FirstOrCreate(&cursor).Error; err != nil {
		return nil, fmt.Errorf("failed to load scan cursor: %w", err)
	}

	fromBlock := cursor.LastBlock + 1
	if cursor.LastBlock == 0 {
		// First run: start one window back from the head instead of genesis
		fromBlock = 1
		if from, to := s.chain.CapRange(1, latest); to < latest {
			fromBlock = latest - (to - from)
		}
	}
	if fromBlock > latest {
		return &SyncResult{FromBlock: fromBlock, ToBlock: latest}, nil
	}

	result, err := s.SyncRange(ctx, fromBlock, latest)

	updates := map[string]interface{}{
		"last_run_at": time.Now().UTC(),
		"last_error":  "",
	}
	switch {
	case err != nil:
		updates["last_error"] = err.Error()
	case result.RetryFromBlock > 0:
		// Hold the cursor just before the first transiently-failed event so
		// the next pass replays it; idempotent folds make the overlap free
		updates["last_block"] = result.RetryFromBlock - 1
		updates["last_error"] = fmt.Sprintf("%d events failed, rescanning from block %d", result.Failed, result.RetryFromBlock)
	default:
		updates["last_block"] = result.ToBlock
	}
	if dbErr := s.db.WithContext(ctx).Model(&models.ScanCursor{}).
		Where("scope = ?", scanScopeContractEvents).
		Updates(updates).Error; dbErr != nil {
		s.logger.Warn("failed to update scan cursor", zap.Error(dbErr))
	}

	return result, err
}

// LockDuePredictions exposes the lifecycle lock pass for the scan job
func (s *SyncService) LockDuePredictions(ctx context.Context) (int64, error) {
	return s.predictions.LockDuePredictions(ctx, time.Now().UTC())
}
