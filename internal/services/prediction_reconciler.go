package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"prediction-ledger/internal/blockchain"
	"prediction-ledger/internal/models"
)

// PredictionReconciler folds prediction lifecycle events from chain into
// the predictions/bets tables. Every transition is idempotent under replay
// and forward-only: open -> locked -> settled.
type PredictionReconciler struct {
	db          *gorm.DB
	units       *blockchain.UnitConverter
	nativeAsset string
	logger      *zap.Logger
}

// NewPredictionReconciler creates a prediction lifecycle reconciler
func NewPredictionReconciler(db *gorm.DB, units *blockchain.UnitConverter, nativeAsset string, logger *zap.Logger) *PredictionReconciler {
	return &PredictionReconciler{
		db:          db,
		units:       units,
		nativeAsset: nativeAsset,
		logger:      logger,
	}
}

// ApplyPredictionCreated inserts a prediction row for a creation event.
// A replay is a no-op; a placeholder row left by an out-of-order bet is
// filled in without resetting its pools or bets.
func (r *PredictionReconciler) ApplyPredictionCreated(ctx context.Context, ev *blockchain.PredictionCreatedEvent, txHash string, blockNumber uint64) (bool, error) {
	entryAmount, err := r.units.ToDecimal(ev.EntryAmount, r.nativeAsset)
	if err != nil {
		return false, &ConfigurationError{Msg: "cannot convert entry amount", Err: err}
	}
	minBet, err := r.units.ToDecimal(ev.MinBet, r.nativeAsset)
	if err != nil {
		return false, &ConfigurationError{Msg: "cannot convert min bet", Err: err}
	}
	maxBet, err := r.units.ToDecimal(ev.MaxBet, r.nativeAsset)
	if err != nil {
		return false, &ConfigurationError{Msg: "cannot convert max bet", Err: err}
	}

	lockTime := time.Unix(ev.LockTime, 0).UTC()
	endTime := time.Unix(ev.EndTime, 0).UTC()

	applied := false
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		prediction := models.Prediction{
			PredictionID:  ev.PredictionID,
			Title:         ev.Title,
			EntryAmount:   entryAmount,
			MinBet:        minBet,
			MaxBet:        maxBet,
			LockTime:      &lockTime,
			EndTime:       &endTime,
			Status:        models.PredictionStatusOpen,
			Result:        models.PredictionResultNone,
			Creator:       ev.Creator,
			CreatedBlock:  blockNumber,
			CreatedTxHash: txHash,
		}

		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "prediction_id"}},
			DoNothing: true,
		}).Create(&prediction)
		if result.Error != nil {
			return fmt.Errorf("failed to insert prediction %d: %w", ev.PredictionID, result.Error)
		}
		if result.RowsAffected > 0 {
			applied = true
			return nil
		}

		// Row already exists. If it is a placeholder created by an
		// out-of-order bet, fill in the metadata without touching the
		// pools or status the bets have already built up.
		var existing models.Prediction
		if err := tx.Where("prediction_id = ?", ev.PredictionID).First(&existing).Error; err != nil {
			return fmt.Errorf("failed to reload prediction %d: %w", ev.PredictionID, err)
		}
		if !existing.Placeholder {
			return nil // replay
		}

		updates := map[string]interface{}{
			"title":           ev.Title,
			"entry_amount":    entryAmount,
			"min_bet":         minBet,
			"max_bet":         maxBet,
			"lock_time":       lockTime,
			"end_time":        endTime,
			"creator":         ev.Creator,
			"created_block":   blockNumber,
			"created_tx_hash": txHash,
			"placeholder":     false,
		}
		if err := tx.Model(&models.Prediction{}).
			Where("prediction_id = ? AND placeholder = ?", ev.PredictionID, true).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to fill placeholder prediction %d: %w", ev.PredictionID, err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if applied {
		r.logger.Info("prediction created",
			zap.Uint64("prediction_id", ev.PredictionID),
			zap.String("tx_hash", txHash))
	}
	return applied, nil
}

// ApplyBetPlaced inserts a bet row keyed by transaction hash and updates
// pool aggregates and bettor statistics in the same store transaction.
// If the prediction row does not exist yet (bet observed before the
// creation event), a placeholder open prediction is created first.
func (r *PredictionReconciler) ApplyBetPlaced(ctx context.Context, ev *blockchain.BetPlacedEvent, txHash string, blockNumber uint64, logIndex uint) (bool, error) {
	amount, err := r.units.ToDecimal(ev.Amount, r.nativeAsset)
	if err != nil {
		return false, &ConfigurationError{Msg: "cannot convert bet amount", Err: err}
	}

	applied := false
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		placeholder := models.Prediction{
			PredictionID: ev.PredictionID,
			Status:       models.PredictionStatusOpen,
			Result:       models.PredictionResultNone,
			Placeholder:  true,
		}
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "prediction_id"}},
			DoNothing: true,
		}).Create(&placeholder)
		if result.Error != nil {
			return fmt.Errorf("failed to ensure prediction %d: %w", ev.PredictionID, result.Error)
		}
		if result.RowsAffected > 0 {
			r.logger.Info("placeholder prediction created for out-of-order bet",
				zap.Uint64("prediction_id", ev.PredictionID),
				zap.String("tx_hash", txHash))
		}

		bet := models.Bet{
			TxHash:       txHash,
			PredictionID: ev.PredictionID,
			Bettor:       ev.Bettor,
			Amount:       amount,
			Asset:        r.nativeAsset,
			Side:         ev.Side,
			PlacedAt:     time.Unix(ev.Timestamp, 0).UTC(),
			BlockNumber:  blockNumber,
			LogIndex:     logIndex,
		}
		result = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_hash"}},
			DoNothing: true,
		}).Create(&bet)
		if result.Error != nil {
			return fmt.Errorf("failed to insert bet %s: %w", txHash, result.Error)
		}
		if result.RowsAffected == 0 {
			return nil // replay
		}

		// Pools are frozen at settlement: payouts were computed from them.
		// A bet event surfacing on a settled prediction (a backfill over an
		// old range) is a conflict and rolls back the whole insert. Locked
		// predictions still accept bets, since the contract enforced the
		// lock on-chain and local locking can run ahead of event delivery.
		poolColumn := "up_pool"
		if ev.Side == models.BetSideDown {
			poolColumn = "down_pool"
		}
		pools := tx.Model(&models.Prediction{}).
			Where("prediction_id = ? AND status IN ?", ev.PredictionID,
				[]string{models.PredictionStatusOpen, models.PredictionStatusLocked}).
			Updates(map[string]interface{}{
				"total_pool": gorm.Expr("total_pool + ?", amount),
				poolColumn:   gorm.Expr(poolColumn+" + ?", amount),
				"bet_count":  gorm.Expr("bet_count + 1"),
			})
		if pools.Error != nil {
			return fmt.Errorf("failed to update pools for prediction %d: %w", ev.PredictionID, pools.Error)
		}
		if pools.RowsAffected == 0 {
			return stateConflictf("bet %s rejected, prediction %d is already settled", txHash, ev.PredictionID)
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "bettor"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"total_bets":    gorm.Expr("bettor_stats.total_bets + 1"),
				"total_wagered": gorm.Expr("bettor_stats.total_wagered + ?", amount),
				"updated_at":    time.Now(),
			}),
		}).Create(&models.BettorStats{
			Bettor:       ev.Bettor,
			TotalBets:    1,
			TotalWagered: amount,
		}).Error; err != nil {
			return fmt.Errorf("failed to update bettor stats for %s: %w", ev.Bettor, err)
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if applied {
		r.logger.Info("bet applied",
			zap.Uint64("prediction_id", ev.PredictionID),
			zap.String("bettor", ev.Bettor),
			zap.String("amount", amount.String()),
			zap.String("tx_hash", txHash))
	}
	return applied, nil
}

// ApplyPredictionSettled moves a prediction to its terminal settled state,
// records the outcome and backfills claimed winnings plus win/loss stats.
// A replayed settlement with the same result is a no-op; a replay with a
// different result is a state conflict and the original result stands.
func (r *PredictionReconciler) ApplyPredictionSettled(ctx context.Context, ev *blockchain.PredictionSettledEvent, txHash string) (bool, error) {
	resolvedValue, err := r.units.ToDecimal(ev.ResolvedValue, r.nativeAsset)
	if err != nil {
		return false, &ConfigurationError{Msg: "cannot convert resolved value", Err: err}
	}
	resolvedAt := time.Unix(ev.Timestamp, 0).UTC()

	applied := false
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prediction models.Prediction
		if err := tx.Where("prediction_id = ?", ev.PredictionID).First(&prediction).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return stateConflictf("settlement for unknown prediction %d", ev.PredictionID)
			}
			return fmt.Errorf("failed to load prediction %d: %w", ev.PredictionID, err)
		}

		if prediction.Status == models.PredictionStatusSettled {
			if prediction.Result == ev.Result {
				return nil // idempotent replay
			}
			return stateConflictf("prediction %d already settled as %s, conflicting settlement %s ignored",
				ev.PredictionID, prediction.Result, ev.Result)
		}

		// Settlement is accepted from open as well as locked so a missed
		// lock pass can never wedge a prediction.
		result := tx.Model(&models.Prediction{}).
			Where("prediction_id = ? AND status IN ?", ev.PredictionID,
				[]string{models.PredictionStatusOpen, models.PredictionStatusLocked}).
			Updates(map[string]interface{}{
				"status":         models.PredictionStatusSettled,
				"result":         ev.Result,
				"resolved_value": resolvedValue,
				"resolved_at":    resolvedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to settle prediction %d: %w", ev.PredictionID, result.Error)
		}
		if result.RowsAffected == 0 {
			return nil // settled concurrently, treat as replay
		}

		if err := r.settleBets(tx, &prediction, ev.Result); err != nil {
			return err
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if applied {
		r.logger.Info("prediction settled",
			zap.Uint64("prediction_id", ev.PredictionID),
			zap.String("result", ev.Result),
			zap.String("resolved_value", resolvedValue.String()),
			zap.String("tx_hash", txHash))
	}
	return applied, nil
}

// settleBets backfills claimed winnings on every bet of a settled
// prediction and updates bettor win/loss statistics. Runs inside the same
// transaction that flipped the status, so a replay can never reach it.
func (r *PredictionReconciler) settleBets(tx *gorm.DB, prediction *models.Prediction, result string) error {
	var bets []models.Bet
	if err := tx.Where("prediction_id = ?", prediction.PredictionID).Find(&bets).Error; err != nil {
		return fmt.Errorf("failed to load bets for prediction %d: %w", prediction.PredictionID, err)
	}

	winnerPool := prediction.UpPool
	loserPool := prediction.DownPool
	if result == models.PredictionResultDown {
		winnerPool, loserPool = loserPool, winnerPool
	}

	for i := range bets {
		bet := &bets[i]

		// Draws refund every stake and count neither a win nor a loss
		if result == models.PredictionResultDraw {
			if err := tx.Model(bet).Update("claimed_winnings", bet.Amount).Error; err != nil {
				return fmt.Errorf("failed to refund bet %s: %w", bet.TxHash, err)
			}
			continue
		}

		if bet.Side == result {
			profit := decimal.Zero
			if winnerPool.IsPositive() {
				profit = bet.Amount.Mul(loserPool).Div(winnerPool)
			}
			payout := bet.Amount.Add(profit)
			if err := tx.Model(bet).Update("claimed_winnings", payout).Error; err != nil {
				return fmt.Errorf("failed to record winnings for bet %s: %w", bet.TxHash, err)
			}
			if err := tx.Model(&models.BettorStats{}).
				Where("bettor = ?", bet.Bettor).
				Updates(map[string]interface{}{
					"wins":      gorm.Expr("wins + 1"),
					"total_won": gorm.Expr("total_won + ?", profit),
				}).Error; err != nil {
				return fmt.Errorf("failed to update winner stats for %s: %w", bet.Bettor, err)
			}
		} else {
			if err := tx.Model(bet).Update("claimed_winnings", decimal.Zero).Error; err != nil {
				return fmt.Errorf("failed to zero winnings for bet %s: %w", bet.TxHash, err)
			}
			if err := tx.Model(&models.BettorStats{}).
				Where("bettor = ?", bet.Bettor).
				Updates(map[string]interface{}{
					"losses":     gorm.Expr("losses + 1"),
					"total_lost": gorm.Expr("total_lost + ?", bet.Amount),
				}).Error; err != nil {
				return fmt.Errorf("failed to update loser stats for %s: %w", bet.Bettor, err)
			}
		}
	}

	return nil
}

// LockDuePredictions moves every open prediction whose lock time has
// elapsed to locked. Driven by the periodic scan job; the conditional
// update keeps the transition forward-only under concurrent runs.
func (r *PredictionReconciler) LockDuePredictions(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Prediction{}).
		Where("status = ? AND lock_time IS NOT NULL AND lock_time <= ?", models.PredictionStatusOpen, now).
		Update("status", models.PredictionStatusLocked)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to lock due predictions: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		r.logger.Info("locked due predictions", zap.Int64("count", result.RowsAffected))
	}
	return result.RowsAffected, nil
}

// GetPrediction returns a prediction by its on-chain id
func (r *PredictionReconciler) GetPrediction(ctx context.Context, predictionID uint64) (*models.Prediction, error) {
	var prediction models.Prediction
	if err := r.db.WithContext(ctx).Where("prediction_id = ?", predictionID).First(&prediction).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPredictionNotFound
		}
		return nil, err
	}
	return &prediction, nil
}
