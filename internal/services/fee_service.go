package services

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"prediction-ledger/internal/models"
)

var oneHundred = decimal.NewFromInt(100)

// FeeQuote is the result of resolving and applying a fee percentage
type FeeQuote struct {
	Percent        decimal.Decimal
	Fee            decimal.Decimal
	Net            decimal.Decimal
	DefaultApplied bool
}

// FeeService resolves the active platform fee for an operation type and
// computes fee/net amounts in exact decimal arithmetic
type FeeService struct {
	db       *gorm.DB
	defaults map[string]decimal.Decimal
	logger   *zap.Logger
}

// NewFeeService creates a fee service. The defaults map holds the
// configured fallback percent per operation type, applied (and flagged for
// audit) when no active platform_fees row exists.
func NewFeeService(db *gorm.DB, defaults map[string]decimal.Decimal, logger *zap.Logger) *FeeService {
	return &FeeService{
		db:       db,
		defaults: defaults,
		logger:   logger,
	}
}

// ActivePercent resolves the fee percent for an operation type
func (s *FeeService) ActivePercent(operationType string) (decimal.Decimal, bool, error) {
	var fee models.PlatformFee
	err := s.db.Where("fee_type = ? AND is_active = ?", operationType, true).
		Order("updated_at DESC").
		First(&fee).Error
	if err == nil {
		return fee.Percent, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, false, fmt.Errorf("failed to load platform fee for %s: %w", operationType, err)
	}

	fallback, ok := s.defaults[operationType]
	if !ok {
		return decimal.Zero, false, &ConfigurationError{
			Msg: fmt.Sprintf("no active platform fee and no configured default for operation type %q", operationType),
		}
	}

	s.logger.Warn("no active platform fee, applying configured default",
		zap.String("operation_type", operationType),
		zap.String("percent", fallback.String()))
	return fallback, true, nil
}

// ComputeFee computes fee and net amounts for a gross amount:
// fee = gross * percent / 100, net = gross - fee. Both stay in decimal so
// no precision is lost between computation and persistence.
func (s *FeeService) ComputeFee(operationType string, gross decimal.Decimal) (FeeQuote, error) {
	percent, defaultApplied, err := s.ActivePercent(operationType)
	if err != nil {
		return FeeQuote{}, err
	}

	fee := gross.Mul(percent).Div(oneHundred)
	return FeeQuote{
		Percent:        percent,
		Fee:            fee,
		Net:            gross.Sub(fee),
		DefaultApplied: defaultApplied,
	}, nil
}
