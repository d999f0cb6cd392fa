package blockchain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// UnitConverter maps between integer base-unit amounts as emitted on-chain
// and decimal ledger amounts. The asset registry is fixed at construction;
// an unrecognized asset is a configuration error, never a silent default.
type UnitConverter struct {
	decimals map[string]int32
}

// UnknownAssetError indicates an asset with no configured decimals mapping
type UnknownAssetError struct {
	Asset string
}

func (e *UnknownAssetError) Error() string {
	return fmt.Sprintf("no decimals configured for asset %q", e.Asset)
}

// NewUnitConverter creates a converter from an asset -> decimals registry
func NewUnitConverter(decimals map[string]int32) *UnitConverter {
	registry := make(map[string]int32, len(decimals))
	for asset, d := range decimals {
		registry[asset] = d
	}
	return &UnitConverter{decimals: registry}
}

// Decimals returns the configured decimal count for an asset
func (c *UnitConverter) Decimals(asset string) (int32, error) {
	d, ok := c.decimals[asset]
	if !ok {
		return 0, &UnknownAssetError{Asset: asset}
	}
	return d, nil
}

// ToDecimal converts a raw base-unit integer into a decimal ledger amount
func (c *UnitConverter) ToDecimal(raw *big.Int, asset string) (decimal.Decimal, error) {
	d, err := c.Decimals(asset)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(raw, -d), nil
}

// ToRaw converts a decimal ledger amount into raw base units. The amount
// must be exactly representable: an amount with more fractional digits than
// the asset carries is an error, not a rounding.
func (c *UnitConverter) ToRaw(amount decimal.Decimal, asset string) (*big.Int, error) {
	d, err := c.Decimals(asset)
	if err != nil {
		return nil, err
	}

	shifted := amount.Shift(d)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, fmt.Errorf("amount %s is not representable in %d decimals for asset %s", amount, d, asset)
	}

	return shifted.BigInt(), nil
}
