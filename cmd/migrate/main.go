package main

import (
	"errors"
	"log"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"prediction-ledger/internal/config"
	"prediction-ledger/internal/database"
	"prediction-ledger/internal/models"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.Connect(cfg.GetDSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	if err := seedPlatformFees(db, cfg); err != nil {
		log.Fatalf("Failed to seed platform fees: %v", err)
	}

	log.Println("Migrations completed successfully")
}

// seedPlatformFees inserts an active fee row per operation type unless one
// already exists, so fresh databases start with audited fee configuration
func seedPlatformFees(db *gorm.DB, cfg *config.Config) error {
	seeds := map[string]decimal.Decimal{
		models.LedgerTxTypeDeposit:    cfg.Fees.DefaultDepositPercent,
		models.LedgerTxTypeWithdrawal: cfg.Fees.DefaultWithdrawalPercent,
	}

	for feeType, percent := range seeds {
		var existing models.PlatformFee
		err := db.Where("fee_type = ? AND is_active = ?", feeType, true).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		fee := models.PlatformFee{
			FeeType:  feeType,
			Percent:  percent,
			IsActive: true,
		}
		if err := db.Create(&fee).Error; err != nil {
			return err
		}
		log.Printf("Seeded %s fee at %s%%", feeType, percent)
	}

	return nil
}
