package services

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"prediction-ledger/internal/blockchain"
	"prediction-ledger/internal/models"
)

const (
	testVaultAddress = "0x00000000000000000000000000000000000000aa"
	testTokenAddress = "0x00000000000000000000000000000000000000bb"
)

// fakeChain serves canned vault state so no RPC endpoint is needed
type fakeChain struct {
	state *blockchain.VaultState
	err   error
	calls int
}

func (f *fakeChain) GetUserVault(ctx context.Context, address string) (*blockchain.VaultState, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.state, nil
}

func testVaultReconciler(t *testing.T, db *gorm.DB, chain VaultChain) *VaultReconciler {
	t.Helper()
	fees := NewFeeService(db, map[string]decimal.Decimal{
		models.LedgerTxTypeDeposit:    decimal.RequireFromString("0.5"),
		models.LedgerTxTypeWithdrawal: decimal.RequireFromString("1"),
	}, zap.NewNop())
	tokenAssets := map[string]string{testTokenAddress: "USDT"}
	return NewVaultReconciler(db, chain, testUnits(), fees, tokenAssets, "BNB", zap.NewNop())
}

func seedVault(t *testing.T, db *gorm.DB, userID uint, bnbBalance string) *models.Vault {
	t.Helper()
	vault := &models.Vault{
		UserID:     userID,
		Address:    blockchain.NormalizeAddress(testVaultAddress),
		BNBBalance: decimal.RequireFromString(bnbBalance),
	}
	if err := db.Create(vault).Error; err != nil {
		t.Fatalf("Failed to seed vault: %v", err)
	}
	return vault
}

func TestProcessDepositAndReplay(t *testing.T) {
	db := setupTestDB(t)
	r := testVaultReconciler(t, db, &fakeChain{})
	ctx := context.Background()
	seedVault(t, db, 1, "0")

	ledgerTx, applied, err := r.ProcessDeposit(ctx, 1, "BNB", decimal.RequireFromString("10"), "0xdep1", "0xsender", 100)
	if err != nil {
		t.Fatalf("ProcessDeposit failed: %v", err)
	}
	if !applied {
		t.Error("Expected first deposit to apply")
	}
	if !ledgerTx.FeeAmount.Equal(decimal.RequireFromString("0.05")) {
		t.Errorf("Expected fee 0.05, got %s", ledgerTx.FeeAmount)
	}
	if !ledgerTx.NetAmount.Equal(decimal.RequireFromString("9.95")) {
		t.Errorf("Expected net 9.95, got %s", ledgerTx.NetAmount)
	}

	var vault models.Vault
	db.Where("user_id = ?", 1).First(&vault)
	if !vault.BNBBalance.Equal(decimal.RequireFromString("9.95")) {
		t.Errorf("Expected balance 9.95, got %s", vault.BNBBalance)
	}
	if !vault.TotalDeposited.Equal(decimal.RequireFromString("9.95")) {
		t.Errorf("Expected total deposited 9.95, got %s", vault.TotalDeposited)
	}

	// Replay with the same tx hash leaves everything untouched
	replayTx, applied, err := r.ProcessDeposit(ctx, 1, "BNB", decimal.RequireFromString("10"), "0xdep1", "0xsender", 100)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if applied {
		t.Error("Expected replay to be a no-op")
	}
	if replayTx.ID != ledgerTx.ID {
		t.Errorf("Expected replay to return the original row %d, got %d", ledgerTx.ID, replayTx.ID)
	}

	db.Where("user_id = ?", 1).First(&vault)
	if !vault.BNBBalance.Equal(decimal.RequireFromString("9.95")) {
		t.Errorf("Replay changed balance: got %s", vault.BNBBalance)
	}

	var count int64
	db.Model(&models.LedgerTransaction{}).Where("tx_hash = ?", "0xdep1").Count(&count)
	if count != 1 {
		t.Errorf("Expected 1 ledger row, got %d", count)
	}
}

func TestProcessWithdrawalInsufficientBalance(t *testing.T) {
	db := setupTestDB(t)
	r := testVaultReconciler(t, db, &fakeChain{})
	ctx := context.Background()
	seedVault(t, db, 1, "5")

	// Net of a 10 BNB withdrawal at 1% is 9.9, over the 5 BNB balance
	_, _, err := r.ProcessWithdrawal(ctx, 1, "BNB", decimal.RequireFromString("10"), "0xwd1", "0xdest", 101)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("Expected ErrInsufficientBalance, got %v", err)
	}

	// The rollback must also discard the ledger row
	var count int64
	db.Model(&models.LedgerTransaction{}).Where("tx_hash = ?", "0xwd1").Count(&count)
	if count != 0 {
		t.Errorf("Expected no ledger row after rollback, got %d", count)
	}
	var vault models.Vault
	db.Where("user_id = ?", 1).First(&vault)
	if !vault.BNBBalance.Equal(decimal.RequireFromString("5")) {
		t.Errorf("Failed withdrawal changed balance: got %s", vault.BNBBalance)
	}
}

func TestBalanceIsNetOfMovements(t *testing.T) {
	db := setupTestDB(t)
	r := testVaultReconciler(t, db, &fakeChain{})
	ctx := context.Background()
	seedVault(t, db, 1, "0")

	deposits := []string{"10", "4"}
	for i, amount := range deposits {
		if _, _, err := r.ProcessDeposit(ctx, 1, "BNB", decimal.RequireFromString(amount), "0xd"+string(rune('a'+i)), "0xsender", 100); err != nil {
			t.Fatalf("Deposit %d failed: %v", i, err)
		}
	}
	if _, _, err := r.ProcessWithdrawal(ctx, 1, "BNB", decimal.RequireFromString("2"), "0xw1", "0xdest", 101); err != nil {
		t.Fatalf("Withdrawal failed: %v", err)
	}

	// 10 and 4 at 0.5% net to 9.95 and 3.98; 2 at 1% nets to 1.98
	var vault models.Vault
	db.Where("user_id = ?", 1).First(&vault)
	want := decimal.RequireFromString("9.95").
		Add(decimal.RequireFromString("3.98")).
		Sub(decimal.RequireFromString("1.98"))
	if !vault.BNBBalance.Equal(want) {
		t.Errorf("Expected balance %s, got %s", want, vault.BNBBalance)
	}
	if !vault.TotalDeposited.Equal(decimal.RequireFromString("13.93")) {
		t.Errorf("Expected total deposited 13.93, got %s", vault.TotalDeposited)
	}
	if !vault.TotalWithdrawn.Equal(decimal.RequireFromString("1.98")) {
		t.Errorf("Expected total withdrawn 1.98, got %s", vault.TotalWithdrawn)
	}
}

func TestProcessMovementValidation(t *testing.T) {
	db := setupTestDB(t)
	r := testVaultReconciler(t, db, &fakeChain{})
	ctx := context.Background()
	seedVault(t, db, 1, "10")

	var validation *ValidationError

	_, _, err := r.ProcessDeposit(ctx, 1, "BNB", decimal.RequireFromString("1"), "", "0xs", 1)
	if !errors.As(err, &validation) {
		t.Errorf("Expected ValidationError for missing tx hash, got %v", err)
	}

	_, _, err = r.ProcessDeposit(ctx, 1, "BNB", decimal.Zero, "0xz", "0xs", 1)
	if !errors.As(err, &validation) {
		t.Errorf("Expected ValidationError for zero amount, got %v", err)
	}

	_, _, err = r.ProcessDeposit(ctx, 1, "DOGE", decimal.RequireFromString("1"), "0xd", "0xs", 1)
	if !errors.As(err, &validation) {
		t.Errorf("Expected ValidationError for unknown asset, got %v", err)
	}

	_, _, err = r.ProcessDeposit(ctx, 99, "BNB", decimal.RequireFromString("1"), "0xn", "0xs", 1)
	if !errors.Is(err, ErrVaultNotFound) {
		t.Errorf("Expected ErrVaultNotFound for unknown user, got %v", err)
	}
}

func TestSyncVaultOverwritesSnapshot(t *testing.T) {
	db := setupTestDB(t)
	chain := &fakeChain{state: &blockchain.VaultState{
		BNBBalance:     bnb("3.5"),
		USDTBalance:    decimal.RequireFromString("120.25").Shift(6).BigInt(),
		TotalDeposited: bnb("20"),
		TotalWithdrawn: bnb("16.5"),
		Exists:         true,
	}}
	r := testVaultReconciler(t, db, chain)
	ctx := context.Background()
	seedVault(t, db, 1, "99")

	vault, err := r.SyncVault(ctx, 1, "")
	if err != nil {
		t.Fatalf("SyncVault failed: %v", err)
	}
	if chain.calls != 1 {
		t.Errorf("Expected 1 chain call, got %d", chain.calls)
	}
	if !vault.BNBBalance.Equal(decimal.RequireFromString("3.5")) {
		t.Errorf("Expected BNB balance 3.5, got %s", vault.BNBBalance)
	}
	if !vault.USDTBalance.Equal(decimal.RequireFromString("120.25")) {
		t.Errorf("Expected USDT balance 120.25, got %s", vault.USDTBalance)
	}
	if vault.LastSyncAt == nil {
		t.Error("Expected last sync timestamp set")
	}

	var syncCount int64
	db.Model(&models.LedgerTransaction{}).Where("type = ?", models.LedgerTxTypeSync).Count(&syncCount)
	if syncCount != 1 {
		t.Errorf("Expected 1 sync ledger row, got %d", syncCount)
	}
}

func TestSyncVaultMissingOnChain(t *testing.T) {
	db := setupTestDB(t)
	chain := &fakeChain{state: &blockchain.VaultState{
		BNBBalance:     big.NewInt(0),
		USDTBalance:    big.NewInt(0),
		TotalDeposited: big.NewInt(0),
		TotalWithdrawn: big.NewInt(0),
		Exists:         false,
	}}
	r := testVaultReconciler(t, db, chain)
	seedVault(t, db, 1, "5")

	_, err := r.SyncVault(context.Background(), 1, "")
	if !errors.Is(err, ErrVaultNotFound) {
		t.Errorf("Expected ErrVaultNotFound for non-existent on-chain vault, got %v", err)
	}

	// The local snapshot is left alone on failure
	var vault models.Vault
	db.Where("user_id = ?", 1).First(&vault)
	if !vault.BNBBalance.Equal(decimal.RequireFromString("5")) {
		t.Errorf("Failed sync changed balance: got %s", vault.BNBBalance)
	}
}

func TestGetBalance(t *testing.T) {
	db := setupTestDB(t)
	r := testVaultReconciler(t, db, &fakeChain{})
	ctx := context.Background()
	seedVault(t, db, 1, "7")

	vault, err := r.GetBalance(ctx, testVaultAddress)
	if err != nil {
		t.Fatalf("GetBalance failed: %v", err)
	}
	if !vault.BNBBalance.Equal(decimal.RequireFromString("7")) {
		t.Errorf("Expected balance 7, got %s", vault.BNBBalance)
	}

	// Unknown vault is NotFound, never a zeroed balance
	_, err = r.GetBalance(ctx, "0x00000000000000000000000000000000000000ff")
	if !errors.Is(err, ErrVaultNotFound) {
		t.Errorf("Expected ErrVaultNotFound, got %v", err)
	}

	var validation *ValidationError
	_, err = r.GetBalance(ctx, "not-an-address")
	if !errors.As(err, &validation) {
		t.Errorf("Expected ValidationError for malformed address, got %v", err)
	}
}

func TestApplyVaultCreatedIdempotent(t *testing.T) {
	db := setupTestDB(t)
	r := testVaultReconciler(t, db, &fakeChain{})
	ctx := context.Background()

	ev := &blockchain.VaultCreatedEvent{User: testVaultAddress, UserID: 7}
	applied, err := r.ApplyVaultCreated(ctx, ev)
	if err != nil {
		t.Fatalf("ApplyVaultCreated failed: %v", err)
	}
	if !applied {
		t.Error("Expected first creation to apply")
	}

	applied, err = r.ApplyVaultCreated(ctx, ev)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if applied {
		t.Error("Expected replay to be a no-op")
	}

	var count int64
	db.Model(&models.Vault{}).Count(&count)
	if count != 1 {
		t.Errorf("Expected 1 vault, got %d", count)
	}
}

func TestApplyDepositedResolvesToken(t *testing.T) {
	db := setupTestDB(t)
	r := testVaultReconciler(t, db, &fakeChain{})
	ctx := context.Background()
	seedVault(t, db, 1, "0")

	// Zero token address is the native coin
	nativeDeposit := &blockchain.DepositedEvent{
		User:   testVaultAddress,
		Token:  blockchain.ZeroAddress,
		Amount: bnb("10"),
	}
	applied, err := r.ApplyDeposited(ctx, nativeDeposit, "0xnat1", 50)
	if err != nil {
		t.Fatalf("ApplyDeposited failed: %v", err)
	}
	if !applied {
		t.Error("Expected native deposit to apply")
	}

	// Registered token address maps to USDT at 6 decimals
	tokenDeposit := &blockchain.DepositedEvent{
		User:   testVaultAddress,
		Token:  testTokenAddress,
		Amount: decimal.RequireFromString("100").Shift(6).BigInt(),
	}
	if _, err := r.ApplyDeposited(ctx, tokenDeposit, "0xtok1", 51); err != nil {
		t.Fatalf("Token deposit failed: %v", err)
	}

	var vault models.Vault
	db.Where("user_id = ?", 1).First(&vault)
	if !vault.BNBBalance.Equal(decimal.RequireFromString("9.95")) {
		t.Errorf("Expected BNB balance 9.95, got %s", vault.BNBBalance)
	}
	if !vault.USDTBalance.Equal(decimal.RequireFromString("99.5")) {
		t.Errorf("Expected USDT balance 99.5, got %s", vault.USDTBalance)
	}

	// Unregistered token is a configuration error
	unknownDeposit := &blockchain.DepositedEvent{
		User:   testVaultAddress,
		Token:  "0x00000000000000000000000000000000000000cc",
		Amount: big.NewInt(1),
	}
	var configErr *ConfigurationError
	_, err = r.ApplyDeposited(ctx, unknownDeposit, "0xbad1", 52)
	if !errors.As(err, &configErr) {
		t.Errorf("Expected ConfigurationError for unknown token, got %v", err)
	}
}

func TestApplyWithdrawnDebitsVault(t *testing.T) {
	db := setupTestDB(t)
	r := testVaultReconciler(t, db, &fakeChain{})
	ctx := context.Background()
	seedVault(t, db, 1, "10")

	ev := &blockchain.WithdrawnEvent{
		User:   testVaultAddress,
		Token:  blockchain.ZeroAddress,
		Amount: bnb("4"),
	}
	applied, err := r.ApplyWithdrawn(ctx, ev, "0xwd2", 60)
	if err != nil {
		t.Fatalf("ApplyWithdrawn failed: %v", err)
	}
	if !applied {
		t.Error("Expected withdrawal to apply")
	}

	// 4 at 1% nets to 3.96
	var vault models.Vault
	db.Where("user_id = ?", 1).First(&vault)
	if !vault.BNBBalance.Equal(decimal.RequireFromString("6.04")) {
		t.Errorf("Expected balance 6.04, got %s", vault.BNBBalance)
	}
}
