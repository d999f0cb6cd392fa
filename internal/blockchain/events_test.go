package blockchain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func packEventData(t *testing.T, eventName string, args ...interface{}) []byte {
	t.Helper()
	contract, err := contractAbi()
	if err != nil {
		t.Fatalf("Failed to parse ABI: %v", err)
	}
	data, err := contract.Events[eventName].Inputs.NonIndexed().Pack(args...)
	if err != nil {
		t.Fatalf("Failed to pack %s data: %v", eventName, err)
	}
	return data
}

func eventTopic(t *testing.T, eventName string) common.Hash {
	t.Helper()
	contract, err := contractAbi()
	if err != nil {
		t.Fatalf("Failed to parse ABI: %v", err)
	}
	return contract.Events[eventName].ID
}

func uintTopic(v uint64) common.Hash {
	return common.BigToHash(new(big.Int).SetUint64(v))
}

func addressTopic(addr string) common.Hash {
	return common.BytesToHash(common.HexToAddress(addr).Bytes())
}

func TestDecodePredictionCreated(t *testing.T) {
	contract, _ := contractAbi()
	creator := "0x1111111111111111111111111111111111111111"

	lg := types.Log{
		Topics: []common.Hash{
			eventTopic(t, EventPredictionCreated),
			uintTopic(42),
			addressTopic(creator),
		},
		Data: packEventData(t, EventPredictionCreated,
			"BTC above 100k",
			big.NewInt(1e18),
			big.NewInt(1e17),
			new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18)),
			big.NewInt(1700000000),
			big.NewInt(1700003600),
		),
	}

	payload, err := decodeLog(contract, lg)
	if err != nil {
		t.Fatalf("decodeLog failed: %v", err)
	}
	ev, ok := payload.(*PredictionCreatedEvent)
	if !ok {
		t.Fatalf("Expected PredictionCreatedEvent, got %T", payload)
	}
	if ev.PredictionID != 42 {
		t.Errorf("Expected prediction id 42, got %d", ev.PredictionID)
	}
	if ev.Creator != common.HexToAddress(creator).Hex() {
		t.Errorf("Expected creator %s, got %s", creator, ev.Creator)
	}
	if ev.Title != "BTC above 100k" {
		t.Errorf("Expected title, got %q", ev.Title)
	}
	if ev.EntryAmount.Cmp(big.NewInt(1e18)) != 0 {
		t.Errorf("Expected entry amount 1e18, got %s", ev.EntryAmount)
	}
	if ev.LockTime != 1700000000 || ev.EndTime != 1700003600 {
		t.Errorf("Expected lock/end times, got %d/%d", ev.LockTime, ev.EndTime)
	}
}

func TestDecodeBetPlacedSides(t *testing.T) {
	contract, _ := contractAbi()
	bettor := "0x2222222222222222222222222222222222222222"

	cases := []struct {
		raw  uint8
		want string
	}{
		{0, "up"},
		{1, "down"},
	}
	for _, c := range cases {
		lg := types.Log{
			Topics: []common.Hash{
				eventTopic(t, EventBetPlaced),
				uintTopic(7),
				addressTopic(bettor),
			},
			Data: packEventData(t, EventBetPlaced,
				big.NewInt(2e18), c.raw, big.NewInt(1700000000)),
		}
		payload, err := decodeLog(contract, lg)
		if err != nil {
			t.Fatalf("decodeLog failed for side %d: %v", c.raw, err)
		}
		ev := payload.(*BetPlacedEvent)
		if ev.Side != c.want {
			t.Errorf("Side %d: expected %q, got %q", c.raw, c.want, ev.Side)
		}
		if ev.PredictionID != 7 {
			t.Errorf("Expected prediction id 7, got %d", ev.PredictionID)
		}
	}

	// Out-of-range enum value is an error, not a silent default
	lg := types.Log{
		Topics: []common.Hash{
			eventTopic(t, EventBetPlaced),
			uintTopic(7),
			addressTopic(bettor),
		},
		Data: packEventData(t, EventBetPlaced,
			big.NewInt(2e18), uint8(9), big.NewInt(1700000000)),
	}
	if _, err := decodeLog(contract, lg); err == nil {
		t.Error("Expected error for unknown bet side")
	}
}

func TestDecodePredictionSettledResults(t *testing.T) {
	contract, _ := contractAbi()

	cases := []struct {
		raw  uint8
		want string
	}{
		{0, "none"},
		{1, "up"},
		{2, "down"},
		{3, "draw"},
	}
	for _, c := range cases {
		lg := types.Log{
			Topics: []common.Hash{
				eventTopic(t, EventPredictionSettled),
				uintTopic(42),
			},
			Data: packEventData(t, EventPredictionSettled,
				c.raw, big.NewInt(65000), big.NewInt(1700000000)),
		}
		payload, err := decodeLog(contract, lg)
		if err != nil {
			t.Fatalf("decodeLog failed for result %d: %v", c.raw, err)
		}
		ev := payload.(*PredictionSettledEvent)
		if ev.Result != c.want {
			t.Errorf("Result %d: expected %q, got %q", c.raw, c.want, ev.Result)
		}
	}
}

func TestDecodeVaultEvents(t *testing.T) {
	contract, _ := contractAbi()
	user := "0x3333333333333333333333333333333333333333"
	token := "0x4444444444444444444444444444444444444444"

	lg := types.Log{
		Topics: []common.Hash{
			eventTopic(t, EventVaultCreated),
			addressTopic(user),
		},
		Data: packEventData(t, EventVaultCreated, big.NewInt(9)),
	}
	payload, err := decodeLog(contract, lg)
	if err != nil {
		t.Fatalf("decodeLog failed: %v", err)
	}
	created := payload.(*VaultCreatedEvent)
	if created.UserID != 9 {
		t.Errorf("Expected user id 9, got %d", created.UserID)
	}

	lg = types.Log{
		Topics: []common.Hash{
			eventTopic(t, EventDeposited),
			addressTopic(user),
			addressTopic(token),
		},
		Data: packEventData(t, EventDeposited, big.NewInt(5e18)),
	}
	payload, err = decodeLog(contract, lg)
	if err != nil {
		t.Fatalf("decodeLog failed: %v", err)
	}
	deposited := payload.(*DepositedEvent)
	if deposited.Token != common.HexToAddress(token).Hex() {
		t.Errorf("Expected token %s, got %s", token, deposited.Token)
	}
	if deposited.Amount.Cmp(big.NewInt(5e18)) != 0 {
		t.Errorf("Expected amount 5e18, got %s", deposited.Amount)
	}

	lg = types.Log{
		Topics: []common.Hash{
			eventTopic(t, EventWithdrawn),
			addressTopic(user),
			addressTopic(ZeroAddress),
		},
		Data: packEventData(t, EventWithdrawn, big.NewInt(1e18)),
	}
	payload, err = decodeLog(contract, lg)
	if err != nil {
		t.Fatalf("decodeLog failed: %v", err)
	}
	withdrawn := payload.(*WithdrawnEvent)
	if withdrawn.Token != common.HexToAddress(ZeroAddress).Hex() {
		t.Errorf("Expected zero token address, got %s", withdrawn.Token)
	}
}

func TestDecodeRejectsOverflowingPredictionID(t *testing.T) {
	contract, _ := contractAbi()

	overflow := common.BigToHash(new(big.Int).Lsh(big.NewInt(1), 64))
	lg := types.Log{
		Topics: []common.Hash{
			eventTopic(t, EventPredictionSettled),
			overflow,
		},
		Data: packEventData(t, EventPredictionSettled,
			uint8(1), big.NewInt(65000), big.NewInt(1700000000)),
	}
	if _, err := decodeLog(contract, lg); err == nil {
		t.Error("Expected error for prediction id beyond uint64")
	}
}

func TestDecodeForeignLogIsIgnored(t *testing.T) {
	contract, _ := contractAbi()

	// ERC-20 Transfer topic, not one of ours
	lg := types.Log{
		Topics: []common.Hash{
			common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"),
			addressTopic("0x1111111111111111111111111111111111111111"),
			addressTopic("0x2222222222222222222222222222222222222222"),
		},
	}
	payload, err := decodeLog(contract, lg)
	if err != nil {
		t.Errorf("Foreign log should be skipped silently, got %v", err)
	}
	if payload != nil {
		t.Errorf("Expected nil payload for foreign log, got %T", payload)
	}

	// Anonymous log with no topics at all
	payload, err = decodeLog(contract, types.Log{})
	if err != nil || payload != nil {
		t.Errorf("Expected (nil, nil) for empty log, got (%T, %v)", payload, err)
	}
}
