package blockchain

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Event names emitted by the prediction vault contract
const (
	EventPredictionCreated = "PredictionCreated"
	EventBetPlaced         = "BetPlaced"
	EventPredictionSettled = "PredictionSettled"
	EventVaultCreated      = "VaultCreated"
	EventDeposited         = "Deposited"
	EventWithdrawn         = "Withdrawn"
)

// contractABI describes the subset of the prediction vault contract this
// engine consumes: its event log signatures and the getUserVault view.
const contractABI = `[
	{"type":"event","name":"PredictionCreated","inputs":[
		{"name":"predictionId","type":"uint256","indexed":true},
		{"name":"creator","type":"address","indexed":true},
		{"name":"title","type":"string","indexed":false},
		{"name":"entryAmount","type":"uint256","indexed":false},
		{"name":"minBet","type":"uint256","indexed":false},
		{"name":"maxBet","type":"uint256","indexed":false},
		{"name":"lockTime","type":"uint256","indexed":false},
		{"name":"endTime","type":"uint256","indexed":false}]},
	{"type":"event","name":"BetPlaced","inputs":[
		{"name":"predictionId","type":"uint256","indexed":true},
		{"name":"bettor","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"side","type":"uint8","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"PredictionSettled","inputs":[
		{"name":"predictionId","type":"uint256","indexed":true},
		{"name":"result","type":"uint8","indexed":false},
		{"name":"resolvedValue","type":"uint256","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"VaultCreated","inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"userId","type":"uint256","indexed":false}]},
	{"type":"event","name":"Deposited","inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"token","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"Withdrawn","inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"token","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"function","name":"getUserVault","stateMutability":"view",
		"inputs":[{"name":"user","type":"address"}],
		"outputs":[
			{"name":"bnbBalance","type":"uint256"},
			{"name":"usdtBalance","type":"uint256"},
			{"name":"totalDeposited","type":"uint256"},
			{"name":"totalWithdrawn","type":"uint256"},
			{"name":"exists","type":"bool"}]}
]`

var (
	parsedABIOnce sync.Once
	parsedABI     abi.ABI
	parsedABIErr  error
)

func contractAbi() (abi.ABI, error) {
	parsedABIOnce.Do(func() {
		parsedABI, parsedABIErr = abi.JSON(strings.NewReader(contractABI))
	})
	return parsedABI, parsedABIErr
}

// EventPayload is the decoded, typed form of a contract event. Raw log
// payloads are decoded once at the boundary into one of the variants below
// so reconcilers never touch untyped argument bags.
type EventPayload interface {
	EventName() string
}

// RawEvent carries a decoded event together with its position on chain.
// Events are ordered ascending by (BlockNumber, LogIndex).
type RawEvent struct {
	TxHash      string
	LogIndex    uint
	BlockNumber uint64
	Payload     EventPayload
}

// PredictionCreatedEvent announces a new prediction market
type PredictionCreatedEvent struct {
	PredictionID uint64
	Creator      string
	Title        string
	EntryAmount  *big.Int
	MinBet       *big.Int
	MaxBet       *big.Int
	LockTime     int64
	EndTime      int64
}

func (PredictionCreatedEvent) EventName() string { return EventPredictionCreated }

// BetPlacedEvent records a pooled bet on an open prediction
type BetPlacedEvent struct {
	PredictionID uint64
	Bettor       string
	Amount       *big.Int
	Side         string // up, down
	Timestamp    int64
}

func (BetPlacedEvent) EventName() string { return EventBetPlaced }

// PredictionSettledEvent fixes a prediction's terminal outcome
type PredictionSettledEvent struct {
	PredictionID  uint64
	Result        string // up, down, draw
	ResolvedValue *big.Int
	Timestamp     int64
}

func (PredictionSettledEvent) EventName() string { return EventPredictionSettled }

// VaultCreatedEvent provisions a user vault
type VaultCreatedEvent struct {
	User   string
	UserID uint64
}

func (VaultCreatedEvent) EventName() string { return EventVaultCreated }

// DepositedEvent records a vault deposit. Token is the zero address for
// the native coin.
type DepositedEvent struct {
	User   string
	Token  string
	Amount *big.Int
}

func (DepositedEvent) EventName() string { return EventDeposited }

// WithdrawnEvent records a vault withdrawal
type WithdrawnEvent struct {
	User   string
	Token  string
	Amount *big.Int
}

func (WithdrawnEvent) EventName() string { return EventWithdrawn }

// Contract enum encodings for bet sides and settlement results
const (
	sideUp   = 0
	sideDown = 1

	resultNone = 0
	resultUp   = 1
	resultDown = 2
	resultDraw = 3
)

func decodeSide(v uint8) (string, error) {
	switch v {
	case sideUp:
		return "up", nil
	case sideDown:
		return "down", nil
	}
	return "", fmt.Errorf("unknown bet side %d", v)
}

func decodeResult(v uint8) (string, error) {
	switch v {
	case resultNone:
		return "none", nil
	case resultUp:
		return "up", nil
	case resultDown:
		return "down", nil
	case resultDraw:
		return "draw", nil
	}
	return "", fmt.Errorf("unknown settlement result %d", v)
}

// decodeLog decodes a contract log entry into a typed event payload.
// Logs whose topic does not match a known event return (nil, nil) so the
// caller can skip foreign contract noise without failing the batch.
func decodeLog(contract abi.ABI, lg types.Log) (EventPayload, error) {
	if len(lg.Topics) == 0 {
		return nil, nil
	}

	event, err := contract.EventByID(lg.Topics[0])
	if err != nil {
		return nil, nil // unknown topic, not ours
	}

	values, err := contract.Unpack(event.Name, lg.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s data: %w", event.Name, err)
	}

	switch event.Name {
	case EventPredictionCreated:
		if len(lg.Topics) < 3 || len(values) < 6 {
			return nil, fmt.Errorf("malformed %s log", event.Name)
		}
		predictionID, err := topicUint64(lg.Topics[1])
		if err != nil {
			return nil, fmt.Errorf("malformed %s log: %w", event.Name, err)
		}
		return &PredictionCreatedEvent{
			PredictionID: predictionID,
			Creator:      topicAddress(lg.Topics[2]),
			Title:        values[0].(string),
			EntryAmount:  values[1].(*big.Int),
			MinBet:       values[2].(*big.Int),
			MaxBet:       values[3].(*big.Int),
			LockTime:     values[4].(*big.Int).Int64(),
			EndTime:      values[5].(*big.Int).Int64(),
		}, nil

	case EventBetPlaced:
		if len(lg.Topics) < 3 || len(values) < 3 {
			return nil, fmt.Errorf("malformed %s log", event.Name)
		}
		side, err := decodeSide(values[1].(uint8))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", event.Name, err)
		}
		predictionID, err := topicUint64(lg.Topics[1])
		if err != nil {
			return nil, fmt.Errorf("malformed %s log: %w", event.Name, err)
		}
		return &BetPlacedEvent{
			PredictionID: predictionID,
			Bettor:       topicAddress(lg.Topics[2]),
			Amount:       values[0].(*big.Int),
			Side:         side,
			Timestamp:    values[2].(*big.Int).Int64(),
		}, nil

	case EventPredictionSettled:
		if len(lg.Topics) < 2 || len(values) < 3 {
			return nil, fmt.Errorf("malformed %s log", event.Name)
		}
		result, err := decodeResult(values[0].(uint8))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", event.Name, err)
		}
		predictionID, err := topicUint64(lg.Topics[1])
		if err != nil {
			return nil, fmt.Errorf("malformed %s log: %w", event.Name, err)
		}
		return &PredictionSettledEvent{
			PredictionID:  predictionID,
			Result:        result,
			ResolvedValue: values[1].(*big.Int),
			Timestamp:     values[2].(*big.Int).Int64(),
		}, nil

	case EventVaultCreated:
		if len(lg.Topics) < 2 || len(values) < 1 {
			return nil, fmt.Errorf("malformed %s log", event.Name)
		}
		userID := values[0].(*big.Int)
		if !userID.IsUint64() {
			return nil, fmt.Errorf("malformed %s log: user id %s overflows uint64", event.Name, userID)
		}
		return &VaultCreatedEvent{
			User:   topicAddress(lg.Topics[1]),
			UserID: userID.Uint64(),
		}, nil

	case EventDeposited:
		if len(lg.Topics) < 3 || len(values) < 1 {
			return nil, fmt.Errorf("malformed %s log", event.Name)
		}
		return &DepositedEvent{
			User:   topicAddress(lg.Topics[1]),
			Token:  topicAddress(lg.Topics[2]),
			Amount: values[0].(*big.Int),
		}, nil

	case EventWithdrawn:
		if len(lg.Topics) < 3 || len(values) < 1 {
			return nil, fmt.Errorf("malformed %s log", event.Name)
		}
		return &WithdrawnEvent{
			User:   topicAddress(lg.Topics[1]),
			Token:  topicAddress(lg.Topics[2]),
			Amount: values[0].(*big.Int),
		}, nil
	}

	return nil, nil
}

func topicUint64(t common.Hash) (uint64, error) {
	v := new(big.Int).SetBytes(t.Bytes())
	if !v.IsUint64() {
		return 0, fmt.Errorf("topic value %s overflows uint64", v)
	}
	return v.Uint64(), nil
}

func topicAddress(t common.Hash) string {
	return common.BytesToAddress(t.Bytes()).Hex()
}
