package blockchain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"prediction-ledger/internal/config"
)

// ChainUnavailableError is returned when the RPC endpoint keeps failing
// after the bounded retry budget is exhausted. Operations failing with it
// are safe to retry later: every mutation downstream is idempotent.
type ChainUnavailableError struct {
	Attempts int
	Err      error
}

func (e *ChainUnavailableError) Error() string {
	return fmt.Sprintf("chain unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ChainUnavailableError) Unwrap() error {
	return e.Err
}

// VaultState is the authoritative on-chain vault snapshot returned by the
// contract's getUserVault view, in integer base units
type VaultState struct {
	BNBBalance     *big.Int
	USDTBalance    *big.Int
	TotalDeposited *big.Int
	TotalWithdrawn *big.Int
	Exists         bool
}

// Client handles BNB-chain interactions with the prediction vault contract.
// It owns a single long-lived RPC connection; main opens it at startup and
// closes it at shutdown.
type Client struct {
	eth            *ethclient.Client
	contract       common.Address
	requestTimeout time.Duration
	maxRetries     int
	retryBackoff   time.Duration
	maxBlockWindow uint64
	logger         *zap.Logger
}

// NewClient dials the RPC endpoint and prepares the contract bindings
func NewClient(cfg config.ChainConfig, logger *zap.Logger) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address: %s", cfg.ContractAddress)
	}

	if _, err := contractAbi(); err != nil {
		return nil, fmt.Errorf("failed to parse contract ABI: %w", err)
	}

	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain RPC %s: %w", cfg.RPCURL, err)
	}

	return &Client{
		eth:            eth,
		contract:       common.HexToAddress(cfg.ContractAddress),
		requestTimeout: cfg.RequestTimeout,
		maxRetries:     cfg.MaxRetries,
		retryBackoff:   cfg.RetryBackoff,
		maxBlockWindow: cfg.MaxBlockWindow,
		logger:         logger,
	}, nil
}

// Close releases the RPC connection
func (c *Client) Close() {
	c.eth.Close()
}

// ValidateAddress reports whether s is a well-formed hex address
func ValidateAddress(s string) bool {
	return common.IsHexAddress(s)
}

// NormalizeAddress returns the EIP-55 checksummed form of an address so
// lookups never depend on the caller's casing
func NormalizeAddress(s string) string {
	return common.HexToAddress(s).Hex()
}

// ZeroAddress is the native-coin token marker in Deposited/Withdrawn events
var ZeroAddress = common.Address{}.Hex()

// LatestBlock returns the current chain head block number
func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.withRetry(ctx, "eth_blockNumber", func(ctx context.Context) error {
		var err error
		head, err = c.eth.BlockNumber(ctx)
		return err
	})
	return head, err
}

// CapRange bounds a block range to the configured lookback window so a
// single scan stays bounded in cost. Returns the effective (from, to).
func (c *Client) CapRange(fromBlock, toBlock uint64) (uint64, uint64) {
	if toBlock < fromBlock {
		return fromBlock, fromBlock
	}
	if c.maxBlockWindow > 0 && toBlock-fromBlock+1 > c.maxBlockWindow {
		toBlock = fromBlock + c.maxBlockWindow - 1
	}
	return fromBlock, toBlock
}

// FetchEvents fetches decoded logs for a single named event type within a
// block range, ordered ascending by (blockNumber, logIndex)
func (c *Client) FetchEvents(ctx context.Context, eventName string, fromBlock, toBlock uint64) ([]RawEvent, error) {
	contract, err := contractAbi()
	if err != nil {
		return nil, err
	}

	event, ok := contract.Events[eventName]
	if !ok {
		return nil, fmt.Errorf("unknown event name: %s", eventName)
	}

	return c.fetchLogs(ctx, [][]common.Hash{{event.ID}}, fromBlock, toBlock)
}

// FetchAllEvents fetches every contract event the engine consumes within a
// block range, ordered ascending by (blockNumber, logIndex)
func (c *Client) FetchAllEvents(ctx context.Context, fromBlock, toBlock uint64) ([]RawEvent, error) {
	contract, err := contractAbi()
	if err != nil {
		return nil, err
	}

	topics := make([]common.Hash, 0, len(contract.Events))
	for _, event := range contract.Events {
		topics = append(topics, event.ID)
	}

	return c.fetchLogs(ctx, [][]common.Hash{topics}, fromBlock, toBlock)
}

func (c *Client) fetchLogs(ctx context.Context, topics [][]common.Hash, fromBlock, toBlock uint64) ([]RawEvent, error) {
	fromBlock, toBlock = c.CapRange(fromBlock, toBlock)

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{c.contract},
		Topics:    topics,
	}

	var logs []types.Log
	err := c.withRetry(ctx, "eth_getLogs", func(ctx context.Context) error {
		var err error
		logs, err = c.eth.FilterLogs(ctx, query)
		return err
	})
	if err != nil {
		return nil, err
	}

	// The node returns logs in block order already; sort anyway so the
	// (blockNumber, logIndex) ordering guarantee never depends on the RPC
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	contract, err := contractAbi()
	if err != nil {
		return nil, err
	}

	events := make([]RawEvent, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		payload, err := decodeLog(contract, lg)
		if err != nil {
			c.logger.Warn("skipping undecodable log",
				zap.String("tx_hash", lg.TxHash.Hex()),
				zap.Uint64("block", lg.BlockNumber),
				zap.Error(err))
			continue
		}
		if payload == nil {
			continue
		}
		events = append(events, RawEvent{
			TxHash:      lg.TxHash.Hex(),
			LogIndex:    lg.Index,
			BlockNumber: lg.BlockNumber,
			Payload:     payload,
		})
	}

	return events, nil
}

// GetUserVault calls the contract's getUserVault view for an address
func (c *Client) GetUserVault(ctx context.Context, address string) (*VaultState, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid vault address: %s", address)
	}

	contract, err := contractAbi()
	if err != nil {
		return nil, err
	}

	input, err := contract.Pack("getUserVault", common.HexToAddress(address))
	if err != nil {
		return nil, fmt.Errorf("failed to pack getUserVault call: %w", err)
	}

	var output []byte
	err = c.withRetry(ctx, "eth_call", func(ctx context.Context) error {
		var err error
		output, err = c.eth.CallContract(ctx, ethereum.CallMsg{
			To:   &c.contract,
			Data: input,
		}, nil)
		return err
	})
	if err != nil {
		return nil, err
	}

	values, err := contract.Unpack("getUserVault", output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack getUserVault result: %w", err)
	}
	if len(values) < 5 {
		return nil, fmt.Errorf("unexpected getUserVault result arity: %d", len(values))
	}

	return &VaultState{
		BNBBalance:     values[0].(*big.Int),
		USDTBalance:    values[1].(*big.Int),
		TotalDeposited: values[2].(*big.Int),
		TotalWithdrawn: values[3].(*big.Int),
		Exists:         values[4].(bool),
	}, nil
}

// withRetry runs an RPC call with bounded retries and exponential backoff.
// Exhausting the budget surfaces as ChainUnavailableError.
func (c *Client) withRetry(ctx context.Context, method string, call func(context.Context) error) error {
	attempts := c.maxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	backoff := c.retryBackoff
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
		err := call(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < attempts {
			c.logger.Debug("chain RPC call failed, retrying",
				zap.String("method", method),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err))

			select {
			case <-ctx.Done():
				return &ChainUnavailableError{Attempts: attempt, Err: ctx.Err()}
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}

	return &ChainUnavailableError{Attempts: attempts, Err: lastErr}
}
