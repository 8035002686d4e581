// Package evm implements the ledger client over an EVM-compatible chain using
// go-ethereum. Historical queries go through the HTTP RPC endpoint; live
// subscriptions require the WebSocket endpoint.
package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/otcindex/internal/config"
	"github.com/alanyoungcy/otcindex/internal/domain"
	"github.com/alanyoungcy/otcindex/internal/ledger"
)

// timestampCacheSize bounds the block-header timestamp cache. Events cluster
// in recent blocks, so a small cache absorbs nearly all lookups.
const timestampCacheSize = 4096

// Client reads the OTC exchange contract on an EVM chain.
type Client struct {
	http     *ethclient.Client
	ws       *ethclient.Client
	contract common.Address
	abi      abi.ABI
	logger   *slog.Logger

	mu         sync.Mutex
	timestamps map[uint64]time.Time
}

var _ ledger.Client = (*Client)(nil)

// NewClient dials the configured endpoints. The WebSocket endpoint is dialed
// lazily only when WSURL is set, so backfill-only deployments do not need one.
func NewClient(ctx context.Context, cfg config.LedgerConfig, logger *slog.Logger) (*Client, error) {
	if !common.IsHexAddress(cfg.ContractAddress) {
		return nil, fmt.Errorf("evm: invalid contract address %q", cfg.ContractAddress)
	}

	parsed, err := parseExchangeABI()
	if err != nil {
		return nil, err
	}

	httpClient, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial rpc %s: %w", cfg.RPCURL, err)
	}

	c := &Client{
		http:       httpClient,
		contract:   common.HexToAddress(cfg.ContractAddress),
		abi:        parsed,
		logger:     logger.With(slog.String("component", "evm_client")),
		timestamps: make(map[uint64]time.Time),
	}

	if cfg.WSURL != "" {
		wsClient, err := ethclient.DialContext(ctx, cfg.WSURL)
		if err != nil {
			httpClient.Close()
			return nil, fmt.Errorf("evm: dial ws %s: %w", cfg.WSURL, err)
		}
		c.ws = wsClient
	}

	return c, nil
}

// Height returns the current chain head.
func (c *Client) Height(ctx context.Context) (uint64, error) {
	n, err := c.http.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("evm: block number: %w", err)
	}
	return n, nil
}

// QueryEvents fetches contract logs in [from, to] and decodes them in ledger
// order. Reorg-removed logs are dropped.
func (c *Client) QueryEvents(ctx context.Context, kinds []domain.EventKind, from, to uint64) ([]domain.LedgerEvent, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{c.topicsFor(kinds)},
	}

	logs, err := c.http.FilterLogs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("evm: filter logs [%d, %d]: %w", from, to, err)
	}

	events := make([]domain.LedgerEvent, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		ts, err := c.blockTime(ctx, lg.BlockNumber)
		if err != nil {
			return nil, err
		}
		ev, err := c.decodeLog(lg, ts)
		if err != nil {
			c.logger.Warn("skipping undecodable log",
				slog.String("tx_hash", lg.TxHash.Hex()),
				slog.Uint64("height", lg.BlockNumber),
				slog.String("error", err.Error()))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// Subscribe opens a live log subscription from the current head.
func (c *Client) Subscribe(ctx context.Context, kinds []domain.EventKind) (ledger.Subscription, error) {
	if c.ws == nil {
		return nil, fmt.Errorf("evm: subscribe requires a websocket endpoint")
	}

	q := ethereum.FilterQuery{
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{c.topicsFor(kinds)},
	}

	logs := make(chan types.Log, 256)
	sub, err := c.ws.SubscribeFilterLogs(ctx, q, logs)
	if err != nil {
		return nil, fmt.Errorf("evm: subscribe filter logs: %w", err)
	}

	s := &subscription{
		events: make(chan domain.LedgerEvent, 256),
		errs:   make(chan error, 1),
		quit:   make(chan struct{}),
	}
	go c.pump(ctx, sub, logs, s)
	return s, nil
}

// pump translates raw logs into domain events until the upstream subscription
// breaks or the consumer unsubscribes.
func (c *Client) pump(ctx context.Context, sub ethereum.Subscription, logs <-chan types.Log, s *subscription) {
	defer sub.Unsubscribe()
	defer close(s.events)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.quit:
			return
		case err := <-sub.Err():
			if err != nil {
				s.errs <- fmt.Errorf("evm: subscription broken: %w", err)
			}
			return
		case lg := <-logs:
			if lg.Removed {
				continue
			}
			ts, err := c.blockTime(ctx, lg.BlockNumber)
			if err != nil {
				s.errs <- err
				return
			}
			ev, err := c.decodeLog(lg, ts)
			if err != nil {
				c.logger.Warn("skipping undecodable log",
					slog.String("tx_hash", lg.TxHash.Hex()),
					slog.String("error", err.Error()))
				continue
			}
			select {
			case s.events <- ev:
			case <-s.quit:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// QueryDetail calls the contract's getOrder view function.
func (c *Client) QueryDetail(ctx context.Context, orderID string) (domain.OrderDetail, error) {
	id, ok := new(big.Int).SetString(orderID, 10)
	if !ok {
		return domain.OrderDetail{}, fmt.Errorf("evm: invalid order id %q", orderID)
	}

	input, err := c.abi.Pack("getOrder", id)
	if err != nil {
		return domain.OrderDetail{}, fmt.Errorf("evm: pack getOrder: %w", err)
	}

	raw, err := c.http.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: input}, nil)
	if err != nil {
		return domain.OrderDetail{}, fmt.Errorf("evm: call getOrder(%s): %w", orderID, err)
	}

	out := map[string]any{}
	if err := c.abi.UnpackIntoMap(out, "getOrder", raw); err != nil {
		return domain.OrderDetail{}, fmt.Errorf("evm: unpack getOrder(%s): %w", orderID, err)
	}

	side, err := sideFromCode(out["side"].(uint8))
	if err != nil {
		return domain.OrderDetail{}, err
	}
	status, err := statusFromCode(out["status"].(uint8))
	if err != nil {
		return domain.OrderDetail{}, err
	}

	return domain.OrderDetail{
		OrderID:     orderID,
		Owner:       out["owner"].(common.Address).Hex(),
		Side:        side,
		TotalAmount: out["totalAmount"].(*big.Int),
		Filled:      out["filled"].(*big.Int),
		UnitPrice:   out["unitPrice"].(*big.Int),
		Fee:         out["fee"].(*big.Int),
		Status:      status,
		ExpiresAt:   time.Unix(int64(out["expiresAt"].(uint64)), 0).UTC(),
	}, nil
}

// Close releases both RPC connections.
func (c *Client) Close() {
	c.http.Close()
	if c.ws != nil {
		c.ws.Close()
	}
}

// blockTime resolves a block's timestamp, memoizing header lookups.
func (c *Client) blockTime(ctx context.Context, height uint64) (time.Time, error) {
	c.mu.Lock()
	if ts, ok := c.timestamps[height]; ok {
		c.mu.Unlock()
		return ts, nil
	}
	c.mu.Unlock()

	header, err := c.http.HeaderByNumber(ctx, new(big.Int).SetUint64(height))
	if err != nil {
		return time.Time{}, fmt.Errorf("evm: header %d: %w", height, err)
	}
	ts := time.Unix(int64(header.Time), 0).UTC()

	c.mu.Lock()
	if len(c.timestamps) >= timestampCacheSize {
		c.timestamps = make(map[uint64]time.Time)
	}
	c.timestamps[height] = ts
	c.mu.Unlock()

	return ts, nil
}

// subscription adapts a go-ethereum log subscription to the ledger interface.
type subscription struct {
	events chan domain.LedgerEvent
	errs   chan error
	once   sync.Once
	quit   chan struct{}
}

func (s *subscription) Events() <-chan domain.LedgerEvent { return s.events }
func (s *subscription) Err() <-chan error                 { return s.errs }

func (s *subscription) Unsubscribe() {
	s.once.Do(func() { close(s.quit) })
}
