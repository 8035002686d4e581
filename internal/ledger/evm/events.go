package evm

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/otcindex/internal/domain"
)

// exchangeABIJSON is the event and query surface of the OTC exchange
// contract. Only the pieces the indexer consumes are declared.
const exchangeABIJSON = `[
  {"type":"event","name":"OrderCreated","inputs":[
    {"name":"orderId","type":"uint256","indexed":true},
    {"name":"owner","type":"address","indexed":true},
    {"name":"side","type":"uint8","indexed":false},
    {"name":"totalAmount","type":"uint256","indexed":false},
    {"name":"unitPrice","type":"uint256","indexed":false},
    {"name":"fee","type":"uint256","indexed":false},
    {"name":"expiresAt","type":"uint64","indexed":false}]},
  {"type":"event","name":"OrderFilled","inputs":[
    {"name":"orderId","type":"uint256","indexed":true},
    {"name":"filler","type":"address","indexed":true},
    {"name":"fillSequence","type":"uint64","indexed":false},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"counterpartyAmount","type":"uint256","indexed":false},
    {"name":"newStatus","type":"uint8","indexed":false}]},
  {"type":"event","name":"OrderCancelled","inputs":[
    {"name":"orderId","type":"uint256","indexed":true}]},
  {"type":"event","name":"WithdrawalClaimed","inputs":[
    {"name":"user","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false},
    {"name":"kind","type":"uint8","indexed":false}]},
  {"type":"function","name":"getOrder","stateMutability":"view","inputs":[
    {"name":"orderId","type":"uint256"}],
   "outputs":[
    {"name":"owner","type":"address"},
    {"name":"side","type":"uint8"},
    {"name":"totalAmount","type":"uint256"},
    {"name":"filled","type":"uint256"},
    {"name":"remaining","type":"uint256"},
    {"name":"unitPrice","type":"uint256"},
    {"name":"fee","type":"uint256"},
    {"name":"status","type":"uint8"},
    {"name":"createdAt","type":"uint64"},
    {"name":"expiresAt","type":"uint64"}]}
]`

// eventNames maps the domain event kinds onto the contract's event names.
var eventNames = map[domain.EventKind]string{
	domain.EventOrderCreated:      "OrderCreated",
	domain.EventOrderFilled:       "OrderFilled",
	domain.EventOrderCancelled:    "OrderCancelled",
	domain.EventWithdrawalClaimed: "WithdrawalClaimed",
}

func parseExchangeABI() (abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(exchangeABIJSON))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("evm: parse contract abi: %w", err)
	}
	return parsed, nil
}

// topicsFor returns the event signature topics for the requested kinds. An
// empty kinds slice expands to every known kind.
func (c *Client) topicsFor(kinds []domain.EventKind) []common.Hash {
	if len(kinds) == 0 {
		kinds = domain.AllEventKinds
	}
	topics := make([]common.Hash, 0, len(kinds))
	for _, k := range kinds {
		if name, ok := eventNames[k]; ok {
			topics = append(topics, c.abi.Events[name].ID)
		}
	}
	return topics
}

// sideFromCode maps the contract's uint8 side onto the domain enum.
func sideFromCode(code uint8) (domain.OrderSide, error) {
	switch code {
	case 0:
		return domain.OrderSideBuy, nil
	case 1:
		return domain.OrderSideSell, nil
	default:
		return "", fmt.Errorf("evm: unknown order side code %d: %w", code, domain.ErrInvalidEvent)
	}
}

// statusFromCode maps the contract's uint8 status onto the domain enum. The
// value is trusted as-is; the indexer never recomputes status locally.
func statusFromCode(code uint8) (domain.OrderStatus, error) {
	switch code {
	case 0:
		return domain.OrderStatusActive, nil
	case 1:
		return domain.OrderStatusPartiallyFilled, nil
	case 2:
		return domain.OrderStatusFilled, nil
	case 3:
		return domain.OrderStatusCancelled, nil
	case 4:
		return domain.OrderStatusExpired, nil
	default:
		return "", fmt.Errorf("evm: unknown order status code %d: %w", code, domain.ErrInvalidEvent)
	}
}

func withdrawalKindFromCode(code uint8) (domain.WithdrawalKind, error) {
	switch code {
	case 0:
		return domain.WithdrawalKindProceeds, nil
	case 1:
		return domain.WithdrawalKindRefund, nil
	default:
		return "", fmt.Errorf("evm: unknown withdrawal kind code %d: %w", code, domain.ErrInvalidEvent)
	}
}

// decodeLog translates one contract log into a domain event. The block
// timestamp is resolved by the caller, which caches header lookups.
func (c *Client) decodeLog(lg types.Log, ts time.Time) (domain.LedgerEvent, error) {
	if len(lg.Topics) == 0 {
		return domain.LedgerEvent{}, fmt.Errorf("evm: log without topics: %w", domain.ErrInvalidEvent)
	}

	ev, err := c.abi.EventByID(lg.Topics[0])
	if err != nil {
		return domain.LedgerEvent{}, fmt.Errorf("evm: unknown event topic %s: %w", lg.Topics[0], domain.ErrInvalidEvent)
	}

	out := domain.LedgerEvent{
		BlockHeight: lg.BlockNumber,
		TxHash:      lg.TxHash.Hex(),
		Timestamp:   ts,
	}

	data := map[string]any{}
	if err := c.abi.UnpackIntoMap(data, ev.Name, lg.Data); err != nil {
		return domain.LedgerEvent{}, fmt.Errorf("evm: unpack %s data: %w", ev.Name, err)
	}

	switch ev.Name {
	case "OrderCreated":
		if len(lg.Topics) < 3 {
			return domain.LedgerEvent{}, fmt.Errorf("evm: OrderCreated missing indexed topics: %w", domain.ErrInvalidEvent)
		}
		side, err := sideFromCode(data["side"].(uint8))
		if err != nil {
			return domain.LedgerEvent{}, err
		}
		out.Kind = domain.EventOrderCreated
		out.Created = &domain.OrderCreatedPayload{
			OrderID:     new(big.Int).SetBytes(lg.Topics[1].Bytes()).String(),
			Owner:       common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
			Side:        side,
			TotalAmount: data["totalAmount"].(*big.Int),
			UnitPrice:   data["unitPrice"].(*big.Int),
			Fee:         data["fee"].(*big.Int),
			ExpiresAt:   time.Unix(int64(data["expiresAt"].(uint64)), 0).UTC(),
		}

	case "OrderFilled":
		if len(lg.Topics) < 3 {
			return domain.LedgerEvent{}, fmt.Errorf("evm: OrderFilled missing indexed topics: %w", domain.ErrInvalidEvent)
		}
		status, err := statusFromCode(data["newStatus"].(uint8))
		if err != nil {
			return domain.LedgerEvent{}, err
		}
		out.Kind = domain.EventOrderFilled
		out.Filled = &domain.OrderFilledPayload{
			OrderID:            new(big.Int).SetBytes(lg.Topics[1].Bytes()).String(),
			Filler:             common.BytesToAddress(lg.Topics[2].Bytes()).Hex(),
			FillSequence:       data["fillSequence"].(uint64),
			Amount:             data["amount"].(*big.Int),
			CounterpartyAmount: data["counterpartyAmount"].(*big.Int),
			NewStatus:          status,
		}

	case "OrderCancelled":
		if len(lg.Topics) < 2 {
			return domain.LedgerEvent{}, fmt.Errorf("evm: OrderCancelled missing indexed topic: %w", domain.ErrInvalidEvent)
		}
		out.Kind = domain.EventOrderCancelled
		out.Cancelled = &domain.OrderCancelledPayload{
			OrderID: new(big.Int).SetBytes(lg.Topics[1].Bytes()).String(),
		}

	case "WithdrawalClaimed":
		if len(lg.Topics) < 2 {
			return domain.LedgerEvent{}, fmt.Errorf("evm: WithdrawalClaimed missing indexed topic: %w", domain.ErrInvalidEvent)
		}
		kind, err := withdrawalKindFromCode(data["kind"].(uint8))
		if err != nil {
			return domain.LedgerEvent{}, err
		}
		out.Kind = domain.EventWithdrawalClaimed
		out.Withdrawal = &domain.WithdrawalClaimedPayload{
			User:   common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
			Amount: data["amount"].(*big.Int),
			Kind:   kind,
		}

	default:
		return domain.LedgerEvent{}, fmt.Errorf("evm: unhandled event %s: %w", ev.Name, domain.ErrInvalidEvent)
	}

	if err := out.Validate(); err != nil {
		return domain.LedgerEvent{}, err
	}
	return out, nil
}
