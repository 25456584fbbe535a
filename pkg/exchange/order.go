package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EtherAddress is the reserved sentinel for the native currency. It is the
// zero address, which real token deployments can never occupy.
var EtherAddress = common.Address{}

// OrderStatus is the lifecycle state of an order.
// Open is initial; Cancelled and Filled are terminal and mutually exclusive.
type OrderStatus uint8

const (
	OrderOpen OrderStatus = iota
	OrderCancelled
	OrderFilled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderOpen:
		return "open"
	case OrderCancelled:
		return "cancelled"
	case OrderFilled:
		return "filled"
	default:
		return "unknown"
	}
}

// Order is a standing offer by User to receive AmountGet of TokenGet in
// exchange for AmountGive of TokenGive. Immutable once created except for
// Status. Ids are sequential from 1 and never reused.
type Order struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *big.Int       `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *big.Int       `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"` // Unix seconds at creation
	Status     OrderStatus    `json:"status"`
}

// IsOpen reports whether the order can still be cancelled or filled.
func (o *Order) IsOpen() bool {
	return o.Status == OrderOpen
}

// clone returns a detached copy so callers cannot mutate stored orders.
func (o *Order) clone() *Order {
	cp := *o
	cp.AmountGet = new(big.Int).Set(o.AmountGet)
	cp.AmountGive = new(big.Int).Set(o.AmountGive)
	return &cp
}

// Trade records a completed fill for history queries.
type Trade struct {
	ID         string         `json:"id"` // uuid
	OrderID    uint64         `json:"orderId"`
	User       common.Address `json:"user"`   // order creator
	Filler     common.Address `json:"filler"` // counter-party
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *big.Int       `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *big.Int       `json:"amountGive"`
	Fee        *big.Int       `json:"fee"` // in TokenGive units
	Timestamp  int64          `json:"timestamp"`
}
