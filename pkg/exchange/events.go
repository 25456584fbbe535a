package exchange

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

// Each state-changing operation emits exactly one event, after its effects
// have committed. Events flow through an event.FeedOf[Event], which carries
// mixed concrete types behind the interface; SubscribeEvents returns a
// cancellable subscription, so there are no ambient listeners.

// Event is implemented by all exchange notifications.
type Event interface {
	Kind() string
}

// DepositEvent reports a credit to a custodial balance.
type DepositEvent struct {
	Token   common.Address `json:"token"`
	User    common.Address `json:"user"`
	Amount  *big.Int       `json:"amount"`
	Balance *big.Int       `json:"balance"` // new custodial balance
}

// WithdrawEvent reports a debit from a custodial balance.
type WithdrawEvent struct {
	Token   common.Address `json:"token"`
	User    common.Address `json:"user"`
	Amount  *big.Int       `json:"amount"`
	Balance *big.Int       `json:"balance"`
}

// OrderEvent reports a newly created order.
type OrderEvent struct {
	ID         uint64         `json:"id"`
	User       common.Address `json:"user"`
	TokenGet   common.Address `json:"tokenGet"`
	AmountGet  *big.Int       `json:"amountGet"`
	TokenGive  common.Address `json:"tokenGive"`
	AmountGive *big.Int       `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"`
}

// CancelEvent reports an order cancelled by its creator.
type CancelEvent struct {
	ID        uint64         `json:"id"`
	User      common.Address `json:"user"`
	Timestamp int64          `json:"timestamp"`
}

// TradeEvent reports a filled order with both legs settled.
type TradeEvent struct {
	ID         uint64         `json:"id"` // order id
	User       common.Address `json:"user"`
	Filler     common.Address `json:"filler"`
	AmountGet  *big.Int       `json:"amountGet"`
	AmountGive *big.Int       `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"`
}

func (DepositEvent) Kind() string  { return "deposit" }
func (WithdrawEvent) Kind() string { return "withdraw" }
func (OrderEvent) Kind() string    { return "order" }
func (CancelEvent) Kind() string   { return "cancel" }
func (TradeEvent) Kind() string    { return "trade" }

// SubscribeEvents delivers every subsequent exchange event to ch until the
// subscription is unsubscribed.
func (x *Exchange) SubscribeEvents(ch chan<- Event) event.Subscription {
	return x.feed.Subscribe(ch)
}
