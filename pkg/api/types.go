package api

// API request/response types for REST endpoints and WebSocket messages.
// All amounts are decimal strings in whole-token units.

// ==============================
// REST Response Types
// ==============================

// ExchangeInfo reports the deployment-time exchange parameters.
type ExchangeInfo struct {
	FeeAccount string `json:"feeAccount"`
	FeePercent uint64 `json:"feePercent"` // parts per hundred
	OrderCount uint64 `json:"orderCount"`
}

// TokenInfo describes a registered token ledger.
type TokenInfo struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	Decimals    uint8  `json:"decimals"`
	TotalSupply string `json:"totalSupply"`
}

// BalanceInfo is a custodial balance read.
type BalanceInfo struct {
	Asset   string `json:"asset"`
	User    string `json:"user"`
	Balance string `json:"balance"`
}

// OrderInfo is an order in API form.
type OrderInfo struct {
	ID         uint64 `json:"id"`
	User       string `json:"user"`
	TokenGet   string `json:"tokenGet"`
	AmountGet  string `json:"amountGet"`
	TokenGive  string `json:"tokenGive"`
	AmountGive string `json:"amountGive"`
	Timestamp  int64  `json:"timestamp"`
	Status     string `json:"status"`
}

// TradeInfo is a completed fill in API form.
type TradeInfo struct {
	ID         string `json:"id"`
	OrderID    uint64 `json:"orderId"`
	User       string `json:"user"`
	Filler     string `json:"filler"`
	TokenGet   string `json:"tokenGet"`
	AmountGet  string `json:"amountGet"`
	TokenGive  string `json:"tokenGive"`
	AmountGive string `json:"amountGive"`
	Fee        string `json:"fee"`
	Timestamp  int64  `json:"timestamp"`
}

// ErrorResponse carries the failure reason verbatim; the front end surfaces
// Message in its status banner.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ==============================
// REST Request Types
// ==============================

// EtherFundsRequest moves native currency in or out of custody.
type EtherFundsRequest struct {
	User   string `json:"user"`
	Amount string `json:"amount"`
}

// TokenFundsRequest moves a token asset in or out of custody.
type TokenFundsRequest struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// TokenApproveRequest authorizes a spender on the caller's wallet balance.
// An empty spender defaults to the exchange's custody address, which is the
// approval every deposit needs.
type TokenApproveRequest struct {
	User    string `json:"user"`
	Asset   string `json:"asset"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

// TokenTransferRequest moves wallet balance between accounts on a token
// ledger, outside exchange custody. The deployment owner uses it to hand
// tokens to traders.
type TokenTransferRequest struct {
	User   string `json:"user"`
	Asset  string `json:"asset"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// AllowanceInfo reports a wallet-level approval.
type AllowanceInfo struct {
	Asset     string `json:"asset"`
	Owner     string `json:"owner"`
	Spender   string `json:"spender"`
	Allowance string `json:"allowance"`
}

// WalletBalanceInfo is a token-ledger (non-custodial) balance read.
type WalletBalanceInfo struct {
	Asset   string `json:"asset"`
	User    string `json:"user"`
	Balance string `json:"balance"`
}

// MakeOrderRequest creates a standing order.
type MakeOrderRequest struct {
	User       string `json:"user"`
	TokenGet   string `json:"tokenGet"`
	AmountGet  string `json:"amountGet"`
	TokenGive  string `json:"tokenGive"`
	AmountGive string `json:"amountGive"`
}

// OrderActionRequest cancels or fills an existing order.
type OrderActionRequest struct {
	User string `json:"user"`
}

// ==============================
// WebSocket Types
// ==============================

// WSSubscribeRequest is the client -> server subscription message.
// Channels are event kinds: "deposit", "withdraw", "order", "cancel",
// "trade", or "events" for everything.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// WSEvent is the server -> client event envelope.
type WSEvent struct {
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}
