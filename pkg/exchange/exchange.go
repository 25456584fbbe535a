package exchange

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leeplabs/leepdex/pkg/util"
)

// TokenLedger is the exchange's view of an external fungible token contract.
// Callers are explicit since there is no ambient message sender; the exchange
// passes its own custody address as the caller.
type TokenLedger interface {
	BalanceOf(user common.Address) *big.Int
	Allowance(owner, spender common.Address) *big.Int
	Transfer(caller, to common.Address, amount *big.Int) error
	TransferFrom(caller, from, to common.Address, amount *big.Int) error
}

// TokenResolver resolves an asset address to its token ledger.
type TokenResolver interface {
	Token(asset common.Address) (TokenLedger, error)
}

// ResolverFunc adapts a lookup function to the TokenResolver interface.
type ResolverFunc func(asset common.Address) (TokenLedger, error)

func (f ResolverFunc) Token(asset common.Address) (TokenLedger, error) { return f(asset) }

// Config carries the deployment-time parameters of an exchange. FeeAccount
// and FeePercent are fixed for the life of the instance; changing fee policy
// means deploying a new exchange.
type Config struct {
	Address    common.Address // custody address the exchange uses on token ledgers
	FeeAccount common.Address
	FeePercent uint64 // parts per hundred, integer only

	// AllowSelfFill lets an order's creator act as its own counter-party.
	// The source contract never forbade it, so it defaults to true; set
	// false to reject self-fills.
	AllowSelfFill bool

	Tokens TokenResolver
	Store  *Store // optional; nil keeps state in memory only
	Clock  util.Clock
	Logger *zap.SugaredLogger
}

// Exchange owns the custodial balance table and the order table. All
// state-changing operations are serialized behind one mutex and are atomic:
// either every effect applies (memory and store) or none do.
type Exchange struct {
	mu sync.Mutex

	address       common.Address
	feeAccount    common.Address
	feePercent    uint64
	allowSelfFill bool

	tokens TokenResolver
	ledger *Ledger
	orders map[uint64]*Order
	trades []*Trade // in-memory history when no store is attached

	orderCount uint64

	store *Store
	clock util.Clock
	log   *zap.SugaredLogger
	feed  event.FeedOf[Event]
}

// New builds an exchange from config, replaying persisted state when a store
// is attached.
func New(cfg Config) (*Exchange, error) {
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token resolver is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}

	x := &Exchange{
		address:       cfg.Address,
		feeAccount:    cfg.FeeAccount,
		feePercent:    cfg.FeePercent,
		allowSelfFill: cfg.AllowSelfFill,
		tokens:        cfg.Tokens,
		ledger:        NewLedger(),
		orders:        make(map[uint64]*Order),
		store:         cfg.Store,
		clock:         cfg.Clock,
		log:           cfg.Logger,
	}

	if x.store != nil {
		ledger, orders, count, err := x.store.LoadState()
		if err != nil {
			return nil, fmt.Errorf("replay state: %w", err)
		}
		x.ledger = ledger
		x.orders = orders
		x.orderCount = count
		x.log.Infow("exchange_state_replayed",
			"orders", len(orders), "order_count", count)
	}

	return x, nil
}

// Address returns the exchange's custody address on token ledgers.
func (x *Exchange) Address() common.Address { return x.address }

// FeeAccount returns the account credited with fill fees.
func (x *Exchange) FeeAccount() common.Address { return x.feeAccount }

// FeePercent returns the integer divisor-100 fee rate.
func (x *Exchange) FeePercent() uint64 { return x.feePercent }

// OrderCount returns the id of the most recently created order.
func (x *Exchange) OrderCount() uint64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.orderCount
}

// Order returns a copy of the order with the given id.
func (x *Exchange) Order(id uint64) (*Order, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	o, ok := x.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	return o.clone(), nil
}

// Orders returns copies of all orders in id sequence.
func (x *Exchange) Orders() []*Order {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]*Order, 0, len(x.orders))
	for _, o := range x.orders {
		out = append(out, o.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Tokens reads the custodial balance table, mirroring the contract's
// tokens(asset, user) accessor.
func (x *Exchange) Tokens(asset, user common.Address) *big.Int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.ledger.Balance(asset, user)
}

// BalanceOf is an alias read of the balance table.
func (x *Exchange) BalanceOf(asset, user common.Address) *big.Int {
	return x.Tokens(asset, user)
}

// Trades returns recent fills, newest first.
func (x *Exchange) Trades(limit int) ([]*Trade, error) {
	if x.store != nil {
		return x.store.RecentTrades(limit)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	n := len(x.trades)
	var out []*Trade
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, x.trades[i])
	}
	return out, nil
}

// DepositEther credits the caller's native-currency custodial balance with
// the attached amount. Returns the new balance.
func (x *Exchange) DepositEther(user common.Address, amount *big.Int) (*big.Int, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	newBal := new(big.Int).Add(x.ledger.Balance(EtherAddress, user), amount)
	newVault := new(big.Int).Add(x.ledger.Vault(), amount)
	if err := x.persist(func(b *Batch) error {
		if err := b.SetBalance(EtherAddress, user, newBal); err != nil {
			return err
		}
		return b.SetVault(newVault)
	}); err != nil {
		return nil, err
	}
	x.ledger.Credit(EtherAddress, user, amount)
	x.ledger.CreditVault(amount)

	x.log.Infow("deposit", "token", "ether", "user", user.Hex(), "amount", amount.String())
	x.emit(DepositEvent{Token: EtherAddress, User: user, Amount: amount, Balance: newBal})
	return newBal, nil
}

// DepositToken pulls amount of asset from the caller through the token
// ledger's authorized transfer and credits their custodial balance. The
// caller must have pre-approved the exchange address for at least amount.
func (x *Exchange) DepositToken(user, asset common.Address, amount *big.Int) (*big.Int, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	if asset == EtherAddress {
		return nil, fmt.Errorf("%w: use DepositEther", ErrInvalidAsset)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	tok, err := x.tokens.Token(asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Hex())
	}
	allowance := tok.Allowance(user, x.address)
	if allowance.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: approved %s, need %s",
			ErrInsufficientAllowance, allowance, amount)
	}
	if err := tok.TransferFrom(x.address, user, x.address, amount); err != nil {
		return nil, fmt.Errorf("token pull failed: %w", err)
	}

	newBal := new(big.Int).Add(x.ledger.Balance(asset, user), amount)
	if err := x.persist(func(b *Batch) error {
		return b.SetBalance(asset, user, newBal)
	}); err != nil {
		// Return the pulled funds so the failed call leaves no trace.
		if rerr := tok.Transfer(x.address, user, amount); rerr != nil {
			x.log.Errorw("deposit_unwind_failed", "asset", asset.Hex(), "user", user.Hex(), "err", rerr)
		}
		return nil, err
	}
	x.ledger.Credit(asset, user, amount)

	x.log.Infow("deposit", "token", asset.Hex(), "user", user.Hex(), "amount", amount.String())
	x.emit(DepositEvent{Token: asset, User: user, Amount: amount, Balance: newBal})
	return newBal, nil
}

// WithdrawEther debits the caller's native-currency custodial balance and
// pays the amount back out of the vault.
func (x *Exchange) WithdrawEther(user common.Address, amount *big.Int) (*big.Int, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	cur := x.ledger.Balance(EtherAddress, user)
	if cur.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, cur, amount)
	}

	newBal := new(big.Int).Sub(cur, amount)
	newVault := new(big.Int).Sub(x.ledger.Vault(), amount)
	if err := x.persist(func(b *Batch) error {
		if err := b.SetBalance(EtherAddress, user, newBal); err != nil {
			return err
		}
		return b.SetVault(newVault)
	}); err != nil {
		return nil, err
	}
	if _, err := x.ledger.Debit(EtherAddress, user, amount); err != nil {
		return nil, err
	}
	if err := x.ledger.DebitVault(amount); err != nil {
		return nil, err
	}

	x.log.Infow("withdraw", "token", "ether", "user", user.Hex(), "amount", amount.String())
	x.emit(WithdrawEvent{Token: EtherAddress, User: user, Amount: amount, Balance: newBal})
	return newBal, nil
}

// WithdrawToken debits the caller's custodial token balance and transfers the
// amount back through the token ledger.
func (x *Exchange) WithdrawToken(user, asset common.Address, amount *big.Int) (*big.Int, error) {
	if err := checkAmount(amount); err != nil {
		return nil, err
	}
	if asset == EtherAddress {
		return nil, fmt.Errorf("%w: use WithdrawEther", ErrInvalidAsset)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	tok, err := x.tokens.Token(asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Hex())
	}

	cur := x.ledger.Balance(asset, user)
	if cur.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, cur, amount)
	}

	newBal := new(big.Int).Sub(cur, amount)
	if err := x.persist(func(b *Batch) error {
		return b.SetBalance(asset, user, newBal)
	}); err != nil {
		return nil, err
	}
	if _, err := x.ledger.Debit(asset, user, amount); err != nil {
		return nil, err
	}

	if err := tok.Transfer(x.address, user, amount); err != nil {
		// Pay-out failed: restore the custodial balance so the call aborts
		// with no net effect.
		x.ledger.Credit(asset, user, amount)
		if perr := x.persist(func(b *Batch) error {
			return b.SetBalance(asset, user, cur)
		}); perr != nil {
			x.log.Errorw("withdraw_unwind_failed", "asset", asset.Hex(), "user", user.Hex(), "err", perr)
		}
		return nil, fmt.Errorf("token payout failed: %w", err)
	}

	x.log.Infow("withdraw", "token", asset.Hex(), "user", user.Hex(), "amount", amount.String())
	x.emit(WithdrawEvent{Token: asset, User: user, Amount: amount, Balance: newBal})
	return newBal, nil
}

// MakeOrder records a standing offer. Ids start at 1 and increase by one per
// order. The creator's balance is not checked or reserved here; sufficiency
// is enforced at fill time.
func (x *Exchange) MakeOrder(user, tokenGet common.Address, amountGet *big.Int, tokenGive common.Address, amountGive *big.Int) (*Order, error) {
	if err := checkAmount(amountGet); err != nil {
		return nil, fmt.Errorf("amountGet: %w", err)
	}
	if err := checkAmount(amountGive); err != nil {
		return nil, fmt.Errorf("amountGive: %w", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	o := &Order{
		ID:         x.orderCount + 1,
		User:       user,
		TokenGet:   tokenGet,
		AmountGet:  new(big.Int).Set(amountGet),
		TokenGive:  tokenGive,
		AmountGive: new(big.Int).Set(amountGive),
		Timestamp:  x.clock.Now().Unix(),
		Status:     OrderOpen,
	}

	if err := x.persist(func(b *Batch) error {
		if err := b.PutOrder(o); err != nil {
			return err
		}
		return b.SetOrderCount(o.ID)
	}); err != nil {
		return nil, err
	}
	x.orders[o.ID] = o
	x.orderCount = o.ID

	x.log.Infow("order_created", "id", o.ID, "user", user.Hex(),
		"token_get", tokenGet.Hex(), "amount_get", amountGet.String(),
		"token_give", tokenGive.Hex(), "amount_give", amountGive.String())
	x.emit(OrderEvent{
		ID: o.ID, User: o.User,
		TokenGet: o.TokenGet, AmountGet: o.AmountGet,
		TokenGive: o.TokenGive, AmountGive: o.AmountGive,
		Timestamp: o.Timestamp,
	})
	return o.clone(), nil
}

// CancelOrder terminates an open order. Only the creator may cancel, and only
// while the order is open; the transition is permanent.
func (x *Exchange) CancelOrder(user common.Address, id uint64) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	o, ok := x.orders[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	if o.User != user {
		return fmt.Errorf("%w: order %d belongs to %s", ErrNotAuthorized, id, o.User.Hex())
	}
	if !o.IsOpen() {
		return fmt.Errorf("%w: order %d is %s", ErrOrderClosed, id, o.Status)
	}

	cancelled := o.clone()
	cancelled.Status = OrderCancelled
	if err := x.persist(func(b *Batch) error {
		return b.PutOrder(cancelled)
	}); err != nil {
		return err
	}
	o.Status = OrderCancelled

	ts := x.clock.Now().Unix()
	x.log.Infow("order_cancelled", "id", id, "user", user.Hex())
	x.emit(CancelEvent{ID: id, User: user, Timestamp: ts})
	return nil
}

// FillOrder executes an open order against the filler's custodial balances.
// The filler pays amountGet in tokenGet to the creator; the creator pays
// amountGive in tokenGive, of which the fee goes to the fee account and the
// rest to the filler. All five balance mutations and the status change apply
// atomically.
func (x *Exchange) FillOrder(filler common.Address, id uint64) (*Trade, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	o, ok := x.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	if !o.IsOpen() {
		return nil, fmt.Errorf("%w: order %d is %s", ErrOrderClosed, id, o.Status)
	}
	if !x.allowSelfFill && filler == o.User {
		return nil, fmt.Errorf("%w: order %d", ErrSelfFill, id)
	}

	fee := x.feeFor(o.AmountGive)
	proceeds := new(big.Int).Sub(o.AmountGive, fee)

	// Stage every balance move against a pre-call snapshot; nothing is
	// observable until the batch commits.
	st := newStage(x.ledger)
	if err := st.debit(o.TokenGet, filler, o.AmountGet); err != nil {
		return nil, fmt.Errorf("filler cannot cover requested amount: %w", err)
	}
	st.credit(o.TokenGet, o.User, o.AmountGet)
	if err := st.debit(o.TokenGive, o.User, o.AmountGive); err != nil {
		return nil, fmt.Errorf("creator cannot cover offered amount: %w", err)
	}
	st.credit(o.TokenGive, filler, proceeds)
	st.credit(o.TokenGive, x.feeAccount, fee)

	filled := o.clone()
	filled.Status = OrderFilled

	trade := &Trade{
		ID:         uuid.NewString(),
		OrderID:    o.ID,
		User:       o.User,
		Filler:     filler,
		TokenGet:   o.TokenGet,
		AmountGet:  new(big.Int).Set(o.AmountGet),
		TokenGive:  o.TokenGive,
		AmountGive: new(big.Int).Set(o.AmountGive),
		Fee:        fee,
		Timestamp:  x.clock.Now().Unix(),
	}

	if err := x.persist(func(b *Batch) error {
		if err := st.stagePersist(b); err != nil {
			return err
		}
		if err := b.PutOrder(filled); err != nil {
			return err
		}
		return b.PutTrade(trade)
	}); err != nil {
		return nil, err
	}
	st.apply(x.ledger)
	o.Status = OrderFilled
	if x.store == nil {
		x.trades = append(x.trades, trade)
	}

	x.log.Infow("order_filled", "id", id, "user", o.User.Hex(), "filler", filler.Hex(),
		"fee", fee.String())
	x.emit(TradeEvent{
		ID: o.ID, User: o.User, Filler: filler,
		AmountGet: trade.AmountGet, AmountGive: trade.AmountGive,
		Timestamp: trade.Timestamp,
	})
	return trade, nil
}

// Validate checks the conservation invariant: for every asset, the sum of
// per-user custodial balances never exceeds what the exchange actually holds.
func (x *Exchange) Validate() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	return x.ledger.Validate(func(asset common.Address) *big.Int {
		if asset == EtherAddress {
			return x.ledger.Vault()
		}
		tok, err := x.tokens.Token(asset)
		if err != nil {
			return nil // unknown ledger, nothing to compare against
		}
		return tok.BalanceOf(x.address)
	})
}

// feeFor computes the fill fee in tokenGive units: amountGive * feePercent /
// 100, truncating toward zero.
func (x *Exchange) feeFor(amountGive *big.Int) *big.Int {
	fee := new(big.Int).Mul(amountGive, new(big.Int).SetUint64(x.feePercent))
	return fee.Div(fee, big.NewInt(100))
}

// persist runs staged writes in one atomic batch; a nil store keeps state in
// memory only (tests).
func (x *Exchange) persist(stage func(*Batch) error) error {
	if x.store == nil {
		return nil
	}
	b := x.store.NewBatch()
	if err := stage(b); err != nil {
		b.Close()
		return err
	}
	if err := b.Commit(); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

func (x *Exchange) emit(ev Event) {
	x.feed.Send(ev)
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// stage accumulates balance moves against a snapshot of the ledger so a fill
// involving overlapping (asset, user) pairs resolves to one final value per
// entry before anything commits.
type stage struct {
	ledger  *Ledger
	entries map[stageKey]*big.Int
	order   []stageKey
}

type stageKey struct {
	asset common.Address
	user  common.Address
}

func newStage(l *Ledger) *stage {
	return &stage{ledger: l, entries: make(map[stageKey]*big.Int)}
}

func (s *stage) get(asset, user common.Address) *big.Int {
	k := stageKey{asset, user}
	if v, ok := s.entries[k]; ok {
		return v
	}
	v := s.ledger.Balance(asset, user)
	s.entries[k] = v
	s.order = append(s.order, k)
	return v
}

func (s *stage) credit(asset, user common.Address, amount *big.Int) {
	v := s.get(asset, user)
	v.Add(v, amount)
}

func (s *stage) debit(asset, user common.Address, amount *big.Int) error {
	v := s.get(asset, user)
	if v.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, v, amount)
	}
	v.Sub(v, amount)
	return nil
}

func (s *stage) stagePersist(b *Batch) error {
	for _, k := range s.order {
		if err := b.SetBalance(k.asset, k.user, s.entries[k]); err != nil {
			return err
		}
	}
	return nil
}

func (s *stage) apply(l *Ledger) {
	for _, k := range s.order {
		l.set(k.asset, k.user, s.entries[k])
	}
}
