package exchange

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the custodial balance table: (asset, user) -> amount held by the
// exchange on behalf of user. The exchange owns it exclusively; all mutation
// goes through the exchange operations while its mutex is held. Balances are
// never negative: every debit is preceded by a sufficiency check.
type Ledger struct {
	// balances[asset][user] -> custodial balance
	balances map[common.Address]map[common.Address]*big.Int

	// vault tracks native currency custodied by the exchange, the in-process
	// analogue of the contract's ether balance.
	vault *big.Int
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[common.Address]map[common.Address]*big.Int),
		vault:    new(big.Int),
	}
}

// Balance returns a copy of the custodial balance for (asset, user).
func (l *Ledger) Balance(asset, user common.Address) *big.Int {
	if m, ok := l.balances[asset]; ok {
		if b, ok := m[user]; ok {
			return new(big.Int).Set(b)
		}
	}
	return new(big.Int)
}

// Covers reports whether (asset, user) holds at least amount.
func (l *Ledger) Covers(asset, user common.Address, amount *big.Int) bool {
	return l.Balance(asset, user).Cmp(amount) >= 0
}

// Credit adds amount to (asset, user) and returns the new balance.
func (l *Ledger) Credit(asset, user common.Address, amount *big.Int) *big.Int {
	m, ok := l.balances[asset]
	if !ok {
		m = make(map[common.Address]*big.Int)
		l.balances[asset] = m
	}
	cur, ok := m[user]
	if !ok {
		cur = new(big.Int)
	}
	m[user] = new(big.Int).Add(cur, amount)
	return new(big.Int).Set(m[user])
}

// Debit subtracts amount from (asset, user) and returns the new balance.
// Fails with no effect if the balance cannot cover the amount.
func (l *Ledger) Debit(asset, user common.Address, amount *big.Int) (*big.Int, error) {
	cur := l.Balance(asset, user)
	if cur.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientFunds, cur, amount)
	}
	l.balances[asset][user] = cur.Sub(cur, amount)
	return new(big.Int).Set(l.balances[asset][user]), nil
}

// set overwrites (asset, user) with a final staged value.
func (l *Ledger) set(asset, user common.Address, amount *big.Int) {
	m, ok := l.balances[asset]
	if !ok {
		m = make(map[common.Address]*big.Int)
		l.balances[asset] = m
	}
	m[user] = new(big.Int).Set(amount)
}

// Vault returns a copy of the custodied native-currency holdings.
func (l *Ledger) Vault() *big.Int {
	return new(big.Int).Set(l.vault)
}

// CreditVault records native currency received by the exchange.
func (l *Ledger) CreditVault(amount *big.Int) {
	l.vault.Add(l.vault, amount)
}

// DebitVault records native currency paid back out.
func (l *Ledger) DebitVault(amount *big.Int) error {
	if l.vault.Cmp(amount) < 0 {
		return fmt.Errorf("%w: vault holds %s, need %s", ErrInsufficientFunds, l.vault, amount)
	}
	l.vault.Sub(l.vault, amount)
	return nil
}

// Total returns the sum of all per-user balances for an asset.
func (l *Ledger) Total(asset common.Address) *big.Int {
	sum := new(big.Int)
	for _, b := range l.balances[asset] {
		sum.Add(sum, b)
	}
	return sum
}

// Assets returns every asset with at least one balance entry.
func (l *Ledger) Assets() []common.Address {
	assets := make([]common.Address, 0, len(l.balances))
	for a := range l.balances {
		assets = append(assets, a)
	}
	return assets
}

// forEach visits every (asset, user, balance) entry.
func (l *Ledger) forEach(fn func(asset, user common.Address, amount *big.Int)) {
	for asset, users := range l.balances {
		for user, b := range users {
			fn(asset, user, new(big.Int).Set(b))
		}
	}
}

// Validate checks ledger invariants: no negative balance, and the per-asset
// sum never exceeding custodied holdings (the vault for the native currency,
// the token ledger's view of the exchange address for tokens).
func (l *Ledger) Validate(custodied func(asset common.Address) *big.Int) error {
	for asset, users := range l.balances {
		sum := new(big.Int)
		for user, b := range users {
			if b.Sign() < 0 {
				return fmt.Errorf("negative balance for %s/%s: %s", asset.Hex(), user.Hex(), b)
			}
			sum.Add(sum, b)
		}
		held := custodied(asset)
		if held != nil && sum.Cmp(held) > 0 {
			return fmt.Errorf("asset %s: balances sum %s exceeds custodied %s", asset.Hex(), sum, held)
		}
	}
	return nil
}
