package token

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Token is an in-process fungible token ledger with standard
// transfer/approve/transferFrom semantics. The whole initial supply is
// minted to the deployer at construction; there is no mint afterwards.
//
// Callers are passed explicitly since there is no ambient message sender.
type Token struct {
	mu sync.RWMutex

	name     string
	symbol   string
	decimals uint8
	address  common.Address

	totalSupply *big.Int
	balances    map[common.Address]*big.Int
	// allowances[owner][spender] -> remaining approved amount
	allowances map[common.Address]map[common.Address]*big.Int
}

// weiPerUnit is 10^decimals for the standard 18-decimal token.
func weiPerUnit(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// Deploy creates a token and mints supply whole units (supply × 10^18 base
// units) to the deployer. The token address is derived from the deployer and
// symbol so repeated deployments are deterministic.
func Deploy(deployer common.Address, name, symbol string, supply *big.Int) *Token {
	t := &Token{
		name:       name,
		symbol:     symbol,
		decimals:   18,
		address:    DeriveAddress(deployer, symbol),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
	t.totalSupply = new(big.Int).Mul(supply, weiPerUnit(t.decimals))
	t.balances[deployer] = new(big.Int).Set(t.totalSupply)
	return t
}

func (t *Token) Name() string            { return t.name }
func (t *Token) Symbol() string          { return t.symbol }
func (t *Token) Decimals() uint8         { return t.decimals }
func (t *Token) Address() common.Address { return t.address }

// TotalSupply returns the fixed total supply in base units.
func (t *Token) TotalSupply() *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return new(big.Int).Set(t.totalSupply)
}

// BalanceOf returns the holder's balance in base units.
func (t *Token) BalanceOf(user common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if b, ok := t.balances[user]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Allowance returns how much spender may still pull from owner.
func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if m, ok := t.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return new(big.Int).Set(a)
		}
	}
	return new(big.Int)
}

// Approve sets the spender's allowance over the caller's funds. Overwrites
// any previous approval.
func (t *Token) Approve(caller, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("approve amount must be non-negative")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.allowances[caller]
	if !ok {
		m = make(map[common.Address]*big.Int)
		t.allowances[caller] = m
	}
	m[spender] = new(big.Int).Set(amount)
	return nil
}

// Transfer moves amount from the caller to the recipient.
// Fails with no effect if the caller's balance is insufficient.
func (t *Token) Transfer(caller, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("transfer amount must be non-negative")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(caller, to, amount)
}

// TransferFrom moves amount from `from` to `to` on the caller's authority.
// Fails with no effect if the caller's allowance or the sender's balance is
// insufficient.
func (t *Token) TransferFrom(caller, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("transfer amount must be non-negative")
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	allowed := t.allowanceLocked(from, caller)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%s allowance too low: approved %s, need %s",
			t.symbol, allowed, amount)
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	t.allowances[from][caller] = allowed.Sub(allowed, amount)
	return nil
}

func (t *Token) allowanceLocked(owner, spender common.Address) *big.Int {
	if m, ok := t.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return new(big.Int).Set(a)
		}
	}
	return new(big.Int)
}

// move debits from and credits to, assuming the lock is held.
func (t *Token) move(from, to common.Address, amount *big.Int) error {
	bal, ok := t.balances[from]
	if !ok || bal.Cmp(amount) < 0 {
		have := new(big.Int)
		if ok {
			have = bal
		}
		return fmt.Errorf("%s balance too low: have %s, need %s", t.symbol, have, amount)
	}
	t.balances[from] = new(big.Int).Sub(bal, amount)
	cur, ok := t.balances[to]
	if !ok {
		cur = new(big.Int)
	}
	t.balances[to] = new(big.Int).Add(cur, amount)
	return nil
}
