package exchange

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	assetA  = common.HexToAddress("0x0A00000000000000000000000000000000000001")
	assetB  = common.HexToAddress("0x0A00000000000000000000000000000000000002")
	holder1 = common.HexToAddress("0x0B00000000000000000000000000000000000001")
	holder2 = common.HexToAddress("0x0B00000000000000000000000000000000000002")
)

func TestLedgerCreditDebit(t *testing.T) {
	l := NewLedger()

	if l.Balance(assetA, holder1).Sign() != 0 {
		t.Fatal("fresh ledger must read zero")
	}

	bal := l.Credit(assetA, holder1, big.NewInt(100))
	if bal.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("credit returned %s, want 100", bal)
	}

	bal, err := l.Debit(assetA, holder1, big.NewInt(30))
	if err != nil {
		t.Fatalf("debit: %v", err)
	}
	if bal.Cmp(big.NewInt(70)) != 0 {
		t.Errorf("debit returned %s, want 70", bal)
	}
	if l.Balance(assetA, holder1).Cmp(big.NewInt(70)) != 0 {
		t.Errorf("balance = %s, want 70", l.Balance(assetA, holder1))
	}
}

func TestLedgerDebitInsufficient(t *testing.T) {
	l := NewLedger()
	l.Credit(assetA, holder1, big.NewInt(10))

	_, err := l.Debit(assetA, holder1, big.NewInt(11))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
	if l.Balance(assetA, holder1).Cmp(big.NewInt(10)) != 0 {
		t.Error("failed debit must not change the balance")
	}
}

func TestLedgerBalanceIsCopy(t *testing.T) {
	l := NewLedger()
	l.Credit(assetA, holder1, big.NewInt(5))

	l.Balance(assetA, holder1).SetInt64(999)
	if l.Balance(assetA, holder1).Cmp(big.NewInt(5)) != 0 {
		t.Error("returned balance aliases internal state")
	}
}

func TestLedgerCovers(t *testing.T) {
	l := NewLedger()
	l.Credit(assetA, holder1, big.NewInt(50))

	if !l.Covers(assetA, holder1, big.NewInt(50)) {
		t.Error("exact amount must be covered")
	}
	if l.Covers(assetA, holder1, big.NewInt(51)) {
		t.Error("over the balance must not be covered")
	}
	if !l.Covers(assetB, holder1, new(big.Int)) {
		t.Error("zero must be covered even with no entry")
	}
}

func TestLedgerVault(t *testing.T) {
	l := NewLedger()

	l.CreditVault(big.NewInt(100))
	if l.Vault().Cmp(big.NewInt(100)) != 0 {
		t.Errorf("vault = %s, want 100", l.Vault())
	}

	if err := l.DebitVault(big.NewInt(40)); err != nil {
		t.Fatalf("debit vault: %v", err)
	}
	if l.Vault().Cmp(big.NewInt(60)) != 0 {
		t.Errorf("vault = %s, want 60", l.Vault())
	}

	if err := l.DebitVault(big.NewInt(61)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("err = %v, want ErrInsufficientFunds", err)
	}
}

func TestLedgerTotal(t *testing.T) {
	l := NewLedger()
	l.Credit(assetA, holder1, big.NewInt(30))
	l.Credit(assetA, holder2, big.NewInt(20))
	l.Credit(assetB, holder1, big.NewInt(99))

	if l.Total(assetA).Cmp(big.NewInt(50)) != 0 {
		t.Errorf("total A = %s, want 50", l.Total(assetA))
	}
	if l.Total(assetB).Cmp(big.NewInt(99)) != 0 {
		t.Errorf("total B = %s, want 99", l.Total(assetB))
	}
}

func TestLedgerValidate(t *testing.T) {
	l := NewLedger()
	l.Credit(assetA, holder1, big.NewInt(30))
	l.Credit(assetA, holder2, big.NewInt(20))

	custody := func(held int64) func(common.Address) *big.Int {
		return func(common.Address) *big.Int { return big.NewInt(held) }
	}

	if err := l.Validate(custody(50)); err != nil {
		t.Errorf("exact custody must validate: %v", err)
	}
	if err := l.Validate(custody(49)); err == nil {
		t.Error("balances exceeding custody must fail validation")
	}

	l.set(assetA, holder1, big.NewInt(-1))
	if err := l.Validate(custody(50)); err == nil {
		t.Error("negative balance must fail validation")
	}
}
