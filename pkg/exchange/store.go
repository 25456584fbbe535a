package exchange

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

// Store provides Pebble-based persistence for the balance table, orders and
// trade history. All writes go through the exchange mutex; a fill's balance
// mutations, order status and trade record commit in one atomic batch.
type Store struct {
	db *pebble.DB
}

// OpenStore opens a Pebble database at the given path.
func OpenStore(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20),
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadState replays the persisted balance table, vault, orders and order
// counter into fresh in-memory structures. Used on startup for crash
// recovery.
func (s *Store) LoadState() (*Ledger, map[uint64]*Order, uint64, error) {
	ledger := NewLedger()

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefixBalance),
		UpperBound: keyUpperBound([]byte(prefixBalance)),
	})
	if err != nil {
		return nil, nil, 0, fmt.Errorf("balance iterator: %w", err)
	}
	for iter.First(); iter.Valid(); iter.Next() {
		asset, user, err := balanceKeyParse(iter.Key())
		if err != nil {
			continue // skip malformed entries
		}
		amount, err := decodeBig(iter.Value())
		if err != nil {
			continue
		}
		ledger.Credit(asset, user, amount)
	}
	if err := iter.Close(); err != nil {
		return nil, nil, 0, fmt.Errorf("balance iterator close: %w", err)
	}

	if data, closer, err := s.db.Get([]byte(keyVault)); err == nil {
		if vault, derr := decodeBig(data); derr == nil {
			ledger.CreditVault(vault)
		}
		closer.Close()
	} else if err != pebble.ErrNotFound {
		return nil, nil, 0, fmt.Errorf("load vault: %w", err)
	}

	orders := make(map[uint64]*Order)
	oiter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefixOrder),
		UpperBound: keyUpperBound([]byte(prefixOrder)),
	})
	if err != nil {
		return nil, nil, 0, fmt.Errorf("order iterator: %w", err)
	}
	for oiter.First(); oiter.Valid(); oiter.Next() {
		var o Order
		if err := json.Unmarshal(oiter.Value(), &o); err != nil {
			continue
		}
		orders[o.ID] = &o
	}
	if err := oiter.Close(); err != nil {
		return nil, nil, 0, fmt.Errorf("order iterator close: %w", err)
	}

	var orderCount uint64
	if data, closer, err := s.db.Get([]byte(keyOrderCount)); err == nil {
		orderCount = decodeUint64(data)
		closer.Close()
	} else if err != pebble.ErrNotFound {
		return nil, nil, 0, fmt.Errorf("load order count: %w", err)
	}

	return ledger, orders, orderCount, nil
}

// RecentTrades returns the most recent trades, newest first.
func (s *Store) RecentTrades(limit int) ([]*Trade, error) {
	prefix := []byte(prefixTrade)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("trade iterator: %w", err)
	}
	defer iter.Close()

	var trades []*Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue
		}
		trades = append(trades, &t)
	}
	return trades, nil
}

// Batch collects the writes of one exchange operation so they commit
// atomically: either all effects persist or none do.
type Batch struct {
	batch *pebble.Batch
}

// NewBatch creates a write batch.
func (s *Store) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

// SetBalance stages the new custodial balance for (asset, user).
func (b *Batch) SetBalance(asset, user common.Address, amount *big.Int) error {
	return b.batch.Set(balanceKey(asset, user), encodeBig(amount), nil)
}

// SetVault stages the new native-currency vault value.
func (b *Batch) SetVault(amount *big.Int) error {
	return b.batch.Set([]byte(keyVault), encodeBig(amount), nil)
}

// PutOrder stages an order write (creation or status change).
func (b *Batch) PutOrder(o *Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("failed to marshal order %d: %w", o.ID, err)
	}
	return b.batch.Set(orderKey(o.ID), data, nil)
}

// SetOrderCount stages the order counter.
func (b *Batch) SetOrderCount(n uint64) error {
	return b.batch.Set([]byte(keyOrderCount), encodeUint64(n), nil)
}

// PutTrade stages a trade history record.
func (b *Batch) PutTrade(t *Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal trade %s: %w", t.ID, err)
	}
	return b.batch.Set(tradeKey(t.Timestamp, t.ID), data, nil)
}

// Commit writes the batch to Pebble atomically and durably.
func (b *Batch) Commit() error {
	return b.batch.Commit(pebble.Sync)
}

// Close discards the batch without committing.
func (b *Batch) Close() error {
	return b.batch.Close()
}
