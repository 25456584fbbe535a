package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry maps asset addresses to deployed token ledgers in a thread-safe
// manner. The exchange resolves deposit/withdraw assets through it.
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]*Token
}

// NewRegistry creates an empty token registry.
func NewRegistry() *Registry {
	return &Registry{
		tokens: make(map[common.Address]*Token),
	}
}

// Register adds a deployed token to the registry.
// Returns error if a token with the same address already exists.
func (r *Registry) Register(t *Token) error {
	if t == nil {
		return fmt.Errorf("cannot register nil token")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[t.Address()]; exists {
		return fmt.Errorf("token %s already registered", t.Address().Hex())
	}

	r.tokens[t.Address()] = t
	return nil
}

// Get retrieves a token by asset address.
// Returns error if no token is registered at that address.
func (r *Registry) Get(asset common.Address) (*Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.tokens[asset]
	if !exists {
		return nil, fmt.Errorf("token %s not found", asset.Hex())
	}
	return t, nil
}

// List returns all registered tokens.
// Returns a copy of the slice to avoid concurrent modification.
func (r *Registry) List() []*Token {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tokens := make([]*Token, 0, len(r.tokens))
	for _, t := range r.tokens {
		tokens = append(tokens, t)
	}
	return tokens
}
