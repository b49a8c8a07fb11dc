// Package token provides an in-process ERC20-equivalent ledger used as the
// vault's underlying asset when no chain is attached.
package token

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/alanyoungcy/yieldvault/internal/crypto"
	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Memory is a mutex-guarded balance ledger. Transfers are all-or-nothing.
type Memory struct {
	address  common.Address
	symbol   string
	decimals uint8

	mu       sync.RWMutex
	balances map[common.Address]*big.Int
	supply   *big.Int
}

// NewMemory creates an empty token. Its address is derived from the symbol.
func NewMemory(symbol string, decimals uint8) *Memory {
	return &Memory{
		address:  crypto.DeriveAddress("token:" + symbol),
		symbol:   symbol,
		decimals: decimals,
		balances: make(map[common.Address]*big.Int),
		supply:   new(big.Int),
	}
}

func (m *Memory) Address() common.Address { return m.address }
func (m *Memory) Symbol() string          { return m.symbol }
func (m *Memory) Decimals() uint8         { return m.decimals }

// BalanceOf returns owner's balance.
func (m *Memory) BalanceOf(_ context.Context, owner common.Address) (*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balanceLocked(owner), nil
}

// TotalSupply returns the amount minted minus the amount burned.
func (m *Memory) TotalSupply() *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return new(big.Int).Set(m.supply)
}

// Transfer moves amount from one holder to another.
func (m *Memory) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("token: transfer: %w", err)
	}
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token: transfer amount: %w", domain.ErrInvalidParam)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	bal := m.balanceLocked(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("token: transfer %s from %s holding %s: %w",
			amount, from.Hex(), bal, domain.ErrInsufficientBalance)
	}
	m.setLocked(from, bal.Sub(bal, amount))
	m.setLocked(to, new(big.Int).Add(m.balanceLocked(to), amount))
	return nil
}

// Mint creates amount out of thin air for to.
func (m *Memory) Mint(to common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(to, new(big.Int).Add(m.balanceLocked(to), amount))
	m.supply.Add(m.supply, amount)
}

// Burn destroys amount held by from.
func (m *Memory) Burn(from common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.balanceLocked(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("token: burn %s from %s holding %s: %w",
			amount, from.Hex(), bal, domain.ErrInsufficientBalance)
	}
	m.setLocked(from, bal.Sub(bal, amount))
	m.supply.Sub(m.supply, amount)
	return nil
}

func (m *Memory) balanceLocked(owner common.Address) *big.Int {
	if b, ok := m.balances[owner]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (m *Memory) setLocked(owner common.Address, v *big.Int) {
	if v.Sign() == 0 {
		delete(m.balances, owner)
		return
	}
	m.balances[owner] = v
}

var _ domain.Token = (*Memory)(nil)
