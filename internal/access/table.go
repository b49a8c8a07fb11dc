// Package access resolves addresses to vault roles.
package access

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/ethereum/go-ethereum/common"
)

// Table is a concurrent-safe role grant table.
type Table struct {
	mu     sync.RWMutex
	grants map[common.Address]domain.Role
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{grants: make(map[common.Address]domain.Role)}
}

// FromConfig builds a table from role name -> hex addresses.
func FromConfig(roles map[string][]string) (*Table, error) {
	t := NewTable()
	for name, addrs := range roles {
		role := domain.ParseRole(name)
		if role == 0 {
			return nil, fmt.Errorf("access: unknown role %q", name)
		}
		for _, a := range addrs {
			if !common.IsHexAddress(a) {
				return nil, fmt.Errorf("access: role %s: invalid address %q", name, a)
			}
			t.Grant(common.HexToAddress(a), role)
		}
	}
	return t, nil
}

// Grant adds role to addr.
func (t *Table) Grant(addr common.Address, role domain.Role) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.grants[addr] |= role
}

// Revoke removes role from addr.
func (t *Table) Revoke(addr common.Address, role domain.Role) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r := t.grants[addr] &^ role
	if r == 0 {
		delete(t.grants, addr)
		return
	}
	t.grants[addr] = r
}

// Caller resolves addr into a Caller. Unknown addresses get no roles and may
// still deposit and withdraw their own shares.
func (t *Table) Caller(addr common.Address) domain.Caller {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return domain.Caller{Address: addr, Roles: t.grants[addr]}
}

// Holders lists addresses holding role, sorted.
func (t *Table) Holders(role domain.Role) []common.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []common.Address
	for a, r := range t.grants {
		if r&role != 0 {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}
