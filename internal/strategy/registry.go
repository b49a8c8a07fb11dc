package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/alanyoungcy/yieldvault/internal/vault"
	"github.com/ethereum/go-ethereum/common"
)

// Info describes a registered strategy for status APIs.
type Info struct {
	Name    string         `json:"name"`
	Kind    string         `json:"kind"`
	Address common.Address `json:"address"`
	Exit    bool           `json:"emergency_exit"`
}

// Registry manages the strategy implementations known to the process, by
// name and by address. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Strategy
	byAddr map[common.Address]Strategy
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]Strategy),
		byAddr: make(map[common.Address]Strategy),
	}
}

// Register adds s. Names and addresses must be unique.
func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[s.Name()]; ok {
		return fmt.Errorf("strategy %q: %w", s.Name(), domain.ErrAlreadyExists)
	}
	if _, ok := r.byAddr[s.Address()]; ok {
		return fmt.Errorf("strategy %s: %w", s.Address().Hex(), domain.ErrAlreadyExists)
	}
	r.byName[s.Name()] = s
	r.byAddr[s.Address()] = s
	return nil
}

// Get retrieves a strategy by name.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("strategy %q: %w", name, domain.ErrNotFound)
	}
	return s, nil
}

// ByAddress retrieves a strategy by address.
func (r *Registry) ByAddress(addr common.Address) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byAddr[addr]
	if !ok {
		return nil, fmt.Errorf("strategy %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return s, nil
}

// List returns the names of all registered strategies in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ListInfo returns Info for every registered strategy sorted by name.
func (r *Registry) ListInfo() []Info {
	names := r.List()
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(names))
	for _, n := range names {
		s := r.byName[n]
		infos = append(infos, Info{Name: n, Kind: s.Kind(), Address: s.Address(), Exit: s.EmergencyExit()})
	}
	return infos
}

// Build constructs a strategy from cfg. Lender strategies look up their pool
// by name in pools.
func Build(cfg Config, reader vault.Reader, tok domain.Token, pools map[string]*SimPool) (Strategy, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("strategy: name is required: %w", domain.ErrInvalidParam)
	}
	switch cfg.Kind {
	case KindLender:
		pool, ok := pools[cfg.Pool]
		if !ok {
			return nil, fmt.Errorf("strategy %q: pool %q: %w", cfg.Name, cfg.Pool, domain.ErrNotFound)
		}
		return NewLender(cfg.Name, reader, tok, pool, cfg.Trigger), nil
	case KindReserve:
		return NewReserve(cfg.Name, reader, tok, cfg.Trigger), nil
	default:
		return nil, fmt.Errorf("strategy %q: unknown kind %q: %w", cfg.Name, cfg.Kind, domain.ErrInvalidParam)
	}
}
