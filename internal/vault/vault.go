// Package vault implements the share-accounting engine and the
// vault/strategy allocation, harvest, migration and withdrawal protocol.
//
// All mutating operations are serialized. Reads are served from the last
// published snapshot and never block.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/semaphore"
)

// MaxPerformanceFeeBps caps the performance fee at half of any gain.
const MaxPerformanceFeeBps = domain.MaxBPS / 2

// Strategy is the contract a strategy implementation must satisfy. Amounts
// are in the vault's underlying token; funds freed by Withdraw are delivered
// to the vault address.
//
// The vault calls these methods while it holds its operation lock. An
// implementation that calls back into a mutating Vault method must pass the
// ctx it was given: that ctx marks the running operation, so the nested call
// fails with domain.ErrReentrancy. A call made with any other context waits
// for the lock its own caller holds and only returns when that context is
// done. Reader methods take no lock and are safe from any callback.
type Strategy interface {
	Address() common.Address
	Vault() common.Address
	EstimatedTotalAssets(ctx context.Context) (*big.Int, error)
	Withdraw(ctx context.Context, amount *big.Int) (*big.Int, error)
	Invest(ctx context.Context, amount *big.Int) error
	Migrate(ctx context.Context, newStrategy common.Address) (*big.Int, error)
	SetEmergencyExit(ctx context.Context) error
	EmergencyExit() bool
}

// Reader is the read-only view of a vault handed to strategies and API
// consumers.
type Reader interface {
	Snapshot() *domain.VaultState
	CreditAvailable(strategy common.Address) *big.Int
	DebtOutstanding(strategy common.Address) *big.Int
}

// Config holds the construction parameters of a Vault.
type Config struct {
	Address           common.Address
	DepositLimit      *big.Int
	PerformanceFeeBps uint64
	Rewards           common.Address
	// Version seeds the snapshot version so a restarted process keeps
	// publishing above the snapshots it persisted earlier.
	Version uint64
	Clock   func() time.Time
	Logger  *slog.Logger
}

// Vault is a pooled-capital allocator over a single token.
type Vault struct {
	addr   common.Address
	token  domain.Token
	clock  func() time.Time
	logger *slog.Logger

	sem *semaphore.Weighted
	// strategies is guarded by sem.
	strategies map[common.Address]Strategy

	state atomic.Pointer[domain.VaultState]
}

// New creates an empty vault for token.
func New(cfg Config, token domain.Token) (*Vault, error) {
	if token == nil {
		return nil, errors.New("vault: token is required")
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("vault: address is required: %w", domain.ErrInvalidParam)
	}
	if cfg.PerformanceFeeBps > MaxPerformanceFeeBps {
		return nil, fmt.Errorf("vault: performance fee %d bps: %w", cfg.PerformanceFeeBps, domain.ErrInvalidParam)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	limit := cfg.DepositLimit
	if limit == nil {
		limit = domain.Unlimited()
	}

	v := &Vault{
		addr:       cfg.Address,
		token:      token,
		clock:      cfg.Clock,
		logger:     cfg.Logger.With(slog.String("component", "vault"), slog.String("vault", cfg.Address.Hex())),
		sem:        semaphore.NewWeighted(1),
		strategies: make(map[common.Address]Strategy),
	}
	v.state.Store(&domain.VaultState{
		Vault:             cfg.Address,
		Token:             token.Address(),
		Decimals:          token.Decimals(),
		Idle:              new(big.Int),
		TotalDebt:         new(big.Int),
		TotalShares:       new(big.Int),
		DepositLimit:      new(big.Int).Set(limit),
		PerformanceFeeBps: cfg.PerformanceFeeBps,
		Rewards:           cfg.Rewards,
		Strategies:        make(map[common.Address]domain.StrategyRecord),
		Balances:          make(map[common.Address]*big.Int),
		Version:           cfg.Version,
		UpdatedAt:         cfg.Clock(),
	})
	return v, nil
}

// Address returns the vault's own address.
func (v *Vault) Address() common.Address { return v.addr }

// Token returns the underlying token.
func (v *Vault) Token() domain.Token { return v.token }

// Snapshot returns the last published state. Callers must not mutate it.
func (v *Vault) Snapshot() *domain.VaultState { return v.state.Load() }

// TotalAssets is idle plus outstanding strategy debt.
func (v *Vault) TotalAssets() *big.Int { return v.Snapshot().TotalAssets() }

// PricePerShare returns the value of one whole share.
func (v *Vault) PricePerShare() *big.Int { return v.Snapshot().PricePerShare() }

// BalanceOf returns holder's share balance.
func (v *Vault) BalanceOf(holder common.Address) *big.Int { return v.Snapshot().BalanceOf(holder) }

// ShareValue converts shares to underlying at the current rate.
func (v *Vault) ShareValue(shares *big.Int) *big.Int { return v.Snapshot().ShareValue(shares) }

// SharesForAmount converts an underlying amount to shares at the current rate.
func (v *Vault) SharesForAmount(amount *big.Int) *big.Int {
	return v.Snapshot().SharesForAmount(amount)
}

type opKey struct{ vault common.Address }

// enter serializes a mutating operation. The returned context carries a
// marker so that a strategy callback re-entering the vault with it fails
// instead of deadlocking, and is detached from the caller's cancellation so
// that a started mutation runs to completion. Re-entry is only detectable
// through that marker; see Strategy.
func (v *Vault) enter(ctx context.Context, op string) (context.Context, func(), error) {
	if ctx.Value(opKey{v.addr}) != nil {
		return nil, nil, fmt.Errorf("vault: %s: %w", op, domain.ErrReentrancy)
	}
	if err := v.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, fmt.Errorf("vault: %s: acquire: %w", op, err)
	}
	opCtx := context.WithValue(context.WithoutCancel(ctx), opKey{v.addr}, op)
	return opCtx, func() { v.sem.Release(1) }, nil
}

// working returns a deep copy of the current state to mutate.
func (v *Vault) working() *domain.VaultState {
	return cloneState(v.state.Load())
}

func (v *Vault) commit(w *domain.VaultState) {
	w.Version++
	w.UpdatedAt = v.clock()
	v.state.Store(w)
}

func authorize(caller domain.Caller, op string, roles ...domain.Role) error {
	if !caller.Has(roles...) {
		return fmt.Errorf("vault: %s by %s (%s): %w", op, caller.Address.Hex(), caller.Roles, domain.ErrUnauthorized)
	}
	return nil
}

// SetDepositLimit replaces the deposit limit. Governance only.
func (v *Vault) SetDepositLimit(ctx context.Context, caller domain.Caller, limit *big.Int) error {
	if err := authorize(caller, "set deposit limit", domain.RoleGovernance); err != nil {
		return err
	}
	if limit == nil || limit.Sign() < 0 {
		return fmt.Errorf("vault: set deposit limit: %w", domain.ErrInvalidParam)
	}
	_, release, err := v.enter(ctx, "set deposit limit")
	if err != nil {
		return err
	}
	defer release()

	w := v.working()
	w.DepositLimit = new(big.Int).Set(limit)
	v.commit(w)
	return nil
}

// SetPerformanceFee replaces the fee charged on reported gains. Governance only.
func (v *Vault) SetPerformanceFee(ctx context.Context, caller domain.Caller, bps uint64) error {
	if err := authorize(caller, "set performance fee", domain.RoleGovernance); err != nil {
		return err
	}
	if bps > MaxPerformanceFeeBps {
		return fmt.Errorf("vault: set performance fee %d bps: %w", bps, domain.ErrInvalidParam)
	}
	_, release, err := v.enter(ctx, "set performance fee")
	if err != nil {
		return err
	}
	defer release()

	w := v.working()
	w.PerformanceFeeBps = bps
	v.commit(w)
	return nil
}

// SetRewards changes the recipient of performance fee shares. Governance only.
func (v *Vault) SetRewards(ctx context.Context, caller domain.Caller, rewards common.Address) error {
	if err := authorize(caller, "set rewards", domain.RoleGovernance); err != nil {
		return err
	}
	_, release, err := v.enter(ctx, "set rewards")
	if err != nil {
		return err
	}
	defer release()

	w := v.working()
	w.Rewards = rewards
	v.commit(w)
	return nil
}

var _ Reader = (*Vault)(nil)

func cloneState(s *domain.VaultState) *domain.VaultState {
	c := *s
	c.Idle = new(big.Int).Set(s.Idle)
	c.TotalDebt = new(big.Int).Set(s.TotalDebt)
	c.TotalShares = new(big.Int).Set(s.TotalShares)
	c.DepositLimit = new(big.Int).Set(s.DepositLimit)
	c.Queue = append([]common.Address(nil), s.Queue...)
	c.Strategies = make(map[common.Address]domain.StrategyRecord, len(s.Strategies))
	for k, r := range s.Strategies {
		c.Strategies[k] = r.Clone()
	}
	c.Balances = make(map[common.Address]*big.Int, len(s.Balances))
	for k, b := range s.Balances {
		c.Balances[k] = new(big.Int).Set(b)
	}
	return &c
}

func minInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func mulDiv(a *big.Int, num uint64, den uint64) *big.Int {
	r := new(big.Int).Mul(a, new(big.Int).SetUint64(num))
	return r.Quo(r, new(big.Int).SetUint64(den))
}
