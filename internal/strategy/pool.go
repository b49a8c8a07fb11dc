package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/alanyoungcy/yieldvault/internal/crypto"
	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/alanyoungcy/yieldvault/internal/token"
	"github.com/ethereum/go-ethereum/common"
)

const secondsPerYear = 365 * 24 * 60 * 60

// PoolConfig describes a simulated lending pool.
type PoolConfig struct {
	Name       string
	APRBps     uint64
	ExitFeeBps uint64
}

// SimPool is an in-process lending market. Supplied funds earn APRBps per
// year, credited by Accrue; redemptions pay ExitFeeBps which is burned.
type SimPool struct {
	cfg    PoolConfig
	addr   common.Address
	token  *token.Memory
	clock  func() time.Time
	logger *slog.Logger

	mu          sync.Mutex
	balances    map[common.Address]*big.Int
	lastAccrual time.Time
}

// NewSimPool creates an empty pool over tok.
func NewSimPool(cfg PoolConfig, tok *token.Memory, clock func() time.Time, logger *slog.Logger) *SimPool {
	if clock == nil {
		clock = time.Now
	}
	return &SimPool{
		cfg:         cfg,
		addr:        crypto.DeriveAddress("pool:" + cfg.Name),
		token:       tok,
		clock:       clock,
		logger:      logger.With(slog.String("component", "sim_pool"), slog.String("pool", cfg.Name)),
		balances:    make(map[common.Address]*big.Int),
		lastAccrual: clock(),
	}
}

func (p *SimPool) Name() string            { return p.cfg.Name }
func (p *SimPool) Address() common.Address { return p.addr }

// Supply moves amount from supplier into the pool.
func (p *SimPool) Supply(ctx context.Context, supplier common.Address, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accrueLocked(p.clock())

	if err := p.token.Transfer(ctx, supplier, p.addr, amount); err != nil {
		return fmt.Errorf("pool %s: supply: %w", p.cfg.Name, err)
	}
	p.creditLocked(supplier, amount)
	return nil
}

// Redeem takes up to amount of supplier's position out of the pool and
// delivers it, net of the exit fee, to supplier. It returns the amount
// delivered.
func (p *SimPool) Redeem(ctx context.Context, supplier common.Address, amount *big.Int) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accrueLocked(p.clock())

	bal := p.balanceLocked(supplier)
	take := new(big.Int).Set(amount)
	if take.Cmp(bal) > 0 {
		take.Set(bal)
	}
	if take.Sign() == 0 {
		return new(big.Int), nil
	}
	fee := new(big.Int).Mul(take, new(big.Int).SetUint64(p.cfg.ExitFeeBps))
	fee.Quo(fee, big.NewInt(domain.MaxBPS))
	out := new(big.Int).Sub(take, fee)

	if fee.Sign() > 0 {
		if err := p.token.Burn(p.addr, fee); err != nil {
			return nil, fmt.Errorf("pool %s: exit fee: %w", p.cfg.Name, err)
		}
	}
	if err := p.token.Transfer(ctx, p.addr, supplier, out); err != nil {
		return nil, fmt.Errorf("pool %s: redeem: %w", p.cfg.Name, err)
	}
	p.setLocked(supplier, bal.Sub(bal, take))
	return out, nil
}

// BalanceOf returns supplier's position including interest accrued so far.
func (p *SimPool) BalanceOf(supplier common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accrueLocked(p.clock())
	return p.balanceLocked(supplier)
}

// Accrue credits interest up to now.
func (p *SimPool) Accrue(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accrueLocked(now)
}

// Slash destroys bps of every position, simulating a bad-debt event.
func (p *SimPool) Slash(bps uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, bal := range p.balances {
		cut := new(big.Int).Mul(bal, new(big.Int).SetUint64(bps))
		cut.Quo(cut, big.NewInt(domain.MaxBPS))
		if err := p.token.Burn(p.addr, cut); err != nil {
			return fmt.Errorf("pool %s: slash: %w", p.cfg.Name, err)
		}
		p.setLocked(addr, new(big.Int).Sub(bal, cut))
	}
	p.logger.Warn("pool slashed", slog.Uint64("bps", bps))
	return nil
}

// Run accrues interest every interval until ctx is done. Call in a goroutine.
func (p *SimPool) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Accrue(p.clock())
		}
	}
}

func (p *SimPool) accrueLocked(now time.Time) {
	elapsed := now.Sub(p.lastAccrual).Truncate(time.Second)
	if elapsed <= 0 {
		return
	}
	p.lastAccrual = p.lastAccrual.Add(elapsed)
	if p.cfg.APRBps == 0 {
		return
	}
	secs := big.NewInt(int64(elapsed / time.Second))
	den := big.NewInt(domain.MaxBPS * secondsPerYear)
	total := new(big.Int)
	for addr, bal := range p.balances {
		interest := new(big.Int).Mul(bal, new(big.Int).SetUint64(p.cfg.APRBps))
		interest.Mul(interest, secs)
		interest.Quo(interest, den)
		if interest.Sign() == 0 {
			continue
		}
		p.setLocked(addr, new(big.Int).Add(bal, interest))
		total.Add(total, interest)
	}
	if total.Sign() > 0 {
		p.token.Mint(p.addr, total)
	}
}

func (p *SimPool) creditLocked(addr common.Address, amount *big.Int) {
	p.setLocked(addr, new(big.Int).Add(p.balanceLocked(addr), amount))
}

func (p *SimPool) balanceLocked(addr common.Address) *big.Int {
	if b, ok := p.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (p *SimPool) setLocked(addr common.Address, v *big.Int) {
	if v.Sign() == 0 {
		delete(p.balances, addr)
		return
	}
	p.balances[addr] = v
}
