package vault

import (
	"context"
	"errors"
	"math/big"

	"github.com/alanyoungcy/yieldvault/internal/crypto"
	"github.com/alanyoungcy/yieldvault/internal/token"
	"github.com/ethereum/go-ethereum/common"
)

var errStrategyDown = errors.New("strategy down")

// fakeStrategy keeps everything it is lent as a token balance at its own
// address. Gains and losses are simulated by minting or burning that balance.
type fakeStrategy struct {
	addr  common.Address
	vault common.Address
	tok   *token.Memory

	haircutBps  int64
	failEstim   bool
	failWithd   bool
	failInvest  bool
	exit        bool
	invested    *big.Int
	onInvest    func(ctx context.Context) error
	onWithdraw  func(ctx context.Context) error
	withdrawals int
}

func newFake(name string, vault common.Address, tok *token.Memory) *fakeStrategy {
	return &fakeStrategy{
		addr:     crypto.DeriveAddress("strategy:" + name),
		vault:    vault,
		tok:      tok,
		invested: new(big.Int),
	}
}

func (f *fakeStrategy) Address() common.Address { return f.addr }
func (f *fakeStrategy) Vault() common.Address   { return f.vault }
func (f *fakeStrategy) EmergencyExit() bool     { return f.exit }

func (f *fakeStrategy) EstimatedTotalAssets(ctx context.Context) (*big.Int, error) {
	if f.failEstim {
		return nil, errStrategyDown
	}
	return f.tok.BalanceOf(ctx, f.addr)
}

func (f *fakeStrategy) Withdraw(ctx context.Context, amount *big.Int) (*big.Int, error) {
	f.withdrawals++
	if f.onWithdraw != nil {
		if err := f.onWithdraw(ctx); err != nil {
			return nil, err
		}
	}
	if f.failWithd {
		return nil, errStrategyDown
	}
	bal, _ := f.tok.BalanceOf(ctx, f.addr)
	out := new(big.Int).Set(amount)
	if out.Cmp(bal) > 0 {
		out.Set(bal)
	}
	if f.haircutBps > 0 {
		cut := new(big.Int).Mul(out, big.NewInt(f.haircutBps))
		cut.Quo(cut, big.NewInt(10_000))
		if err := f.tok.Burn(f.addr, cut); err != nil {
			return nil, err
		}
		out.Sub(out, cut)
	}
	if err := f.tok.Transfer(ctx, f.addr, f.vault, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *fakeStrategy) Invest(ctx context.Context, amount *big.Int) error {
	if f.onInvest != nil {
		if err := f.onInvest(ctx); err != nil {
			return err
		}
	}
	if f.failInvest {
		return errStrategyDown
	}
	f.invested.Add(f.invested, amount)
	return nil
}

func (f *fakeStrategy) Migrate(ctx context.Context, next common.Address) (*big.Int, error) {
	bal, _ := f.tok.BalanceOf(ctx, f.addr)
	if err := f.tok.Transfer(ctx, f.addr, next, bal); err != nil {
		return nil, err
	}
	return bal, nil
}

func (f *fakeStrategy) SetEmergencyExit(context.Context) error {
	f.exit = true
	return nil
}

// gain mints n tokens into the strategy.
func (f *fakeStrategy) gain(n int64) { f.tok.Mint(f.addr, big.NewInt(n)) }

// lose burns n tokens from the strategy.
func (f *fakeStrategy) lose(n int64) {
	if err := f.tok.Burn(f.addr, big.NewInt(n)); err != nil {
		panic(err)
	}
}
