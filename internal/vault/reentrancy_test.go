package vault

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategyCallbackCannotReenter(t *testing.T) {
	f := newFixture(t)
	s := newFake("a", f.v.Address(), f.tok)
	f.add(t, s, 10_000)
	f.deposit(t, bob, 1000)

	var inner error
	s.onInvest = func(ctx context.Context) error {
		f.tok.Mint(s.Address(), big.NewInt(5))
		_, inner = f.v.Deposit(ctx, domain.Caller{Address: s.Address()}, big.NewInt(5))
		return inner
	}
	before := f.v.Snapshot()
	_, err := f.v.Harvest(context.Background(), keeper, s.Address())
	require.Error(t, err)
	assert.True(t, errors.Is(inner, domain.ErrReentrancy))
	assert.True(t, errors.Is(err, domain.ErrReentrancy))
	assert.Same(t, before, f.v.Snapshot())
}

func TestReentrantWithdrawCountsAsFailure(t *testing.T) {
	f := newFixture(t)
	s := newFake("a", f.v.Address(), f.tok)
	f.add(t, s, 10_000)
	f.deposit(t, bob, 1000)
	f.harvest(t, s)

	s.onWithdraw = func(ctx context.Context) error {
		_, err := f.v.Harvest(ctx, keeper, s.Address())
		return err
	}
	_, err := f.v.Withdraw(context.Background(), bob, nil, bob.Address, 0)
	assert.True(t, errors.Is(err, domain.ErrSlippage))
	assert.Equal(t, int64(1000), f.v.BalanceOf(bob.Address).Int64())

	// Once the callback is gone the vault is usable again.
	s.onWithdraw = nil
	res, err := f.v.Withdraw(context.Background(), bob, nil, bob.Address, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.Paid.Int64())
}

func TestCallbackWithForeignContextWaitsForLock(t *testing.T) {
	f := newFixture(t)
	s := newFake("a", f.v.Address(), f.tok)
	f.add(t, s, 10_000)
	f.deposit(t, bob, 1000)

	var inner error
	var seen *domain.VaultState
	s.onInvest = func(context.Context) error {
		seen = f.v.Snapshot()
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, inner = f.v.Deposit(ctx, bob, big.NewInt(5))
		return nil
	}
	_, err := f.v.Harvest(context.Background(), keeper, s.Address())
	require.NoError(t, err)
	assert.True(t, errors.Is(inner, context.DeadlineExceeded))
	assert.False(t, errors.Is(inner, domain.ErrReentrancy))
	require.NotNil(t, seen)
	assert.Equal(t, int64(1000), seen.Idle.Int64())
}
