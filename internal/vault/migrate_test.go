package vault

import (
	"context"
	"errors"
	"testing"

	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateMovesRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := newFake("first", f.v.Address(), f.tok)
	old := newFake("old", f.v.Address(), f.tok)
	next := newFake("new", f.v.Address(), f.tok)
	f.add(t, first, 2000)
	f.add(t, old, 8000)
	f.deposit(t, bob, 1000)
	f.harvest(t, first)
	f.harvest(t, old)
	old.gain(8)

	oldRec, _ := f.v.Snapshot().Record(old.Address())
	res, err := f.v.MigrateStrategy(ctx, gov, old.Address(), next)
	require.NoError(t, err)
	assert.Equal(t, int64(800), res.DebtMoved.Int64())
	assert.Equal(t, int64(808), res.Delivered.Int64())

	snap := f.v.Snapshot()
	was, _ := snap.Record(old.Address())
	assert.False(t, was.Active)
	assert.Zero(t, was.TotalDebt.Sign())
	assert.Zero(t, was.DebtRatio)

	now, _ := snap.Record(next.Address())
	assert.True(t, now.Active)
	assert.Equal(t, uint64(8000), now.DebtRatio)
	assert.Equal(t, 0, now.TotalDebt.Cmp(oldRec.TotalDebt))
	assert.Equal(t, 0, now.TotalGain.Cmp(oldRec.TotalGain))
	assert.Equal(t, oldRec.LastReport, now.LastReport)
	assert.Equal(t, []common.Address{first.Address(), next.Address()}, snap.Queue)
	assert.Equal(t, uint64(10_000), snap.DebtRatio)

	assert.Zero(t, f.tokenBalance(t, old.Address()))
	assert.Equal(t, int64(808), f.tokenBalance(t, next.Address()))
	assert.Equal(t, int64(808), next.invested.Int64())
	assertBooks(t, f)

	// The unreported gain travels with the assets and is booked by the new
	// strategy's first harvest.
	assert.Equal(t, int64(8), f.harvest(t, next).Gain.Int64())
}

func TestMigrateShortfallSurfacesAsLoss(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	old := newFake("old", f.v.Address(), f.tok)
	next := newFake("new", f.v.Address(), f.tok)
	f.add(t, old, 10_000)
	f.deposit(t, bob, 1000)
	f.harvest(t, old)
	old.lose(30)

	_, err := f.v.MigrateStrategy(ctx, gov, old.Address(), next)
	require.NoError(t, err)
	rep := f.harvest(t, next)
	assert.Equal(t, int64(30), rep.Loss.Int64())
	assert.Equal(t, int64(970), f.v.TotalAssets().Int64())
}

func TestMigrateChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := newFake("a", f.v.Address(), f.tok)
	b := newFake("b", f.v.Address(), f.tok)
	c := newFake("c", f.v.Address(), f.tok)
	f.add(t, a, 5000)
	f.add(t, b, 5000)

	_, err := f.v.MigrateStrategy(ctx, guardian, a.Address(), c)
	assert.True(t, errors.Is(err, domain.ErrUnauthorized))

	_, err = f.v.MigrateStrategy(ctx, gov, a.Address(), b)
	assert.True(t, errors.Is(err, domain.ErrAlreadyRegistered))

	_, err = f.v.MigrateStrategy(ctx, gov, c.Address(), newFake("d", f.v.Address(), f.tok))
	assert.True(t, errors.Is(err, domain.ErrNotActive))

	_, err = f.v.MigrateStrategy(ctx, gov, a.Address(), newFake("e", common.HexToAddress("0xbeef"), f.tok))
	assert.True(t, errors.Is(err, domain.ErrWrongVault))

	_, err = f.v.MigrateStrategy(ctx, gov, a.Address(), c)
	require.NoError(t, err)
	// The old address stays on record and cannot come back.
	_, err = f.v.MigrateStrategy(ctx, gov, c.Address(), a)
	assert.True(t, errors.Is(err, domain.ErrAlreadyRegistered))
}

func TestEmergencyExitChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := newFake("a", f.v.Address(), f.tok)
	f.add(t, s, 5000)

	assert.True(t, errors.Is(f.v.SetEmergencyExit(ctx, keeper, s.Address()), domain.ErrUnauthorized))
	assert.True(t, errors.Is(f.v.SetEmergencyExit(ctx, strategist, common.HexToAddress("0x42")), domain.ErrNotActive))
	require.NoError(t, f.v.SetEmergencyExit(ctx, strategist, s.Address()))
	assert.Zero(t, f.v.Snapshot().DebtRatio)
}
