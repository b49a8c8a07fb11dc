package token

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTransfer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tok := NewMemory("USDC", 6)
	alice := common.HexToAddress("0xa1")
	bob := common.HexToAddress("0xb0")

	tok.Mint(alice, big.NewInt(100))
	require.NoError(t, tok.Transfer(ctx, alice, bob, big.NewInt(40)))

	a, _ := tok.BalanceOf(ctx, alice)
	b, _ := tok.BalanceOf(ctx, bob)
	assert.Equal(t, int64(60), a.Int64())
	assert.Equal(t, int64(40), b.Int64())
	assert.Equal(t, int64(100), tok.TotalSupply().Int64())
}

func TestMemoryTransferInsufficient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tok := NewMemory("DAI", 18)
	alice := common.HexToAddress("0xa1")
	bob := common.HexToAddress("0xb0")
	tok.Mint(alice, big.NewInt(5))

	err := tok.Transfer(ctx, alice, bob, big.NewInt(6))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInsufficientBalance))

	a, _ := tok.BalanceOf(ctx, alice)
	b, _ := tok.BalanceOf(ctx, bob)
	assert.Equal(t, int64(5), a.Int64())
	assert.Zero(t, b.Sign())
}

func TestMemoryBurn(t *testing.T) {
	t.Parallel()
	tok := NewMemory("DAI", 18)
	alice := common.HexToAddress("0xa1")
	tok.Mint(alice, big.NewInt(10))

	require.NoError(t, tok.Burn(alice, big.NewInt(4)))
	assert.Equal(t, int64(6), tok.TotalSupply().Int64())
	assert.Error(t, tok.Burn(alice, big.NewInt(7)))
}

func TestMemoryBalanceIsCopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	tok := NewMemory("DAI", 18)
	alice := common.HexToAddress("0xa1")
	tok.Mint(alice, big.NewInt(10))

	b, _ := tok.BalanceOf(ctx, alice)
	b.SetInt64(999)
	again, _ := tok.BalanceOf(ctx, alice)
	assert.Equal(t, int64(10), again.Int64())
}
