package domain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Token is the vault's underlying asset. Transfer is all-or-nothing: it
// either moves the full amount or returns an error without side effects.
type Token interface {
	Address() common.Address
	Decimals() uint8
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
}
