package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// MaxBPS is the basis point denominator used for debt ratios, fees and
// loss bounds.
const MaxBPS = 10_000

// MaxStrategies bounds the withdrawal queue length.
const MaxStrategies = 20

// Unlimited returns 2^256-1, the "no bound" value for deposit limits and
// per-harvest debt limits.
func Unlimited() *big.Int { return new(big.Int).Set(math.MaxBig256) }

// IsUnlimited reports whether v equals Unlimited.
func IsUnlimited(v *big.Int) bool { return v != nil && v.Cmp(math.MaxBig256) == 0 }

// StrategyRecord is the vault's bookkeeping for one strategy.
type StrategyRecord struct {
	Strategy          common.Address `json:"strategy"`
	DebtRatio         uint64         `json:"debt_ratio"`
	MinDebtPerHarvest *big.Int       `json:"min_debt_per_harvest"`
	MaxDebtPerHarvest *big.Int       `json:"max_debt_per_harvest"`
	TotalDebt         *big.Int       `json:"total_debt"`
	TotalGain         *big.Int       `json:"total_gain"`
	TotalLoss         *big.Int       `json:"total_loss"`
	Activation        time.Time      `json:"activation"`
	LastReport        time.Time      `json:"last_report"`
	Active            bool           `json:"active"`
	Revoked           bool           `json:"revoked"`
	EmergencyExit     bool           `json:"emergency_exit"`
}

// Clone returns a deep copy so callers never share big.Int values.
func (r StrategyRecord) Clone() StrategyRecord {
	r.MinDebtPerHarvest = cloneInt(r.MinDebtPerHarvest)
	r.MaxDebtPerHarvest = cloneInt(r.MaxDebtPerHarvest)
	r.TotalDebt = cloneInt(r.TotalDebt)
	r.TotalGain = cloneInt(r.TotalGain)
	r.TotalLoss = cloneInt(r.TotalLoss)
	return r
}

// VaultState is an immutable, settled view of a vault published after every
// committed operation. Values must not be mutated by readers.
type VaultState struct {
	Vault             common.Address                    `json:"vault"`
	Token             common.Address                    `json:"token"`
	Decimals          uint8                             `json:"decimals"`
	Idle              *big.Int                          `json:"idle"`
	TotalDebt         *big.Int                          `json:"total_debt"`
	TotalShares       *big.Int                          `json:"total_shares"`
	DepositLimit      *big.Int                          `json:"deposit_limit"`
	DebtRatio         uint64                            `json:"debt_ratio"`
	PerformanceFeeBps uint64                            `json:"performance_fee_bps"`
	Rewards           common.Address                    `json:"rewards"`
	EmergencyShutdown bool                              `json:"emergency_shutdown"`
	Queue             []common.Address                  `json:"withdrawal_queue"`
	Strategies        map[common.Address]StrategyRecord `json:"strategies"`
	Balances          map[common.Address]*big.Int       `json:"balances"`
	Version           uint64                            `json:"version"`
	UpdatedAt         time.Time                         `json:"updated_at"`
}

// TotalAssets is idle plus all outstanding strategy debt.
func (s *VaultState) TotalAssets() *big.Int {
	return new(big.Int).Add(intOrZero(s.Idle), intOrZero(s.TotalDebt))
}

// PricePerShare is the value of one whole share (10^decimals units) in the
// underlying token.
func (s *VaultState) PricePerShare() *big.Int {
	unit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(s.Decimals)), nil)
	if intOrZero(s.TotalShares).Sign() == 0 {
		return unit
	}
	return s.ShareValue(unit)
}

// ShareValue converts shares to underlying at the current rate, rounding down.
func (s *VaultState) ShareValue(shares *big.Int) *big.Int {
	if intOrZero(s.TotalShares).Sign() == 0 {
		return cloneInt(shares)
	}
	v := new(big.Int).Mul(shares, s.TotalAssets())
	return v.Quo(v, s.TotalShares)
}

// SharesForAmount converts underlying to shares at the current rate, rounding
// down.
func (s *VaultState) SharesForAmount(amount *big.Int) *big.Int {
	total := s.TotalAssets()
	if intOrZero(s.TotalShares).Sign() == 0 {
		return cloneInt(amount)
	}
	if total.Sign() == 0 {
		return new(big.Int)
	}
	v := new(big.Int).Mul(amount, s.TotalShares)
	return v.Quo(v, total)
}

// BalanceOf returns the share balance of holder, zero if unknown.
func (s *VaultState) BalanceOf(holder common.Address) *big.Int {
	return cloneInt(s.Balances[holder])
}

// Record returns the strategy record for addr.
func (s *VaultState) Record(addr common.Address) (StrategyRecord, bool) {
	r, ok := s.Strategies[addr]
	if !ok {
		return StrategyRecord{}, false
	}
	return r.Clone(), true
}

// QueueRecords returns the records of the withdrawal queue, in order.
func (s *VaultState) QueueRecords() []StrategyRecord {
	out := make([]StrategyRecord, 0, len(s.Queue))
	for _, addr := range s.Queue {
		if r, ok := s.Strategies[addr]; ok {
			out = append(out, r.Clone())
		}
	}
	return out
}

// MaxAvailableShares is the number of shares redeemable against idle funds
// plus the debt of strategies in the withdrawal queue. Debt held by a
// strategy outside the queue cannot be pulled by a withdrawal.
func (s *VaultState) MaxAvailableShares() *big.Int {
	reachable := cloneInt(s.Idle)
	for _, r := range s.QueueRecords() {
		reachable.Add(reachable, r.TotalDebt)
	}
	return s.SharesForAmount(reachable)
}

// HarvestReport is the outcome of a single harvest call.
type HarvestReport struct {
	ID              string         `json:"id"`
	Vault           common.Address `json:"vault"`
	Strategy        common.Address `json:"strategy"`
	Gain            *big.Int       `json:"gain"`
	Loss            *big.Int       `json:"loss"`
	Credit          *big.Int       `json:"credit"`
	Repaid          *big.Int       `json:"repaid"`
	DebtOutstanding *big.Int       `json:"debt_outstanding"`
	TotalDebt       *big.Int       `json:"total_debt"`
	FeeShares       *big.Int       `json:"fee_shares"`
	PricePerShare   *big.Int       `json:"price_per_share"`
	ReportedAt      time.Time      `json:"reported_at"`
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func intOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
