package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind classifies a committed vault operation.
type EventKind string

const (
	EventDeposit           EventKind = "deposit"
	EventWithdraw          EventKind = "withdraw"
	EventWithdrawRejected  EventKind = "withdraw_rejected"
	EventHarvest           EventKind = "harvest"
	EventStrategyAdded     EventKind = "strategy_added"
	EventStrategyUpdated   EventKind = "strategy_updated"
	EventStrategyRevoked   EventKind = "strategy_revoked"
	EventStrategyMigrated  EventKind = "strategy_migrated"
	EventEmergencyExit     EventKind = "emergency_exit"
	EventEmergencyShutdown EventKind = "emergency_shutdown"
	EventDepositLimit      EventKind = "deposit_limit"
	EventPerformanceFee    EventKind = "performance_fee"
	EventRewards           EventKind = "rewards"
)

// Event is published on the event bus and recorded in the audit log after
// each committed operation. Only the fields relevant to Kind are set.
type Event struct {
	ID       string              `json:"id"`
	Kind     EventKind           `json:"kind"`
	Vault    common.Address      `json:"vault"`
	Strategy *common.Address     `json:"strategy,omitempty"`
	Account  *common.Address     `json:"account,omitempty"`
	Amounts  map[string]*big.Int `json:"amounts,omitempty"`
	Detail   string              `json:"detail,omitempty"`
	At       time.Time           `json:"at"`
}
