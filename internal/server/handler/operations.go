package handler

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/alanyoungcy/yieldvault/internal/service"
	"github.com/alanyoungcy/yieldvault/internal/vault"
)

// VaultOperator defines the mutating vault operations the API exposes.
type VaultOperator interface {
	Deposit(ctx context.Context, caller domain.Caller, amount *big.Int) (vault.DepositResult, error)
	Withdraw(ctx context.Context, caller domain.Caller, shares *big.Int, recipient common.Address, maxLossBps *uint64) (vault.WithdrawResult, error)
	Harvest(ctx context.Context, caller domain.Caller, addr common.Address) (domain.HarvestReport, error)
	AddStrategy(ctx context.Context, caller domain.Caller, name string, debtRatio uint64, minPerHarvest, maxPerHarvest *big.Int) (common.Address, error)
	UpdateStrategy(ctx context.Context, caller domain.Caller, addr common.Address, p service.StrategyParams) error
	RevokeStrategy(ctx context.Context, caller domain.Caller, addr common.Address) error
	MigrateStrategy(ctx context.Context, caller domain.Caller, old common.Address, next string) (vault.MigrationResult, error)
	SetEmergencyExit(ctx context.Context, caller domain.Caller, addr common.Address) error
	SetEmergencyShutdown(ctx context.Context, caller domain.Caller, active bool) error
	SetDepositLimit(ctx context.Context, caller domain.Caller, limit *big.Int) error
	SetPerformanceFee(ctx context.Context, caller domain.Caller, bps uint64) error
	SetRewards(ctx context.Context, caller domain.Caller, rewards common.Address) error
}

// OperationsHandler serves deposits and withdrawals. Both require a signed
// request; the signer is the account whose shares move.
type OperationsHandler struct {
	ops    VaultOperator
	logger *slog.Logger
}

// NewOperationsHandler creates an OperationsHandler.
func NewOperationsHandler(ops VaultOperator, logger *slog.Logger) *OperationsHandler {
	return &OperationsHandler{ops: ops, logger: logHandler(logger, "operations")}
}

type depositRequest struct {
	Amount string `json:"amount"`
}

// Deposit moves tokens from the signer into the vault.
// POST /api/deposit {"amount": "1000"}
func (h *OperationsHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err == nil && amount == nil {
		err = errMissing("amount")
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.ops.Deposit(r.Context(), caller, amount)
	if err != nil {
		writeOpError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type withdrawRequest struct {
	// Shares defaults to the signer's whole balance.
	Shares    string  `json:"shares,omitempty"`
	Recipient string  `json:"recipient,omitempty"`
	MaxLoss   *uint64 `json:"max_loss_bps,omitempty"`
}

type withdrawRejection struct {
	Error  string               `json:"error"`
	Result vault.WithdrawResult `json:"result"`
}

// Withdraw redeems the signer's shares. A slippage rejection carries the
// computed result so the client can retry with a wider bound.
// POST /api/withdraw {"shares": "500", "recipient": "0x…", "max_loss_bps": 150}
func (h *OperationsHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	shares, err := parseAmount("shares", req.Shares)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var recipient common.Address
	if req.Recipient != "" {
		if recipient, err = parseAddress("recipient", req.Recipient); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	res, err := h.ops.Withdraw(r.Context(), caller, shares, recipient, req.MaxLoss)
	if err != nil {
		if errors.Is(err, domain.ErrSlippage) {
			writeJSON(w, statusFor(err), withdrawRejection{Error: err.Error(), Result: res})
			return
		}
		writeOpError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
