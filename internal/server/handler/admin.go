package handler

import (
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/alanyoungcy/yieldvault/internal/domain"
)

// AdminHandler serves vault-wide governance and guardian controls.
type AdminHandler struct {
	ops    VaultOperator
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(ops VaultOperator, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{ops: ops, logger: logHandler(logger, "admin")}
}

type shutdownRequest struct {
	Active *bool `json:"active"`
}

// Shutdown toggles emergency shutdown. An empty body activates it.
// POST /api/vault/shutdown {"active": true}
func (h *AdminHandler) Shutdown(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req shutdownRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	active := req.Active == nil || *req.Active
	if err := h.ops.SetEmergencyShutdown(r.Context(), caller, active); err != nil {
		writeOpError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"emergency_shutdown": active})
}

type depositLimitRequest struct {
	Limit string `json:"limit"`
}

// SetDepositLimit replaces the deposit limit. "unlimited" lifts it.
// PUT /api/vault/deposit-limit {"limit": "1000000"}
func (h *AdminHandler) SetDepositLimit(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req depositLimitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var limit *big.Int
	if strings.EqualFold(req.Limit, "unlimited") {
		limit = domain.Unlimited()
	} else {
		var err error
		limit, err = parseAmount("limit", req.Limit)
		if err == nil && limit == nil {
			err = errMissing("limit")
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := h.ops.SetDepositLimit(r.Context(), caller, limit); err != nil {
		writeOpError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deposit_limit": limit})
}

type performanceFeeRequest struct {
	Bps *uint64 `json:"bps"`
}

// SetPerformanceFee replaces the performance fee.
// PUT /api/vault/performance-fee {"bps": 1000}
func (h *AdminHandler) SetPerformanceFee(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req performanceFeeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Bps == nil {
		writeError(w, http.StatusBadRequest, errMissing("bps").Error())
		return
	}
	if err := h.ops.SetPerformanceFee(r.Context(), caller, *req.Bps); err != nil {
		writeOpError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"performance_fee_bps": *req.Bps})
}

type rewardsRequest struct {
	Rewards string `json:"rewards"`
}

// SetRewards changes the performance fee recipient.
// PUT /api/vault/rewards {"rewards": "0x…"}
func (h *AdminHandler) SetRewards(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req rewardsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	addr, err := parseAddress("rewards", req.Rewards)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.ops.SetRewards(r.Context(), caller, addr); err != nil {
		writeOpError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rewards": addr})
}
