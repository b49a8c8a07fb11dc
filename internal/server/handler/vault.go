package handler

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/yieldvault/internal/domain"
)

// VaultHandler serves read-only views of the vault snapshot.
type VaultHandler struct {
	snapshots SnapshotSource
	logger    *slog.Logger
}

// NewVaultHandler creates a VaultHandler.
func NewVaultHandler(snapshots SnapshotSource, logger *slog.Logger) *VaultHandler {
	return &VaultHandler{snapshots: snapshots, logger: logHandler(logger, "vault")}
}

type vaultResponse struct {
	*domain.VaultState
	TotalAssets        *big.Int `json:"total_assets"`
	PricePerShare      *big.Int `json:"price_per_share"`
	MaxAvailableShares *big.Int `json:"max_available_shares"`
	Unlimited          bool     `json:"deposit_limit_unlimited"`
}

// GetVault returns the latest snapshot with derived totals, including how
// many shares a withdrawal could currently redeem.
// GET /api/vault
func (h *VaultHandler) GetVault(w http.ResponseWriter, r *http.Request) {
	state, err := h.snapshots.Snapshot(r.Context())
	if err != nil {
		writeOpError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vaultResponse{
		VaultState:         state,
		TotalAssets:        state.TotalAssets(),
		PricePerShare:      state.PricePerShare(),
		MaxAvailableShares: state.MaxAvailableShares(),
		Unlimited:          domain.IsUnlimited(state.DepositLimit),
	})
}

type balanceResponse struct {
	Address common.Address `json:"address"`
	Shares  *big.Int       `json:"shares"`
	Value   *big.Int       `json:"value"`
}

// GetBalance returns the share balance of an address and its current value.
// GET /api/vault/balances/{address}
func (h *VaultHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("address", r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, err := h.snapshots.Snapshot(r.Context())
	if err != nil {
		writeOpError(w, h.logger, r, err)
		return
	}
	shares := state.BalanceOf(addr)
	writeJSON(w, http.StatusOK, balanceResponse{
		Address: addr,
		Shares:  shares,
		Value:   state.ShareValue(shares),
	})
}
