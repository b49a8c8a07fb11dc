package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/yieldvault/internal/domain"
	"github.com/alanyoungcy/yieldvault/internal/service"
)

// StrategyLister lists registered strategies joined with their records.
type StrategyLister interface {
	Strategies(ctx context.Context) []service.StrategyView
}

// StrategyHandler serves strategy listing and lifecycle endpoints. ops and
// lister are nil in read-only mode, where the list is built from the stored
// snapshot instead.
type StrategyHandler struct {
	ops       VaultOperator
	lister    StrategyLister
	snapshots SnapshotSource
	logger    *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler.
func NewStrategyHandler(ops VaultOperator, lister StrategyLister, snapshots SnapshotSource, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{ops: ops, lister: lister, snapshots: snapshots, logger: logHandler(logger, "strategy")}
}

// ListStrategies lists strategies.
// GET /api/strategies
func (h *StrategyHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	if h.lister != nil {
		writeJSON(w, http.StatusOK, map[string]any{"strategies": h.lister.Strategies(r.Context())})
		return
	}
	state, err := h.snapshots.Snapshot(r.Context())
	if err != nil {
		writeOpError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategies": snapshotStrategies(state)})
}

// snapshotStrategies lists the attached strategies of state in queue order,
// followed by those outside the queue.
func snapshotStrategies(state *domain.VaultState) []service.StrategyView {
	views := make([]service.StrategyView, 0, len(state.Strategies))
	seen := make(map[common.Address]bool, len(state.Queue))
	for i, addr := range state.Queue {
		rec, ok := state.Record(addr)
		if !ok {
			continue
		}
		seen[addr] = true
		views = append(views, service.StrategyView{Address: addr, Attached: true, QueuePosition: i, Record: &rec})
	}
	var rest []common.Address
	for addr := range state.Strategies {
		if !seen[addr] {
			rest = append(rest, addr)
		}
	}
	sortAddresses(rest)
	for _, addr := range rest {
		rec, _ := state.Record(addr)
		views = append(views, service.StrategyView{Address: addr, Attached: true, QueuePosition: -1, Record: &rec})
	}
	return views
}

type addStrategyRequest struct {
	Name              string `json:"name"`
	DebtRatio         uint64 `json:"debt_ratio"`
	MinDebtPerHarvest string `json:"min_debt_per_harvest,omitempty"`
	MaxDebtPerHarvest string `json:"max_debt_per_harvest,omitempty"`
}

// AddStrategy attaches a registered strategy by name. Governance only.
// POST /api/strategies {"name": "lender", "debt_ratio": 4000}
func (h *StrategyHandler) AddStrategy(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}
	var req addStrategyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errMissing("name").Error())
		return
	}
	minDebt, err := parseAmount("min_debt_per_harvest", req.MinDebtPerHarvest)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	maxDebt, err := parseAmount("max_debt_per_harvest", req.MaxDebtPerHarvest)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	addr, err := h.ops.AddStrategy(r.Context(), caller, req.Name, req.DebtRatio, minDebt, maxDebt)
	if err != nil {
		writeOpError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"name": req.Name, "address": addr})
}

type updateStrategyRequest struct {
	DebtRatio         *uint64 `json:"debt_ratio,omitempty"`
	MinDebtPerHarvest string  `json:"min_debt_per_harvest,omitempty"`
	MaxDebtPerHarvest string  `json:"max_debt_per_harvest,omitempty"`
}

// UpdateStrategy changes the debt ratio and per-harvest bounds of a strategy.
// PUT /api/strategies/{address}
func (h *StrategyHandler) UpdateStrategy(w http.ResponseWriter, r *http.Request) {
	caller, addr, ok := h.target(w, r)
	if !ok {
		return
	}
	var req updateStrategyRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p := service.StrategyParams{DebtRatio: req.DebtRatio}
	var err error
	if p.MinDebtPerHarvest, err = parseAmount("min_debt_per_harvest", req.MinDebtPerHarvest); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.MaxDebtPerHarvest, err = parseAmount("max_debt_per_harvest", req.MaxDebtPerHarvest); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if p.DebtRatio == nil && p.MinDebtPerHarvest == nil && p.MaxDebtPerHarvest == nil {
		writeError(w, http.StatusBadRequest, "no changes requested")
		return
	}

	if err := h.ops.UpdateStrategy(r.Context(), caller, addr, p); err != nil {
		writeOpError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": addr, "updated": true})
}

// Harvest runs a harvest for one strategy and returns its report.
// POST /api/strategies/{address}/harvest
func (h *StrategyHandler) Harvest(w http.ResponseWriter, r *http.Request) {
	caller, addr, ok := h.target(w, r)
	if !ok {
		return
	}
	report, err := h.ops.Harvest(r.Context(), caller, addr)
	if err != nil {
		writeOpError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Revoke sets a strategy's debt ratio to zero so the next harvest recalls
// its debt.
// POST /api/strategies/{address}/revoke
func (h *StrategyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	caller, addr, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.ops.RevokeStrategy(r.Context(), caller, addr); err != nil {
		writeOpError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": addr, "revoked": true})
}

// EmergencyExit puts a strategy into emergency exit.
// POST /api/strategies/{address}/emergency-exit
func (h *StrategyHandler) EmergencyExit(w http.ResponseWriter, r *http.Request) {
	caller, addr, ok := h.target(w, r)
	if !ok {
		return
	}
	if err := h.ops.SetEmergencyExit(r.Context(), caller, addr); err != nil {
		writeOpError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": addr, "emergency_exit": true})
}

type migrateRequest struct {
	Name string `json:"name"`
}

// Migrate replaces a strategy with another registered strategy.
// POST /api/strategies/{address}/migrate {"name": "lender-v2"}
func (h *StrategyHandler) Migrate(w http.ResponseWriter, r *http.Request) {
	caller, addr, ok := h.target(w, r)
	if !ok {
		return
	}
	var req migrateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, errMissing("name").Error())
		return
	}
	res, err := h.ops.MigrateStrategy(r.Context(), caller, addr, req.Name)
	if err != nil {
		writeOpError(w, h.logger, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// target resolves the signed caller and the {address} path value.
func (h *StrategyHandler) target(w http.ResponseWriter, r *http.Request) (domain.Caller, common.Address, bool) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return domain.Caller{}, common.Address{}, false
	}
	addr, err := parseAddress("address", r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return domain.Caller{}, common.Address{}, false
	}
	return caller, addr, true
}
