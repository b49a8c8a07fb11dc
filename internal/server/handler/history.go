package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/yieldvault/internal/domain"
)

const archivePrefix = "archive/"

var archiveKinds = map[string]bool{"reports": true, "audit": true}

// HistoryHandler serves harvest reports, the audit log, the event log and
// cold archives. blobs may be nil when object storage is disabled.
type HistoryHandler struct {
	history History
	events  EventLog
	blobs   domain.BlobReader
	logger  *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(history History, events EventLog, blobs domain.BlobReader, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{history: history, events: events, blobs: blobs, logger: logHandler(logger, "history")}
}

// ListReports lists harvest reports, newest first.
// GET /api/reports?strategy=0x…&limit=50&offset=0&since=…&until=…
func (h *HistoryHandler) ListReports(w http.ResponseWriter, r *http.Request) {
	var strat *common.Address
	if v := r.URL.Query().Get("strategy"); v != "" {
		addr, err := parseAddress("strategy", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		strat = &addr
	}
	reports, err := h.history.Reports(r.Context(), strat, parseListOpts(r))
	if err != nil {
		writeOpError(w, h.logger, r, err)
		return
	}
	if reports == nil {
		reports = []domain.HarvestReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

// ListAudit lists audit log entries, newest first.
// GET /api/audit?limit=50&offset=0
func (h *HistoryHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.history.AuditLog(r.Context(), parseListOpts(r))
	if err != nil {
		writeOpError(w, h.logger, r, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ListEvents pages through the vault's event log, oldest first. Without
// after it returns the newest events; next is the cursor for the following
// page.
// GET /api/events?after=1700000000000-0&limit=50
func (h *HistoryHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	after := r.URL.Query().Get("after")
	records, err := h.events.Events(r.Context(), after, parseListOpts(r).Limit)
	if err != nil {
		writeOpError(w, h.logger, r, err)
		return
	}
	if records == nil {
		records = []domain.EventRecord{}
	}
	next := after
	if len(records) > 0 {
		next = records[len(records)-1].ID
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": records, "next": next})
}

// ListArchives lists archived JSONL files, optionally of one kind.
// GET /api/archives?kind=reports
func (h *HistoryHandler) ListArchives(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusNotFound, "archive storage is not configured")
		return
	}
	prefix := archivePrefix
	if kind := r.URL.Query().Get("kind"); kind != "" {
		if !archiveKinds[kind] {
			writeError(w, http.StatusBadRequest, "kind must be reports or audit")
			return
		}
		prefix += kind + "/"
	}
	files, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		writeOpError(w, h.logger, r, err)
		return
	}
	if files == nil {
		files = []domain.BlobInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"archives": files})
}

// GetArchive streams one archived file.
// GET /api/archives/{kind}/{file}
func (h *HistoryHandler) GetArchive(w http.ResponseWriter, r *http.Request) {
	if h.blobs == nil {
		writeError(w, http.StatusNotFound, "archive storage is not configured")
		return
	}
	kind, file := r.PathValue("kind"), r.PathValue("file")
	if !archiveKinds[kind] || file == "" || strings.Contains(file, "..") {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}
	body, err := h.blobs.Get(r.Context(), archivePrefix+kind+"/"+file)
	if err != nil {
		writeOpError(w, h.logger, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "archive stream interrupted",
			slog.String("file", file),
			slog.String("error", err.Error()),
		)
	}
}
