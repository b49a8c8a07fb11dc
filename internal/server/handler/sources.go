package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/yieldvault/internal/domain"
)

// SnapshotSource returns the latest vault state.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*domain.VaultState, error)
}

// History lists stored harvest reports and audit entries.
type History interface {
	Reports(ctx context.Context, strategy *common.Address, opts domain.ListOpts) ([]domain.HarvestReport, error)
	AuditLog(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// LiveSnapshots serves the in-process vault's snapshot.
type LiveSnapshots struct {
	Vault interface{ Snapshot() *domain.VaultState }
}

func (l LiveSnapshots) Snapshot(context.Context) (*domain.VaultState, error) {
	return l.Vault.Snapshot(), nil
}

// StoredSnapshots serves the snapshot another process persisted. The cache
// is tried first; a miss falls back to the state store and refills the cache.
type StoredSnapshots struct {
	Vault  common.Address
	Cache  domain.SnapshotCache
	States domain.StateStore
	Logger *slog.Logger
}

func (s StoredSnapshots) Snapshot(ctx context.Context) (*domain.VaultState, error) {
	if s.Cache != nil {
		state, err := s.Cache.Get(ctx, s.Vault)
		if err == nil {
			return state, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.Logger.WarnContext(ctx, "snapshot cache read failed", slog.String("error", err.Error()))
		}
	}
	if s.States == nil {
		return nil, fmt.Errorf("snapshot %s: %w", s.Vault.Hex(), domain.ErrNotFound)
	}
	state, err := s.States.Load(ctx, s.Vault)
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		if err := s.Cache.Set(ctx, state); err != nil {
			s.Logger.WarnContext(ctx, "snapshot cache refill failed", slog.String("error", err.Error()))
		}
	}
	return state, nil
}

// StoredHistory reads history straight from the stores. Either store may be
// nil, in which case its listing reports not found.
type StoredHistory struct {
	Vault        common.Address
	ReportStore  domain.ReportStore
	AuditEntries domain.AuditStore
}

func (s StoredHistory) Reports(ctx context.Context, strategy *common.Address, opts domain.ListOpts) ([]domain.HarvestReport, error) {
	if s.ReportStore == nil {
		return nil, fmt.Errorf("reports: %w", domain.ErrNotFound)
	}
	return s.ReportStore.List(ctx, s.Vault, strategy, opts)
}

func (s StoredHistory) AuditLog(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if s.AuditEntries == nil {
		return nil, fmt.Errorf("audit log: %w", domain.ErrNotFound)
	}
	return s.AuditEntries.List(ctx, opts)
}

// EventLog pages through a vault's recent events.
type EventLog interface {
	Events(ctx context.Context, after string, limit int) ([]domain.EventRecord, error)
}

// BusEvents reads one vault's event log from the event bus. Without a bus
// the log reports not found. An empty after returns the newest events.
type BusEvents struct {
	Vault common.Address
	Bus   domain.EventBus
}

func (b BusEvents) Events(ctx context.Context, after string, limit int) ([]domain.EventRecord, error) {
	if b.Bus == nil {
		return nil, fmt.Errorf("event log: %w", domain.ErrNotFound)
	}
	if after == "" {
		return b.Bus.Latest(ctx, b.Vault, limit)
	}
	return b.Bus.Since(ctx, b.Vault, after, limit)
}
