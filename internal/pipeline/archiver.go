// Package pipeline schedules the background jobs that move vault history out
// of the primary store.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/yieldvault/internal/domain"
)

// ReportPruner deletes harvest reports once they are archived.
type ReportPruner interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver moves old data from the database to S3 cold storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	pruner        ReportPruner
	retentionDays int
	clock         func() time.Time
	logger        *slog.Logger
}

// NewArchiver creates a new Archiver. When pruner is non-nil, archived
// harvest reports are deleted from the primary store after a successful
// upload. The audit log is never pruned.
func NewArchiver(blobArchiver domain.Archiver, pruner ReportPruner, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		pruner:        pruner,
		retentionDays: retentionDays,
		clock:         time.Now,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Cutoff returns the instant before which rows are archived.
func (a *Archiver) Cutoff() time.Time {
	return a.clock().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
}

// Run executes a single archive run.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.Cutoff()
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	reports, err := a.blobArchiver.ArchiveReports(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving harvest reports before %v: %w", cutoff, err)
	}

	var pruned int64
	if a.pruner != nil && reports > 0 {
		pruned, err = a.pruner.DeleteBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("pruning harvest reports before %v: %w", cutoff, err)
		}
	}

	audit, err := a.blobArchiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving audit log before %v: %w", cutoff, err)
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Int64("reports_archived", reports),
		slog.Int64("reports_pruned", pruned),
		slog.Int64("audit_archived", audit),
	)
	return nil
}

// RunCron runs the archiver on a standard 5-field cron schedule until ctx is
// cancelled, e.g. "0 3 1 * *" for 03:00 on the first of each month.
func (a *Archiver) RunCron(ctx context.Context, spec string) error {
	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(spec, func() {
		if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", spec, err)
	}

	c.Start()
	a.logger.InfoContext(ctx, "archiver cron started", slog.String("cron", spec))

	<-ctx.Done()
	<-c.Stop().Done()
	a.logger.Info("archiver cron stopped")
	return ctx.Err()
}
