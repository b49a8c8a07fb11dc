package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/yieldvault/internal/domain"
)

// ReportSource lists harvest reports due for archival.
type ReportSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.HarvestReport, error)
}

// multipartThreshold is the payload size above which uploads go through the
// multipart manager.
const multipartThreshold = 64 << 20

// ArchiveImpl implements domain.Archiver. It serialises rows older than a
// cutoff to JSONL, uploads them and records the run in the audit log. It
// never deletes from the primary store.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	reports ReportSource
	audit   domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl. reader is used to avoid overwriting
// an archive file written by an earlier run for the same month.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	reports ReportSource,
	audit domain.AuditStore,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		reader:  reader,
		reports: reports,
		audit:   audit,
	}
}

// ArchiveReports uploads every harvest report older than before to
// archive/harvest_reports/YYYY-MM.jsonl and returns how many were written.
func (a *ArchiveImpl) ArchiveReports(ctx context.Context, before time.Time) (int64, error) {
	reports, err := a.reports.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive harvest reports query: %w", err)
	}
	return archive(ctx, a, "harvest_reports", before, reports)
}

// ArchiveAudit uploads every audit entry older than before to
// archive/audit/YYYY-MM.jsonl and returns how many were written.
func (a *ArchiveImpl) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	return archive(ctx, a, "audit", before, entries)
}

func archive[T any](ctx context.Context, a *ArchiveImpl, kind string, before time.Time, records []T) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path, err := a.freePath(ctx, kind, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}

	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(records))
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

// freePath returns the month's archive path, suffixed with a run number when
// an earlier run already wrote it.
func (a *ArchiveImpl) freePath(ctx context.Context, kind string, before time.Time) (string, error) {
	path := archivePath(kind, before, 0)
	if a.reader == nil {
		return path, nil
	}
	for run := 1; ; run++ {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", err
		}
		if !exists {
			return path, nil
		}
		path = archivePath(kind, before, run)
	}
}

// archivePath builds the object key for an archive file:
//
//	archive/harvest_reports/2026-01.jsonl
//	archive/audit/2026-01.2.jsonl
func archivePath(kind string, before time.Time, run int) string {
	month := before.UTC().Format("2006-01")
	if run == 0 {
		return fmt.Sprintf("archive/%s/%s.jsonl", kind, month)
	}
	return fmt.Sprintf("archive/%s/%s.%d.jsonl", kind, month, run)
}

// marshalJSONL encodes one compact JSON document per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*ArchiveImpl)(nil)
