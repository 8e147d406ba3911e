package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// multipartThreshold switches uploads to the transfer manager.
	multipartThreshold = 8 * 1024 * 1024
	archiveMonthLayout = "2006-01"
)

// EventSource lists events for archival.
type EventSource interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.Event, error)
}

// EventArchiver implements domain.Archiver. It writes one JSONL object per
// calendar month of the event log:
//
//	<prefix>/events/2025-01.jsonl
//
// Only months that ended before the cutoff are archived, and a month whose
// object already exists is skipped, so repeated runs are idempotent.
// Archived events stay in the primary store.
type EventArchiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	events EventSource
	prefix string
	logger *slog.Logger
}

// NewEventArchiver creates an EventArchiver. An empty prefix selects
// "archive".
func NewEventArchiver(writer domain.BlobWriter, reader domain.BlobReader, events EventSource, prefix string, logger *slog.Logger) *EventArchiver {
	if prefix == "" {
		prefix = "archive"
	}
	return &EventArchiver{
		writer: writer,
		reader: reader,
		events: events,
		prefix: prefix,
		logger: logger.With(slog.String("component", "event_archiver")),
	}
}

// ArchiveEvents uploads every complete month before the cutoff that has not
// been archived yet and returns the number of events written.
func (a *EventArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	cutoff := monthStart(before)
	events, err := a.events.ListBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	byMonth := make(map[string][]domain.Event)
	for _, e := range events {
		m := e.OccurredAt.UTC().Format(archiveMonthLayout)
		byMonth[m] = append(byMonth[m], e)
	}
	months := make([]string, 0, len(byMonth))
	for m := range byMonth {
		months = append(months, m)
	}
	sort.Strings(months)

	var total int64
	for _, m := range months {
		path := a.archivePath(m)
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive events check %s: %w", path, err)
		}
		if exists {
			continue
		}

		buf, err := marshalJSONL(byMonth[m])
		if err != nil {
			return total, fmt.Errorf("s3blob: archive events marshal %s: %w", m, err)
		}
		if len(buf) >= multipartThreshold {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), jsonlContentType, minPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
		}
		if err != nil {
			return total, fmt.Errorf("s3blob: archive events upload %s: %w", path, err)
		}

		n := int64(len(byMonth[m]))
		total += n
		a.logger.InfoContext(ctx, "archived events",
			slog.String("path", path),
			slog.Int64("count", n),
			slog.Int("bytes", len(buf)),
		)
	}
	return total, nil
}

// ListArchives returns the archived event objects.
func (a *EventArchiver) ListArchives(ctx context.Context) ([]domain.BlobInfo, error) {
	infos, err := a.reader.List(ctx, a.prefix+"/events/")
	if err != nil {
		return nil, fmt.Errorf("s3blob: list archives: %w", err)
	}
	return infos, nil
}

func (a *EventArchiver) archivePath(month string) string {
	return fmt.Sprintf("%s/events/%s.jsonl", a.prefix, month)
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// marshalJSONL encodes records as newline-delimited JSON.
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

var _ domain.Archiver = (*EventArchiver)(nil)
