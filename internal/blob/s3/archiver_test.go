package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

type fakeBucket struct {
	objects   map[string][]byte
	multipart []string
}

func newFakeBucket() *fakeBucket { return &fakeBucket{objects: map[string][]byte{}} }

func (b *fakeBucket) Put(_ context.Context, path string, data io.Reader, _ string) error {
	buf, err := io.ReadAll(data)
	b.objects[path] = buf
	return err
}

func (b *fakeBucket) PutMultipart(ctx context.Context, path string, data io.Reader, _ string, _ int64) error {
	b.multipart = append(b.multipart, path)
	return b.Put(ctx, path, data, "")
}

func (b *fakeBucket) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for p, data := range b.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(data))})
		}
	}
	return out, nil
}

func (b *fakeBucket) Exists(_ context.Context, path string) (bool, error) {
	_, ok := b.objects[path]
	return ok, nil
}

type eventList []domain.Event

func (l eventList) ListBefore(_ context.Context, before time.Time) ([]domain.Event, error) {
	var out []domain.Event
	for _, e := range l {
		if e.OccurredAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestEventArchiver(t *testing.T) {
	ctx := context.Background()
	at := func(m time.Month, d int) time.Time { return time.Date(2025, m, d, 12, 0, 0, 0, time.UTC) }
	events := eventList{
		{ID: "e1", Type: domain.EventProjectCreated, ProjectID: "p1", OccurredAt: at(1, 3)},
		{ID: "e2", Type: domain.EventTokensPurchased, ProjectID: "p1", Amount: 50, OccurredAt: at(1, 20)},
		{ID: "e3", Type: domain.EventTokensPurchased, ProjectID: "p1", Amount: 25, OccurredAt: at(2, 2)},
		{ID: "e4", Type: domain.EventSalePaused, ProjectID: "p1", OccurredAt: at(3, 9)},
	}
	bucket := newFakeBucket()
	a := NewEventArchiver(bucket, bucket, events, "", slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.ArchiveEvents(ctx, at(3, 15))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n, "the current month is not archived")
	require.Contains(t, bucket.objects, "archive/events/2025-01.jsonl")
	require.Contains(t, bucket.objects, "archive/events/2025-02.jsonl")
	assert.NotContains(t, bucket.objects, "archive/events/2025-03.jsonl")
	assert.Empty(t, bucket.multipart)

	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(bucket.objects["archive/events/2025-01.jsonl"]))
	for sc.Scan() {
		var e domain.Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"e1", "e2"}, ids)

	n, err = a.ArchiveEvents(ctx, at(3, 15))
	require.NoError(t, err)
	assert.Zero(t, n, "archived months are skipped")

	listed, err := a.ListArchives(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "http://already", normaliseEndpoint("http://already", true))
}
