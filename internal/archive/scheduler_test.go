package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bondvault/internal/domain"
)

func TestScheduleNext(t *testing.T) {
	base := time.Date(2025, 1, 15, 10, 30, 20, 0, time.UTC) // Wednesday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"* * * * *", time.Date(2025, 1, 15, 10, 31, 0, 0, time.UTC)},
		{"0 3 * * *", time.Date(2025, 1, 16, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2025, 1, 15, 10, 45, 0, 0, time.UTC)},
		{"0 3 1 * *", time.Date(2025, 2, 1, 3, 0, 0, 0, time.UTC)},
		{"0 9-17/4 * * 1-5", time.Date(2025, 1, 15, 13, 0, 0, 0, time.UTC)},
		{"0 0 * * 0", time.Date(2025, 1, 19, 0, 0, 0, 0, time.UTC)},
		{"30 10,22 * * *", time.Date(2025, 1, 15, 22, 30, 0, 0, time.UTC)},
		{"0 0 * * 7", time.Date(2025, 1, 19, 0, 0, 0, 0, time.UTC)},
		{"0 0 20 * 5", time.Date(2025, 1, 17, 0, 0, 0, 0, time.UTC)},
		{"0 0 16 * 5", time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)},
		{"0 0 */10 * 1", time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)},
		{"0 0 29 2 *", time.Date(2028, 2, 29, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			s, err := ParseSchedule(tc.expr)
			require.NoError(t, err)
			got, err := s.Next(base)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseScheduleRejects(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "60 * * * *", "* 24 * * *", "* * 0 * *", "*/0 * * * *", "5-1 * * * *", "a * * * *", "* * * * 8"} {
		_, err := ParseSchedule(expr)
		assert.Error(t, err, expr)
	}
}

func TestScheduleNoMatch(t *testing.T) {
	s, err := ParseSchedule("0 0 31 2 *")
	require.NoError(t, err)
	_, err = s.Next(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Error(t, err)
}

func TestScheduleLeapDayAcrossSkippedCentury(t *testing.T) {
	s, err := ParseSchedule("0 0 29 2 *")
	require.NoError(t, err)
	got, err := s.Next(time.Date(2096, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2104, 2, 29, 0, 0, 0, 0, time.UTC), got)
}

type recordingArchiver struct {
	cutoffs []time.Time
	n       int64
	err     error
}

func (r *recordingArchiver) ArchiveEvents(_ context.Context, before time.Time) (int64, error) {
	r.cutoffs = append(r.cutoffs, before)
	return r.n, r.err
}

func (r *recordingArchiver) ListArchives(context.Context) ([]domain.BlobInfo, error) {
	return nil, nil
}

func TestRunOnceUsesRetentionCutoff(t *testing.T) {
	rec := &recordingArchiver{n: 4}
	s, err := NewScheduler(rec, "0 3 * * *", 90, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	now := time.Date(2025, 6, 30, 3, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	require.Len(t, rec.cutoffs, 1)
	assert.Equal(t, time.Date(2025, 4, 1, 3, 0, 0, 0, time.UTC), rec.cutoffs[0])

	rec.err = errors.New("bucket unavailable")
	_, err = s.RunOnce(context.Background())
	assert.ErrorContains(t, err, "bucket unavailable")
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := NewScheduler(&recordingArchiver{}, "0 3 1 1 *", 30, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Run(ctx), context.Canceled)
}
