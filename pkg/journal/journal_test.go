package journal

import (
	"errors"
	"testing"
	"time"

	"dstransfer/pkg/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenInMemory(zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func result(pid string, direction types.Direction, err error, at time.Time) *types.TransferResult {
	r := types.NewTransferResult(direction)
	r.Address = types.NewObjectAddress(pid, "DS")
	r.BytesTransferred = 42
	r.Elapsed = 150 * time.Millisecond
	r.Finish(err)
	r.CompletedAt = at
	return r
}

func TestRecordAndGet(t *testing.T) {
	j := openTestJournal(t)
	r := result("demo:1", types.DirectionDownload, nil, time.Now().UTC())
	r.ChecksumType = "MD5"
	r.LocalChecksum = "900150983cd24fb0d6963f7d28e17f72"

	require.NoError(t, j.Record(r))

	got, err := j.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, r.Address, got.Address)
	assert.Equal(t, types.OutcomeSuccess, got.Outcome)
	assert.Equal(t, r.Elapsed, got.Elapsed)
	assert.Equal(t, r.LocalChecksum, got.LocalChecksum)
	assert.True(t, r.CompletedAt.Equal(got.CompletedAt))
}

func TestGetMissing(t *testing.T) {
	j := openTestJournal(t)

	_, err := j.Get("no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordRejectsEmptyResult(t *testing.T) {
	j := openTestJournal(t)
	assert.Error(t, j.Record(nil))
	assert.Error(t, j.Record(&types.TransferResult{}))
}

func TestListNewestFirst(t *testing.T) {
	j := openTestJournal(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 5; i++ {
		r := result("demo:1", types.DirectionDownload, nil, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, j.Record(r))
		ids = append(ids, r.ID)
	}

	results, err := j.List(Filter{})
	require.NoError(t, err)
	require.Len(t, results, 5)
	for i, r := range results {
		assert.Equal(t, ids[4-i], r.ID)
	}

	limited, err := j.List(Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, ids[4], limited[0].ID)
	assert.Equal(t, ids[3], limited[1].ID)
}

func TestListFilter(t *testing.T) {
	j := openTestJournal(t)
	now := time.Now().UTC()
	mismatch := types.NewIntegrityError("verify", &types.ChecksumMismatchError{Algorithm: "MD5", Remote: "a", Local: "b"})

	require.NoError(t, j.Record(result("demo:1", types.DirectionDownload, nil, now)))
	require.NoError(t, j.Record(result("demo:2", types.DirectionUpload, nil, now.Add(time.Second))))
	require.NoError(t, j.Record(result("demo:2", types.DirectionDownload, mismatch, now.Add(2*time.Second))))
	require.NoError(t, j.Record(result("demo:3", types.DirectionDownload, errors.New("refused"), now.Add(3*time.Second))))

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"uploads", Filter{Direction: types.DirectionUpload}, 1},
		{"mismatches", Filter{Outcome: types.OutcomeChecksumMismatch}, 1},
		{"transport", Filter{Outcome: types.OutcomeTransportError}, 1},
		{"by pid", Filter{PID: "demo:2"}, 2},
		{"pid and direction", Filter{PID: "demo:2", Direction: types.DirectionDownload}, 1},
		{"no match", Filter{PID: "other:9"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := j.List(tt.filter)
			require.NoError(t, err)
			assert.Len(t, results, tt.want)
		})
	}
}

func TestSummary(t *testing.T) {
	j := openTestJournal(t)
	now := time.Now().UTC()

	require.NoError(t, j.Record(result("demo:1", types.DirectionDownload, nil, now)))
	require.NoError(t, j.Record(result("demo:2", types.DirectionDownload, nil, now.Add(time.Second))))
	require.NoError(t, j.Record(result("demo:3", types.DirectionDownload,
		types.NewMetadataError("fetch", "", types.ErrUnexpectedRoot), now.Add(2*time.Second))))

	counts, err := j.Summary()
	require.NoError(t, err)
	assert.Equal(t, 2, counts[types.OutcomeSuccess])
	assert.Equal(t, 1, counts[types.OutcomeMetadataError])
	assert.Zero(t, counts[types.OutcomeChecksumMismatch])
}

func TestOpenOnDisk(t *testing.T) {
	dir := t.TempDir()
	r := result("demo:1", types.DirectionUpload, nil, time.Now().UTC())

	j, err := Open(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, j.Record(r))
	require.NoError(t, j.Close())

	j, err = Open(dir, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer j.Close()

	got, err := j.Get(r.ID)
	require.NoError(t, err)
	assert.Equal(t, types.DirectionUpload, got.Direction)
}
