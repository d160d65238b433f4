package journal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"nhblease/core/types"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	j, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	j.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return j
}

func event(typ, lease string) types.Event {
	return types.Event{Type: typ, Attributes: map[string]string{"id": lease, "height": "1"}}
}

func TestAppendAndListEvents(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.Append(ctx, 3, []types.Event{event("ls-request-loan", "lease-a"), event("timealarm", "")}))
	require.NoError(t, j.Append(ctx, 4, []types.Event{event("ls-open", "lease-a"), event("ls-open", "lease-b")}))
	require.NoError(t, j.Append(ctx, 5, nil))

	records, err := j.Events(ctx, "lease-a", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "ls-request-loan", records[0].Type)
	require.Equal(t, uint64(3), records[0].Height)
	require.Equal(t, "ls-open", records[1].Type)

	latest, err := j.Events(ctx, "lease-a", 1)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	require.Equal(t, "ls-open", latest[0].Type)

	decoded, err := latest[0].Event()
	require.NoError(t, err)
	require.Equal(t, "lease-a", decoded.Attributes["id"])
}

func TestRecordLeases(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	require.NoError(t, j.RecordLease(ctx, LeaseRecord{Label: "lease-1", Address: "nhb1a", Customer: "nhb1c", Currency: "ATOM"}))
	require.NoError(t, j.RecordLease(ctx, LeaseRecord{Label: "lease-2", Address: "nhb1b", Customer: "nhb1c", Currency: "ATOM"}))
	require.Error(t, j.RecordLease(ctx, LeaseRecord{Label: "lease-1", Address: "nhb1z"}))

	leases, err := j.Leases(ctx)
	require.NoError(t, err)
	require.Len(t, leases, 2)
	require.NotEqual(t, uuid.Nil, leases[0].ID)
}

func TestExportParquet(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	require.NoError(t, j.Append(ctx, 1, []types.Event{event("ls-open", "lease-a"), event("ls-close", "lease-a")}))

	path := filepath.Join(t.TempDir(), "events.parquet")
	n, err := j.ExportParquet(ctx, path)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Positive(t, info.Size())
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open("  ")
	require.ErrorIs(t, err, ErrDSNRequired)
}
