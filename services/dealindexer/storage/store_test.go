package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "indexer.db"))
	require.NoError(t, err)
	return NewStore(db)
}

func TestOpenRequiresDSN(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestUpsertDealKeepsNewestRefresh(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.UpsertDeal(ctx, &Deal{ID: 1, Client: "a", Freelancer: "b", Amount: "10", Status: StatusActive, LastEventSeq: 4}))
	first, err := store.GetDeal(ctx, 1)
	require.NoError(t, err)

	// An older refresh must not roll the row back.
	require.NoError(t, store.UpsertDeal(ctx, &Deal{ID: 1, Client: "a", Freelancer: "b", Amount: "10", Status: "pending", LastEventSeq: 2}))
	got, err := store.GetDeal(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, StatusActive, got.Status)

	require.NoError(t, store.UpsertDeal(ctx, &Deal{ID: 1, Client: "a", Freelancer: "b", Amount: "10", Status: StatusCompleted, LastEventSeq: 9}))
	got, err = store.GetDeal(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.EqualValues(t, 9, got.LastEventSeq)
	require.True(t, got.CreatedAt.Equal(first.CreatedAt), "created time should survive refreshes")

	_, err = store.GetDeal(ctx, 2)
	require.True(t, errors.Is(err, ErrNotFound))
	require.Error(t, store.UpsertDeal(ctx, &Deal{}))
}

func TestDealsByUserRoles(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.UpsertDeal(ctx, &Deal{ID: 1, Client: "alice", Freelancer: "bob", Amount: "1", Status: StatusActive}))
	require.NoError(t, store.UpsertDeal(ctx, &Deal{ID: 2, Client: "bob", Freelancer: "alice", Amount: "1", Status: StatusActive}))
	require.NoError(t, store.UpsertDeal(ctx, &Deal{ID: 3, Client: "alice", Freelancer: "carol", Amount: "1", Status: StatusRefunded}))

	asClient, err := store.DealsByUser(ctx, "alice", RoleClient)
	require.NoError(t, err)
	require.Len(t, asClient, 2)
	require.EqualValues(t, 3, asClient[0].ID)

	asFreelancer, err := store.DealsByUser(ctx, "alice", RoleFreelancer)
	require.NoError(t, err)
	require.Len(t, asFreelancer, 1)
	require.EqualValues(t, 2, asFreelancer[0].ID)

	all, err := store.DealsByUser(ctx, "alice", RoleAny)
	require.NoError(t, err)
	require.Len(t, all, 3)

	_, err = store.DealsByUser(ctx, "alice", "arbiter")
	require.Error(t, err)
}

func TestSummarizeDeals(t *testing.T) {
	stats, err := SummarizeDeals([]Deal{
		{ID: 1, AssetType: "native", Amount: "5000000000", Status: StatusActive, DeadlineSlot: 40},
		{ID: 2, AssetType: "native", Amount: "7", Status: StatusActive, DeadlineSlot: 12},
		{ID: 3, AssetType: "token", Amount: "300", Status: StatusActive, DeadlineSlot: 90},
		{ID: 4, AssetType: "native", Amount: "1", Status: StatusCompleted},
		{ID: 5, AssetType: "token", Amount: "1", Status: StatusRefunded},
		{ID: 6, AssetType: "token", Amount: "1", Status: StatusDisputed},
	})
	require.NoError(t, err)
	require.Equal(t, 6, stats.Total)
	require.Equal(t, 3, stats.Active)
	require.Equal(t, 1, stats.Completed)
	require.Equal(t, 1, stats.Refunded)
	require.Equal(t, 1, stats.Disputed)
	require.Equal(t, "5000000007", stats.LockedNative)
	require.Equal(t, "300", stats.LockedToken)
	require.NotNil(t, stats.NextDeadlineSlot)
	require.EqualValues(t, 12, *stats.NextDeadlineSlot)

	empty, err := SummarizeDeals(nil)
	require.NoError(t, err)
	require.Nil(t, empty.NextDeadlineSlot)
	require.Equal(t, "0", empty.LockedNative)

	_, err = SummarizeDeals([]Deal{{ID: 9, Amount: "lots", Status: StatusActive}})
	require.Error(t, err)
}

func TestStatsAndCursor(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	seq, err := store.Cursor(ctx, "node-events")
	require.NoError(t, err)
	require.Zero(t, seq)

	require.NoError(t, store.SaveCursor(ctx, "node-events", 12))
	require.NoError(t, store.SaveCursor(ctx, "node-events", 15))
	seq, err = store.Cursor(ctx, "node-events")
	require.NoError(t, err)
	require.EqualValues(t, 15, seq)

	require.NoError(t, store.UpsertDeal(ctx, &Deal{ID: 1, Client: "alice", Freelancer: "bob", AssetType: "native", Amount: "10", Status: StatusActive}))
	require.NoError(t, store.UpsertDeal(ctx, &Deal{ID: 2, Client: "alice", Freelancer: "carol", AssetType: "native", Amount: "4", Status: StatusActive}))

	stats, err := store.Stats(ctx, "node-events")
	require.NoError(t, err)
	require.Equal(t, 2, stats.Total)
	require.EqualValues(t, 1, stats.Clients)
	require.EqualValues(t, 2, stats.Freelancers)
	require.Equal(t, "14", stats.LockedNative)
	require.EqualValues(t, 15, stats.LastSequence)
}

func TestExportJobLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	job, err := store.CreateExportJob(ctx, "ops@example")
	require.NoError(t, err)
	require.Equal(t, ExportPending, job.Status)

	require.NoError(t, store.FinishExportJob(ctx, job.ID, "/tmp/deals.parquet", 3, nil))
	done, err := store.GetExportJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, ExportSucceeded, done.Status)
	require.Equal(t, 3, done.Rows)
	require.NotNil(t, done.CompletedAt)

	failed, err := store.CreateExportJob(ctx, "ops@example")
	require.NoError(t, err)
	require.NoError(t, store.FinishExportJob(ctx, failed.ID, "", 0, errors.New("disk full")))
	got, err := store.GetExportJob(ctx, failed.ID)
	require.NoError(t, err)
	require.Equal(t, ExportFailed, got.Status)
	require.Equal(t, "disk full", got.Error)

	_, err = store.GetExportJob(ctx, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}
