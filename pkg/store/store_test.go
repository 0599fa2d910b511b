package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both implementations are exercised through the same scenarios.
func stores(t *testing.T) map[string]ResultStore {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]ResultStore{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestPutAndGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := Record{
				ID:          "exec-1",
				Status:      StatusPending,
				Input:       "list the files",
				SubmittedAt: time.Now().UTC().Truncate(time.Second),
			}
			require.NoError(t, s.Put(ctx, rec))

			got, err := s.Get(ctx, "exec-1")
			require.NoError(t, err)
			assert.Equal(t, rec.ID, got.ID)
			assert.Equal(t, StatusPending, got.Status)
			assert.Equal(t, rec.Input, got.Input)
			assert.Empty(t, got.Result)
			assert.True(t, got.CompletedAt.IsZero())
		})
	}
}

func TestGetMissing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "nope")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestPutUpsertsCompletion(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := Record{
				ID:          "exec-2",
				Status:      StatusRunning,
				Input:       "fetch the page",
				SubmittedAt: time.Now().UTC().Truncate(time.Second),
			}
			require.NoError(t, s.Put(ctx, rec))

			payload, err := json.Marshal(map[string]interface{}{"success": true})
			require.NoError(t, err)
			rec.Status = StatusSucceeded
			rec.Result = payload
			rec.CompletedAt = rec.SubmittedAt.Add(2 * time.Second)
			require.NoError(t, s.Put(ctx, rec))

			got, err := s.Get(ctx, "exec-2")
			require.NoError(t, err)
			assert.Equal(t, StatusSucceeded, got.Status)
			assert.JSONEq(t, string(payload), string(got.Result))
			assert.False(t, got.CompletedAt.IsZero())
		})
	}
}

func TestListNewestFirst(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().UTC().Truncate(time.Second)
			for i, id := range []string{"a", "b", "c"} {
				require.NoError(t, s.Put(ctx, Record{
					ID:          id,
					Status:      StatusSucceeded,
					Input:       "x",
					SubmittedAt: base.Add(time.Duration(i) * time.Minute),
				}))
			}

			recs, err := s.List(ctx, 2)
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Equal(t, "c", recs[0].ID)
			assert.Equal(t, "b", recs[1].ID)
		})
	}
}

func TestDeleteOlderThanKeepsActiveRecords(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			old := time.Now().UTC().Add(-48 * time.Hour)

			require.NoError(t, s.Put(ctx, Record{ID: "done-old", Status: StatusSucceeded, Input: "x", SubmittedAt: old}))
			require.NoError(t, s.Put(ctx, Record{ID: "running-old", Status: StatusRunning, Input: "x", SubmittedAt: old}))
			require.NoError(t, s.Put(ctx, Record{ID: "done-new", Status: StatusFailed, Input: "x", SubmittedAt: time.Now().UTC()}))

			removed, err := s.DeleteOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 1, removed)

			_, err = s.Get(ctx, "done-old")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.Get(ctx, "running-old")
			assert.NoError(t, err)
			_, err = s.Get(ctx, "done-new")
			assert.NoError(t, err)
		})
	}
}
