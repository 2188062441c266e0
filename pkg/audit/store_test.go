package audit

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()

	sqlite, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "audit", "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStores_AppendAndQuery(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 6; i++ {
				session := "s1"
				if i%2 == 1 {
					session = "s2"
				}
				require.NoError(t, store.Append(ctx, Record{
					ID:         fmt.Sprintf("id-%d", i),
					Timestamp:  base.Add(time.Duration(i) * time.Minute),
					SessionID:  session,
					CallID:     fmt.Sprintf("c%d", i),
					ToolName:   "file_read",
					Arguments:  map[string]interface{}{"path": "/tmp/x"},
					Decision:   DecisionPermitted,
					Summary:    "ok",
					DurationMs: int64(i),
				}))
			}

			var got []Record
			for rec, err := range store.Query(ctx, Filter{SessionID: "s1"}) {
				require.NoError(t, err)
				got = append(got, rec)
			}
			require.Len(t, got, 3)
			assert.Equal(t, []string{"c0", "c2", "c4"}, []string{got[0].CallID, got[1].CallID, got[2].CallID})
			assert.Equal(t, "/tmp/x", got[0].Arguments["path"])
			assert.True(t, got[1].Timestamp.Equal(base.Add(2*time.Minute)))

			got = got[:0]
			for rec, err := range store.Query(ctx, Filter{Since: base.Add(2 * time.Minute), Until: base.Add(4 * time.Minute)}) {
				require.NoError(t, err)
				got = append(got, rec)
			}
			require.Len(t, got, 2)
			assert.Equal(t, "c2", got[0].CallID)
			assert.Equal(t, "c3", got[1].CallID)

			got = got[:0]
			for rec, err := range store.Query(ctx, Filter{Limit: 2}) {
				require.NoError(t, err)
				got = append(got, rec)
			}
			assert.Len(t, got, 2)
		})
	}
}

func TestStores_EarlyBreak(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 5; i++ {
				require.NoError(t, store.Append(ctx, Record{ID: fmt.Sprintf("%d", i), Timestamp: time.Now(), SessionID: "s", CallID: fmt.Sprintf("c%d", i), ToolName: "t", Decision: DecisionError}))
			}

			count := 0
			for _, err := range store.Query(ctx, Filter{}) {
				require.NoError(t, err)
				count++
				if count == 2 {
					break
				}
			}
			assert.Equal(t, 2, count)

			// a store that was broken out of must still serve writes
			require.NoError(t, store.Append(ctx, Record{ID: "late", Timestamp: time.Now(), SessionID: "s", CallID: "late", ToolName: "t", Decision: DecisionError}))
		})
	}
}

func TestFilter_Matches(t *testing.T) {
	now := time.Now()
	rec := Record{SessionID: "s1", CallID: "c1", ToolName: "file_delete", Decision: DecisionDeniedConfirmation, Timestamp: now}

	assert.True(t, Filter{}.Matches(rec))
	assert.True(t, Filter{SessionID: "s1", Decision: DecisionDeniedConfirmation}.Matches(rec))
	assert.False(t, Filter{ToolName: "file_read"}.Matches(rec))
	assert.False(t, Filter{Since: now.Add(time.Second)}.Matches(rec))
	assert.False(t, Filter{Until: now}.Matches(rec))
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision("cancelled")
	require.NoError(t, err)
	assert.Equal(t, DecisionCancelled, d)

	_, err = ParseDecision("maybe")
	assert.Error(t, err)
}
