package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kessai/internal/ledger"
	"github.com/ashita-ai/kessai/internal/model"
	"github.com/ashita-ai/kessai/internal/testutil"
)

var testPG *PG

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	var err error
	testPG, err = OpenPostgres(context.Background(), tc.DSN, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "storage: failed to open postgres: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}
	defer testPG.Close()

	os.Exit(m.Run())
}

func TestPostgresLedgerStore(t *testing.T) {
	ctx := context.Background()
	store := testPG.LedgerStore()

	lg, err := ledger.Open(ctx, store, testutil.TestLogger())
	require.NoError(t, err)

	e1, err := lg.Append(ctx, "decision", map[string]any{"decision": "permit"})
	require.NoError(t, err)
	e2, err := lg.Append(ctx, "escalation", map[string]any{"escalation_id": "esc_x"})
	require.NoError(t, err)

	tail, err := store.Tail(ctx)
	require.NoError(t, err)
	require.NotNil(t, tail)
	assert.Equal(t, e2.EntryHash, tail.EntryHash)

	got, err := store.ByHash(ctx, e1.EntryHash)
	require.NoError(t, err)
	assert.Equal(t, e1.EntryID, got.EntryID)
	assert.Equal(t, "permit", got.Data["decision"])

	_, err = store.ByHash(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, model.IsKind(err, model.KindNotFound))

	byType, err := store.ByType(ctx, "escalation")
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, e2.EntryID, byType[0].EntryID)

	ranged, err := store.ByTimeRange(ctx, time.Now().Add(-time.Minute), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.NotEmpty(t, ranged)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(3))

	listed, err := store.List(ctx, 0, 0)
	require.NoError(t, err)
	assert.EqualValues(t, n, len(listed))

	res, err := lg.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	// Reopening resumes the existing chain.
	lg2, err := ledger.Open(ctx, store, testutil.TestLogger())
	require.NoError(t, err)
	assert.Equal(t, lg.TailHash(), lg2.TailHash())
}
