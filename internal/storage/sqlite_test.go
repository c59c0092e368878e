package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kessai/internal/ledger"
	"github.com/ashita-ai/kessai/internal/model"
	"github.com/ashita-ai/kessai/internal/oversight"
	"github.com/ashita-ai/kessai/internal/responsibility"
	"github.com/ashita-ai/kessai/internal/testutil"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), ":memory:", testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLiteLedgerStore(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	store := db.LedgerStore()

	tail, err := store.Tail(ctx)
	require.NoError(t, err)
	assert.Nil(t, tail, "fresh store is empty")

	lg, err := ledger.Open(ctx, store, testutil.TestLogger())
	require.NoError(t, err)

	e1, err := lg.Append(ctx, "decision", map[string]any{"decision": "permit", "risk_level": 2})
	require.NoError(t, err)
	e2, err := lg.Append(ctx, "override", map[string]any{"override_id": "ovr_x"})
	require.NoError(t, err)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	tail, err = store.Tail(ctx)
	require.NoError(t, err)
	require.NotNil(t, tail)
	assert.Equal(t, e2.EntryHash, tail.EntryHash)

	got, err := store.ByHash(ctx, e1.EntryHash)
	require.NoError(t, err)
	assert.Equal(t, e1.EntryID, got.EntryID)
	assert.Equal(t, "permit", got.Data["decision"])

	// A missing hash is both the storage sentinel and the not_found kind,
	// so callers like decision verification can report "entry not found"
	// instead of failing.
	_, err = store.ByHash(ctx, "deadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, model.IsKind(err, model.KindNotFound))

	byType, err := store.ByType(ctx, "decision")
	require.NoError(t, err)
	require.Len(t, byType, 1)

	listed, err := store.List(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, e1.EntryID, listed[0].EntryID)

	ranged, err := store.ByTimeRange(ctx, time.Now().UTC().Add(-time.Minute), time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, ranged, 3)

	// Hashes survive the JSON round-trip: the chain still verifies.
	res, err := lg.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, res.Valid)

	// Reopening over the same store resumes the chain, no second genesis.
	lg2, err := ledger.Open(ctx, store, testutil.TestLogger())
	require.NoError(t, err)
	assert.Equal(t, e2.EntryHash, lg2.TailHash())
}

func TestSQLiteLedgerDuplicateEntry(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).LedgerStore()

	e := ledger.Entry{
		EntryID:      "dup",
		EventType:    "decision",
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		Data:         map[string]any{},
		PreviousHash: ledger.GenesisPreviousHash,
		EntryHash:    "hash_dup",
	}
	require.NoError(t, store.Insert(ctx, e))
	assert.Error(t, store.Insert(ctx, e))
}

func TestSQLiteResponsibilityStore(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).ResponsibilityStore()
	decisionID := model.NewDecisionID(time.Now())

	r := model.ResponsibilityRecord{
		RecordID:            "rsp_1",
		DecisionID:          decisionID,
		DecisionMaker:       model.MakerAISystem,
		ResponsibleParty:    "act_ai_agent:assistant",
		Role:                "governance_gateway",
		Confidence:          0.95,
		ResponsibilityLevel: model.ResponsibilityAutomated,
		ReviewRequired:      true,
		CreatedAt:           time.Now().UTC(),
	}
	require.NoError(t, store.Insert(ctx, r))

	got, err := store.Get(ctx, "rsp_1")
	require.NoError(t, err)
	assert.Equal(t, decisionID, got.DecisionID)
	assert.InDelta(t, 0.95, got.Confidence, 1e-9)
	assert.True(t, got.ReviewRequired)
	assert.Empty(t, got.ReviewedBy)

	pending, err := store.PendingReview(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, store.MarkReviewed(ctx, "rsp_1", "act_human_user:carol", time.Now().UTC()))
	got, err = store.Get(ctx, "rsp_1")
	require.NoError(t, err)
	assert.Equal(t, "act_human_user:carol", got.ReviewedBy)
	require.NotNil(t, got.ReviewedAt)

	pending, err = store.PendingReview(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	byDecision, err := store.ByDecision(ctx, decisionID)
	require.NoError(t, err)
	assert.Len(t, byDecision, 1)

	byParty, err := store.ByParty(ctx, "act_ai_agent:assistant")
	require.NoError(t, err)
	assert.Len(t, byParty, 1)

	_, err = store.Get(ctx, "rsp_missing")
	assert.Error(t, err)
}

func TestSQLiteInterventionStore(t *testing.T) {
	ctx := context.Background()
	store := openTestDB(t).InterventionStore()

	ms := int64(250)
	iv := model.HumanIntervention{
		InterventionID:   "int_1",
		Timestamp:        time.Now().UTC(),
		InterventionType: model.InterventionOverride,
		AIRecommendation: map[string]any{"decision": "permit"},
		AIConfidence:     0.8,
		HumanDecision:    map[string]any{"decision": "deny"},
		HumanRole:        "compliance_officer",
		Reason:           "sensitive dataset",
		Signature:        "c2ln",
		ResponseTimeMS:   &ms,
	}
	require.NoError(t, store.Insert(ctx, iv))
	require.NoError(t, store.Insert(ctx, model.HumanIntervention{
		InterventionID:   "int_2",
		Timestamp:        time.Now().UTC(),
		InterventionType: model.InterventionApproval,
		AIRecommendation: map[string]any{},
		AIConfidence:     0.9,
		HumanDecision:    map[string]any{},
		HumanRole:        "operator",
		Reason:           "routine",
	}))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	all, err := store.List(ctx, oversight.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	overrides, err := store.List(ctx, oversight.Filter{Type: model.InterventionOverride})
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	got := overrides[0]
	assert.Equal(t, "int_1", got.InterventionID)
	assert.Equal(t, "deny", got.HumanDecision["decision"])
	require.NotNil(t, got.ResponseTimeMS)
	assert.EqualValues(t, 250, *got.ResponseTimeMS)
	assert.Equal(t, "c2ln", got.Signature)

	byRole, err := store.List(ctx, oversight.Filter{HumanRole: "operator"})
	require.NoError(t, err)
	assert.Len(t, byRole, 1)
}

// Guard against accidental interface drift between the stores and their
// consumers.
var (
	_ ledger.Store         = (*sqliteLedger)(nil)
	_ responsibility.Store = (*sqliteResponsibility)(nil)
	_ oversight.Store      = (*sqliteInterventions)(nil)
)
