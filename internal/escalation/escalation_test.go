package escalation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kessai/internal/model"
	"github.com/ashita-ai/kessai/internal/testutil"
)

func newEscalationService(t *testing.T, cfg Config) *Service {
	t.Helper()
	return NewService(NewMemoryStore(), nil, nil, cfg, testutil.TestLogger())
}

func createInput(decisionID string) CreateInput {
	return CreateInput{
		DecisionID:  decisionID,
		Trigger:     model.TriggerRiskThreshold,
		EscalatedTo: []string{"act_human_user:alice", "act_human_user:bob"},
	}
}

func TestCreateEscalation(t *testing.T) {
	ctx := context.Background()
	s := newEscalationService(t, Config{})
	decisionID := model.NewDecisionID(time.Now())

	e, err := s.CreateEscalation(ctx, createInput(decisionID))
	require.NoError(t, err)

	require.NoError(t, model.ValidateEscalationID(e.EscalationID))
	assert.Equal(t, model.EscalationPending, e.Status)
	assert.Equal(t, model.PriorityCritical, e.Priority, "risk_threshold infers critical")
	assert.WithinDuration(t, e.CreatedAt.Add(2*time.Hour), e.SLADeadline, time.Second)

	// Re-escalation of the same decision is a distinct record.
	e2, err := s.CreateEscalation(ctx, createInput(decisionID))
	require.NoError(t, err)
	assert.NotEqual(t, e.EscalationID, e2.EscalationID)

	all, err := s.EscalationsByDecision(ctx, decisionID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCreateEscalationValidation(t *testing.T) {
	ctx := context.Background()
	s := newEscalationService(t, Config{})
	decisionID := model.NewDecisionID(time.Now())

	in := createInput(decisionID)
	in.EscalatedTo = nil
	_, err := s.CreateEscalation(ctx, in)
	assert.True(t, model.IsKind(err, model.KindValidation))

	in = createInput(decisionID)
	in.Trigger = "gut_feeling"
	_, err = s.CreateEscalation(ctx, in)
	assert.True(t, model.IsKind(err, model.KindValidation))

	in = createInput("dec_nope")
	_, err = s.CreateEscalation(ctx, in)
	assert.True(t, model.IsKind(err, model.KindValidation))
}

func TestExplicitPriorityOverridesInference(t *testing.T) {
	s := newEscalationService(t, Config{})
	in := createInput(model.NewDecisionID(time.Now()))
	in.Priority = model.PriorityLow

	e, err := s.CreateEscalation(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, model.PriorityLow, e.Priority)
	assert.WithinDuration(t, e.CreatedAt.Add(72*time.Hour), e.SLADeadline, time.Second)
}

func TestAcknowledgeAndResolve(t *testing.T) {
	ctx := context.Background()
	s := newEscalationService(t, Config{})
	e, err := s.CreateEscalation(ctx, createInput(model.NewDecisionID(time.Now())))
	require.NoError(t, err)

	// Only recipients may acknowledge.
	_, err = s.AcknowledgeEscalation(ctx, e.EscalationID, "act_human_user:mallory")
	assert.True(t, model.IsKind(err, model.KindAuthorization))

	acked, err := s.AcknowledgeEscalation(ctx, e.EscalationID, "act_human_user:alice")
	require.NoError(t, err)
	assert.Equal(t, model.EscalationAcknowledged, acked.Status)
	assert.Equal(t, "act_human_user:alice", acked.AcknowledgedBy)
	require.NotNil(t, acked.AcknowledgedAt)

	// Double acknowledge conflicts.
	_, err = s.AcknowledgeEscalation(ctx, e.EscalationID, "act_human_user:bob")
	assert.True(t, model.IsKind(err, model.KindConflict))

	resolved, err := s.ResolveEscalation(ctx, e.EscalationID, "act_human_user:alice", model.OutcomeApproved, "verified manually")
	require.NoError(t, err)
	assert.Equal(t, model.EscalationResolved, resolved.Status)
	require.NotNil(t, resolved.Resolution)
	assert.Equal(t, model.OutcomeApproved, resolved.Resolution.Outcome)

	// Terminal states admit no further transitions.
	_, err = s.ResolveEscalation(ctx, e.EscalationID, "act_human_user:alice", model.OutcomeDenied, "")
	assert.True(t, model.IsKind(err, model.KindConflict))
}

func TestResolveWithoutAcknowledge(t *testing.T) {
	ctx := context.Background()
	s := newEscalationService(t, Config{})
	e, err := s.CreateEscalation(ctx, createInput(model.NewDecisionID(time.Now())))
	require.NoError(t, err)

	resolved, err := s.ResolveEscalation(ctx, e.EscalationID, "act_human_user:bob", model.OutcomeDenied, "")
	require.NoError(t, err)
	assert.Equal(t, model.EscalationResolved, resolved.Status)
}

func TestResolveValidation(t *testing.T) {
	ctx := context.Background()
	s := newEscalationService(t, Config{})
	e, err := s.CreateEscalation(ctx, createInput(model.NewDecisionID(time.Now())))
	require.NoError(t, err)

	_, err = s.ResolveEscalation(ctx, e.EscalationID, "act_human_user:alice", "shrugged", "")
	assert.True(t, model.IsKind(err, model.KindValidation))

	_, err = s.ResolveEscalation(ctx, e.EscalationID, "act_human_user:mallory", model.OutcomeDenied, "")
	assert.True(t, model.IsKind(err, model.KindAuthorization))
}

func TestAutoEscalateForRisk(t *testing.T) {
	ctx := context.Background()
	decisionID := model.NewDecisionID(time.Now())

	// Below threshold: no escalation, no error.
	s := newEscalationService(t, Config{DefaultRecipients: []string{"act_human_user:oncall"}})
	e, err := s.AutoEscalateForRisk(ctx, model.Risk{DecisionID: decisionID, OverallScore: 79, RiskLevel: model.RiskHigh})
	require.NoError(t, err)
	assert.Nil(t, e)

	e, err = s.AutoEscalateForRisk(ctx, model.Risk{DecisionID: decisionID, OverallScore: 80, RiskLevel: model.RiskCritical})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, model.TriggerRiskThreshold, e.Trigger)
	assert.Equal(t, []string{"act_human_user:oncall"}, e.EscalatedTo)
	assert.Equal(t, true, e.Metadata["auto_escalated"], "auto-escalations are marked in metadata")

	// Threshold crossed but nobody to notify: configuration error.
	s = newEscalationService(t, Config{})
	_, err = s.AutoEscalateForRisk(ctx, model.Risk{DecisionID: decisionID, OverallScore: 95, RiskLevel: model.RiskCritical})
	assert.True(t, model.IsKind(err, model.KindConfiguration))
}

func TestCheckSLAStatus(t *testing.T) {
	ctx := context.Background()
	bus := NewBus(8, testutil.TestLogger())
	s := NewService(NewMemoryStore(), bus, nil, Config{}, testutil.TestLogger())
	sub := bus.Subscribe()

	e, err := s.CreateEscalation(ctx, createInput(model.NewDecisionID(time.Now())))
	require.NoError(t, err)
	drain(sub)

	// Inside the warning window (deadline is 2h out, default window 1h).
	st, err := s.CheckSLAStatus(ctx, e.SLADeadline.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, st.Open)
	assert.Equal(t, 1, st.Warnings)
	assert.Equal(t, 0, st.Expired)
	n := <-sub
	assert.Equal(t, "sla_warning", n.Type)

	// Warnings dedup to one per hour.
	st, err = s.CheckSLAStatus(ctx, e.SLADeadline.Add(-20*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, st.Warnings)

	// Past the deadline the escalation expires.
	st, err = s.CheckSLAStatus(ctx, e.SLADeadline.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, st.Expired)
	n = <-sub
	assert.Equal(t, "sla_exceeded", n.Type)

	got, err := s.GetEscalation(ctx, e.EscalationID)
	require.NoError(t, err)
	assert.Equal(t, model.EscalationExpired, got.Status)

	// Nothing open anymore.
	st, err = s.CheckSLAStatus(ctx, e.SLADeadline.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, st.Open)
}

func drain(ch <-chan model.Notification) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func TestStoreUpdateIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	e := model.Escalation{
		EscalationID: model.NewEscalationID(model.NewDecisionID(time.Now())),
		Status:       model.EscalationPending,
	}
	require.NoError(t, store.Insert(ctx, e))

	first, err := store.Update(ctx, e)
	require.NoError(t, err)
	assert.EqualValues(t, 1, first.Version)

	// The stale copy loses.
	_, err = store.Update(ctx, e)
	assert.True(t, model.IsKind(err, model.KindConflict))
}

func TestBusDropsOldestWhenFull(t *testing.T) {
	bus := NewBus(2, testutil.TestLogger())
	sub := bus.Subscribe()

	for i := 0; i < 3; i++ {
		bus.Publish(model.Notification{Type: "sla_warning", Subject: string(rune('a' + i))})
	}

	assert.EqualValues(t, 1, bus.Dropped())
	first := <-sub
	assert.Equal(t, "b", first.Subject, "oldest notification was evicted")
	second := <-sub
	assert.Equal(t, "c", second.Subject)
}

func TestBusAccountsForEveryLostNotification(t *testing.T) {
	bus := NewBus(4, testutil.TestLogger())
	sub := bus.Subscribe()

	const published = 500
	stop := make(chan struct{})
	done := make(chan int)
	go func() {
		received := 0
		for {
			select {
			case <-sub:
				received++
			case <-stop:
				done <- received
				return
			}
		}
	}()

	for i := 0; i < published; i++ {
		bus.Publish(model.Notification{Type: "sla_warning"})
	}
	close(stop)
	received := <-done

	// Whatever the concurrent receiver did not pick up is still buffered.
	for {
		select {
		case <-sub:
			received++
			continue
		default:
		}
		break
	}

	// Every published notification is either delivered or counted as
	// dropped, even when a receive races an eviction.
	assert.EqualValues(t, published, int64(received)+bus.Dropped())
}
