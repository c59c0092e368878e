package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kessai/internal/model"
	"github.com/ashita-ai/kessai/internal/testutil"
)

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

func newRiskService(t *testing.T) *Service {
	t.Helper()
	s, err := NewService(Weights{}, nil, testutil.TestLogger())
	require.NoError(t, err)
	return s
}

func TestWeightsValidate(t *testing.T) {
	assert.NoError(t, DefaultWeights.Validate())
	bad := DefaultWeights
	bad.Security = 0.5
	assert.Error(t, bad.Validate())
}

func TestNewServiceRejectsBadWeights(t *testing.T) {
	_, err := NewService(Weights{Security: 0.5, Privacy: 0.1}, nil, testutil.TestLogger())
	assert.True(t, model.IsKind(err, model.KindValidation))
}

func TestAssessRiskWeightedMean(t *testing.T) {
	s := newRiskService(t)
	decisionID := model.NewDecisionID(time.Now())

	// security 80 (w 0.25) and privacy 40 (w 0.20): (80*.25+40*.20)/.45 = 62.2
	r, err := s.AssessRisk(context.Background(), AssessInput{
		DecisionID: decisionID,
		Dimensions: model.RiskDimensions{
			Security: intp(80),
			Privacy:  intp(40),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 62, r.OverallScore)
	assert.Equal(t, model.RiskHigh, r.RiskLevel)
	assert.Equal(t, model.RiskIDFor(decisionID), r.RiskID)
}

func TestAssessRiskSingleDimension(t *testing.T) {
	s := newRiskService(t)
	r, err := s.AssessRisk(context.Background(), AssessInput{
		DecisionID: model.NewDecisionID(time.Now()),
		Dimensions: model.RiskDimensions{Financial: intp(25)},
	})
	require.NoError(t, err)
	assert.Equal(t, 25, r.OverallScore, "single dimension normalizes to itself")
	assert.Equal(t, model.RiskLow, r.RiskLevel)
}

func TestAssessRiskValidation(t *testing.T) {
	ctx := context.Background()
	s := newRiskService(t)
	decisionID := model.NewDecisionID(time.Now())

	_, err := s.AssessRisk(ctx, AssessInput{DecisionID: "dec_bad"})
	assert.True(t, model.IsKind(err, model.KindValidation))

	_, err = s.AssessRisk(ctx, AssessInput{DecisionID: decisionID})
	assert.True(t, model.IsKind(err, model.KindValidation), "no dimensions populated")

	_, err = s.AssessRisk(ctx, AssessInput{
		DecisionID: decisionID,
		Dimensions: model.RiskDimensions{Security: intp(101)},
	})
	assert.True(t, model.IsKind(err, model.KindValidation))

	_, err = s.AssessRisk(ctx, AssessInput{
		DecisionID: decisionID,
		Dimensions: model.RiskDimensions{Security: intp(50)},
		Likelihood: floatp(1.5),
	})
	assert.True(t, model.IsKind(err, model.KindValidation))

	_, err = s.AssessRisk(ctx, AssessInput{
		DecisionID: decisionID,
		Dimensions: model.RiskDimensions{Security: intp(50)},
		Impact:     intp(6),
	})
	assert.True(t, model.IsKind(err, model.KindValidation))
}

func TestAssessRiskOnePerDecision(t *testing.T) {
	ctx := context.Background()
	s := newRiskService(t)
	decisionID := model.NewDecisionID(time.Now())
	in := AssessInput{
		DecisionID: decisionID,
		Dimensions: model.RiskDimensions{Security: intp(10)},
	}

	_, err := s.AssessRisk(ctx, in)
	require.NoError(t, err)

	_, err = s.AssessRisk(ctx, in)
	assert.True(t, model.IsKind(err, model.KindConflict))
}

func TestGetRisk(t *testing.T) {
	ctx := context.Background()
	s := newRiskService(t)
	decisionID := model.NewDecisionID(time.Now())

	_, err := s.GetRisk(decisionID)
	assert.True(t, model.IsKind(err, model.KindNotFound))

	want, err := s.AssessRisk(ctx, AssessInput{
		DecisionID: decisionID,
		Dimensions: model.RiskDimensions{Compliance: intp(90)},
	})
	require.NoError(t, err)

	got, err := s.GetRisk(decisionID)
	require.NoError(t, err)
	assert.Equal(t, want.RiskID, got.RiskID)
	assert.Equal(t, model.RiskCritical, got.RiskLevel)
	assert.Len(t, s.AllRisks(), 1)
}

func TestLevelForScoreBands(t *testing.T) {
	assert.Equal(t, model.RiskLow, model.LevelForScore(29))
	assert.Equal(t, model.RiskMedium, model.LevelForScore(30))
	assert.Equal(t, model.RiskMedium, model.LevelForScore(59))
	assert.Equal(t, model.RiskHigh, model.LevelForScore(60))
	assert.Equal(t, model.RiskHigh, model.LevelForScore(79))
	assert.Equal(t, model.RiskCritical, model.LevelForScore(80))
}
