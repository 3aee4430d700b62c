package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oppmine-inc/oppmine-engine/pkg/apperrors"
	"github.com/oppmine-inc/oppmine-engine/pkg/llm"
	"github.com/oppmine-inc/oppmine-engine/pkg/models"
	"github.com/oppmine-inc/oppmine-engine/pkg/retry"
)

func newTestScoringService(client llm.ScoringClient, concepts *fakeConceptRepo, opps *fakeOpportunityRepo) *scoringService {
	svc := NewScoringService(client, concepts, opps, 0.2, zap.NewNop()).(*scoringService)
	svc.retryCfg = &retry.Config{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
	return svc
}

// classify runs the dedup pipeline so scoring tests start from a realistic
// classified state.
func classify(t *testing.T, concepts *fakeConceptRepo, opps *fakeOpportunityRepo, submissionID, concept string) models.DedupResult {
	t.Helper()
	opp := opps.addOpportunity(submissionID, concept)
	result := newTestDedupService(concepts, opps).ProcessOpportunity(context.Background(), opp)
	require.True(t, result.Success)
	return result
}

func TestScoreOpportunity_UniqueInvokesModelOnce(t *testing.T) {
	concepts := newFakeConceptRepo()
	opps := newFakeOpportunityRepo()
	mock := llm.NewMockScoringClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (string, error) {
		return `{"score": 82, "insight": "strong recurring demand"}`, nil
	}
	svc := newTestScoringService(mock, concepts, opps)

	result := classify(t, concepts, opps, "sub_1", "App idea: Food delivery service")
	require.False(t, result.IsDuplicate)

	require.NoError(t, svc.ScoreOpportunity(context.Background(), result))
	assert.Equal(t, 1, mock.GenerateResponseCalls)

	stored, err := opps.GetBySubmissionID(context.Background(), "sub_1")
	require.NoError(t, err)
	require.NotNil(t, stored.OpportunityScore)
	assert.Equal(t, 82.0, *stored.OpportunityScore)
	require.NotNil(t, stored.ScoreInsight)
	assert.Equal(t, "strong recurring demand", *stored.ScoreInsight)

	concept, err := concepts.GetByID(context.Background(), *result.ConceptID)
	require.NoError(t, err)
	assert.True(t, concept.HasAgnoAnalysis)
	assert.False(t, concept.HasProfilerAnalysis)
}

func TestScoreOpportunity_DuplicateCopiesPrimaryScore(t *testing.T) {
	concepts := newFakeConceptRepo()
	opps := newFakeOpportunityRepo()
	mock := llm.NewMockScoringClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (string, error) {
		return `{"score": 70, "insight": "viable"}`, nil
	}
	svc := newTestScoringService(mock, concepts, opps)

	primary := classify(t, concepts, opps, "sub_primary", "food delivery service")
	require.NoError(t, svc.ScoreOpportunity(context.Background(), primary))
	require.Equal(t, 1, mock.GenerateResponseCalls)

	duplicate := classify(t, concepts, opps, "sub_dup", "App idea: Food delivery service")
	require.True(t, duplicate.IsDuplicate)

	require.NoError(t, svc.ScoreOpportunity(context.Background(), duplicate))

	// The model was not consulted again
	assert.Equal(t, 1, mock.GenerateResponseCalls)

	stored, err := opps.GetBySubmissionID(context.Background(), "sub_dup")
	require.NoError(t, err)
	require.NotNil(t, stored.OpportunityScore)
	assert.Equal(t, 70.0, *stored.OpportunityScore)
	require.NotNil(t, stored.ScoreInsight)
	assert.Equal(t, "viable", *stored.ScoreInsight)
}

func TestScoreOpportunity_DuplicateWithUnscoredPrimary(t *testing.T) {
	concepts := newFakeConceptRepo()
	opps := newFakeOpportunityRepo()
	mock := llm.NewMockScoringClient()
	svc := newTestScoringService(mock, concepts, opps)

	classify(t, concepts, opps, "sub_primary", "food delivery service")
	duplicate := classify(t, concepts, opps, "sub_dup", "food delivery service")
	require.True(t, duplicate.IsDuplicate)

	err := svc.ScoreOpportunity(context.Background(), duplicate)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, 0, mock.GenerateResponseCalls)
}

func TestScoreOpportunity_AlreadyScored(t *testing.T) {
	concepts := newFakeConceptRepo()
	opps := newFakeOpportunityRepo()
	mock := llm.NewMockScoringClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (string, error) {
		return `{"score": 50, "insight": "ok"}`, nil
	}
	svc := newTestScoringService(mock, concepts, opps)

	result := classify(t, concepts, opps, "sub_1", "food delivery service")
	require.NoError(t, svc.ScoreOpportunity(context.Background(), result))

	err := svc.ScoreOpportunity(context.Background(), result)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrAlreadyScored)
	assert.Equal(t, 1, mock.GenerateResponseCalls)
}

func TestScoreOpportunity_SkipsFailedClassification(t *testing.T) {
	concepts := newFakeConceptRepo()
	opps := newFakeOpportunityRepo()
	mock := llm.NewMockScoringClient()
	svc := newTestScoringService(mock, concepts, opps)

	result := models.DedupResult{
		Success:       false,
		OpportunityID: "sub_bad",
		Error:         models.DedupErrorInvalidConcept,
	}

	require.NoError(t, svc.ScoreOpportunity(context.Background(), result))
	assert.Equal(t, 0, mock.GenerateResponseCalls)
}

func TestScoreOpportunity_RetriesTransientModelErrors(t *testing.T) {
	concepts := newFakeConceptRepo()
	opps := newFakeOpportunityRepo()
	mock := llm.NewMockScoringClient()
	attempts := 0
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (string, error) {
		attempts++
		if attempts < 3 {
			return "", llm.NewError(llm.ErrorTypeEndpoint, "connection failed", true, errors.New("dial tcp: connection refused"))
		}
		return `{"score": 60, "insight": "recovered"}`, nil
	}
	svc := newTestScoringService(mock, concepts, opps)

	result := classify(t, concepts, opps, "sub_1", "food delivery service")
	require.NoError(t, svc.ScoreOpportunity(context.Background(), result))
	assert.Equal(t, 3, attempts)
}

func TestScoreOpportunity_FailsFastOnAuthError(t *testing.T) {
	concepts := newFakeConceptRepo()
	opps := newFakeOpportunityRepo()
	mock := llm.NewMockScoringClient()
	mock.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temp float64) (string, error) {
		return "", llm.NewError(llm.ErrorTypeAuth, "authentication failed", false, errors.New("401"))
	}
	svc := newTestScoringService(mock, concepts, opps)

	result := classify(t, concepts, opps, "sub_1", "food delivery service")
	err := svc.ScoreOpportunity(context.Background(), result)
	require.Error(t, err)
	assert.Equal(t, 1, mock.GenerateResponseCalls)
}

func TestParseScoreResponse(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		wantScore   float64
		wantInsight string
		wantErr     bool
	}{
		{
			name:        "plain JSON",
			response:    `{"score": 85, "insight": "clear niche"}`,
			wantScore:   85,
			wantInsight: "clear niche",
		},
		{
			name:        "markdown fenced",
			response:    "```json\n{\"score\": 42.5, \"insight\": \"crowded market\"}\n```",
			wantScore:   42.5,
			wantInsight: "crowded market",
		},
		{
			name:        "quoted score",
			response:    `{"score": "73", "insight": "steady"}`,
			wantScore:   73,
			wantInsight: "steady",
		},
		{
			name:        "ratio score",
			response:    `{"score": "85/100", "insight": "promising"}`,
			wantScore:   85,
			wantInsight: "promising",
		},
		{
			name:        "prose around JSON",
			response:    `Here is my evaluation: {"score": 12, "insight": "no demand"} hope that helps`,
			wantScore:   12,
			wantInsight: "no demand",
		},
		{
			name:        "missing insight tolerated",
			response:    `{"score": 55}`,
			wantScore:   55,
			wantInsight: "",
		},
		{
			name:     "missing score",
			response: `{"insight": "no score here"}`,
			wantErr:  true,
		},
		{
			name:     "score out of range",
			response: `{"score": 140, "insight": "overenthusiastic"}`,
			wantErr:  true,
		},
		{
			name:     "negative score",
			response: `{"score": -5, "insight": "??"}`,
			wantErr:  true,
		},
		{
			name:     "no JSON at all",
			response: "I cannot score this idea.",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, insight, err := parseScoreResponse(tt.response)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, score)
			assert.Equal(t, tt.wantInsight, insight)
		})
	}
}
