package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oppmine-inc/oppmine-engine/pkg/apperrors"
	"github.com/oppmine-inc/oppmine-engine/pkg/jsonutil"
	"github.com/oppmine-inc/oppmine-engine/pkg/llm"
	"github.com/oppmine-inc/oppmine-engine/pkg/logging"
	"github.com/oppmine-inc/oppmine-engine/pkg/models"
	"github.com/oppmine-inc/oppmine-engine/pkg/repositories"
	"github.com/oppmine-inc/oppmine-engine/pkg/retry"
)

const scoringSystemMessage = `You evaluate app ideas harvested from Reddit for business potential.
Respond with only a JSON object: {"score": <0-100>, "insight": "<one-sentence rationale>"}.`

// ScoringService assigns an opportunity score after deduplication. Unique
// concepts get exactly one model invocation; duplicates copy the score
// already stored on the concept's primary opportunity.
type ScoringService interface {
	ScoreOpportunity(ctx context.Context, result models.DedupResult) error
}

type scoringService struct {
	client        llm.ScoringClient
	concepts      repositories.ConceptRepository
	opportunities repositories.OpportunityRepository
	temperature   float64
	retryCfg      *retry.Config
	logger        *zap.Logger
}

// NewScoringService creates a new ScoringService.
func NewScoringService(
	client llm.ScoringClient,
	concepts repositories.ConceptRepository,
	opportunities repositories.OpportunityRepository,
	temperature float64,
	logger *zap.Logger,
) ScoringService {
	return &scoringService{
		client:        client,
		concepts:      concepts,
		opportunities: opportunities,
		temperature:   temperature,
		retryCfg:      retry.DefaultConfig(),
		logger:        logger.Named("scoring"),
	}
}

var _ ScoringService = (*scoringService)(nil)

func (s *scoringService) ScoreOpportunity(ctx context.Context, result models.DedupResult) error {
	if !result.Success || result.ConceptID == nil {
		// Nothing classified, nothing to score.
		return nil
	}

	opp, err := s.opportunities.GetBySubmissionID(ctx, result.OpportunityID)
	if err != nil {
		return fmt.Errorf("failed to load opportunity %s: %w", result.OpportunityID, err)
	}
	if opp.OpportunityScore != nil {
		return fmt.Errorf("opportunity %s: %w", opp.SubmissionID, apperrors.ErrAlreadyScored)
	}

	if result.IsDuplicate {
		return s.copyPrimaryScore(ctx, opp, *result.ConceptID)
	}
	return s.scoreFresh(ctx, opp, *result.ConceptID, result.NormalizedConcept)
}

// copyPrimaryScore reuses the score stored on the concept's primary
// opportunity. Duplicates never trigger a model invocation.
func (s *scoringService) copyPrimaryScore(ctx context.Context, opp *models.Opportunity, conceptID uuid.UUID) error {
	concept, err := s.concepts.GetByID(ctx, conceptID)
	if err != nil {
		return fmt.Errorf("failed to load concept %s: %w", conceptID, err)
	}
	if concept.PrimaryOpportunityID == nil {
		return fmt.Errorf("concept %s has no primary opportunity", conceptID)
	}

	score, err := s.opportunities.GetScoreByOpportunityID(ctx, *concept.PrimaryOpportunityID)
	if err != nil {
		return fmt.Errorf("failed to load primary score for concept %s: %w", conceptID, err)
	}

	if err := s.opportunities.SaveScore(ctx, opp.ID, score.Score, score.Insight); err != nil {
		return fmt.Errorf("failed to save copied score: %w", err)
	}

	s.logger.Debug("copied score from primary opportunity",
		zap.String("submission_id", opp.SubmissionID),
		zap.Float64("score", score.Score))
	return nil
}

func (s *scoringService) scoreFresh(ctx context.Context, opp *models.Opportunity, conceptID uuid.UUID, normalized string) error {
	prompt := fmt.Sprintf("App idea: %s\n\nScore this idea's business potential.", normalized)

	var response string
	err := retry.DoIfRetryable(ctx, s.retryCfg, func() error {
		var genErr error
		response, genErr = s.client.GenerateResponse(ctx, prompt, scoringSystemMessage, s.temperature)
		return genErr
	})
	if err != nil {
		return fmt.Errorf("scoring model call failed: %w", err)
	}

	score, insight, err := parseScoreResponse(response)
	if err != nil {
		s.logger.Warn("unparseable scoring response",
			zap.String("submission_id", opp.SubmissionID),
			zap.String("response", logging.TruncateString(response, 200)))
		return fmt.Errorf("failed to parse scoring response: %w", err)
	}

	if err := s.opportunities.SaveScore(ctx, opp.ID, score, insight); err != nil {
		return fmt.Errorf("failed to save score: %w", err)
	}
	if err := s.concepts.SetAnalysisFlags(ctx, conceptID, true, false); err != nil {
		return fmt.Errorf("failed to flag concept as analyzed: %w", err)
	}

	s.logger.Info("scored opportunity",
		zap.String("submission_id", opp.SubmissionID),
		zap.Float64("score", score),
		zap.String("concept", logging.TruncateConcept(normalized)))
	return nil
}

// parseScoreResponse extracts {"score": ..., "insight": ...} from a model
// response that may wrap the JSON in prose or markdown fences. Scores are
// accepted as numbers, quoted numbers, or "N/100" strings, and must land in
// [0, 100].
func parseScoreResponse(response string) (float64, string, error) {
	jsonStr, err := llm.ExtractJSON(response)
	if err != nil {
		return 0, "", err
	}

	var raw struct {
		Score   json.RawMessage `json:"score"`
		Insight json.RawMessage `json:"insight"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &raw); err != nil {
		return 0, "", fmt.Errorf("invalid scoring JSON: %w", err)
	}
	if len(raw.Score) == 0 {
		return 0, "", errors.New("scoring response missing score field")
	}

	score, err := jsonutil.FlexibleFloatValue(raw.Score)
	if err != nil {
		return 0, "", fmt.Errorf("invalid score value: %w", err)
	}
	if score < 0 || score > 100 {
		return 0, "", fmt.Errorf("score %v out of range", score)
	}

	return score, jsonutil.FlexibleStringValue(raw.Insight), nil
}
