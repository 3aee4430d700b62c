package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oppmine-inc/oppmine-engine/pkg/apperrors"
	"github.com/oppmine-inc/oppmine-engine/pkg/logging"
	"github.com/oppmine-inc/oppmine-engine/pkg/models"
	"github.com/oppmine-inc/oppmine-engine/pkg/reddit"
	"github.com/oppmine-inc/oppmine-engine/pkg/repositories"
	"github.com/oppmine-inc/oppmine-engine/pkg/retry"
)

// OpportunitySource lists new submissions from wherever opportunities come
// from. The Reddit client satisfies this; tests use a stub.
type OpportunitySource interface {
	FetchNewSubmissions(ctx context.Context, subreddit string, limit int) ([]reddit.Submission, error)
}

// HarvestConfig tunes one batch run.
type HarvestConfig struct {
	Subreddit       string
	FetchLimit      int
	MaxStoreRetries int
	// KeepResults retains per-record results in BatchStats. Off for large
	// backfills where only the counters matter.
	KeepResults    bool
	ScoringEnabled bool
}

// HarvestService runs one end-to-end batch: fetch, insert, classify, score.
type HarvestService interface {
	RunBatch(ctx context.Context) (*models.BatchStats, error)
}

type harvestService struct {
	source        OpportunitySource
	dedup         DedupService
	scoring       ScoringService
	opportunities repositories.OpportunityRepository
	cfg           HarvestConfig
	retryCfg      *retry.Config
	logger        *zap.Logger
}

// NewHarvestService creates a new HarvestService. scoring may be nil when
// scoring is disabled.
func NewHarvestService(
	source OpportunitySource,
	dedup DedupService,
	scoring ScoringService,
	opportunities repositories.OpportunityRepository,
	cfg HarvestConfig,
	logger *zap.Logger,
) HarvestService {
	retryCfg := retry.DefaultConfig()
	if cfg.MaxStoreRetries > 0 {
		retryCfg.MaxRetries = cfg.MaxStoreRetries
	}
	return &harvestService{
		source:        source,
		dedup:         dedup,
		scoring:       scoring,
		opportunities: opportunities,
		cfg:           cfg,
		retryCfg:      retryCfg,
		logger:        logger.Named("harvest"),
	}
}

var _ HarvestService = (*harvestService)(nil)

// RunBatch fetches new submissions, stores the unseen ones, then classifies
// and scores every pending opportunity. Per-record failures are counted and
// logged but never abort the batch; only fetch and list failures do, since
// without them there is no work.
func (s *harvestService) RunBatch(ctx context.Context) (*models.BatchStats, error) {
	start := time.Now()
	stats := &models.BatchStats{}

	submissions, err := s.source.FetchNewSubmissions(ctx, s.cfg.Subreddit, s.cfg.FetchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch submissions: %w", err)
	}

	for _, sub := range submissions {
		concept := sub.ConceptText()
		opp := &models.Opportunity{SubmissionID: sub.ID}
		if concept != "" {
			opp.AppConcept = &concept
		}
		// Insert is idempotent on submission_id, so re-fetching the same
		// listing page is harmless.
		if err := s.opportunities.Create(ctx, opp); err != nil {
			s.logger.Warn("failed to store submission",
				zap.String("submission_id", sub.ID),
				zap.String("error", logging.SanitizeError(err)))
		}
	}

	pending, err := s.opportunities.ListPending(ctx, s.cfg.FetchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending opportunities: %w", err)
	}

	for _, opp := range pending {
		if ctx.Err() != nil {
			stats.ElapsedMS = float64(time.Since(start).Microseconds()) / 1000.0
			return stats, ctx.Err()
		}
		s.processRecord(ctx, opp, stats)
	}

	stats.ElapsedMS = float64(time.Since(start).Microseconds()) / 1000.0
	s.logger.Info("harvest batch complete",
		zap.Int("processed", stats.Processed),
		zap.Int("unique", stats.Unique),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("invalid", stats.Invalid),
		zap.Int("failed", stats.Failed),
		zap.Int("scored", stats.Scored),
		zap.Float64("elapsed_ms", stats.ElapsedMS))
	return stats, nil
}

// processRecord classifies and scores one opportunity, retrying transient
// store failures with backoff.
func (s *harvestService) processRecord(ctx context.Context, opp *models.Opportunity, stats *models.BatchStats) {
	stats.Processed++

	var result models.DedupResult
	err := retry.DoIfRetryable(ctx, s.retryCfg, func() error {
		result = s.dedup.ProcessOpportunity(ctx, opp)
		if !result.Success && result.Error == models.DedupErrorStoreUnavailable {
			return fmt.Errorf("%s: %w", result.Message, apperrors.ErrStoreUnavailable)
		}
		return nil
	})
	if err != nil || !result.Success {
		switch result.Error {
		case models.DedupErrorInvalidConcept:
			stats.Invalid++
			// Flag the row so it leaves the pending backlog; otherwise it
			// would sit at the head of the window and recount on every run.
			if markErr := s.opportunities.MarkAsInvalid(ctx, opp.ID, result.Message); markErr != nil {
				s.logger.Warn("failed to flag invalid opportunity",
					zap.String("submission_id", result.OpportunityID),
					zap.String("error", logging.SanitizeError(markErr)))
			}
		default:
			stats.Failed++
		}
		s.record(stats, result)
		return
	}

	if result.IsDuplicate {
		stats.Duplicates++
	} else {
		stats.Unique++
	}

	if s.cfg.ScoringEnabled && s.scoring != nil {
		if err := s.scoring.ScoreOpportunity(ctx, result); err != nil {
			if !errors.Is(err, apperrors.ErrAlreadyScored) {
				s.logger.Warn("scoring failed",
					zap.String("submission_id", result.OpportunityID),
					zap.String("error", logging.SanitizeError(err)))
			}
		} else {
			stats.Scored++
		}
	}

	s.record(stats, result)
}

func (s *harvestService) record(stats *models.BatchStats, result models.DedupResult) {
	if s.cfg.KeepResults {
		stats.Results = append(stats.Results, result)
	}
}
