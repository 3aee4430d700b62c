package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oppmine-inc/oppmine-engine/pkg/apperrors"
	"github.com/oppmine-inc/oppmine-engine/pkg/logging"
	"github.com/oppmine-inc/oppmine-engine/pkg/models"
	"github.com/oppmine-inc/oppmine-engine/pkg/repositories"
)

// conceptPrefixes are generic "this is an app idea" markers stripped during
// normalization so "App idea: X" and "mobile app: X" collapse to the same
// core text. Longest prefixes first so "app idea:" wins over "app:".
var conceptPrefixes = []string{
	"app idea:",
	"mobile app:",
	"web app:",
	"idea:",
	"app:",
}

// NormalizeConcept lowercases the text, trims and collapses whitespace, and
// strips generic app-idea prefixes. Empty, blank, or prefix-only input
// returns apperrors.ErrInvalidConcept: bogus fingerprints for empty text must
// never reach the store. The function is idempotent.
func NormalizeConcept(text string) (string, error) {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	if normalized == "" {
		return "", apperrors.ErrInvalidConcept
	}

	// Strip until stable so stacked markers ("app: idea: x") fully unwrap.
	for stripped := true; stripped; {
		stripped = false
		for _, prefix := range conceptPrefixes {
			if strings.HasPrefix(normalized, prefix) {
				normalized = strings.TrimSpace(strings.TrimPrefix(normalized, prefix))
				stripped = true
			}
		}
	}

	if normalized == "" {
		return "", apperrors.ErrInvalidConcept
	}
	return normalized, nil
}

// GenerateFingerprint returns the dedup key for normalized concept text:
// the first 128 bits of SHA-256, lowercase hex. Stable across processes and
// platforms; never reversed, only compared.
func GenerateFingerprint(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:16])
}

// DedupService classifies each incoming opportunity as a new or existing
// business concept. At most one concept row is created per distinct
// normalized text even under concurrent processing: the application-level
// lookup is only a fast path, the store's unique fingerprint index is the
// arbiter. The service holds no mutable state, so one instance can be shared
// across workers or instantiated per worker interchangeably.
type DedupService interface {
	// ProcessOpportunity runs the classification pipeline for one
	// opportunity. It never returns a Go error: every failure is folded into
	// the result so batch loops survive bad records.
	ProcessOpportunity(ctx context.Context, opp *models.Opportunity) models.DedupResult
}

type dedupService struct {
	concepts      repositories.ConceptRepository
	opportunities repositories.OpportunityRepository
	logger        *zap.Logger
}

// NewDedupService creates a new DedupService.
func NewDedupService(
	concepts repositories.ConceptRepository,
	opportunities repositories.OpportunityRepository,
	logger *zap.Logger,
) DedupService {
	return &dedupService{
		concepts:      concepts,
		opportunities: opportunities,
		logger:        logger.Named("dedup"),
	}
}

var _ DedupService = (*dedupService)(nil)

func (s *dedupService) ProcessOpportunity(ctx context.Context, opp *models.Opportunity) (result models.DedupResult) {
	start := time.Now()
	result.OpportunityID = opp.SubmissionID

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while processing opportunity",
				zap.String("submission_id", opp.SubmissionID),
				zap.Any("panic", r))
			result = s.failure(result, models.DedupErrorInternal, fmt.Sprintf("panic: %v", r))
		}
		result.ProcessingTimeMS = float64(time.Since(start).Microseconds()) / 1000.0
	}()

	normalized, err := NormalizeConcept(opp.ConceptText())
	if err != nil {
		// No usable text. Report without touching the store so callers can
		// skip or flag the record.
		return s.failure(result, models.DedupErrorInvalidConcept, "opportunity has no usable concept text")
	}
	result.NormalizedConcept = normalized
	result.Fingerprint = GenerateFingerprint(normalized)

	concept, err := s.concepts.GetByFingerprint(ctx, result.Fingerprint)
	switch {
	case err == nil:
		return s.attachDuplicate(ctx, opp, concept, result)
	case errors.Is(err, apperrors.ErrNotFound):
		return s.createAndAttach(ctx, opp, normalized, result)
	default:
		return s.storeFailure(result, "concept lookup failed", err)
	}
}

// attachDuplicate handles the "existing concept" branch: mark the
// opportunity, then bump the concept's counter. Marking first keeps retries
// safe: the mark is idempotent, so a retry after a failed increment adds
// exactly one.
func (s *dedupService) attachDuplicate(ctx context.Context, opp *models.Opportunity, concept *models.BusinessConcept, result models.DedupResult) models.DedupResult {
	if err := s.opportunities.MarkAsDuplicate(ctx, opp.ID, concept.ID); err != nil {
		return s.storeFailure(result, "failed to mark opportunity as duplicate", err)
	}
	if err := s.concepts.IncrementSubmissionCount(ctx, concept.ID); err != nil {
		return s.storeFailure(result, "failed to increment submission count", err)
	}

	s.logger.Debug("duplicate concept",
		zap.String("submission_id", opp.SubmissionID),
		zap.String("fingerprint", result.Fingerprint),
		zap.String("concept", logging.TruncateConcept(concept.ConceptName)))

	result.Success = true
	result.IsDuplicate = true
	result.ConceptID = &concept.ID
	result.Message = fmt.Sprintf("duplicate of concept %s", concept.ID)
	return result
}

// createAndAttach handles the "new concept" branch. A concurrent insert for
// the same fingerprint loses the race cleanly: the unique index rejects the
// second insert and we fall back to the duplicate branch.
func (s *dedupService) createAndAttach(ctx context.Context, opp *models.Opportunity, normalized string, result models.DedupResult) models.DedupResult {
	concept := &models.BusinessConcept{
		ConceptName:          normalized,
		ConceptFingerprint:   result.Fingerprint,
		PrimaryOpportunityID: &opp.ID,
	}

	err := s.concepts.Create(ctx, concept)
	if err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			existing, lookupErr := s.concepts.GetByFingerprint(ctx, result.Fingerprint)
			if lookupErr != nil {
				return s.storeFailure(result, "lookup after create conflict failed", lookupErr)
			}
			return s.attachDuplicate(ctx, opp, existing, result)
		}
		return s.storeFailure(result, "failed to create concept", err)
	}

	if err := s.opportunities.MarkAsUnique(ctx, opp.ID, concept.ID); err != nil {
		return s.storeFailure(result, "failed to mark opportunity as unique", err)
	}

	s.logger.Info("new business concept",
		zap.String("submission_id", opp.SubmissionID),
		zap.String("fingerprint", result.Fingerprint),
		zap.String("concept", logging.TruncateConcept(normalized)))

	result.Success = true
	result.IsDuplicate = false
	result.ConceptID = &concept.ID
	result.Message = fmt.Sprintf("created concept %s", concept.ID)
	return result
}

func (s *dedupService) failure(result models.DedupResult, code, message string) models.DedupResult {
	result.Success = false
	result.IsDuplicate = false
	result.ConceptID = nil
	result.Error = code
	result.Message = message
	return result
}

func (s *dedupService) storeFailure(result models.DedupResult, message string, err error) models.DedupResult {
	code := models.DedupErrorInternal
	if errors.Is(err, apperrors.ErrStoreUnavailable) {
		code = models.DedupErrorStoreUnavailable
	}
	s.logger.Warn(message,
		zap.String("submission_id", result.OpportunityID),
		zap.String("error", logging.SanitizeError(err)))
	return s.failure(result, code, fmt.Sprintf("%s: %s", message, logging.SanitizeError(err)))
}
