package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/oppmine-inc/oppmine-engine/pkg/apperrors"
	"github.com/oppmine-inc/oppmine-engine/pkg/database"
	"github.com/oppmine-inc/oppmine-engine/pkg/models"
)

// OpportunityRepository provides data access for harvested opportunities.
type OpportunityRepository interface {
	// Create inserts a new opportunity. Re-harvesting an already-stored
	// submission is a no-op (idempotent on submission_id).
	Create(ctx context.Context, opp *models.Opportunity) error

	GetByID(ctx context.Context, id uuid.UUID) (*models.Opportunity, error)
	GetBySubmissionID(ctx context.Context, submissionID string) (*models.Opportunity, error)

	// ListPending returns opportunities not yet attached to a business
	// concept, oldest first.
	ListPending(ctx context.Context, limit int) ([]*models.Opportunity, error)

	// MarkAsDuplicate attaches the opportunity to an existing concept.
	// Idempotent: repeated calls with the same arguments have no effect
	// beyond the first write.
	MarkAsDuplicate(ctx context.Context, oppID, conceptID uuid.UUID) error

	// MarkAsUnique attaches the opportunity to the concept it created.
	// Idempotent like MarkAsDuplicate.
	MarkAsUnique(ctx context.Context, oppID, conceptID uuid.UUID) error

	// MarkAsInvalid records that classification rejected the opportunity,
	// removing it from the pending backlog. Idempotent.
	MarkAsInvalid(ctx context.Context, oppID uuid.UUID, reason string) error

	// SaveScore persists the scoring service output for an opportunity.
	SaveScore(ctx context.Context, oppID uuid.UUID, score float64, insight string) error

	// GetScoreByOpportunityID returns the stored scoring result, or
	// apperrors.ErrNotFound when the opportunity has not been scored.
	GetScoreByOpportunityID(ctx context.Context, oppID uuid.UUID) (*models.OpportunityScoreResult, error)
}

// opportunityRepository implements OpportunityRepository using PostgreSQL.
type opportunityRepository struct {
	db *database.DB
}

// NewOpportunityRepository creates a new OpportunityRepository.
func NewOpportunityRepository(db *database.DB) OpportunityRepository {
	return &opportunityRepository{db: db}
}

var _ OpportunityRepository = (*opportunityRepository)(nil)

const opportunityColumns = `id, submission_id, app_concept, business_concept_id, is_duplicate,
		opportunity_score, score_insight, classification_error, created_at, updated_at`

func (r *opportunityRepository) Create(ctx context.Context, opp *models.Opportunity) error {
	if opp.ID == uuid.Nil {
		opp.ID = uuid.New()
	}

	now := time.Now()
	opp.CreatedAt = now
	opp.UpdatedAt = now

	query := `
		INSERT INTO reddit_opportunities (id, submission_id, app_concept, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (submission_id) DO NOTHING`

	_, err := r.db.Exec(ctx, query, opp.ID, opp.SubmissionID, opp.AppConcept, now, now)
	if err != nil {
		return fmt.Errorf("failed to create opportunity: %w", database.ClassifyStoreError(err))
	}

	return nil
}

func (r *opportunityRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Opportunity, error) {
	query := `
		SELECT ` + opportunityColumns + `
		FROM reddit_opportunities
		WHERE id = $1`

	opp, err := scanOpportunity(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get opportunity: %w", database.ClassifyStoreError(err))
	}

	return opp, nil
}

func (r *opportunityRepository) GetBySubmissionID(ctx context.Context, submissionID string) (*models.Opportunity, error) {
	query := `
		SELECT ` + opportunityColumns + `
		FROM reddit_opportunities
		WHERE submission_id = $1`

	opp, err := scanOpportunity(r.db.QueryRow(ctx, query, submissionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get opportunity by submission: %w", database.ClassifyStoreError(err))
	}

	return opp, nil
}

func (r *opportunityRepository) ListPending(ctx context.Context, limit int) ([]*models.Opportunity, error) {
	query := `
		SELECT ` + opportunityColumns + `
		FROM reddit_opportunities
		WHERE business_concept_id IS NULL AND classification_error IS NULL
		ORDER BY created_at
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending opportunities: %w", database.ClassifyStoreError(err))
	}
	defer rows.Close()

	var opportunities []*models.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan opportunity: %w", err)
		}
		opportunities = append(opportunities, opp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate opportunities: %w", database.ClassifyStoreError(err))
	}

	return opportunities, nil
}

func (r *opportunityRepository) MarkAsDuplicate(ctx context.Context, oppID, conceptID uuid.UUID) error {
	return r.mark(ctx, oppID, conceptID, true)
}

func (r *opportunityRepository) MarkAsUnique(ctx context.Context, oppID, conceptID uuid.UUID) error {
	return r.mark(ctx, oppID, conceptID, false)
}

func (r *opportunityRepository) mark(ctx context.Context, oppID, conceptID uuid.UUID, duplicate bool) error {
	// The WHERE clause makes repeat calls no-ops instead of bumping
	// updated_at forever.
	query := `
		UPDATE reddit_opportunities
		SET business_concept_id = $2, is_duplicate = $3, updated_at = NOW()
		WHERE id = $1
		  AND (business_concept_id IS DISTINCT FROM $2 OR is_duplicate IS DISTINCT FROM $3)`

	if _, err := r.db.Exec(ctx, query, oppID, conceptID, duplicate); err != nil {
		return fmt.Errorf("failed to mark opportunity: %w", database.ClassifyStoreError(err))
	}

	return nil
}

func (r *opportunityRepository) MarkAsInvalid(ctx context.Context, oppID uuid.UUID, reason string) error {
	// Flagged rows drop out of ListPending. Without this, a record with no
	// usable text would reappear at the head of the pending window on every
	// batch and eventually starve newer submissions.
	query := `
		UPDATE reddit_opportunities
		SET classification_error = $2, updated_at = NOW()
		WHERE id = $1
		  AND classification_error IS DISTINCT FROM $2`

	if _, err := r.db.Exec(ctx, query, oppID, reason); err != nil {
		return fmt.Errorf("failed to mark opportunity invalid: %w", database.ClassifyStoreError(err))
	}

	return nil
}

func (r *opportunityRepository) SaveScore(ctx context.Context, oppID uuid.UUID, score float64, insight string) error {
	query := `
		UPDATE reddit_opportunities
		SET opportunity_score = $2, score_insight = $3, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, oppID, score, insight)
	if err != nil {
		return fmt.Errorf("failed to save score: %w", database.ClassifyStoreError(err))
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *opportunityRepository) GetScoreByOpportunityID(ctx context.Context, oppID uuid.UUID) (*models.OpportunityScoreResult, error) {
	query := `
		SELECT opportunity_score, COALESCE(score_insight, '')
		FROM reddit_opportunities
		WHERE id = $1 AND opportunity_score IS NOT NULL`

	var result models.OpportunityScoreResult
	err := r.db.QueryRow(ctx, query, oppID).Scan(&result.Score, &result.Insight)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get score: %w", database.ClassifyStoreError(err))
	}

	return &result, nil
}

func scanOpportunity(row pgx.Row) (*models.Opportunity, error) {
	var opp models.Opportunity
	err := row.Scan(
		&opp.ID,
		&opp.SubmissionID,
		&opp.AppConcept,
		&opp.BusinessConceptID,
		&opp.IsDuplicate,
		&opp.OpportunityScore,
		&opp.ScoreInsight,
		&opp.ClassificationError,
		&opp.CreatedAt,
		&opp.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &opp, nil
}
