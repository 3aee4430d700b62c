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

// ConceptRepository provides data access for deduplicated business concepts.
// It is the narrow interface the deduplicator sees; all cross-process
// serialization happens behind it (unique fingerprint index, atomic counter).
type ConceptRepository interface {
	// GetByFingerprint returns the concept for a fingerprint, or
	// apperrors.ErrNotFound. Pure lookup, no side effects.
	GetByFingerprint(ctx context.Context, fingerprint string) (*models.BusinessConcept, error)

	// Create inserts a new concept row. A concurrent insert for the same
	// fingerprint surfaces as apperrors.ErrConflict; callers fall back to
	// GetByFingerprint.
	Create(ctx context.Context, concept *models.BusinessConcept) error

	// IncrementSubmissionCount atomically bumps submission_count by one.
	IncrementSubmissionCount(ctx context.Context, conceptID uuid.UUID) error

	// SetAnalysisFlags flips analysis markers to true. Flags never flip back,
	// so repeated calls are idempotent.
	SetAnalysisFlags(ctx context.Context, conceptID uuid.UUID, agno, profiler bool) error

	GetByID(ctx context.Context, conceptID uuid.UUID) (*models.BusinessConcept, error)
	Count(ctx context.Context) (int64, error)
}

// conceptRepository implements ConceptRepository using PostgreSQL.
type conceptRepository struct {
	db *database.DB
}

// NewConceptRepository creates a new ConceptRepository.
func NewConceptRepository(db *database.DB) ConceptRepository {
	return &conceptRepository{db: db}
}

var _ ConceptRepository = (*conceptRepository)(nil)

const conceptColumns = `id, concept_name, concept_fingerprint, primary_opportunity_id,
		submission_count, has_agno_analysis, has_profiler_analysis, created_at, updated_at`

func (r *conceptRepository) GetByFingerprint(ctx context.Context, fingerprint string) (*models.BusinessConcept, error) {
	query := `
		SELECT ` + conceptColumns + `
		FROM business_concepts
		WHERE concept_fingerprint = $1`

	concept, err := scanConcept(r.db.QueryRow(ctx, query, fingerprint))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get concept by fingerprint: %w", database.ClassifyStoreError(err))
	}

	return concept, nil
}

func (r *conceptRepository) GetByID(ctx context.Context, conceptID uuid.UUID) (*models.BusinessConcept, error) {
	query := `
		SELECT ` + conceptColumns + `
		FROM business_concepts
		WHERE id = $1`

	concept, err := scanConcept(r.db.QueryRow(ctx, query, conceptID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get concept: %w", database.ClassifyStoreError(err))
	}

	return concept, nil
}

func (r *conceptRepository) Create(ctx context.Context, concept *models.BusinessConcept) error {
	if concept.ID == uuid.Nil {
		concept.ID = uuid.New()
	}
	if concept.SubmissionCount == 0 {
		concept.SubmissionCount = 1
	}

	now := time.Now()

	query := `
		INSERT INTO business_concepts (
			id, concept_name, concept_fingerprint, primary_opportunity_id,
			submission_count, has_agno_analysis, has_profiler_analysis,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		concept.ID,
		concept.ConceptName,
		concept.ConceptFingerprint,
		concept.PrimaryOpportunityID,
		concept.SubmissionCount,
		concept.HasAgnoAnalysis,
		concept.HasProfilerAnalysis,
		now,
		now,
	).Scan(&concept.CreatedAt, &concept.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("concept fingerprint already exists: %w", apperrors.ErrConflict)
		}
		return fmt.Errorf("failed to create concept: %w", database.ClassifyStoreError(err))
	}

	return nil
}

func (r *conceptRepository) IncrementSubmissionCount(ctx context.Context, conceptID uuid.UUID) error {
	// The increment happens store-side so concurrent duplicates never lose
	// updates to read-modify-write races.
	query := `
		UPDATE business_concepts
		SET submission_count = submission_count + 1, updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, conceptID)
	if err != nil {
		return fmt.Errorf("failed to increment submission count: %w", database.ClassifyStoreError(err))
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *conceptRepository) SetAnalysisFlags(ctx context.Context, conceptID uuid.UUID, agno, profiler bool) error {
	query := `
		UPDATE business_concepts
		SET has_agno_analysis = has_agno_analysis OR $2,
		    has_profiler_analysis = has_profiler_analysis OR $3,
		    updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, conceptID, agno, profiler)
	if err != nil {
		return fmt.Errorf("failed to set analysis flags: %w", database.ClassifyStoreError(err))
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *conceptRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM business_concepts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count concepts: %w", database.ClassifyStoreError(err))
	}
	return count, nil
}

func scanConcept(row pgx.Row) (*models.BusinessConcept, error) {
	var concept models.BusinessConcept
	err := row.Scan(
		&concept.ID,
		&concept.ConceptName,
		&concept.ConceptFingerprint,
		&concept.PrimaryOpportunityID,
		&concept.SubmissionCount,
		&concept.HasAgnoAnalysis,
		&concept.HasProfilerAnalysis,
		&concept.CreatedAt,
		&concept.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &concept, nil
}
