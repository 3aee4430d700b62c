package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oppmine-inc/oppmine-engine/pkg/apperrors"
	"github.com/oppmine-inc/oppmine-engine/pkg/models"
	"github.com/oppmine-inc/oppmine-engine/pkg/repositories"
)

// ============================================================================
// In-memory store fakes
//
// The fakes mirror the store's real guarantees: the concept fake enforces
// fingerprint uniqueness under a mutex (standing in for the unique index)
// and increments counters atomically, so the concurrency tests exercise the
// same races the Postgres-backed store would see.
// ============================================================================

type fakeConceptRepo struct {
	mu           sync.Mutex
	byFP         map[string]*models.BusinessConcept
	byID         map[uuid.UUID]*models.BusinessConcept
	getErr       error
	getMisses    int // force this many lookups to report not-found
	getFailures  int // force this many lookups to fail as unavailable
	createErr    error
	incrementErr error

	getCalls    int
	createCalls int
}

func newFakeConceptRepo() *fakeConceptRepo {
	return &fakeConceptRepo{
		byFP: make(map[string]*models.BusinessConcept),
		byID: make(map[uuid.UUID]*models.BusinessConcept),
	}
}

var _ repositories.ConceptRepository = (*fakeConceptRepo)(nil)

func (f *fakeConceptRepo) GetByFingerprint(ctx context.Context, fingerprint string) (*models.BusinessConcept, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.getMisses > 0 {
		f.getMisses--
		return nil, apperrors.ErrNotFound
	}
	if f.getFailures > 0 {
		f.getFailures--
		return nil, fmt.Errorf("connection refused: %w", apperrors.ErrStoreUnavailable)
	}
	concept, ok := f.byFP[fingerprint]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *concept
	return &copied, nil
}

func (f *fakeConceptRepo) GetByID(ctx context.Context, conceptID uuid.UUID) (*models.BusinessConcept, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	concept, ok := f.byID[conceptID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *concept
	return &copied, nil
}

func (f *fakeConceptRepo) Create(ctx context.Context, concept *models.BusinessConcept) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return f.createErr
	}
	if _, exists := f.byFP[concept.ConceptFingerprint]; exists {
		return fmt.Errorf("concept fingerprint already exists: %w", apperrors.ErrConflict)
	}
	if concept.ID == uuid.Nil {
		concept.ID = uuid.New()
	}
	if concept.SubmissionCount == 0 {
		concept.SubmissionCount = 1
	}
	concept.CreatedAt = time.Now()
	concept.UpdatedAt = concept.CreatedAt
	stored := *concept
	f.byFP[concept.ConceptFingerprint] = &stored
	f.byID[concept.ID] = &stored
	return nil
}

func (f *fakeConceptRepo) IncrementSubmissionCount(ctx context.Context, conceptID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.incrementErr != nil {
		return f.incrementErr
	}
	concept, ok := f.byID[conceptID]
	if !ok {
		return apperrors.ErrNotFound
	}
	concept.SubmissionCount++
	return nil
}

func (f *fakeConceptRepo) SetAnalysisFlags(ctx context.Context, conceptID uuid.UUID, agno, profiler bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	concept, ok := f.byID[conceptID]
	if !ok {
		return apperrors.ErrNotFound
	}
	concept.HasAgnoAnalysis = concept.HasAgnoAnalysis || agno
	concept.HasProfilerAnalysis = concept.HasProfilerAnalysis || profiler
	return nil
}

func (f *fakeConceptRepo) Count(ctx context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.byFP)), nil
}

func (f *fakeConceptRepo) conceptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byFP)
}

func (f *fakeConceptRepo) submissionCount(fingerprint string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if concept, ok := f.byFP[fingerprint]; ok {
		return concept.SubmissionCount
	}
	return 0
}

type fakeOpportunityRepo struct {
	mu             sync.Mutex
	bySubmission   map[string]*models.Opportunity
	byID           map[uuid.UUID]*models.Opportunity
	markErr        error
	saveScoreErr   error
	markCalls      int
	markInvalid    int
	saveScoreCalls int
}

func newFakeOpportunityRepo() *fakeOpportunityRepo {
	return &fakeOpportunityRepo{
		bySubmission: make(map[string]*models.Opportunity),
		byID:         make(map[uuid.UUID]*models.Opportunity),
	}
}

var _ repositories.OpportunityRepository = (*fakeOpportunityRepo)(nil)

func (f *fakeOpportunityRepo) Create(ctx context.Context, opp *models.Opportunity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.bySubmission[opp.SubmissionID]; exists {
		return nil // idempotent on submission_id
	}
	if opp.ID == uuid.Nil {
		opp.ID = uuid.New()
	}
	opp.CreatedAt = time.Now()
	opp.UpdatedAt = opp.CreatedAt
	stored := *opp
	f.bySubmission[opp.SubmissionID] = &stored
	f.byID[opp.ID] = &stored
	return nil
}

func (f *fakeOpportunityRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Opportunity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	opp, ok := f.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *opp
	return &copied, nil
}

func (f *fakeOpportunityRepo) GetBySubmissionID(ctx context.Context, submissionID string) (*models.Opportunity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	opp, ok := f.bySubmission[submissionID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *opp
	return &copied, nil
}

func (f *fakeOpportunityRepo) ListPending(ctx context.Context, limit int) ([]*models.Opportunity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []*models.Opportunity
	for _, opp := range f.byID {
		if opp.BusinessConceptID == nil && opp.ClassificationError == nil {
			copied := *opp
			pending = append(pending, &copied)
			if len(pending) == limit {
				break
			}
		}
	}
	return pending, nil
}

func (f *fakeOpportunityRepo) MarkAsDuplicate(ctx context.Context, oppID, conceptID uuid.UUID) error {
	return f.mark(oppID, conceptID, true)
}

func (f *fakeOpportunityRepo) MarkAsUnique(ctx context.Context, oppID, conceptID uuid.UUID) error {
	return f.mark(oppID, conceptID, false)
}

func (f *fakeOpportunityRepo) mark(oppID, conceptID uuid.UUID, duplicate bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markCalls++
	if f.markErr != nil {
		return f.markErr
	}
	opp, ok := f.byID[oppID]
	if !ok {
		// Real store UPDATE on a missing row is a no-op
		return nil
	}
	opp.BusinessConceptID = &conceptID
	opp.IsDuplicate = &duplicate
	return nil
}

func (f *fakeOpportunityRepo) MarkAsInvalid(ctx context.Context, oppID uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markInvalid++
	if f.markErr != nil {
		return f.markErr
	}
	opp, ok := f.byID[oppID]
	if !ok {
		return nil
	}
	opp.ClassificationError = &reason
	return nil
}

func (f *fakeOpportunityRepo) SaveScore(ctx context.Context, oppID uuid.UUID, score float64, insight string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveScoreCalls++
	if f.saveScoreErr != nil {
		return f.saveScoreErr
	}
	opp, ok := f.byID[oppID]
	if !ok {
		return apperrors.ErrNotFound
	}
	opp.OpportunityScore = &score
	opp.ScoreInsight = &insight
	return nil
}

func (f *fakeOpportunityRepo) GetScoreByOpportunityID(ctx context.Context, oppID uuid.UUID) (*models.OpportunityScoreResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	opp, ok := f.byID[oppID]
	if !ok || opp.OpportunityScore == nil {
		return nil, apperrors.ErrNotFound
	}
	insight := ""
	if opp.ScoreInsight != nil {
		insight = *opp.ScoreInsight
	}
	return &models.OpportunityScoreResult{Score: *opp.OpportunityScore, Insight: insight}, nil
}

// addOpportunity seeds the fake with a stored opportunity row and returns it.
func (f *fakeOpportunityRepo) addOpportunity(submissionID, concept string) *models.Opportunity {
	opp := &models.Opportunity{
		ID:           uuid.New(),
		SubmissionID: submissionID,
	}
	if concept != "" {
		opp.AppConcept = &concept
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := *opp
	f.bySubmission[submissionID] = &stored
	f.byID[opp.ID] = &stored
	return opp
}
