// Package answer records submissions and aggregates them for result views.
//
// Submitting never scores: the elevation snapshot stored with each answer is
// what lets the state machine's destructive rollback restore a player
// without reversing any computation.
package answer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/blobbygame/summit/internal/domain"
	"github.com/blobbygame/summit/internal/errors"
	"github.com/blobbygame/summit/internal/store"
)

type Config struct {
	Store store.Store
	Now   func() time.Time
}

type Service struct {
	store store.Store
	now   func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store: c.Store,
		now:   c.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type SubmitRequest struct {
	QuestionID  string
	PlayerID    string
	OptionIndex int
}

type SubmitResponse struct {
	Submitted bool
}

// Submit records one answer for the (question, player) pair. The session
// must currently be accepting answers for the question; a second submission
// for the same pair is rejected by the store's conditional insert, so a
// concurrent duplicate loses cleanly instead of double-counting. The store
// revalidates the phase atomically with the insert: a reveal racing this
// submission either scores the answer or rejects it, never strands it.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	q, err := s.store.GetQuestion(ctx, req.QuestionID)
	if err != nil {
		return nil, err
	}
	if req.OptionIndex < 0 || req.OptionIndex >= len(q.Options) {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("option index out of range: %d", req.OptionIndex))
	}

	p, err := s.store.GetPlayer(ctx, req.PlayerID)
	if err != nil {
		return nil, err
	}

	ss, err := s.store.GetSession(ctx, q.SessionID)
	if err != nil {
		return nil, err
	}
	if ss.Status != domain.StatusActive ||
		(ss.QuestionPhase != domain.PhaseQuestionShown && ss.QuestionPhase != domain.PhaseAnswersShown) {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("not accepting answers: session=%s phase=%s", ss.ID, ss.QuestionPhase))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate answer ID: %w", err)
	}

	a := &domain.Answer{
		ID:                id.String(),
		QuestionID:        q.ID,
		PlayerID:          p.ID,
		OptionIndex:       req.OptionIndex,
		AnsweredAt:        s.now(),
		ElevationAtAnswer: p.Elevation,
	}
	if err := s.store.InsertAnswer(ctx, a, domain.PhaseQuestionShown, domain.PhaseAnswersShown); err != nil {
		return nil, err
	}

	return &SubmitResponse{Submitted: true}, nil
}

type HasAnsweredRequest struct {
	QuestionID string
	PlayerID   string
}

func (s *Service) HasAnswered(ctx context.Context, req HasAnsweredRequest) (bool, error) {
	answers, err := s.store.ListAnswersByQuestion(ctx, req.QuestionID)
	if err != nil {
		return false, err
	}
	for _, a := range answers {
		if a.PlayerID == req.PlayerID {
			return true, nil
		}
	}
	return false, nil
}

type ListByPlayerRequest struct {
	PlayerID string
}

func (s *Service) ListByPlayer(ctx context.Context, req ListByPlayerRequest) ([]domain.Answer, error) {
	return s.store.ListAnswersByPlayer(ctx, req.PlayerID)
}

type ListByQuestionRequest struct {
	QuestionID string
}

// ListByQuestion returns a question's answers in submission order.
func (s *Service) ListByQuestion(ctx context.Context, req ListByQuestionRequest) ([]domain.Answer, error) {
	return s.store.ListAnswersByQuestion(ctx, req.QuestionID)
}

type GetResultsRequest struct {
	QuestionID string
}

// GetResults tallies answers per option. The correct option index is
// withheld while the question is still being played (its session is active
// on this question in a phase before the reveal).
func (s *Service) GetResults(ctx context.Context, req GetResultsRequest) (*domain.QuestionResults, error) {
	q, err := s.store.GetQuestion(ctx, req.QuestionID)
	if err != nil {
		return nil, err
	}

	answers, err := s.store.ListAnswersByQuestion(ctx, q.ID)
	if err != nil {
		return nil, err
	}

	counts := make([]int, len(q.Options))
	for _, a := range answers {
		if a.OptionIndex >= 0 && a.OptionIndex < len(counts) {
			counts[a.OptionIndex]++
		}
	}

	res := &domain.QuestionResults{
		QuestionID:   q.ID,
		TotalAnswers: len(answers),
		OptionCounts: counts,
	}

	revealed, err := s.isRevealed(ctx, q)
	if err != nil {
		return nil, err
	}
	if revealed {
		res.CorrectOption = q.CorrectOption
	}
	return res, nil
}

// isRevealed reports whether the question's correct answer is public: its
// session is past the reveal for this question, or no longer on it at all.
func (s *Service) isRevealed(ctx context.Context, q *domain.Question) (bool, error) {
	ss, err := s.store.GetSession(ctx, q.SessionID)
	if err != nil {
		return false, err
	}
	if ss.Status != domain.StatusActive {
		return ss.Status == domain.StatusFinished, nil
	}

	questions, err := s.store.ListQuestionsBySession(ctx, ss.ID)
	if err != nil {
		return false, err
	}
	index := -1
	i := 0
	for _, other := range questions {
		if !other.Enabled {
			continue
		}
		if other.ID == q.ID {
			index = i
			break
		}
		i++
	}

	switch {
	case index < 0:
		// Disabled or not in the deck: nothing further will reveal it.
		return false, nil
	case index < ss.CurrentQuestionIndex:
		return true, nil
	case index > ss.CurrentQuestionIndex:
		return false, nil
	default:
		return ss.QuestionPhase == domain.PhaseRevealed || ss.QuestionPhase == domain.PhaseResults, nil
	}
}
