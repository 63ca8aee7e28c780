package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/blobbygame/summit/internal/domain"
	"github.com/blobbygame/summit/internal/errors"
	"github.com/blobbygame/summit/internal/shuffle"
)

type AddQuestionRequest struct {
	SessionID     string
	Text          string
	Options       []string
	CorrectOption *int
	TimeLimit     int
}

type AddQuestionResponse struct {
	QuestionID string
}

// AddQuestion appends a question to the session's deck.
func (s *Service) AddQuestion(ctx context.Context, req AddQuestionRequest) (*AddQuestionResponse, error) {
	if len(req.Options) < 2 {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("a question needs at least 2 options"))
	}
	if req.CorrectOption != nil && (*req.CorrectOption < 0 || *req.CorrectOption >= len(req.Options)) {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("correct option out of range: %d", *req.CorrectOption))
	}

	if _, err := s.store.GetSession(ctx, req.SessionID); err != nil {
		return nil, err
	}

	questions, err := s.store.ListQuestionsBySession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	order := 0
	if n := len(questions); n > 0 {
		order = questions[n-1].Order + 1
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate question ID: %w", err)
	}

	q := &domain.Question{
		ID:            id.String(),
		SessionID:     req.SessionID,
		Text:          req.Text,
		Options:       req.Options,
		CorrectOption: req.CorrectOption,
		Order:         order,
		TimeLimit:     req.TimeLimit,
		Enabled:       true,
	}
	if err := s.store.InsertQuestion(ctx, q); err != nil {
		return nil, err
	}

	return &AddQuestionResponse{QuestionID: q.ID}, nil
}

type UpdateQuestionRequest struct {
	QuestionID    string
	Text          *string
	Options       []string
	CorrectOption *int
	ClearCorrect  bool // turn a quiz question into a poll
	TimeLimit     *int
	Enabled       *bool
}

// UpdateQuestion patches a question. Disabling a question after it was
// played shrinks the deck but leaves its recorded answers alone.
func (s *Service) UpdateQuestion(ctx context.Context, req UpdateQuestionRequest) error {
	q, err := s.store.GetQuestion(ctx, req.QuestionID)
	if err != nil {
		return err
	}

	if req.Text != nil {
		q.Text = *req.Text
	}
	if req.Options != nil {
		if len(req.Options) < 2 {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("a question needs at least 2 options"))
		}
		q.Options = req.Options
	}
	if req.ClearCorrect {
		q.CorrectOption = nil
	} else if req.CorrectOption != nil {
		q.CorrectOption = req.CorrectOption
	}
	if q.CorrectOption != nil && (*q.CorrectOption < 0 || *q.CorrectOption >= len(q.Options)) {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("correct option out of range: %d", *q.CorrectOption))
	}
	if req.TimeLimit != nil {
		q.TimeLimit = *req.TimeLimit
	}
	if req.Enabled != nil {
		q.Enabled = *req.Enabled
	}

	return s.store.SaveQuestion(ctx, q)
}

type RemoveQuestionRequest struct {
	QuestionID string
}

// RemoveQuestion deletes a question and its answers.
func (s *Service) RemoveQuestion(ctx context.Context, req RemoveQuestionRequest) error {
	return s.store.DeleteQuestion(ctx, req.QuestionID)
}

type ListQuestionsRequest struct {
	SessionID string
}

func (s *Service) ListQuestions(ctx context.Context, req ListQuestionsRequest) ([]domain.Question, error) {
	return s.store.ListQuestionsBySession(ctx, req.SessionID)
}

type QuestionOrderRequest struct {
	SessionID     string
	QuestionIndex int
}

// QuestionOrder returns the deterministic presentation order for the
// session's question at the given enabled-deck index. Clients recompute the
// same order locally; this endpoint exists so displays can verify parity.
func (s *Service) QuestionOrder(ctx context.Context, req QuestionOrderRequest) (*shuffle.Order, error) {
	ss, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	enabled, err := s.enabledQuestions(ctx, ss.ID)
	if err != nil {
		return nil, err
	}
	q, err := questionAt(enabled, req.QuestionIndex)
	if err != nil {
		return nil, err
	}

	order := shuffle.Options(q.Options, ss.JoinCode, req.QuestionIndex)
	return &order, nil
}
