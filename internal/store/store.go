// Package store defines the persistence boundary for session aggregates.
//
// Implementations must make each single-record operation atomic and each
// batch operation all-or-nothing; the session service relies on that for its
// no-partial-mutation failure policy.
package store

import (
	"context"

	"github.com/blobbygame/summit/internal/domain"
)

// ElevationUpdate carries one player's new totals out of a reveal.
type ElevationUpdate struct {
	PlayerID  string
	Elevation int
	Score     int
}

// Store persists sessions and their owned players, questions and answers.
//
// Lookup misses return a NotFound coded error; uniqueness violations (join
// code, player name within a session, one answer per question and player)
// return an AlreadyExists coded error. The conditional inserts must hold
// under concurrent callers, not just sequential ones.
type Store interface {
	InsertSession(ctx context.Context, s *domain.Session, deck []domain.Question) error
	GetSession(ctx context.Context, id string) (*domain.Session, error)
	GetSessionByCode(ctx context.Context, code string) (*domain.Session, error)
	ListSessionsByHost(ctx context.Context, hostID string) ([]domain.Session, error)
	// SaveSession overwrites the session's mutable fields (status, index,
	// phase, started-at).
	SaveSession(ctx context.Context, s *domain.Session) error
	// DeleteSession removes the session and cascades to its players,
	// questions and answers.
	DeleteSession(ctx context.Context, id string) error

	InsertQuestion(ctx context.Context, q *domain.Question) error
	GetQuestion(ctx context.Context, id string) (*domain.Question, error)
	ListQuestionsBySession(ctx context.Context, sessionID string) ([]domain.Question, error)
	SaveQuestion(ctx context.Context, q *domain.Question) error
	// DeleteQuestion removes the question and its answers.
	DeleteQuestion(ctx context.Context, id string) error

	InsertPlayer(ctx context.Context, p *domain.Player) error
	GetPlayer(ctx context.Context, id string) (*domain.Player, error)
	ListPlayersBySession(ctx context.Context, sessionID string) ([]domain.Player, error)

	// InsertAnswer records an answer if and only if none exists for the
	// (question, player) pair. When open phases are given, the insert also
	// requires the question's session to be active in one of them, checked
	// in the same atomic unit as the insert itself; a FailedPrecondition
	// means the phase moved and nothing was stored.
	InsertAnswer(ctx context.Context, a *domain.Answer, open ...domain.Phase) error
	ListAnswersByQuestion(ctx context.Context, questionID string) ([]domain.Answer, error)
	ListAnswersByPlayer(ctx context.Context, playerID string) ([]domain.Answer, error)

	// ApplyReveal commits a reveal transition: the session's new phase and
	// every affected player's elevation and score, atomically. The score
	// callback runs inside the same atomic unit that writes the phase and
	// reads the question's answers (sorted by submission time), so every
	// stored answer is either passed to the callback or was rejected by
	// InsertAnswer's phase check.
	ApplyReveal(ctx context.Context, s *domain.Session, questionID string,
		score func(answers []domain.Answer) []ElevationUpdate) error
	// RollbackQuestion commits a destructive backward transition: the
	// session's new phase, deletion of the question's answers, and each
	// answering player's elevation restored to its submission snapshot. It
	// returns the restored players so the caller can announce their new
	// totals.
	RollbackQuestion(ctx context.Context, s *domain.Session, questionID string) ([]domain.Player, error)
	// ResetSession commits a full rewind to the lobby: the session's cleared
	// state, every player's elevation zeroed, and every answer for the
	// session's questions deleted.
	ResetSession(ctx context.Context, s *domain.Session) error
}
