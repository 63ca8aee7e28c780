// Package memory is an in-process Store used by tests and local runs.
// A single mutex serializes every operation, which trivially gives the batch
// operations their all-or-nothing guarantee.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/blobbygame/summit/internal/domain"
	"github.com/blobbygame/summit/internal/errors"
	"github.com/blobbygame/summit/internal/store"
)

type Store struct {
	mu        sync.Mutex
	sessions  map[string]domain.Session
	questions map[string]domain.Question
	players   map[string]domain.Player
	answers   map[string]domain.Answer
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		sessions:  make(map[string]domain.Session),
		questions: make(map[string]domain.Question),
		players:   make(map[string]domain.Player),
		answers:   make(map[string]domain.Answer),
	}
}

func (m *Store) InsertSession(_ context.Context, s *domain.Session, deck []domain.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.sessions {
		if existing.JoinCode == s.JoinCode {
			return errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("join code taken: %s", s.JoinCode))
		}
	}

	m.sessions[s.ID] = *s
	for _, q := range deck {
		m.questions[q.ID] = q
	}
	return nil
}

func (m *Store) GetSession(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getSession(id)
}

func (m *Store) getSession(id string) (*domain.Session, error) {
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: %s", id))
	}
	return &s, nil
}

func (m *Store) GetSessionByCode(_ context.Context, code string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.JoinCode == code {
			s := s
			return &s, nil
		}
	}
	return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: code=%s", code))
}

func (m *Store) ListSessionsByHost(_ context.Context, hostID string) ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Session
	for _, s := range m.sessions {
		if s.HostID == hostID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Store) SaveSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; !ok {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: %s", s.ID))
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *Store) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: %s", id))
	}

	for qid, q := range m.questions {
		if q.SessionID != id {
			continue
		}
		m.deleteAnswersForQuestion(qid)
		delete(m.questions, qid)
	}
	for pid, p := range m.players {
		if p.SessionID == id {
			delete(m.players, pid)
		}
	}
	delete(m.sessions, id)
	return nil
}

func (m *Store) InsertQuestion(_ context.Context, q *domain.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[q.SessionID]; !ok {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: %s", q.SessionID))
	}
	m.questions[q.ID] = *q
	return nil
}

func (m *Store) GetQuestion(_ context.Context, id string) (*domain.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.questions[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("question not found: %s", id))
	}
	return &q, nil
}

func (m *Store) ListQuestionsBySession(_ context.Context, sessionID string) ([]domain.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Question
	for _, q := range m.questions {
		if q.SessionID == sessionID {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (m *Store) SaveQuestion(_ context.Context, q *domain.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.questions[q.ID]; !ok {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("question not found: %s", q.ID))
	}
	m.questions[q.ID] = *q
	return nil
}

func (m *Store) DeleteQuestion(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.questions[id]; !ok {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("question not found: %s", id))
	}
	m.deleteAnswersForQuestion(id)
	delete(m.questions, id)
	return nil
}

func (m *Store) InsertPlayer(_ context.Context, p *domain.Player) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[p.SessionID]; !ok {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: %s", p.SessionID))
	}
	for _, existing := range m.players {
		if existing.SessionID == p.SessionID && existing.Name == p.Name {
			return errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("name taken in session: %s", p.Name))
		}
	}
	m.players[p.ID] = *p
	return nil
}

func (m *Store) GetPlayer(_ context.Context, id string) (*domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[id]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("player not found: %s", id))
	}
	return &p, nil
}

func (m *Store) ListPlayersBySession(_ context.Context, sessionID string) ([]domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Player
	for _, p := range m.players {
		if p.SessionID == sessionID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Store) InsertAnswer(_ context.Context, a *domain.Answer, open ...domain.Phase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(open) > 0 {
		q, ok := m.questions[a.QuestionID]
		if !ok {
			return errors.New(errors.CodeNotFound, errors.WithMessagef("question not found: %s", a.QuestionID))
		}
		ss, ok := m.sessions[q.SessionID]
		if !ok {
			return errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: %s", q.SessionID))
		}
		if !accepting(ss, open) {
			return errors.New(errors.CodeFailedPrecondition,
				errors.WithMessagef("not accepting answers: question=%s phase=%s", a.QuestionID, ss.QuestionPhase))
		}
	}

	// Existence check and insert happen under the same lock, so two
	// concurrent submissions for the same pair cannot both pass.
	for _, existing := range m.answers {
		if existing.QuestionID == a.QuestionID && existing.PlayerID == a.PlayerID {
			return errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("already answered: question=%s player=%s", a.QuestionID, a.PlayerID))
		}
	}
	m.answers[a.ID] = *a
	return nil
}

func (m *Store) ListAnswersByQuestion(_ context.Context, questionID string) ([]domain.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Answer
	for _, a := range m.answers {
		if a.QuestionID == questionID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AnsweredAt.Before(out[j].AnsweredAt) })
	return out, nil
}

func (m *Store) ListAnswersByPlayer(_ context.Context, playerID string) ([]domain.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Answer
	for _, a := range m.answers {
		if a.PlayerID == playerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AnsweredAt.Before(out[j].AnsweredAt) })
	return out, nil
}

func (m *Store) ApplyReveal(_ context.Context, s *domain.Session, questionID string,
	score func(answers []domain.Answer) []store.ElevationUpdate,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; !ok {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: %s", s.ID))
	}

	// The answers are read and scored under the lock that also serializes
	// InsertAnswer, so a submission lands either before this snapshot or
	// after the phase flip has closed the gate.
	var answers []domain.Answer
	for _, a := range m.answers {
		if a.QuestionID == questionID {
			answers = append(answers, a)
		}
	}
	sort.Slice(answers, func(i, j int) bool { return answers[i].AnsweredAt.Before(answers[j].AnsweredAt) })

	updates := score(answers)
	for _, u := range updates {
		if _, ok := m.players[u.PlayerID]; !ok {
			return errors.New(errors.CodeNotFound, errors.WithMessagef("player not found: %s", u.PlayerID))
		}
	}

	m.sessions[s.ID] = *s
	for _, u := range updates {
		p := m.players[u.PlayerID]
		p.Elevation = u.Elevation
		p.Score = u.Score
		m.players[u.PlayerID] = p
	}
	return nil
}

func (m *Store) RollbackQuestion(_ context.Context, s *domain.Session, questionID string) ([]domain.Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; !ok {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: %s", s.ID))
	}

	var restored []domain.Player
	for id, a := range m.answers {
		if a.QuestionID != questionID {
			continue
		}
		if p, ok := m.players[a.PlayerID]; ok {
			p.Elevation = a.ElevationAtAnswer
			m.players[a.PlayerID] = p
			restored = append(restored, p)
		}
		delete(m.answers, id)
	}
	m.sessions[s.ID] = *s
	return restored, nil
}

func (m *Store) ResetSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; !ok {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: %s", s.ID))
	}

	for pid, p := range m.players {
		if p.SessionID == s.ID {
			p.Elevation = 0
			m.players[pid] = p
		}
	}
	for qid, q := range m.questions {
		if q.SessionID == s.ID {
			m.deleteAnswersForQuestion(qid)
		}
	}
	m.sessions[s.ID] = *s
	return nil
}

func accepting(ss domain.Session, open []domain.Phase) bool {
	if ss.Status != domain.StatusActive {
		return false
	}
	for _, ph := range open {
		if ss.QuestionPhase == ph {
			return true
		}
	}
	return false
}

func (m *Store) deleteAnswersForQuestion(questionID string) {
	for id, a := range m.answers {
		if a.QuestionID == questionID {
			delete(m.answers, id)
		}
	}
}
