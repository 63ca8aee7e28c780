// Package session drives a session through its phase state machine.
//
// Every transition validates the current status and phase before touching
// anything, and any multi-record effect (reveal scoring, destructive
// rollback, full reset) goes to the store as one batch, so a failed
// transition never leaves a partial mutation behind.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/blobbygame/summit/internal/domain"
	"github.com/blobbygame/summit/internal/elevation"
	"github.com/blobbygame/summit/internal/errors"
	"github.com/blobbygame/summit/internal/event"
	"github.com/blobbygame/summit/internal/store"
)

// joinCodeAlphabet omits I and O to avoid confusion on the shared display.
const (
	joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	joinCodeLength   = 4
	joinCodeAttempts = 20
)

type Config struct {
	Store    store.Store
	EventBus *event.Bus
	Deck     DeckProvider
	Now      func() time.Time
}

type Service struct {
	store store.Store
	eb    *event.Bus
	deck  DeckProvider
	now   func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store: c.Store,
		eb:    c.EventBus,
		deck:  c.Deck,
		now:   c.Now,
	}
	if s.deck == nil {
		s.deck = DefaultDeck()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type CreateSessionRequest struct {
	HostID string
}

type CreateSessionResponse struct {
	SessionID string
	JoinCode  string
}

// CreateSession creates a lobby session pre-seeded with the deck provider's
// questions. The join code is retried until unique.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*CreateSessionResponse, error) {
	if req.HostID == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("host id is required"))
	}

	deck, err := s.deck.Deck(ctx)
	if err != nil {
		return nil, fmt.Errorf("load deck: %w", err)
	}

	for attempt := 0; attempt < joinCodeAttempts; attempt++ {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate session ID: %w", err)
		}

		ss := &domain.Session{
			ID:                   id.String(),
			JoinCode:             generateJoinCode(),
			HostID:               req.HostID,
			Status:               domain.StatusLobby,
			CurrentQuestionIndex: -1,
			CreatedAt:            s.now(),
		}

		questions, err := buildDeck(ss.ID, deck)
		if err != nil {
			return nil, err
		}

		err = s.store.InsertSession(ctx, ss, questions)
		if errors.IsCode(err, errors.CodeAlreadyExists) {
			continue // code collision, roll a new one
		}
		if err != nil {
			return nil, err
		}

		return &CreateSessionResponse{SessionID: ss.ID, JoinCode: ss.JoinCode}, nil
	}

	return nil, errors.New(errors.CodeInternal, errors.WithMessagef("could not allocate a unique join code"))
}

func buildDeck(sessionID string, deck []DeckQuestion) ([]domain.Question, error) {
	questions := make([]domain.Question, 0, len(deck))
	for i, dq := range deck {
		if len(dq.Options) < 2 {
			return nil, errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("question %d needs at least 2 options", i))
		}

		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate question ID: %w", err)
		}

		questions = append(questions, domain.Question{
			ID:            id.String(),
			SessionID:     sessionID,
			Text:          dq.Text,
			Options:       dq.Options,
			CorrectOption: dq.CorrectOption,
			Order:         i,
			TimeLimit:     dq.TimeLimit,
			Enabled:       true,
		})
	}
	return questions, nil
}

func generateJoinCode() string {
	code := make([]byte, joinCodeLength)
	for i := range code {
		code[i] = joinCodeAlphabet[rand.Intn(len(joinCodeAlphabet))]
	}
	return string(code)
}

type GetSessionRequest struct {
	SessionID string
}

func (s *Service) GetSession(ctx context.Context, req GetSessionRequest) (*domain.Session, error) {
	return s.store.GetSession(ctx, req.SessionID)
}

type GetSessionByCodeRequest struct {
	JoinCode string
}

func (s *Service) GetSessionByCode(ctx context.Context, req GetSessionByCodeRequest) (*domain.Session, error) {
	return s.store.GetSessionByCode(ctx, normalizeJoinCode(req.JoinCode))
}

func normalizeJoinCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type ListSessionsByHostRequest struct {
	HostID string
}

// ListSessionsByHost returns the host's unfinished sessions, newest first.
func (s *Service) ListSessionsByHost(ctx context.Context, req ListSessionsByHostRequest) ([]domain.Session, error) {
	sessions, err := s.store.ListSessionsByHost(ctx, req.HostID)
	if err != nil {
		return nil, err
	}

	out := sessions[:0]
	for _, ss := range sessions {
		if ss.Status != domain.StatusFinished {
			out = append(out, ss)
		}
	}
	return out, nil
}

type JoinSessionRequest struct {
	SessionID string
	Name      string
}

type JoinSessionResponse struct {
	PlayerID string
}

// JoinSession adds a player to a session. Names are trimmed and must be
// unique within the session; finished sessions cannot be joined.
func (s *Service) JoinSession(ctx context.Context, req JoinSessionRequest) (*JoinSessionResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("player name is required"))
	}

	ss, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if ss.Status == domain.StatusFinished {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session is finished: %s", ss.ID))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate player ID: %w", err)
	}

	p := &domain.Player{
		ID:         id.String(),
		SessionID:  ss.ID,
		Name:       name,
		LastSeenAt: s.now(),
	}
	if err := s.store.InsertPlayer(ctx, p); err != nil {
		return nil, err
	}

	return &JoinSessionResponse{PlayerID: p.ID}, nil
}

type TransitionRequest struct {
	SessionID string
}

// StartSession moves a lobby session into its pre-game phase. At least one
// enabled question is required.
func (s *Service) StartSession(ctx context.Context, req TransitionRequest) error {
	ss, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return err
	}
	if ss.Status != domain.StatusLobby {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session already started: %s", ss.ID))
	}

	enabled, err := s.enabledQuestions(ctx, ss.ID)
	if err != nil {
		return err
	}
	if len(enabled) == 0 {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("add at least one enabled question before starting"))
	}

	ss.Status = domain.StatusActive
	ss.CurrentQuestionIndex = -1
	ss.QuestionPhase = domain.PhasePreGame
	ss.QuestionStartedAt = time.Time{}

	return s.saveAndAnnounce(ctx, ss)
}

type NextQuestionResponse struct {
	Finished bool
}

// NextQuestion advances to the next enabled question, or finishes the
// session when the deck is exhausted.
func (s *Service) NextQuestion(ctx context.Context, req TransitionRequest) (*NextQuestionResponse, error) {
	ss, err := s.requireActive(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	enabled, err := s.enabledQuestions(ctx, ss.ID)
	if err != nil {
		return nil, err
	}

	nextIndex := ss.CurrentQuestionIndex + 1
	if nextIndex >= len(enabled) {
		ss.Status = domain.StatusFinished
		ss.QuestionPhase = domain.PhaseNone
		ss.QuestionStartedAt = time.Time{}
		if err := s.saveAndAnnounce(ctx, ss); err != nil {
			return nil, err
		}
		return &NextQuestionResponse{Finished: true}, nil
	}

	ss.CurrentQuestionIndex = nextIndex
	ss.QuestionPhase = domain.PhaseQuestionShown
	ss.QuestionStartedAt = s.now()
	if err := s.saveAndAnnounce(ctx, ss); err != nil {
		return nil, err
	}
	return &NextQuestionResponse{Finished: false}, nil
}

// ShowAnswers reveals the answer options to players.
func (s *Service) ShowAnswers(ctx context.Context, req TransitionRequest) error {
	ss, err := s.requireActivePhase(ctx, req.SessionID, domain.PhaseQuestionShown)
	if err != nil {
		return err
	}

	ss.QuestionPhase = domain.PhaseAnswersShown
	return s.saveAndAnnounce(ctx, ss)
}

// ShowResults moves from the reveal to the detailed results view.
func (s *Service) ShowResults(ctx context.Context, req TransitionRequest) error {
	ss, err := s.requireActivePhase(ctx, req.SessionID, domain.PhaseRevealed)
	if err != nil {
		return err
	}

	ss.QuestionPhase = domain.PhaseResults
	return s.saveAndAnnounce(ctx, ss)
}

// FinishSession forces the session into its terminal state. Administrative
// override, no precondition.
func (s *Service) FinishSession(ctx context.Context, req TransitionRequest) error {
	ss, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return err
	}

	ss.Status = domain.StatusFinished
	ss.QuestionPhase = domain.PhaseNone
	ss.QuestionStartedAt = time.Time{}
	return s.saveAndAnnounce(ctx, ss)
}

type RemoveSessionRequest struct {
	SessionID string
}

// RemoveSession deletes the session and everything it owns.
func (s *Service) RemoveSession(ctx context.Context, req RemoveSessionRequest) error {
	return s.store.DeleteSession(ctx, req.SessionID)
}

// BackToLobby rewinds an active session all the way to the lobby: cleared
// phase state, every elevation zeroed, every answer deleted. One batch.
func (s *Service) BackToLobby(ctx context.Context, req TransitionRequest) error {
	ss, err := s.requireActive(ctx, req.SessionID)
	if err != nil {
		return err
	}

	ss.Status = domain.StatusLobby
	ss.CurrentQuestionIndex = -1
	ss.QuestionPhase = domain.PhaseNone
	ss.QuestionStartedAt = time.Time{}

	if err := s.store.ResetSession(ctx, ss); err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventPhaseChanged{Session: *ss})
	return nil
}

type PreviousPhaseResponse struct {
	IsDestructive     bool
	TargetDescription string
}

// PreviousPhase steps one phase backwards. Most moves only flip the phase;
// stepping back from answers_shown deletes the current question's answers
// and restores each answerer's elevation snapshot, so callers should confirm
// with the host when IsDestructive is set.
func (s *Service) PreviousPhase(ctx context.Context, req TransitionRequest) (*PreviousPhaseResponse, error) {
	ss, err := s.requireActive(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	switch {
	case ss.QuestionPhase == domain.PhasePreGame:
		ss.Status = domain.StatusLobby
		ss.CurrentQuestionIndex = -1
		ss.QuestionPhase = domain.PhaseNone
		ss.QuestionStartedAt = time.Time{}
		if err := s.saveAndAnnounce(ctx, ss); err != nil {
			return nil, err
		}
		return &PreviousPhaseResponse{TargetDescription: "Lobby"}, nil

	case ss.QuestionPhase == domain.PhaseResults:
		ss.QuestionPhase = domain.PhaseRevealed
		if err := s.saveAndAnnounce(ctx, ss); err != nil {
			return nil, err
		}
		return &PreviousPhaseResponse{TargetDescription: "Revealed"}, nil

	case ss.QuestionPhase == domain.PhaseRevealed:
		ss.QuestionPhase = domain.PhaseAnswersShown
		if err := s.saveAndAnnounce(ctx, ss); err != nil {
			return nil, err
		}
		return &PreviousPhaseResponse{TargetDescription: "Hide Answer"}, nil

	case ss.QuestionPhase == domain.PhaseAnswersShown:
		current, err := s.currentQuestion(ctx, ss)
		if err != nil {
			return nil, err
		}

		ss.QuestionPhase = domain.PhaseQuestionShown
		restored, err := s.store.RollbackQuestion(ctx, ss, current.ID)
		if err != nil {
			return nil, err
		}
		s.eb.Publish(ctx, domain.EventPhaseChanged{Session: *ss})
		// Restored elevations have to reach the leaderboard too, or the
		// ranking keeps the rolled-back gains.
		for _, p := range restored {
			s.eb.Publish(ctx, domain.EventElevationUpdated{Player: p})
		}
		return &PreviousPhaseResponse{IsDestructive: true, TargetDescription: "Clear Answers"}, nil

	case ss.QuestionPhase == domain.PhaseQuestionShown && ss.CurrentQuestionIndex > 0:
		ss.CurrentQuestionIndex--
		ss.QuestionPhase = domain.PhaseResults
		if err := s.saveAndAnnounce(ctx, ss); err != nil {
			return nil, err
		}
		return &PreviousPhaseResponse{
			TargetDescription: fmt.Sprintf("Q%d Results", ss.CurrentQuestionIndex+1),
		}, nil

	case ss.QuestionPhase == domain.PhaseQuestionShown && ss.CurrentQuestionIndex == 0:
		ss.CurrentQuestionIndex = -1
		ss.QuestionPhase = domain.PhasePreGame
		ss.QuestionStartedAt = time.Time{}
		if err := s.saveAndAnnounce(ctx, ss); err != nil {
			return nil, err
		}
		return &PreviousPhaseResponse{TargetDescription: "Pre-Game"}, nil
	}

	return nil, errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("cannot go back from current state"))
}

// RevealAnswer moves answers_shown to revealed and runs the scoring engine.
// This is the only place elevations move forward.
func (s *Service) RevealAnswer(ctx context.Context, req TransitionRequest) error {
	ss, err := s.requireActivePhase(ctx, req.SessionID, domain.PhaseAnswersShown)
	if err != nil {
		return err
	}

	enabled, err := s.enabledQuestions(ctx, ss.ID)
	if err != nil {
		return err
	}
	current, err := questionAt(enabled, ss.CurrentQuestionIndex)
	if err != nil {
		return err
	}

	players, err := s.store.ListPlayersBySession(ctx, ss.ID)
	if err != nil {
		return err
	}
	byID := make(map[string]domain.Player, len(players))
	for _, p := range players {
		byID[p.ID] = p
	}

	// The store reads the answers inside the same atomic unit that flips
	// the phase, so a submission racing this reveal is either scored here
	// or rejected by the insert's phase gate.
	ss.QuestionPhase = domain.PhaseRevealed
	var scored []scoredPlayer
	err = s.store.ApplyReveal(ctx, ss, current.ID, func(answers []domain.Answer) []store.ElevationUpdate {
		var updates []store.ElevationUpdate
		updates, scored = s.scoreReveal(ss, *current, len(enabled), answers, byID)
		return updates
	})
	if err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventPhaseChanged{Session: *ss})
	for _, sc := range scored {
		s.eb.Publish(ctx, domain.EventElevationUpdated{Player: sc.player})
		if sc.summited {
			s.eb.Publish(ctx, domain.EventPlayerSummited{Player: sc.player})
		}
	}
	return nil
}

type scoredPlayer struct {
	player   domain.Player
	summited bool
}

// scoreReveal computes the elevation updates for one reveal. Answers arrive
// sorted by answeredAt, so correct answerers are implicitly ranked: an
// earlier grab means lower latency and a strictly no-smaller speed base.
// Rarity counts every answerer, correct or not. All gains share one dynamic
// cap computed from pre-reveal elevations.
func (s *Service) scoreReveal(
	ss *domain.Session,
	q domain.Question,
	deckSize int,
	answers []domain.Answer,
	players map[string]domain.Player,
) ([]store.ElevationUpdate, []scoredPlayer) {
	counts := make(map[int]int)
	for _, a := range answers {
		counts[a.OptionIndex]++
	}

	leader := 0
	for _, p := range players {
		if !elevation.HasReachedSummit(p.Elevation) && p.Elevation > leader {
			leader = p.Elevation
		}
	}
	remaining := deckSize - (ss.CurrentQuestionIndex + 1)
	gainCap := elevation.DynamicMax(leader, remaining)

	var (
		updates []store.ElevationUpdate
		scored  []scoredPlayer
	)

	for _, a := range answers {
		p, ok := players[a.PlayerID]
		if !ok {
			continue
		}

		if !q.IsQuiz() {
			// Poll questions award legacy participation points instead of
			// elevation. The points still move the leaderboard tie-break,
			// so poll answerers get announced like everyone else.
			p.Score += pollParticipationPoints
			players[a.PlayerID] = p
			updates = append(updates, store.ElevationUpdate{
				PlayerID: p.ID, Elevation: p.Elevation, Score: p.Score,
			})
			scored = append(scored, scoredPlayer{player: p})
			continue
		}

		if a.OptionIndex != *q.CorrectOption {
			continue
		}

		latency := a.AnsweredAt.Sub(ss.QuestionStartedAt).Milliseconds()
		gain := elevation.ElevationGain(true, latency, counts[a.OptionIndex], len(answers), deckSize)

		total := gain.Total
		if total > gainCap {
			total = gainCap
		}

		wasSummited := elevation.HasReachedSummit(p.Elevation)
		p.Elevation = elevation.ApplyGain(p.Elevation, total)
		players[a.PlayerID] = p

		updates = append(updates, store.ElevationUpdate{
			PlayerID: p.ID, Elevation: p.Elevation, Score: p.Score,
		})
		scored = append(scored, scoredPlayer{
			player:   p,
			summited: !wasSummited && elevation.HasReachedSummit(p.Elevation),
		})
	}

	return updates, scored
}

const pollParticipationPoints = 10

func (s *Service) requireActive(ctx context.Context, sessionID string) (*domain.Session, error) {
	ss, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if ss.Status != domain.StatusActive {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("session not active: %s", ss.ID))
	}
	return ss, nil
}

func (s *Service) requireActivePhase(ctx context.Context, sessionID string, phase domain.Phase) (*domain.Session, error) {
	ss, err := s.requireActive(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if ss.QuestionPhase != phase {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("wrong phase: want %s, got %s", phase, ss.QuestionPhase))
	}
	return ss, nil
}

func (s *Service) enabledQuestions(ctx context.Context, sessionID string) ([]domain.Question, error) {
	questions, err := s.store.ListQuestionsBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	enabled := questions[:0]
	for _, q := range questions {
		if q.Enabled {
			enabled = append(enabled, q)
		}
	}
	return enabled, nil
}

func (s *Service) currentQuestion(ctx context.Context, ss *domain.Session) (*domain.Question, error) {
	enabled, err := s.enabledQuestions(ctx, ss.ID)
	if err != nil {
		return nil, err
	}
	return questionAt(enabled, ss.CurrentQuestionIndex)
}

func questionAt(enabled []domain.Question, index int) (*domain.Question, error) {
	if index < 0 || index >= len(enabled) {
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("no current question: index=%d", index))
	}
	q := enabled[index]
	return &q, nil
}

func (s *Service) saveAndAnnounce(ctx context.Context, ss *domain.Session) error {
	if err := s.store.SaveSession(ctx, ss); err != nil {
		return err
	}
	s.eb.Publish(ctx, domain.EventPhaseChanged{Session: *ss})
	return nil
}
