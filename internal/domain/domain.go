package domain

import "time"

// SessionStatus is the top-level lifecycle state of a session.
type SessionStatus string

const (
	StatusLobby    SessionStatus = "lobby"
	StatusActive   SessionStatus = "active"
	StatusFinished SessionStatus = "finished"
)

// Phase is the sub-state of an active session's current question lifecycle.
// PhaseNone means the session is in no question phase (lobby or finished).
type Phase string

const (
	PhaseNone          Phase = ""
	PhasePreGame       Phase = "pre_game"
	PhaseQuestionShown Phase = "question_shown"
	PhaseAnswersShown  Phase = "answers_shown"
	PhaseRevealed      Phase = "revealed"
	PhaseResults       Phase = "results"
)

// Session is the aggregate root. Players, Questions and Answers are reachable
// only through it; all mutation goes through the session service.
type Session struct {
	ID       string
	JoinCode string
	HostID   string
	Status   SessionStatus

	// CurrentQuestionIndex is -1 while no question has been shown yet.
	CurrentQuestionIndex int
	QuestionPhase        Phase
	QuestionStartedAt    time.Time // zero while no question is running

	CreatedAt time.Time
}

// Question belongs to a session's deck. CorrectOption is nil for poll
// questions, which tally votes but never award elevation.
type Question struct {
	ID            string
	SessionID     string
	Text          string
	Options       []string
	CorrectOption *int
	Order         int
	TimeLimit     int // seconds, advisory for the host UI
	Enabled       bool
}

// IsQuiz reports whether the question has a correct answer.
func (q Question) IsQuiz() bool { return q.CorrectOption != nil }

// Player is a participant in one session.
type Player struct {
	ID        string
	SessionID string
	Name      string

	// Score holds legacy participation points, awarded for poll questions.
	Score int
	// Elevation is the climb score in metres. It is written only by the
	// reveal transition and by destructive rollbacks.
	Elevation int

	LastSeenAt time.Time
}

// PresenceWindow is how long after the last heartbeat a player still counts
// as present.
const PresenceWindow = 60 * time.Second

// ActiveWithin reports whether the player's presence heartbeat was seen
// within the given window. Presence is written by an external collaborator;
// this core only reads it.
func (p Player) ActiveWithin(window time.Duration, now time.Time) bool {
	return !p.LastSeenAt.IsZero() && now.Sub(p.LastSeenAt) <= window
}

// Answer records a single submission. At most one exists per
// (QuestionID, PlayerID) pair, enforced by the store's conditional insert.
type Answer struct {
	ID          string
	QuestionID  string
	PlayerID    string
	OptionIndex int
	AnsweredAt  time.Time

	// ElevationAtAnswer snapshots the player's elevation at submission time
	// so a destructive rollback can restore it without reversing scoring.
	ElevationAtAnswer int
}

// QuestionResults is the per-option aggregate for one question.
type QuestionResults struct {
	QuestionID   string
	TotalAnswers int
	OptionCounts []int
	// CorrectOption is nil for poll questions and is withheld until the
	// session has revealed the question.
	CorrectOption *int
}

// Leaderboard lists a session's players ranked by elevation (or by score for
// poll-only sessions), best first.
type Leaderboard struct {
	SessionID string
	Entries   []LeaderboardEntry
}

type LeaderboardEntry struct {
	PlayerID  string
	Name      string
	Elevation int
	Score     int
	// Active reflects the presence heartbeat at the time the board was built.
	Active bool
}
