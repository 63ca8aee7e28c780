// Package postgres is the pgx-backed Store. Answer and player-name
// uniqueness lean on unique indexes rather than read-then-write checks, and
// every batch operation runs in one transaction.
package postgres

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blobbygame/summit/internal/domain"
	"github.com/blobbygame/summit/internal/errors"
	"github.com/blobbygame/summit/internal/store"
)

const codeUniqueViolation = "23505"

type Store struct {
	db *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) InsertSession(ctx context.Context, ss *domain.Session, deck []domain.Question) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errors.Internal(err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const insSessionStmt = `
INSERT INTO sessions (session_id, join_code, host_id, status, current_question_index, created_at)
VALUES ($1, $2, $3, $4, $5, $6);`

	_, err = tx.Exec(ctx, insSessionStmt,
		ss.ID, ss.JoinCode, ss.HostID, ss.Status, ss.CurrentQuestionIndex, ss.CreatedAt)
	if isUniqueViolation(err) {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("join code taken: %s", ss.JoinCode), errors.WithCause(err))
	}
	if err != nil {
		return errors.Internal(err)
	}

	for _, q := range deck { // TODO: batch insert
		if err = s.execInsertQuestion(ctx, tx, &q); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	const stmt = `
SELECT session_id, join_code, host_id, status, current_question_index,
       COALESCE(question_phase, ''), COALESCE(question_started_at, 'epoch'::timestamptz), created_at
FROM sessions WHERE session_id = $1;`

	return s.scanSession(s.db.QueryRow(ctx, stmt, id), "session not found: "+id)
}

func (s *Store) GetSessionByCode(ctx context.Context, code string) (*domain.Session, error) {
	const stmt = `
SELECT session_id, join_code, host_id, status, current_question_index,
       COALESCE(question_phase, ''), COALESCE(question_started_at, 'epoch'::timestamptz), created_at
FROM sessions WHERE join_code = $1;`

	return s.scanSession(s.db.QueryRow(ctx, stmt, code), "session not found: code="+code)
}

func (s *Store) scanSession(row pgx.Row, notFoundMsg string) (*domain.Session, error) {
	var ss domain.Session
	err := row.Scan(&ss.ID, &ss.JoinCode, &ss.HostID, &ss.Status,
		&ss.CurrentQuestionIndex, &ss.QuestionPhase, &ss.QuestionStartedAt, &ss.CreatedAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("%s", notFoundMsg))
	}
	if err != nil {
		return nil, errors.Internal(err)
	}
	if ss.QuestionStartedAt.Unix() == 0 {
		ss.QuestionStartedAt = zeroTime()
	}
	return &ss, nil
}

func (s *Store) ListSessionsByHost(ctx context.Context, hostID string) ([]domain.Session, error) {
	const stmt = `
SELECT session_id, join_code, host_id, status, current_question_index,
       COALESCE(question_phase, ''), COALESCE(question_started_at, 'epoch'::timestamptz), created_at
FROM sessions WHERE host_id = $1
ORDER BY created_at DESC;`

	rows, err := s.db.Query(ctx, stmt, hostID)
	if err != nil {
		return nil, errors.Internal(err)
	}

	sessions, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Session, error) {
		var ss domain.Session
		if err := r.Scan(&ss.ID, &ss.JoinCode, &ss.HostID, &ss.Status,
			&ss.CurrentQuestionIndex, &ss.QuestionPhase, &ss.QuestionStartedAt, &ss.CreatedAt); err != nil {
			return domain.Session{}, err
		}
		if ss.QuestionStartedAt.Unix() == 0 {
			ss.QuestionStartedAt = zeroTime()
		}
		return ss, nil
	})
	if err != nil {
		return nil, errors.Internal(err)
	}

	return sessions, nil
}

func (s *Store) SaveSession(ctx context.Context, ss *domain.Session) error {
	return s.execSaveSession(ctx, s.db, ss)
}

// execer covers both pool and transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *Store) execSaveSession(ctx context.Context, db execer, ss *domain.Session) error {
	const stmt = `
UPDATE sessions
SET status = $2,
    current_question_index = $3,
    question_phase = NULLIF($4, ''),
    question_started_at = CASE WHEN $5::timestamptz <= 'epoch'::timestamptz THEN NULL ELSE $5 END
WHERE session_id = $1;`

	tag, err := db.Exec(ctx, stmt,
		ss.ID, ss.Status, ss.CurrentQuestionIndex, string(ss.QuestionPhase), ss.QuestionStartedAt)
	if err != nil {
		return errors.Internal(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: %s", ss.ID))
	}
	return nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errors.Internal(err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	// Child tables reference sessions without ON DELETE CASCADE so that a
	// stray delete elsewhere cannot silently drop game history.
	const (
		delAnswersStmt = `
DELETE FROM answers WHERE question_id IN (SELECT question_id FROM questions WHERE session_id = $1);`
		delQuestionsStmt = `DELETE FROM questions WHERE session_id = $1;`
		delPlayersStmt   = `DELETE FROM players WHERE session_id = $1;`
		delSessionStmt   = `DELETE FROM sessions WHERE session_id = $1;`
	)

	for _, stmt := range []string{delAnswersStmt, delQuestionsStmt, delPlayersStmt} {
		if _, err = tx.Exec(ctx, stmt, id); err != nil {
			return errors.Internal(err)
		}
	}

	tag, err := tx.Exec(ctx, delSessionStmt, id)
	if err != nil {
		return errors.Internal(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("session not found: %s", id))
	}

	return tx.Commit(ctx)
}

func (s *Store) InsertQuestion(ctx context.Context, q *domain.Question) error {
	return s.execInsertQuestion(ctx, s.db, q)
}

func (s *Store) execInsertQuestion(ctx context.Context, db execer, q *domain.Question) error {
	const stmt = `
INSERT INTO questions (question_id, session_id, text, options, correct_option, ord, time_limit, enabled)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	_, err := db.Exec(ctx, stmt,
		q.ID, q.SessionID, q.Text, q.Options, q.CorrectOption, q.Order, q.TimeLimit, q.Enabled)
	if err != nil {
		return errors.Internal(err)
	}
	return nil
}

func (s *Store) GetQuestion(ctx context.Context, id string) (*domain.Question, error) {
	const stmt = `
SELECT question_id, session_id, text, options, correct_option, ord, time_limit, enabled
FROM questions WHERE question_id = $1;`

	var q domain.Question
	err := s.db.QueryRow(ctx, stmt, id).Scan(
		&q.ID, &q.SessionID, &q.Text, &q.Options, &q.CorrectOption, &q.Order, &q.TimeLimit, &q.Enabled)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("question not found: %s", id))
	}
	if err != nil {
		return nil, errors.Internal(err)
	}
	return &q, nil
}

func (s *Store) ListQuestionsBySession(ctx context.Context, sessionID string) ([]domain.Question, error) {
	const stmt = `
SELECT question_id, session_id, text, options, correct_option, ord, time_limit, enabled
FROM questions WHERE session_id = $1
ORDER BY ord ASC;`

	rows, err := s.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, errors.Internal(err)
	}

	questions, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var q domain.Question
		err := r.Scan(&q.ID, &q.SessionID, &q.Text, &q.Options, &q.CorrectOption, &q.Order, &q.TimeLimit, &q.Enabled)
		return q, err
	})
	if err != nil {
		return nil, errors.Internal(err)
	}

	return questions, nil
}

func (s *Store) SaveQuestion(ctx context.Context, q *domain.Question) error {
	const stmt = `
UPDATE questions
SET text = $2, options = $3, correct_option = $4, ord = $5, time_limit = $6, enabled = $7
WHERE question_id = $1;`

	tag, err := s.db.Exec(ctx, stmt,
		q.ID, q.Text, q.Options, q.CorrectOption, q.Order, q.TimeLimit, q.Enabled)
	if err != nil {
		return errors.Internal(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("question not found: %s", q.ID))
	}
	return nil
}

func (s *Store) DeleteQuestion(ctx context.Context, id string) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errors.Internal(err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM answers WHERE question_id = $1;`, id); err != nil {
		return errors.Internal(err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM questions WHERE question_id = $1;`, id)
	if err != nil {
		return errors.Internal(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("question not found: %s", id))
	}

	return tx.Commit(ctx)
}

func (s *Store) InsertPlayer(ctx context.Context, p *domain.Player) error {
	const stmt = `
INSERT INTO players (player_id, session_id, name, score, elevation, last_seen_at)
VALUES ($1, $2, $3, $4, $5, $6);`

	_, err := s.db.Exec(ctx, stmt, p.ID, p.SessionID, p.Name, p.Score, p.Elevation, p.LastSeenAt)
	if isUniqueViolation(err) {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("name taken in session: %s", p.Name), errors.WithCause(err))
	}
	if err != nil {
		return errors.Internal(err)
	}
	return nil
}

func (s *Store) GetPlayer(ctx context.Context, id string) (*domain.Player, error) {
	const stmt = `
SELECT player_id, session_id, name, score, elevation, last_seen_at
FROM players WHERE player_id = $1;`

	var p domain.Player
	err := s.db.QueryRow(ctx, stmt, id).Scan(
		&p.ID, &p.SessionID, &p.Name, &p.Score, &p.Elevation, &p.LastSeenAt)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("player not found: %s", id))
	}
	if err != nil {
		return nil, errors.Internal(err)
	}
	return &p, nil
}

func (s *Store) ListPlayersBySession(ctx context.Context, sessionID string) ([]domain.Player, error) {
	const stmt = `
SELECT player_id, session_id, name, score, elevation, last_seen_at
FROM players WHERE session_id = $1
ORDER BY name ASC;`

	rows, err := s.db.Query(ctx, stmt, sessionID)
	if err != nil {
		return nil, errors.Internal(err)
	}

	players, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Player, error) {
		var p domain.Player
		err := r.Scan(&p.ID, &p.SessionID, &p.Name, &p.Score, &p.Elevation, &p.LastSeenAt)
		return p, err
	})
	if err != nil {
		return nil, errors.Internal(err)
	}

	return players, nil
}

func (s *Store) InsertAnswer(ctx context.Context, a *domain.Answer, open ...domain.Phase) error {
	// The unique index on (question_id, player_id) closes the
	// check-then-insert race: the second concurrent writer gets 23505.
	if len(open) == 0 {
		const stmt = `
INSERT INTO answers (answer_id, question_id, player_id, option_index, answered_at, elevation_at_answer)
VALUES ($1, $2, $3, $4, $5, $6);`

		_, err := s.db.Exec(ctx, stmt,
			a.ID, a.QuestionID, a.PlayerID, a.OptionIndex, a.AnsweredAt, a.ElevationAtAnswer)
		return s.insertAnswerErr(err, a)
	}

	phases := make([]string, len(open))
	for i, ph := range open {
		phases[i] = string(ph)
	}

	// The gated insert re-reads the session row with a share lock, which
	// conflicts with the reveal's session update: the insert lands before
	// the reveal snapshots the answers, or matches zero rows once the
	// phase has moved.
	const stmt = `
INSERT INTO answers (answer_id, question_id, player_id, option_index, answered_at, elevation_at_answer)
SELECT $1, $2, $3, $4, $5, $6
FROM sessions s
JOIN questions q ON q.session_id = s.session_id
WHERE q.question_id = $2 AND s.status = 'active' AND s.question_phase = ANY($7)
FOR SHARE OF s;`

	tag, err := s.db.Exec(ctx, stmt,
		a.ID, a.QuestionID, a.PlayerID, a.OptionIndex, a.AnsweredAt, a.ElevationAtAnswer, phases)
	if err != nil {
		return s.insertAnswerErr(err, a)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("not accepting answers: question=%s", a.QuestionID))
	}
	return nil
}

func (s *Store) insertAnswerErr(err error, a *domain.Answer) error {
	if isUniqueViolation(err) {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("already answered: question=%s player=%s", a.QuestionID, a.PlayerID),
			errors.WithCause(err))
	}
	if err != nil {
		return errors.Internal(err)
	}
	return nil
}

func (s *Store) ListAnswersByQuestion(ctx context.Context, questionID string) ([]domain.Answer, error) {
	const stmt = `
SELECT answer_id, question_id, player_id, option_index, answered_at, elevation_at_answer
FROM answers WHERE question_id = $1
ORDER BY answered_at ASC;`

	return s.listAnswers(ctx, stmt, questionID)
}

func (s *Store) ListAnswersByPlayer(ctx context.Context, playerID string) ([]domain.Answer, error) {
	const stmt = `
SELECT answer_id, question_id, player_id, option_index, answered_at, elevation_at_answer
FROM answers WHERE player_id = $1
ORDER BY answered_at ASC;`

	return s.listAnswers(ctx, stmt, playerID)
}

func (s *Store) listAnswers(ctx context.Context, stmt, arg string) ([]domain.Answer, error) {
	rows, err := s.db.Query(ctx, stmt, arg)
	if err != nil {
		return nil, errors.Internal(err)
	}

	answers, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Answer, error) {
		var a domain.Answer
		err := r.Scan(&a.ID, &a.QuestionID, &a.PlayerID, &a.OptionIndex, &a.AnsweredAt, &a.ElevationAtAnswer)
		return a, err
	})
	if err != nil {
		return nil, errors.Internal(err)
	}

	return answers, nil
}

func (s *Store) ApplyReveal(ctx context.Context, ss *domain.Session, questionID string,
	score func(answers []domain.Answer) []store.ElevationUpdate,
) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errors.Internal(err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	// Writing the session row first takes its lock; a gated insert racing
	// this transaction either committed already (its answer shows up in the
	// select below) or blocks and then sees the new phase.
	if err = s.execSaveSession(ctx, tx, ss); err != nil {
		return err
	}

	const selAnswersStmt = `
SELECT answer_id, question_id, player_id, option_index, answered_at, elevation_at_answer
FROM answers WHERE question_id = $1
ORDER BY answered_at ASC;`

	rows, err := tx.Query(ctx, selAnswersStmt, questionID)
	if err != nil {
		return errors.Internal(err)
	}
	answers, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Answer, error) {
		var a domain.Answer
		err := r.Scan(&a.ID, &a.QuestionID, &a.PlayerID, &a.OptionIndex, &a.AnsweredAt, &a.ElevationAtAnswer)
		return a, err
	})
	if err != nil {
		return errors.Internal(err)
	}

	const updPlayerStmt = `UPDATE players SET elevation = $2, score = $3 WHERE player_id = $1;`
	for _, u := range score(answers) {
		var tag pgconn.CommandTag
		tag, err = tx.Exec(ctx, updPlayerStmt, u.PlayerID, u.Elevation, u.Score)
		if err != nil {
			return errors.Internal(err)
		}
		if tag.RowsAffected() == 0 {
			return errors.New(errors.CodeNotFound, errors.WithMessagef("player not found: %s", u.PlayerID))
		}
	}

	return tx.Commit(ctx)
}

func (s *Store) RollbackQuestion(ctx context.Context, ss *domain.Session, questionID string) (restored []domain.Player, err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, errors.Internal(err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	// Restore snapshots first, then delete; both inside one transaction so a
	// failure leaves answers and elevations consistent.
	const restoreStmt = `
UPDATE players p SET elevation = a.elevation_at_answer
FROM answers a
WHERE a.question_id = $1 AND a.player_id = p.player_id
RETURNING p.player_id, p.session_id, p.name, p.score, p.elevation, p.last_seen_at;`

	rows, err := tx.Query(ctx, restoreStmt, questionID)
	if err != nil {
		return nil, errors.Internal(err)
	}
	restored, err = pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Player, error) {
		var p domain.Player
		err := r.Scan(&p.ID, &p.SessionID, &p.Name, &p.Score, &p.Elevation, &p.LastSeenAt)
		return p, err
	})
	if err != nil {
		return nil, errors.Internal(err)
	}

	if _, err = tx.Exec(ctx, `DELETE FROM answers WHERE question_id = $1;`, questionID); err != nil {
		return nil, errors.Internal(err)
	}
	if err = s.execSaveSession(ctx, tx, ss); err != nil {
		return nil, err
	}

	return restored, tx.Commit(ctx)
}

func (s *Store) ResetSession(ctx context.Context, ss *domain.Session) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return errors.Internal(err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	if _, err = tx.Exec(ctx, `UPDATE players SET elevation = 0 WHERE session_id = $1;`, ss.ID); err != nil {
		return errors.Internal(err)
	}

	const delAnswersStmt = `
DELETE FROM answers WHERE question_id IN (SELECT question_id FROM questions WHERE session_id = $1);`
	if _, err = tx.Exec(ctx, delAnswersStmt, ss.ID); err != nil {
		return errors.Internal(err)
	}

	if err = s.execSaveSession(ctx, tx, ss); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// zeroTime maps the epoch sentinel used for NULL question_started_at back to
// the domain's zero value.
func zeroTime() time.Time {
	return time.Time{}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}
