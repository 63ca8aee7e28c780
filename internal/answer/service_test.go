package answer_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blobbygame/summit/internal/answer"
	"github.com/blobbygame/summit/internal/errors"
	"github.com/blobbygame/summit/internal/event"
	"github.com/blobbygame/summit/internal/session"
	"github.com/blobbygame/summit/internal/store/memory"
)

type fixture struct {
	sessions *session.Service
	answers  *answer.Service
	store    *memory.Store

	sessionID  string
	questionID string
}

func correctOption(i int) *int { return &i }

func makeFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{store: memory.New()}
	f.sessions = session.NewService(session.Config{
		Store:    f.store,
		EventBus: event.NewBus(),
		Deck: session.StaticDeck([]session.DeckQuestion{{
			Text:          "Pick B",
			Options:       []string{"A", "B", "C", "D"},
			CorrectOption: correctOption(1),
			TimeLimit:     15,
		}}),
	})
	f.answers = answer.NewService(answer.Config{Store: f.store})

	created, err := f.sessions.CreateSession(ctx, session.CreateSessionRequest{HostID: "host-1"})
	require.NoError(t, err)
	f.sessionID = created.SessionID

	questions, err := f.sessions.ListQuestions(ctx, session.ListQuestionsRequest{SessionID: f.sessionID})
	require.NoError(t, err)
	f.questionID = questions[0].ID

	return f
}

func (f *fixture) join(t *testing.T, name string) string {
	t.Helper()
	resp, err := f.sessions.JoinSession(context.Background(), session.JoinSessionRequest{
		SessionID: f.sessionID,
		Name:      name,
	})
	require.NoError(t, err)
	return resp.PlayerID
}

func (f *fixture) openQuestion(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.sessions.StartSession(ctx, session.TransitionRequest{SessionID: f.sessionID}))
	_, err := f.sessions.NextQuestion(ctx, session.TransitionRequest{SessionID: f.sessionID})
	require.NoError(t, err)
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("accepts while the question is open", func(t *testing.T) {
		f := makeFixture(t)
		pid := f.join(t, "alice")
		f.openQuestion(t)

		resp, err := f.answers.Submit(ctx, answer.SubmitRequest{
			QuestionID: f.questionID, PlayerID: pid, OptionIndex: 1,
		})
		require.NoError(t, err)
		assert.True(t, resp.Submitted)

		answered, err := f.answers.HasAnswered(ctx, answer.HasAnsweredRequest{
			QuestionID: f.questionID, PlayerID: pid,
		})
		require.NoError(t, err)
		assert.True(t, answered)
	})

	t.Run("records the elevation snapshot", func(t *testing.T) {
		f := makeFixture(t)
		pid := f.join(t, "alice")
		f.openQuestion(t)

		_, err := f.answers.Submit(ctx, answer.SubmitRequest{
			QuestionID: f.questionID, PlayerID: pid, OptionIndex: 1,
		})
		require.NoError(t, err)

		answers, err := f.answers.ListByPlayer(ctx, answer.ListByPlayerRequest{PlayerID: pid})
		require.NoError(t, err)
		require.Len(t, answers, 1)
		assert.Zero(t, answers[0].ElevationAtAnswer)
		assert.False(t, answers[0].AnsweredAt.IsZero())
	})

	t.Run("rejects a second answer for the same question", func(t *testing.T) {
		f := makeFixture(t)
		pid := f.join(t, "alice")
		f.openQuestion(t)

		_, err := f.answers.Submit(ctx, answer.SubmitRequest{
			QuestionID: f.questionID, PlayerID: pid, OptionIndex: 1,
		})
		require.NoError(t, err)

		_, err = f.answers.Submit(ctx, answer.SubmitRequest{
			QuestionID: f.questionID, PlayerID: pid, OptionIndex: 2,
		})
		assert.True(t, errors.IsCode(err, errors.CodeAlreadyExists))

		answers, err := f.answers.ListByPlayer(ctx, answer.ListByPlayerRequest{PlayerID: pid})
		require.NoError(t, err)
		require.Len(t, answers, 1)
		assert.Equal(t, 1, answers[0].OptionIndex, "the first answer stands")
	})

	t.Run("exactly one concurrent duplicate wins", func(t *testing.T) {
		f := makeFixture(t)
		pid := f.join(t, "alice")
		f.openQuestion(t)

		const attempts = 16
		errs := make([]error, attempts)

		var wg sync.WaitGroup
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.answers.Submit(ctx, answer.SubmitRequest{
					QuestionID: f.questionID, PlayerID: pid, OptionIndex: i % 4,
				})
			}(i)
		}
		wg.Wait()

		accepted := 0
		for _, err := range errs {
			if err == nil {
				accepted++
			} else {
				assert.True(t, errors.IsCode(err, errors.CodeAlreadyExists))
			}
		}
		assert.Equal(t, 1, accepted)
	})

	t.Run("rejects out-of-range options", func(t *testing.T) {
		f := makeFixture(t)
		pid := f.join(t, "alice")
		f.openQuestion(t)

		for _, option := range []int{-1, 4} {
			_, err := f.answers.Submit(ctx, answer.SubmitRequest{
				QuestionID: f.questionID, PlayerID: pid, OptionIndex: option,
			})
			assert.True(t, errors.IsCode(err, errors.CodeInvalidArgument), "option %d", option)
		}
	})

	t.Run("rejects closed phases", func(t *testing.T) {
		f := makeFixture(t)
		pid := f.join(t, "alice")

		// Lobby.
		_, err := f.answers.Submit(ctx, answer.SubmitRequest{
			QuestionID: f.questionID, PlayerID: pid, OptionIndex: 1,
		})
		assert.True(t, errors.IsCode(err, errors.CodeFailedPrecondition))

		// Pre-game.
		require.NoError(t, f.sessions.StartSession(ctx, session.TransitionRequest{SessionID: f.sessionID}))
		_, err = f.answers.Submit(ctx, answer.SubmitRequest{
			QuestionID: f.questionID, PlayerID: pid, OptionIndex: 1,
		})
		assert.True(t, errors.IsCode(err, errors.CodeFailedPrecondition))

		// Past the reveal.
		_, err = f.sessions.NextQuestion(ctx, session.TransitionRequest{SessionID: f.sessionID})
		require.NoError(t, err)
		require.NoError(t, f.sessions.ShowAnswers(ctx, session.TransitionRequest{SessionID: f.sessionID}))
		require.NoError(t, f.sessions.RevealAnswer(ctx, session.TransitionRequest{SessionID: f.sessionID}))
		_, err = f.answers.Submit(ctx, answer.SubmitRequest{
			QuestionID: f.questionID, PlayerID: pid, OptionIndex: 1,
		})
		assert.True(t, errors.IsCode(err, errors.CodeFailedPrecondition))
	})

	t.Run("rejects unknown players and questions", func(t *testing.T) {
		f := makeFixture(t)
		pid := f.join(t, "alice")
		f.openQuestion(t)

		_, err := f.answers.Submit(ctx, answer.SubmitRequest{
			QuestionID: "missing", PlayerID: pid, OptionIndex: 1,
		})
		assert.True(t, errors.IsCode(err, errors.CodeNotFound))

		_, err = f.answers.Submit(ctx, answer.SubmitRequest{
			QuestionID: f.questionID, PlayerID: "missing", OptionIndex: 1,
		})
		assert.True(t, errors.IsCode(err, errors.CodeNotFound))
	})
}

func TestGetResults(t *testing.T) {
	ctx := context.Background()

	submitAll := func(t *testing.T, f *fixture, options map[string]int) {
		t.Helper()
		for name, option := range options {
			pid := f.join(t, name)
			_, err := f.answers.Submit(ctx, answer.SubmitRequest{
				QuestionID: f.questionID, PlayerID: pid, OptionIndex: option,
			})
			require.NoError(t, err)
		}
	}

	t.Run("tallies per option", func(t *testing.T) {
		f := makeFixture(t)
		f.openQuestion(t)
		submitAll(t, f, map[string]int{"a": 1, "b": 1, "c": 0, "d": 3})

		res, err := f.answers.GetResults(ctx, answer.GetResultsRequest{QuestionID: f.questionID})
		require.NoError(t, err)

		assert.Equal(t, 4, res.TotalAnswers)
		assert.Equal(t, []int{1, 2, 0, 1}, res.OptionCounts)
	})

	t.Run("withholds the correct option before the reveal", func(t *testing.T) {
		f := makeFixture(t)
		f.openQuestion(t)
		submitAll(t, f, map[string]int{"a": 1})

		res, err := f.answers.GetResults(ctx, answer.GetResultsRequest{QuestionID: f.questionID})
		require.NoError(t, err)
		assert.Nil(t, res.CorrectOption)

		require.NoError(t, f.sessions.ShowAnswers(ctx, session.TransitionRequest{SessionID: f.sessionID}))
		res, err = f.answers.GetResults(ctx, answer.GetResultsRequest{QuestionID: f.questionID})
		require.NoError(t, err)
		assert.Nil(t, res.CorrectOption, "showing the options does not disclose the answer")

		require.NoError(t, f.sessions.RevealAnswer(ctx, session.TransitionRequest{SessionID: f.sessionID}))
		res, err = f.answers.GetResults(ctx, answer.GetResultsRequest{QuestionID: f.questionID})
		require.NoError(t, err)
		require.NotNil(t, res.CorrectOption)
		assert.Equal(t, 1, *res.CorrectOption)
	})

	t.Run("discloses the answer once the session is finished", func(t *testing.T) {
		f := makeFixture(t)
		f.openQuestion(t)
		require.NoError(t, f.sessions.FinishSession(ctx, session.TransitionRequest{SessionID: f.sessionID}))

		res, err := f.answers.GetResults(ctx, answer.GetResultsRequest{QuestionID: f.questionID})
		require.NoError(t, err)
		require.NotNil(t, res.CorrectOption)
		assert.Equal(t, 1, *res.CorrectOption)
	})
}
