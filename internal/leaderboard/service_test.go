package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/blobbygame/summit/internal/answer"
	"github.com/blobbygame/summit/internal/domain"
	"github.com/blobbygame/summit/internal/event"
	"github.com/blobbygame/summit/internal/leaderboard"
	"github.com/blobbygame/summit/internal/session"
	"github.com/blobbygame/summit/internal/store/memory"
)

func TestService_UpdateLeaderboard(t *testing.T) {
	h := makeService(t)
	h.seedSession(t, "s1", "C1")
	alice := h.seedPlayer(t, "s1", "alice", 300, 0)
	bob := h.seedPlayer(t, "s1", "bob", 150, 0)

	for _, p := range []domain.Player{alice, bob} {
		err := h.svc.UpdateLeaderboard(context.Background(), domain.EventElevationUpdated{Player: p})
		require.NoError(t, err)
	}

	resp, err := h.svc.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{
		SessionID: "s1",
	})
	require.NoError(t, err)

	want := &domain.Leaderboard{
		SessionID: "s1",
		Entries: []domain.LeaderboardEntry{
			{PlayerID: alice.ID, Name: "alice", Elevation: 300},
			{PlayerID: bob.ID, Name: "bob", Elevation: 150},
		},
	}
	require.Equal(t, want, resp)
}

func TestService_GetLeaderboard(t *testing.T) {
	t.Run("legacy points break elevation ties", func(t *testing.T) {
		h := makeService(t)
		h.seedSession(t, "s1", "C1")
		alice := h.seedPlayer(t, "s1", "alice", 100, 10)
		bob := h.seedPlayer(t, "s1", "bob", 100, 30)

		for _, p := range []domain.Player{alice, bob} {
			err := h.svc.UpdateLeaderboard(context.Background(), domain.EventElevationUpdated{Player: p})
			require.NoError(t, err)
		}

		resp, err := h.svc.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{
			SessionID: "s1",
		})
		require.NoError(t, err)

		require.Len(t, resp.Entries, 2)
		require.Equal(t, "bob", resp.Entries[0].Name)
		require.Equal(t, "alice", resp.Entries[1].Name)
	})

	t.Run("falls back to the store before any reveal", func(t *testing.T) {
		h := makeService(t)
		h.seedSession(t, "s1", "C1")
		h.seedPlayer(t, "s1", "alice", 0, 0)
		h.seedPlayer(t, "s1", "bob", 0, 0)

		resp, err := h.svc.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{
			SessionID: "s1",
		})
		require.NoError(t, err)

		require.Len(t, resp.Entries, 2, "joined players show before anyone scores")
		require.Equal(t, "alice", resp.Entries[0].Name)
		require.Equal(t, "bob", resp.Entries[1].Name)
	})

	t.Run("skips players no longer in the session", func(t *testing.T) {
		h := makeService(t)
		h.seedSession(t, "s1", "C1")
		gone := domain.Player{ID: "gone", SessionID: "s1", Name: "gone", Elevation: 500}

		err := h.svc.UpdateLeaderboard(context.Background(), domain.EventElevationUpdated{Player: gone})
		require.NoError(t, err)

		resp, err := h.svc.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{
			SessionID: "s1",
		})
		require.NoError(t, err)
		require.Empty(t, resp.Entries)
	})
}

func TestService_DestructiveRollbackReRanks(t *testing.T) {
	h := makeService(t)
	ctx := context.Background()

	correct := 1
	deck := make([]session.DeckQuestion, 2)
	for i := range deck {
		deck[i] = session.DeckQuestion{
			Text:          "Which way is up?",
			Options:       []string{"Left", "Up", "Down"},
			CorrectOption: &correct,
			TimeLimit:     15,
		}
	}
	sessions := session.NewService(session.Config{
		Store:    h.store,
		EventBus: h.eb,
		Deck:     session.StaticDeck(deck),
	})
	answers := answer.NewService(answer.Config{Store: h.store})

	created, err := sessions.CreateSession(ctx, session.CreateSessionRequest{HostID: "host-1"})
	require.NoError(t, err)
	id := created.SessionID

	join := func(name string) string {
		resp, err := sessions.JoinSession(ctx, session.JoinSessionRequest{SessionID: id, Name: name})
		require.NoError(t, err)
		return resp.PlayerID
	}
	bob, alice := join("bob"), join("alice")

	step := func(op func(context.Context, session.TransitionRequest) error) {
		require.NoError(t, op(ctx, session.TransitionRequest{SessionID: id}))
	}
	next := func() {
		_, err := sessions.NextQuestion(ctx, session.TransitionRequest{SessionID: id})
		require.NoError(t, err)
	}
	prev := func() *session.PreviousPhaseResponse {
		resp, err := sessions.PreviousPhase(ctx, session.TransitionRequest{SessionID: id})
		require.NoError(t, err)
		return resp
	}

	questions, err := sessions.ListQuestions(ctx, session.ListQuestionsRequest{SessionID: id})
	require.NoError(t, err)

	// Q1: only bob scores.
	step(sessions.StartSession)
	next()
	step(sessions.ShowAnswers)
	_, err = answers.Submit(ctx, answer.SubmitRequest{QuestionID: questions[0].ID, PlayerID: bob, OptionIndex: 1})
	require.NoError(t, err)
	step(sessions.RevealAnswer)
	step(sessions.ShowResults)

	// Q2: alice scores, then the host rewinds her question destructively.
	next()
	step(sessions.ShowAnswers)
	_, err = answers.Submit(ctx, answer.SubmitRequest{QuestionID: questions[1].ID, PlayerID: alice, OptionIndex: 1})
	require.NoError(t, err)
	step(sessions.RevealAnswer)

	// Drain the reveal's updates before rewinding so the restore is the
	// last write the sorted set sees.
	h.eb.Stop()

	prev() // revealed back to answers_shown
	require.True(t, prev().IsDestructive)
	h.eb.Stop()

	resp, err := h.svc.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{SessionID: id})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 2)
	require.Equal(t, "bob", resp.Entries[0].Name)
	require.Greater(t, resp.Entries[0].Elevation, 0)
	require.Equal(t, "alice", resp.Entries[1].Name)
	require.Zero(t, resp.Entries[1].Elevation, "the rolled-back gain is gone from the ranking")
}

func TestService_ClearLeaderboard(t *testing.T) {
	h := makeService(t)
	h.seedSession(t, "s1", "C1")
	alice := h.seedPlayer(t, "s1", "alice", 300, 0)

	err := h.svc.UpdateLeaderboard(context.Background(), domain.EventElevationUpdated{Player: alice})
	require.NoError(t, err)

	// The session goes back to the lobby: the bus subscription drops the set.
	h.eb.Publish(context.Background(), domain.EventPhaseChanged{
		Session: domain.Session{ID: "s1", Status: domain.StatusLobby},
	})
	h.eb.Stop()

	require.False(t, h.rs.Exists("test:s1:leaderboard"))
}

func TestService_PublishLeaderboardUpdated(t *testing.T) {
	type (
		inputs struct {
			sessions []string
			events   []domain.EventElevationUpdated
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	player := func(session, name string, elevation int) domain.Player {
		return domain.Player{
			ID:        session + "-" + name,
			SessionID: session,
			Name:      name,
			Elevation: elevation,
		}
	}

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"one update publishes one event": {
			arrange: func() inputs {
				return inputs{
					sessions: []string{"s1"},
					events: []domain.EventElevationUpdated{
						{Player: player("s1", "alice", 120)},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1)
				require.Equal(t, "s1", out.publishedEvents[0].Leaderboard.SessionID)
				require.Len(t, out.publishedEvents[0].Leaderboard.Entries, 1)
			},
		},

		"updates for two sessions publish one event each": {
			arrange: func() inputs {
				return inputs{
					sessions: []string{"s1", "s2"},
					events: []domain.EventElevationUpdated{
						{Player: player("s1", "alice", 120)},
						{Player: player("s2", "bob", 90)},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 2)
			},
		},

		"burst updates for one session coalesce into one event": {
			arrange: func() inputs {
				return inputs{
					sessions: []string{"s1"},
					events: []domain.EventElevationUpdated{
						{Player: player("s1", "alice", 120)},
						{Player: player("s1", "bob", 90)},
						{Player: player("s1", "carol", 60)},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e.(domain.EventLeaderboardUpdated))
				mu.Unlock()
				return nil
			})

			h := makeService(t, withEventBus(eb))
			for i, id := range in.sessions {
				h.seedSession(t, id, "C"+string(rune('1'+i)))
			}
			for _, e := range in.events {
				p := e.Player
				h.seedPlayer(t, p.SessionID, p.Name, p.Elevation, p.Score)
			}

			for _, e := range in.events {
				err := h.svc.UpdateLeaderboard(context.Background(), e)
				require.NoError(t, err)
			}

			eb.Stop()

			tt.assert(t, out)
		})
	}
}

type harness struct {
	svc   *leaderboard.Service
	store *memory.Store
	eb    *event.Bus
	rs    *miniredis.Miniredis
}

func (h *harness) seedSession(t *testing.T, id, joinCode string) {
	t.Helper()
	err := h.store.InsertSession(context.Background(), &domain.Session{
		ID:                   id,
		JoinCode:             joinCode,
		HostID:               "host-1",
		Status:               domain.StatusActive,
		CurrentQuestionIndex: -1,
	}, nil)
	require.NoError(t, err)
}

func (h *harness) seedPlayer(t *testing.T, sessionID, name string, elevation, score int) domain.Player {
	t.Helper()
	p := domain.Player{
		ID:        sessionID + "-" + name,
		SessionID: sessionID,
		Name:      name,
		Elevation: elevation,
		Score:     score,
	}
	require.NoError(t, h.store.InsertPlayer(context.Background(), &p))
	return p
}

func makeService(t *testing.T, opts ...options) *harness {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Store:    memory.New(),
		Redis:    rc,
		Prefix:   "test",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return &harness{
		svc:   leaderboard.NewService(c),
		store: c.Store.(*memory.Store),
		eb:    c.EventBus,
		rs:    rs,
	}
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}
