package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/blobbygame/summit/internal/domain"
)

const maxConcurrentPublishes = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	phaseData struct {
		SessionID            string `json:"session_id"`
		Status               string `json:"status"`
		QuestionPhase        string `json:"question_phase,omitempty"`
		CurrentQuestionIndex int    `json:"current_question_index"`
	}

	leaderboardData struct {
		SessionID string             `json:"session_id"`
		Entries   []leaderboardEntry `json:"entries"`
	}

	leaderboardEntry struct {
		PlayerID  string `json:"player_id"`
		Name      string `json:"name"`
		Elevation int    `json:"elevation"`
		Score     int    `json:"score"`
		Active    bool   `json:"active"`
	}

	summitData struct {
		SessionID string `json:"session_id"`
		PlayerID  string `json:"player_id"`
		Name      string `json:"name"`
		Elevation int    `json:"elevation"`
	}
)

func (a *API) publishPhaseChanged(ctx context.Context, e domain.EventPhaseChanged) error {
	ss := e.Session
	return a.publishNotification(ctx, a.sessionChannel(ss.ID), e.Name(), phaseData{
		SessionID:            ss.ID,
		Status:               string(ss.Status),
		QuestionPhase:        string(ss.QuestionPhase),
		CurrentQuestionIndex: ss.CurrentQuestionIndex,
	})
}

// publishLeaderboardUpdated notifies the session channel and every ranked
// player's own channel, bounded so a large room cannot flood redis.
func (a *API) publishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	l := e.Leaderboard

	data := leaderboardData{
		SessionID: l.SessionID,
		Entries:   make([]leaderboardEntry, 0, len(l.Entries)),
	}
	for _, entry := range l.Entries {
		data.Entries = append(data.Entries, leaderboardEntry{
			PlayerID:  entry.PlayerID,
			Name:      entry.Name,
			Elevation: entry.Elevation,
			Score:     entry.Score,
			Active:    entry.Active,
		})
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrentPublishes)

	eg.Go(func() error {
		return a.publishNotification(ctx, a.sessionChannel(l.SessionID), e.Name(), data)
	})
	for _, entry := range data.Entries {
		entry := entry
		eg.Go(func() error {
			return a.publishNotification(ctx, a.playerChannel(entry.PlayerID), e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishPlayerSummited(ctx context.Context, e domain.EventPlayerSummited) error {
	p := e.Player
	return a.publishNotification(ctx, a.sessionChannel(p.SessionID), e.Name(), summitData{
		SessionID: p.SessionID,
		PlayerID:  p.ID,
		Name:      p.Name,
		Elevation: p.Elevation,
	})
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}

func (a *API) sessionChannel(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", a.prefix, sessionID)
}

func (a *API) playerChannel(playerID string) string {
	return fmt.Sprintf("%s:player:%s", a.prefix, playerID)
}
