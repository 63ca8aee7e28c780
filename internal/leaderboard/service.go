// Package leaderboard ranks a session's climbers.
//
// Rankings live in a redis sorted set so the shared display can poll them
// cheaply; player names and exact totals come from the store. The set is
// scored by elevation with legacy participation points as a fractional
// tie-break, which also ranks poll-only sessions where nobody gains
// elevation.
package leaderboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/blobbygame/summit/internal/domain"
	"github.com/blobbygame/summit/internal/event"
	"github.com/blobbygame/summit/internal/store"
)

const (
	publishInterval = 200 * time.Millisecond

	// scoreTieBreakDivisor folds legacy points into the fractional part of
	// the redis score without ever crossing a whole metre.
	scoreTieBreakDivisor = 1e6
)

type Config struct {
	EventBus *event.Bus
	Store    store.Store
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	store  store.Store
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		store:  c.Store,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameElevationUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventElevationUpdated))
	})

	// A session rewound to the lobby has had every elevation zeroed; the
	// stale set must go with them.
	s.eb.Subscribe(domain.EventNamePhaseChanged, func(ctx context.Context, e event.Event) error {
		ss := e.(domain.EventPhaseChanged).Session
		if ss.Status == domain.StatusLobby {
			return s.ClearLeaderboard(ctx, ss.ID)
		}
		return nil
	})

	return s
}

type GetLeaderboardRequest struct {
	SessionID string
}

// GetLeaderboard returns the session's players best first. Rank order comes
// from redis when the set is warm; a session with no scored answers yet
// falls back to sorting the store's players directly, so a lobby full of
// joined players still gets a board.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	players, err := s.store.ListPlayersBySession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Player, len(players))
	for _, p := range players {
		byID[p.ID] = p
	}

	ranked, err := s.redis.ZRevRange(ctx, s.leaderboardKey(req.SessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	l := &domain.Leaderboard{SessionID: req.SessionID}
	seen := make(map[string]bool, len(ranked))
	for _, id := range ranked {
		p, ok := byID[id]
		if !ok {
			continue // deleted player still lingering in the set
		}
		seen[id] = true
		l.Entries = append(l.Entries, entry(p))
	}

	// Players redis has not seen yet (nobody revealed anything).
	var cold []domain.Player
	for _, p := range players {
		if !seen[p.ID] {
			cold = append(cold, p)
		}
	}
	sort.Slice(cold, func(i, j int) bool {
		if cold[i].Elevation != cold[j].Elevation {
			return cold[i].Elevation > cold[j].Elevation
		}
		if cold[i].Score != cold[j].Score {
			return cold[i].Score > cold[j].Score
		}
		return cold[i].Name < cold[j].Name
	})
	for _, p := range cold {
		l.Entries = append(l.Entries, entry(p))
	}

	return l, nil
}

func entry(p domain.Player) domain.LeaderboardEntry {
	return domain.LeaderboardEntry{
		PlayerID:  p.ID,
		Name:      p.Name,
		Elevation: p.Elevation,
		Score:     p.Score,
		Active:    p.ActiveWithin(domain.PresenceWindow, time.Now()),
	}
}

// UpdateLeaderboard overwrites the player's rank score in the sorted set.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventElevationUpdated) error {
	p := e.Player

	if err := s.redis.ZAdd(ctx, s.leaderboardKey(p.SessionID), redis.Z{
		Score:  rankScore(p),
		Member: p.ID,
	}).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return s.schedulePublish(ctx, p.SessionID)
}

// ClearLeaderboard drops the session's sorted set. Called when a session is
// rewound to the lobby or removed.
func (s *Service) ClearLeaderboard(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, s.leaderboardKey(sessionID), s.publishTimeKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear leaderboard: %w", err)
	}
	return nil
}

func rankScore(p domain.Player) float64 {
	return float64(p.Elevation) + float64(p.Score)/scoreTieBreakDivisor
}

// schedulePublish publishes leaderboard changes at most once per interval.
// Reveals update many players in a burst; coalescing keeps subscribers from
// being flooded.
func (s *Service) schedulePublish(ctx context.Context, sessionID string) error {
	ok, err := s.redis.SetNX(ctx, s.publishTimeKey(sessionID), time.Now().UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: session=%s: %w", sessionID, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{Leaderboard: *l})
	return nil
}

func (s *Service) leaderboardKey(session string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, session)
}

func (s *Service) publishTimeKey(session string) string {
	return fmt.Sprintf("%s:%s:time", s.prefix, session)
}
