package domain

const (
	EventNamePhaseChanged       = "session.phase_changed"
	EventNameElevationUpdated   = "player.elevation_updated"
	EventNamePlayerSummited     = "player.summited"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventPhaseChanged struct {
	Session Session
}

func (EventPhaseChanged) Name() string { return EventNamePhaseChanged }

type EventElevationUpdated struct {
	Player Player
}

func (EventElevationUpdated) Name() string { return EventNameElevationUpdated }

// EventPlayerSummited fires once per player, on the reveal that first lifts
// their elevation to the summit.
type EventPlayerSummited struct {
	Player Player
}

func (EventPlayerSummited) Name() string { return EventNamePlayerSummited }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
