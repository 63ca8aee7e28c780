package event_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blobbygame/summit/internal/domain"
	"github.com/blobbygame/summit/internal/event"
)

func phaseChanged(sessionID string) event.Event {
	return domain.EventPhaseChanged{Session: domain.Session{ID: sessionID}}
}

func elevationUpdated(playerID string) event.Event {
	return domain.EventElevationUpdated{Player: domain.Player{ID: playerID}}
}

func summited(playerID string) event.Event {
	return domain.EventPlayerSummited{Player: domain.Player{ID: playerID}}
}

func TestBus_PublishSubscribe(t *testing.T) {
	type (
		inputs struct {
			published   []event.Event
			subscribers []subscriber
		}

		outputs struct {
			received map[string][]event.Event
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a subscriber only receives its own event name": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						phaseChanged("s1"),
						elevationUpdated("p1"),
					},
					subscribers: []subscriber{
						{
							name:        "phases",
							subscribeTo: []string{domain.EventNamePhaseChanged},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{phaseChanged("s1")}, out.received["phases"])
			},
		},

		"repeated events are all delivered": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						elevationUpdated("p1"),
						elevationUpdated("p2"),
					},
					subscribers: []subscriber{
						{
							name:        "elevations",
							subscribeTo: []string{domain.EventNameElevationUpdated},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t,
					[]event.Event{elevationUpdated("p1"), elevationUpdated("p2")},
					out.received["elevations"],
				)
			},
		},

		"one event fans out to every subscriber": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						summited("p1"),
					},
					subscribers: []subscriber{
						{
							name:        "s1",
							subscribeTo: []string{domain.EventNamePlayerSummited},
						},
						{
							name:        "s2",
							subscribeTo: []string{domain.EventNamePlayerSummited},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{summited("p1")}, out.received["s1"])
				assert.ElementsMatch(t, []event.Event{summited("p1")}, out.received["s2"])
			},
		},

		"mixed events route to mixed subscriptions": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{
						phaseChanged("s1"),
						elevationUpdated("p1"),
						phaseChanged("s1"),
						summited("p1"),
					},
					subscribers: []subscriber{
						{
							name:        "phases",
							subscribeTo: []string{domain.EventNamePhaseChanged},
						},
						{
							name:        "climb",
							subscribeTo: []string{domain.EventNameElevationUpdated, domain.EventNamePlayerSummited},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t,
					[]event.Event{phaseChanged("s1"), phaseChanged("s1")},
					out.received["phases"],
				)
				assert.ElementsMatch(t,
					[]event.Event{elevationUpdated("p1"), summited("p1")},
					out.received["climb"],
				)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			mu := sync.Mutex{}
			out := outputs{received: make(map[string][]event.Event)}

			b := event.NewBus()
			for _, s := range in.subscribers {
				s := s
				for _, e := range s.subscribeTo {
					b.Subscribe(e, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						out.received[s.name] = append(out.received[s.name], e)
						mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range in.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			tt.assert(t, out)
		})
	}
}

func TestBus_HandlerFailureIsIsolated(t *testing.T) {
	b := event.NewBus()

	var (
		mu    sync.Mutex
		calls []string
	)
	record := func(name string) {
		mu.Lock()
		calls = append(calls, name)
		mu.Unlock()
	}

	b.Subscribe(domain.EventNamePhaseChanged, func(ctx context.Context, e event.Event) error {
		record("panics")
		panic("boom")
	})
	b.Subscribe(domain.EventNamePhaseChanged, func(ctx context.Context, e event.Event) error {
		record("fails")
		return assert.AnError
	})
	b.Subscribe(domain.EventNamePhaseChanged, func(ctx context.Context, e event.Event) error {
		record("succeeds")
		return nil
	})

	b.Publish(context.Background(), phaseChanged("s1"))
	b.Stop()

	assert.ElementsMatch(t, []string{"panics", "fails", "succeeds"}, calls)
}

type subscriber struct {
	name        string
	subscribeTo []string
}
