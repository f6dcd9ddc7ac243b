// Package station turns the request API of the datastore into a stream of
// observations: every poll yields the current weather followed by the history
// slots the console recorded since the last poll.
package station

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/womat/debug"

	"ws28xx/pkg/datastore"
	"ws28xx/pkg/frame"
)

// Kind tells which record an Observation carries.
type Kind string

const (
	KindCurrent Kind = "current"
	KindHistory Kind = "history"
)

// Units is the unit system of every observation. Decoded values are always metric.
const Units = "METRIC"

// Observation is one record of the stream. Exactly one of Current and History is set.
type Observation struct {
	Kind      Kind                  `json:"kind"`
	Timestamp time.Time             `json:"timestamp"`
	Units     string                `json:"units"`
	Current   *frame.CurrentWeather `json:"current,omitempty"`
	History   *frame.HistorySlot    `json:"history,omitempty"`
}

type Options struct {
	// PollInterval is the time between two polls of the console.
	PollInterval time.Duration
	// RequestTimeout bounds a single request.
	RequestTimeout time.Duration
	// MaxHistory limits the history requests of one poll.
	MaxHistory int
}

func DefaultOptions() Options {
	return Options{
		PollInterval:   30 * time.Second,
		RequestTimeout: 60 * time.Second,
		MaxHistory:     20,
	}
}

type Station struct {
	store *datastore.Store
	clock clockwork.Clock
	opts  Options

	queue []Observation
	next  time.Time
}

func New(store *datastore.Store, clock clockwork.Clock, opts Options) *Station {
	return &Station{store: store, clock: clock, opts: opts}
}

// Next returns the next observation. It polls the console when no record is
// queued and blocks until the poll interval elapsed or ctx is done.
// A failed poll is returned unless it already queued records, the
// following call waits for the next poll.
func (s *Station) Next(ctx context.Context) (Observation, error) {
	for len(s.queue) == 0 {
		if err := s.wait(ctx); err != nil {
			return Observation{}, err
		}
		if err := s.poll(ctx); err != nil {
			if len(s.queue) == 0 {
				return Observation{}, err
			}
			debug.ErrorLog.Printf("poll history: %v", err)
		}
	}

	o := s.queue[0]
	s.queue = s.queue[1:]
	return o, nil
}

func (s *Station) wait(ctx context.Context) error {
	d := s.next.Sub(s.clock.Now())
	if s.next.IsZero() || d <= 0 {
		return ctx.Err()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.clock.After(d):
		return nil
	}
}

func (s *Station) poll(ctx context.Context) error {
	s.next = s.clock.Now().Add(s.opts.PollInterval)

	c, err := s.store.GetCurrentWeather(ctx, s.opts.RequestTimeout)
	if err != nil {
		return err
	}
	s.queue = append(s.queue, Observation{Kind: KindCurrent, Timestamp: c.Time, Units: Units, Current: &c})

	// slots received while other requests ran
	s.addHistory(s.store.DrainHistory(), c.Time)

	// Only a history frame tells how far the console has recorded, so every
	// poll asks for at least one slot.
	for i := 0; i < s.opts.MaxHistory; i++ {
		if i > 0 && s.store.History().Outstanding == 0 {
			break
		}
		slots, err := s.store.GetHistory(ctx, s.opts.RequestTimeout)
		if err != nil {
			return err
		}
		s.addHistory(slots, c.Time)
	}
	s.addHistory(s.store.DrainHistory(), c.Time)

	debug.DebugLog.Printf("poll: %d observations, %d history slots outstanding", len(s.queue), s.store.History().Outstanding)
	return nil
}

// addHistory queues slots. Slots without a valid timestamp take fallback.
func (s *Station) addHistory(slots []frame.HistorySlot, fallback time.Time) {
	for i := range slots {
		slot := slots[i]
		ts := fallback
		if slot.Time != nil {
			ts = *slot.Time
		}
		s.queue = append(s.queue, Observation{Kind: KindHistory, Timestamp: ts, Units: Units, History: &slot})
	}
}
