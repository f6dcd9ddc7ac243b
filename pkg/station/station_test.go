package station

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ws28xx/pkg/codec"
	"ws28xx/pkg/datastore"
	"ws28xx/pkg/frame"
)

var start = time.Date(2024, time.March, 15, 7, 45, 30, 0, time.UTC)

// console answers every queued request through the store API like a session would.
type console struct {
	store  *datastore.Store
	clock  clockwork.Clock
	latest int
	fail   error
}

func (c *console) serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Millisecond):
		}

		r := c.store.Request()
		if r.State != datastore.StateQueued {
			continue
		}
		if c.fail != nil {
			c.store.FailRequest(c.fail)
			continue
		}

		switch r.Type {
		case datastore.RequestGetCurrent:
			c.store.SetCurrentWeather(frame.CurrentWeather{
				Time:        c.clock.Now(),
				TempOutdoor: frame.MinMax{Current: codec.Value(21.3)},
			})
		case datastore.RequestGetHistory:
			// nothing new once the latest slot was handed out
			if idx := c.store.History().LastIndex + 1; idx <= c.latest {
				ts := start.Add(-time.Duration(c.latest-idx) * time.Minute)
				c.store.AddHistoryData(frame.HistorySlot{Index: idx, Time: &ts}, c.latest)
			}
		}
		_ = c.store.SetRequestState(datastore.StateRunning)
		_ = c.store.SetRequestState(datastore.StateFinished)
	}
}

func setup(t *testing.T, latest int, fail error) (*Station, *datastore.Store, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(start)
	store := datastore.New(clock, datastore.DefaultOptions())
	store.SetTransceiverPresent(true)
	t.Cleanup(store.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go (&console{store: store, clock: clock, latest: latest, fail: fail}).serve(ctx)

	return New(store, clock, Options{PollInterval: 30 * time.Second, MaxHistory: 10}), store, clock
}

func TestNext(t *testing.T) {
	s, store, clock := setup(t, 5, nil)

	// a slot that arrived without a history request
	store.AddHistoryData(frame.HistorySlot{Index: 3}, 5)

	ctx := context.Background()
	o, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindCurrent, o.Kind)
	assert.Equal(t, Units, o.Units)
	assert.Equal(t, start, o.Timestamp)
	require.NotNil(t, o.Current)
	assert.Nil(t, o.History)
	assert.Equal(t, codec.Value(21.3), o.Current.TempOutdoor.Current)

	o, err = s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindHistory, o.Kind)
	require.NotNil(t, o.History)
	assert.Equal(t, 3, o.History.Index)
	assert.Equal(t, start, o.Timestamp)

	for _, idx := range []int{4, 5} {
		o, err = s.Next(ctx)
		require.NoError(t, err)
		require.NotNil(t, o.History)
		assert.Equal(t, idx, o.History.Index)
		assert.Equal(t, start.Add(-time.Duration(5-idx)*time.Minute), o.Timestamp)
	}
	assert.Equal(t, 0, store.History().Outstanding)

	// the next poll waits for the interval
	next := make(chan Observation, 1)
	go func() {
		o, err := s.Next(ctx)
		assert.NoError(t, err)
		next <- o
	}()

	select {
	case <-next:
		t.Fatal("polled before the interval elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	var got Observation
	require.Eventually(t, func() bool {
		clock.Advance(30 * time.Second)
		select {
		case got = <-next:
			return true
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, KindCurrent, got.Kind)
	assert.True(t, got.Timestamp.After(start))
}

func TestNextFails(t *testing.T) {
	s, _, _ := setup(t, 0, datastore.ErrRequestFailed)

	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, datastore.ErrRequestFailed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNextStopped(t *testing.T) {
	s, store, _ := setup(t, 0, nil)
	store.Close()

	_, err := s.Next(context.Background())
	assert.ErrorIs(t, err, datastore.ErrStopped)
}
