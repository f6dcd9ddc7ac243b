package datastore

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/womat/debug"

	"ws28xx/pkg/frame"
)

// FirstTimeConfig pairs with a console and returns its device ID.
func (s *Store) FirstTimeConfig(ctx context.Context, timeout time.Duration) (uint16, error) {
	if err := s.do(ctx, RequestFirstConfig, s.opts.PairingTTL, timeout, nil); err != nil {
		return 0, err
	}
	id, _ := s.DeviceID()
	return id, nil
}

// GetCurrentWeather fetches a fresh current weather record from the console.
func (s *Store) GetCurrentWeather(ctx context.Context, timeout time.Duration) (frame.CurrentWeather, error) {
	if err := s.do(ctx, RequestGetCurrent, s.opts.RequestTTL, timeout, nil); err != nil {
		return frame.CurrentWeather{}, err
	}
	c, _ := s.CurrentWeather()
	return c, nil
}

// GetHistory fetches the next history slot and returns all slots not handed out before.
func (s *Store) GetHistory(ctx context.Context, timeout time.Duration) ([]frame.HistorySlot, error) {
	if err := s.do(ctx, RequestGetHistory, s.opts.RequestTTL, timeout, nil); err != nil {
		return nil, err
	}
	return s.DrainHistory(), nil
}

// GetConfig reads the console config.
func (s *Store) GetConfig(ctx context.Context) (frame.StationConfig, error) {
	if err := s.do(ctx, RequestGetConfig, s.opts.RequestTTL, s.opts.Timeout, nil); err != nil {
		return frame.StationConfig{}, err
	}
	c, _, _ := s.StationConfig()
	return c, nil
}

// SetConfig writes c to the console.
func (s *Store) SetConfig(ctx context.Context, c frame.StationConfig) error {
	if _, _, err := frame.EncodeConfig(c); err != nil {
		return fmt.Errorf("set config: %w", err)
	}

	err := s.do(ctx, RequestSetConfig, s.opts.RequestTTL, s.opts.Timeout, func() {
		s.pending = &c
	})

	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
	return err
}

// SetTime sets the console clock to the local time.
func (s *Store) SetTime(ctx context.Context) error {
	return s.do(ctx, RequestSetTime, s.opts.RequestTTL, s.opts.Timeout, nil)
}

// do queues a request and blocks until the session completes it, the
// timeout elapses, ctx is cancelled or the store is closed. Requests are
// serialized: a caller waits here until the previous request is done.
// prepare runs with s.mu held right before the request is queued.
func (s *Store) do(ctx context.Context, typ RequestType, ttl int, timeout time.Duration, prepare func()) error {
	ctx, cancel := s.withTimeout(ctx, timeout)
	defer cancel(nil)

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return context.Cause(ctx)
	}
	defer s.sem.Release(1)

	s.mu.Lock()
	select {
	case <-s.stop:
		s.mu.Unlock()
		return ErrStopped
	default:
	}
	if !s.present {
		s.mu.Unlock()
		return ErrNoTransceiver
	}

	if prepare != nil {
		prepare()
	}
	done := make(chan struct{})
	s.req = Request{Type: typ, State: StateQueued, TTL: ttl}
	s.done = done
	s.result = nil
	s.mu.Unlock()

	debug.DebugLog.Printf("request %s queued, ttl %d", typ, ttl)

	select {
	case <-done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.result

	case <-ctx.Done():
		err := context.Cause(ctx)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.done != done {
			// completed concurrently
			return s.result
		}
		s.req.Type = RequestInvalid
		s.req.State = StateError
		s.complete(err)
		debug.DebugLog.Printf("request %s abandoned: %v", typ, err)
		return err
	}
}

// withTimeout derives a context that is cancelled with ErrRequestTimeout
// after timeout on the store clock and with ErrStopped when the store closes.
func (s *Store) withTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelCauseFunc) {
	ctx, cancel := context.WithCancelCause(parent)

	var expired <-chan time.Time
	var timer clockwork.Timer
	if timeout > 0 {
		timer = s.clock.NewTimer(timeout)
		expired = timer.Chan()
	}

	go func() {
		select {
		case <-expired:
			cancel(ErrRequestTimeout)
		case <-s.stop:
			cancel(ErrStopped)
		case <-ctx.Done():
		}
		if timer != nil {
			timer.Stop()
		}
	}()

	return ctx, cancel
}
