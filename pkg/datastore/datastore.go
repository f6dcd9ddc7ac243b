// Package datastore is the state shared between the radio session and its callers.
//
// The session goroutine owns the transceiver and publishes decoded frames
// into the Store. Application goroutines start requests through the blocking
// entry points (GetCurrentWeather, GetHistory, ...). Only one request is in
// flight at a time, a second caller waits for the first one to complete.
package datastore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/womat/debug"
	"golang.org/x/sync/semaphore"

	"ws28xx/pkg/frame"
)

var (
	// ErrRequestTimeout is returned when the request TTL or the caller timeout expired.
	ErrRequestTimeout = errors.New("request timeout")
	// ErrRequestFailed is returned when the session gave up on a request.
	ErrRequestFailed = errors.New("request failed")
	// ErrPairingTimeout is returned when no console answered the pairing broadcast in time.
	ErrPairingTimeout = errors.New("pairing timeout")
	// ErrNoTransceiver is returned when no session owns a transceiver.
	ErrNoTransceiver = errors.New("transceiver not present")
	// ErrStopped is returned to callers once the store is closed.
	ErrStopped = errors.New("datastore stopped")
	// ErrTransition is returned for a request state change the state machine does not allow.
	ErrTransition = errors.New("invalid request state transition")
)

// Options tunes request lifetimes.
type Options struct {
	// RequestTTL is the number of session iterations a request may take.
	RequestTTL int
	// PairingTTL is the number of session iterations a first config request may take.
	PairingTTL int
	// Timeout bounds GetConfig, SetConfig and SetTime.
	Timeout time.Duration
	// CommModeInterval is sent to the console in every ACK.
	CommModeInterval uint16
}

// DefaultOptions returns the lifetimes used by the daemon.
func DefaultOptions() Options {
	return Options{
		RequestTTL:       600,
		PairingTTL:       3000,
		Timeout:          60 * time.Second,
		CommModeInterval: 3,
	}
}

// LinkStatus is what the console reports about the radio link.
type LinkStatus struct {
	LastSeen time.Time `json:"last_seen"`
	Quality  uint8     `json:"quality"`
	Battery  uint8     `json:"battery"`
}

// History is the history bookkeeping of the session.
type History struct {
	LastIndex    int
	Outstanding  int
	BufferCheck  BufferCheck
	LastActivity time.Time
}

type Store struct {
	clock clockwork.Clock
	opts  Options
	sem   *semaphore.Weighted

	stop     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	req     Request
	done    chan struct{}
	result  error
	present bool

	transceiverID uint16
	deviceID      uint16
	registered    bool
	link          LinkStatus

	current *frame.CurrentWeather
	history []frame.HistorySlot
	hist    History

	config   *frame.StationConfig
	configCS uint16
	pending  *frame.StationConfig
}

// New returns an empty store. clock drives the caller timeouts.
func New(clock clockwork.Clock, opts Options) *Store {
	return &Store{
		clock: clock,
		opts:  opts,
		sem:   semaphore.NewWeighted(1),
		stop:  make(chan struct{}),
		hist:  History{LastIndex: frame.NoIndex},
	}
}

// Close wakes every blocked caller with ErrStopped. Later requests fail immediately.
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.present = false
		if s.req.State.Active() {
			s.req.State = StateError
			s.complete(ErrStopped)
		}
	})
}

// Done is closed when the store is closed.
func (s *Store) Done() <-chan struct{} {
	return s.stop
}

// Request returns a copy of the request descriptor.
func (s *Store) Request() Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.req
}

// SetRequestState advances the active request. Finished and Error wake the caller.
func (s *Store) SetRequestState(state RequestState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !CanTransition(s.req.State, state) {
		return fmt.Errorf("%w: %s -> %s", ErrTransition, s.req.State, state)
	}

	debug.DebugLog.Printf("request %s: %s -> %s", s.req.Type, s.req.State, state)
	s.req.State = state
	switch state {
	case StateFinished:
		s.complete(nil)
	case StateError:
		s.complete(ErrRequestFailed)
	}
	return nil
}

// FailRequest moves an active request to Error and hands err to its caller.
func (s *Store) FailRequest(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.req.State.Active() {
		return
	}
	debug.DebugLog.Printf("request %s failed: %v", s.req.Type, err)
	s.req.State = StateError
	s.complete(err)
}

// RequestTick counts down the TTL of the active request. At zero the
// request is reset to Invalid/Error and its caller gets ErrRequestTimeout.
func (s *Store) RequestTick() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.req.State.Active() {
		return
	}
	s.req.TTL--
	if s.req.TTL > 0 {
		return
	}

	debug.DebugLog.Printf("request %s expired in state %s", s.req.Type, s.req.State)
	s.req.Type = RequestInvalid
	s.req.State = StateError
	s.complete(ErrRequestTimeout)
}

// complete hands err to the waiting caller. s.mu must be held.
func (s *Store) complete(err error) {
	if s.done == nil {
		return
	}
	s.result = err
	close(s.done)
	s.done = nil
}

// TransceiverPresent reports whether a session owns a working transceiver.
func (s *Store) TransceiverPresent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present
}

func (s *Store) SetTransceiverPresent(present bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.present = present
}

// TransceiverID is the factory ID read from the dongle.
func (s *Store) TransceiverID() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transceiverID
}

func (s *Store) SetTransceiverID(id uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transceiverID = id
}

// DeviceID returns the ID inbound frames must carry and whether a console is paired.
func (s *Store) DeviceID() (uint16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceID, s.registered
}

func (s *Store) SetDeviceID(id uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceID = id
	s.registered = true
}

func (s *Store) Link() LinkStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// SetLinkStatus records the link quality and battery flags of a frame received now.
func (s *Store) SetLinkStatus(quality, battery uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.link = LinkStatus{LastSeen: s.clock.Now(), Quality: quality, Battery: battery}
}

// RestoreLastSeen sets the time the console was last heard unless a frame arrived since.
func (s *Store) RestoreLastSeen(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link.LastSeen.IsZero() {
		s.link.LastSeen = t
	}
}

func (s *Store) CommModeInterval() uint16 {
	return s.opts.CommModeInterval
}

// CurrentWeather returns the latest published current weather.
func (s *Store) CurrentWeather() (frame.CurrentWeather, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return frame.CurrentWeather{}, false
	}
	return *s.current, true
}

// SetCurrentWeather publishes c by replacing the stored record.
func (s *Store) SetCurrentWeather(c frame.CurrentWeather) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &c
}

// AddHistoryData queues slot for the next GetHistory caller and makes it the last known slot.
func (s *Store) AddHistoryData(slot frame.HistorySlot, latest int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]frame.HistorySlot, len(s.history), len(s.history)+1)
	copy(history, s.history)
	s.history = append(history, slot)

	s.hist.LastIndex = slot.Index
	s.hist.Outstanding = frame.OutstandingHistorySets(latest, slot.Index)
}

// DrainHistory returns and forgets the queued history slots.
func (s *Store) DrainHistory() []frame.HistorySlot {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.history
	s.history = nil
	return h
}

// History returns the history bookkeeping.
func (s *Store) History() History {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist
}

// SetLastHistoryIndex restores the last retrieved ring index, e.g. after a restart.
func (s *Store) SetLastHistoryIndex(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hist.LastIndex = index
}

func (s *Store) SetBufferCheck(b BufferCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hist.BufferCheck != b {
		debug.DebugLog.Printf("history buffer check %s -> %s", s.hist.BufferCheck, b)
	}
	s.hist.BufferCheck = b
}

// TouchHistory records history activity at t.
func (s *Store) TouchHistory(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hist.LastActivity = t
}

// StationConfig returns the cached console config and its checksum.
func (s *Store) StationConfig() (frame.StationConfig, uint16, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.config == nil {
		return frame.StationConfig{}, 0, false
	}
	return *s.config, s.configCS, true
}

func (s *Store) SetStationConfig(c frame.StationConfig, checksum uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = &c
	s.configCS = checksum
}

// PendingConfig returns the config a SetConfig caller wants written.
func (s *Store) PendingConfig() (frame.StationConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return frame.StationConfig{}, false
	}
	return *s.pending, true
}

// CommitPendingConfig makes the pending config the cached one once the console acknowledged it.
func (s *Store) CommitPendingConfig(checksum uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return
	}
	s.config = s.pending
	s.configCS = checksum
	s.pending = nil
}
