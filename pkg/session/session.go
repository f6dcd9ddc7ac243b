// Package session runs the radio protocol with the console.
//
// A Session owns the transceiver. Each Step polls the dongle, dispatches a
// received frame, advances the request held in the datastore and sends the
// reply. Any transceiver failure ends the session, the caller has to open
// the dongle again and start a new one.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/womat/debug"

	"ws28xx/pkg/datastore"
	"ws28xx/pkg/transceiver"
)

// Band is the radio frequency band of the station.
type Band string

const (
	BandEU Band = "EU"
	BandUS Band = "US"
)

// Hz returns the center frequency of the band.
func (b Band) Hz() (int64, error) {
	switch Band(strings.ToUpper(string(b))) {
	case BandEU:
		return 868300000, nil
	case BandUS:
		return 915000000, nil
	}
	return 0, fmt.Errorf("unknown frequency band %q", string(b))
}

const (
	preamblePattern byte = 0xaa
	cmdRestart      byte = 0x05
	freqRegister    byte = 0x20
	crystalHz            = 16000000
)

// Options of a session.
type Options struct {
	Band Band
	// Interval is the pause between two iterations.
	Interval time.Duration
	// Preamble is how long the pairing preamble is sent.
	Preamble time.Duration
	// PairingTimeout is how long a console may take to answer the pairing broadcast.
	PairingTimeout time.Duration
	// BufferCheckGap arms the history buffer check after a pause in history frames this long.
	BufferCheckGap time.Duration
	// Location is the time zone of the console clock.
	Location *time.Location
}

// DefaultOptions returns the options used by the daemon.
func DefaultOptions() Options {
	return Options{
		Band:           BandEU,
		Interval:       100 * time.Millisecond,
		Preamble:       5 * time.Second,
		PairingTimeout: 90 * time.Second,
		BufferCheckGap: 10 * time.Minute,
		Location:       time.Local,
	}
}

type Session struct {
	tx    transceiver.Transceiver
	store *datastore.Store
	clock clockwork.Clock
	opts  Options

	broadcast        bool
	preambleDeadline time.Time
	pairingDeadline  time.Time

	// a time frame is due once the clock leaves the minute boundary
	timePending bool
	timeID      uint16
	timeCS      uint16
}

// New returns a session on tx that publishes into store.
func New(tx transceiver.Transceiver, store *datastore.Store, clock clockwork.Clock, opts Options) *Session {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Session{tx: tx, store: store, clock: clock, opts: opts}
}

// Init brings up the radio: it tunes the frequency registers, restarts the
// receiver and reads the factory ID of the dongle into the store.
func (s *Session) Init() error {
	hz, err := s.opts.Band.Hz()
	if err != nil {
		return err
	}

	corr, err := s.tx.ReadConfigFlash(transceiver.FlashFrequencyCorrection, 4)
	if err != nil {
		return err
	}
	hz += int64(int32(uint32(corr[0])<<24 | uint32(corr[1])<<16 | uint32(corr[2])<<8 | uint32(corr[3])))
	if hz%2 == 0 {
		hz++
	}

	reg := uint32(float64(hz) / crystalHz * (1 << 24))
	debug.DebugLog.Printf("frequency %d Hz, register %08x", hz, reg)
	for i := 0; i < 4; i++ {
		if err := s.tx.WriteReg(freqRegister+byte(i), byte(reg>>(24-8*i))); err != nil {
			return err
		}
	}

	if err := s.tx.Execute(cmdRestart); err != nil {
		return err
	}
	if err := s.tx.SetPreamblePattern(preamblePattern); err != nil {
		return err
	}
	if err := s.tx.SetRX(); err != nil {
		return err
	}

	buf, err := s.tx.ReadConfigFlash(transceiver.FlashTransceiverID, 7)
	if err != nil {
		return err
	}
	id := uint16(buf[5])<<8 | uint16(buf[6])

	s.store.SetTransceiverID(id)
	s.store.SetTransceiverPresent(true)
	debug.InfoLog.Printf("transceiver id %04x", id)
	return nil
}

// Run steps the session until ctx is cancelled or the transceiver fails.
// On cancel the store is closed and nil is returned. A transceiver failure
// marks the transceiver absent, fails the active request and is returned.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.store.Close()
			return nil
		default:
		}

		if err := s.Step(ctx); err != nil {
			debug.ErrorLog.Printf("session stopped: %v", err)
			s.store.SetTransceiverPresent(false)
			s.store.FailRequest(err)
			return err
		}

		select {
		case <-ctx.Done():
			s.store.Close()
			return nil
		case <-s.clock.After(s.opts.Interval):
		}
	}
}

// Step runs one iteration of the session. Only transceiver errors are returned.
func (s *Session) Step(ctx context.Context) error {
	s.store.RequestTick()

	if busy, err := s.pairing(); err != nil || busy {
		return err
	}

	st, err := s.tx.GetState()
	if err != nil {
		return err
	}

	var reply []byte
	switch {
	case st[0] == transceiver.FrameReady:
		buf, err := s.tx.GetFrame()
		if err != nil {
			return err
		}
		debug.TraceLog.Printf("rx % x", buf)
		reply = s.dispatch(buf)
	case s.timePending:
		reply = s.dueTime()
	}

	if reply == nil {
		return nil
	}
	return s.transmit(reply)
}

func (s *Session) transmit(buf []byte) error {
	debug.TraceLog.Printf("tx % x", buf)
	if err := s.tx.SetFrame(buf); err != nil {
		return err
	}
	if err := s.tx.SetTX(); err != nil {
		return err
	}
	return s.tx.SetRX()
}

// IsTransportError reports whether err ended a session.
func IsTransportError(err error) bool {
	return errors.Is(err, transceiver.ErrTransport)
}
