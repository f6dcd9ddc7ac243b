package session

import (
	"github.com/womat/debug"

	"ws28xx/pkg/datastore"
	"ws28xx/pkg/frame"
)

// pairing advances a first config request. It reports busy while the
// preamble is sent, then no frames can be received.
func (s *Session) pairing() (busy bool, err error) {
	req := s.store.Request()
	if req.Type != datastore.RequestFirstConfig || !req.State.Active() {
		if s.broadcast {
			return false, s.leavePairing()
		}
		return false, nil
	}
	now := s.clock.Now()

	switch req.State {
	case datastore.StateQueued:
		debug.InfoLog.Print("pairing: sending preamble")
		if err := s.tx.SetPreamblePattern(preamblePattern); err != nil {
			return true, err
		}
		if err := s.tx.SetTX(); err != nil {
			return true, err
		}
		s.broadcast = true
		s.preambleDeadline = now.Add(s.opts.Preamble)
		s.setState(datastore.StatePreamble)
		return true, nil

	case datastore.StatePreamble:
		if now.Before(s.preambleDeadline) {
			return true, nil
		}
		if err := s.tx.SetRX(); err != nil {
			return true, err
		}
		s.pairingDeadline = now.Add(s.opts.PairingTimeout)
		s.setState(datastore.StateWaitDevice)
		debug.InfoLog.Print("pairing: waiting for the console, press SET on it")
		return false, nil

	case datastore.StateWaitDevice:
		if !now.Before(s.pairingDeadline) {
			debug.ErrorLog.Print("pairing: no console answered")
			s.broadcast = false
			s.store.FailRequest(datastore.ErrPairingTimeout)
		}
	}
	return false, nil
}

// leavePairing returns to normal operation after the caller gave up on a
// pairing. The radio may still be sending the preamble.
func (s *Session) leavePairing() error {
	debug.InfoLog.Print("pairing: abandoned, back to receive mode")
	s.broadcast = false
	return s.tx.SetRX()
}

// handleBroadcast answers a console that looks for a dongle.
func (s *Session) handleBroadcast(h frame.Header) []byte {
	debug.DebugLog.Printf("pairing: broadcast from console, quality %d", h.Quality)
	return frame.BuildACK(s.store.TransceiverID(), frame.ActionGetConfig, 0xffff, s.store.CommModeInterval(), frame.NoAddress)
}

// handlePaired commits the device ID once the console answers with the dongle ID.
func (s *Session) handlePaired(h frame.Header) []byte {
	req := s.store.Request()
	if req.Type != datastore.RequestFirstConfig || req.State != datastore.StateWaitDevice {
		debug.DebugLog.Printf("pairing: answer of %04x outside of a pairing request", h.ID)
		return nil
	}

	s.store.SetDeviceID(h.ID)
	s.store.SetLinkStatus(h.Quality, h.Battery)
	s.broadcast = false
	s.setState(datastore.StateFinished)
	debug.InfoLog.Printf("pairing: console registered with id %04x", h.ID)

	return frame.BuildACK(h.ID, frame.ActionGetConfig, h.Checksum, s.store.CommModeInterval(), frame.NoAddress)
}

func (s *Session) setState(state datastore.RequestState) {
	if err := s.store.SetRequestState(state); err != nil {
		debug.DebugLog.Print(err)
	}
}
