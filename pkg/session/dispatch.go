package session

import (
	"errors"
	"fmt"

	"github.com/womat/debug"

	"ws28xx/pkg/datastore"
	"ws28xx/pkg/frame"
)

// actions maps a running request to the action sent in the next ACK.
var actions = map[datastore.RequestType]frame.Action{
	datastore.RequestGetCurrent: frame.ActionGetCurrent,
	datastore.RequestGetHistory: frame.ActionGetHistory,
	datastore.RequestGetConfig:  frame.ActionGetConfig,
	datastore.RequestSetConfig:  frame.ActionReqSetConfig,
	datastore.RequestSetTime:    frame.ActionReqSetTime,
}

// classify validates the frame header. Foreign and malformed frames return an error.
func (s *Session) classify(buf []byte) (frame.Header, error) {
	h, err := frame.ParseHeader(buf)
	if err != nil {
		return h, err
	}

	if s.broadcast {
		if h.ID == frame.BroadcastID || (h.ID == s.store.TransceiverID() && h.Length == frame.HeaderLength) {
			return h, nil
		}
		return h, fmt.Errorf("%w: %04x while pairing", frame.ErrForeignFrame, h.ID)
	}

	if id, ok := s.store.DeviceID(); !ok || h.ID != id {
		return h, fmt.Errorf("%w: %04x", frame.ErrForeignFrame, h.ID)
	}
	return h, h.CheckLength()
}

// dispatch handles a received frame and returns the reply to send, if any.
func (s *Session) dispatch(buf []byte) []byte {
	h, err := s.classify(buf)
	if err != nil {
		debug.DebugLog.Printf("drop frame: %v", err)
		return nil
	}

	if s.broadcast {
		if h.ID == frame.BroadcastID {
			return s.handleBroadcast(h)
		}
		return s.handlePaired(h)
	}

	s.store.SetLinkStatus(h.Quality, h.Battery)

	switch h.Type {
	case frame.RespDataWritten:
		return s.handleWsAck(h)
	case frame.RespConfig:
		return s.handleConfig(h, buf)
	case frame.RespCurrentWeather:
		return s.handleCurrentData(h, buf)
	case frame.RespHistory:
		return s.handleHistoryData(h, buf)
	case frame.RespRequest:
		return s.handleNextAction(h)
	}
	return nil
}

// ack builds the ACK for h. A queued request is started by sending its
// action, otherwise fallback is sent.
func (s *Session) ack(h frame.Header, checksum uint16, fallback frame.Action) []byte {
	action := fallback

	req := s.store.Request()
	if a, ok := actions[req.Type]; ok && (req.State == datastore.StateQueued || req.State == datastore.StateRunning) {
		action = a
		if req.State == datastore.StateQueued {
			s.setState(datastore.StateRunning)
		}
	}

	addr := frame.NoAddress
	if action == frame.ActionGetHistory {
		addr = s.historyAddress()
	}

	debug.DebugLog.Printf("ack %s to %04x", action, h.ID)
	return frame.BuildACK(h.ID, action, checksum, s.store.CommModeInterval(), addr)
}

// historyAddress returns the address of the next history slot to fetch.
func (s *Session) historyAddress() uint32 {
	hist := s.store.History()
	if hist.LastIndex == frame.NoIndex {
		return frame.NoAddress
	}
	next := (hist.LastIndex + 1) % frame.HistoryCapacity

	check := hist.BufferCheck
	if check == datastore.BufferCheckOff && s.opts.BufferCheckGap > 0 &&
		!hist.LastActivity.IsZero() && s.clock.Now().Sub(hist.LastActivity) > s.opts.BufferCheckGap {
		check = datastore.BufferCheckArmed
	}
	if check == datastore.BufferCheckArmed {
		s.store.SetBufferCheck(datastore.BufferCheckActive)
		return frame.HistoryAddress(next, true)
	}
	return frame.HistoryAddress(next, false)
}

// handleWsAck finishes a write once the console confirmed it.
func (s *Session) handleWsAck(h frame.Header) []byte {
	req := s.store.Request()
	if !req.State.Active() {
		return nil
	}

	switch req.Type {
	case datastore.RequestSetConfig:
		if req.State == datastore.StateWaitConfig {
			s.store.CommitPendingConfig(h.Checksum)
			s.setState(datastore.StateFinished)
		}
	case datastore.RequestSetTime:
		if req.State == datastore.StateRunning {
			s.timePending = false
			s.setState(datastore.StateFinished)
		}
	}
	return nil
}

func (s *Session) handleConfig(h frame.Header, buf []byte) []byte {
	cfg, cs, err := frame.DecodeConfig(buf)
	if errors.Is(err, frame.ErrConfigChecksum) {
		debug.ErrorLog.Printf("console config: %v, reading it again", err)
		return frame.BuildACK(h.ID, frame.ActionGetConfig, cs, s.store.CommModeInterval(), frame.NoAddress)
	}
	if err != nil {
		debug.DebugLog.Printf("drop frame: %v", err)
		return nil
	}
	s.store.SetStationConfig(cfg, cs)

	req := s.store.Request()
	if req.State == datastore.StateRunning {
		switch req.Type {
		case datastore.RequestGetConfig:
			s.setState(datastore.StateFinished)
		case datastore.RequestSetConfig:
			return s.configFrame(h.ID)
		case datastore.RequestSetTime:
			return s.timeFrame(h.ID, cs)
		}
	}
	return s.ack(h, cs, s.defaultAction())
}

func (s *Session) handleCurrentData(h frame.Header, buf []byte) []byte {
	c, err := frame.DecodeCurrentWeather(buf, s.opts.Location)
	if err != nil {
		debug.DebugLog.Printf("drop frame: %v", err)
		return nil
	}
	c.Time = s.clock.Now()
	s.store.SetCurrentWeather(c)

	req := s.store.Request()
	if req.Type == datastore.RequestGetCurrent && req.State == datastore.StateRunning {
		s.setState(datastore.StateFinished)
	}

	fallback := s.defaultAction()
	if _, cs, ok := s.store.StationConfig(); !ok {
		fallback = frame.ActionGetConfig
	} else if cs != h.Checksum {
		debug.InfoLog.Printf("console config checksum %04x differs from cached %04x, reading config", h.Checksum, cs)
		fallback = frame.ActionGetConfig
	}
	return s.ack(h, h.Checksum, fallback)
}

func (s *Session) handleHistoryData(h frame.Header, buf []byte) []byte {
	hf, err := frame.DecodeHistory(buf, s.opts.Location)
	if err != nil {
		debug.DebugLog.Printf("drop frame: %v", err)
		return nil
	}

	hist := s.store.History()
	s.store.TouchHistory(s.clock.Now())
	if hist.BufferCheck == datastore.BufferCheckActive {
		s.store.SetBufferCheck(datastore.BufferCheckOff)
	}

	switch {
	case hf.ThisIndex == frame.NoIndex:
		debug.DebugLog.Print("history: console holds no records")
	case hf.ThisIndex == hist.LastIndex:
		debug.DebugLog.Printf("history: duplicate slot %d", hf.ThisIndex)
	case hist.LastIndex != frame.NoIndex && frame.OutstandingHistorySets(hf.LatestIndex, hist.LastIndex) == 0:
		// the requested slot is not recorded yet
		debug.DebugLog.Printf("history: no record after slot %d, latest is %d", hist.LastIndex, hf.LatestIndex)
	default:
		s.store.AddHistoryData(hf.Slot, hf.LatestIndex)
		debug.DebugLog.Printf("history: slot %d of %d, %d outstanding", hf.ThisIndex, hf.LatestIndex, s.store.History().Outstanding)
	}

	req := s.store.Request()
	if req.Type == datastore.RequestGetHistory && req.State == datastore.StateRunning {
		s.setState(datastore.StateFinished)
	}
	return s.ack(h, h.Checksum, s.defaultAction())
}

// handleNextAction answers the console asking for the config or the time.
func (s *Session) handleNextAction(h frame.Header) []byte {
	req := s.store.Request()

	switch h.Subtype {
	case frame.ReqFirstConfig, frame.ReqSetConfig:
		if req.Type == datastore.RequestSetConfig && req.State == datastore.StateRunning {
			return s.configFrame(h.ID)
		}
		if cfg, _, ok := s.store.StationConfig(); ok {
			buf, _, err := frame.BuildConfig(h.ID, cfg)
			if err == nil {
				return buf
			}
			debug.ErrorLog.Printf("console config: %v", err)
		}
		return s.ack(h, h.Checksum, frame.ActionGetConfig)

	case frame.ReqSetTime:
		return s.timeFrame(h.ID, h.Checksum)
	}
	return s.ack(h, h.Checksum, s.defaultAction())
}

// defaultAction fetches outstanding history before polling current weather.
func (s *Session) defaultAction() frame.Action {
	if s.store.History().Outstanding > 0 {
		return frame.ActionGetHistory
	}
	return frame.ActionGetCurrent
}

// configFrame sends the pending config of a running SetConfig request.
func (s *Session) configFrame(id uint16) []byte {
	cfg, ok := s.store.PendingConfig()
	if !ok {
		s.store.FailRequest(datastore.ErrRequestFailed)
		return nil
	}

	buf, _, err := frame.BuildConfig(id, cfg)
	if err != nil {
		s.store.FailRequest(err)
		return nil
	}
	s.setState(datastore.StateWaitConfig)
	return buf
}

// timeFrame sends the clock. Close to a minute boundary only a set time
// request is sent and the full frame follows from dueTime.
func (s *Session) timeFrame(id, checksum uint16) []byte {
	now := s.clock.Now().In(s.opts.Location)
	if frame.TimeRace(now) {
		s.timePending = true
		s.timeID, s.timeCS = id, checksum
		return frame.BuildACK(id, frame.ActionReqSetTime, checksum, s.store.CommModeInterval(), frame.NoAddress)
	}

	s.timePending = false
	return frame.BuildTime(id, checksum, now)
}

// dueTime regenerates a deferred time frame once out of the minute boundary.
func (s *Session) dueTime() []byte {
	now := s.clock.Now().In(s.opts.Location)
	if frame.TimeRace(now) {
		return nil
	}

	s.timePending = false
	return frame.BuildTime(s.timeID, s.timeCS, now)
}
