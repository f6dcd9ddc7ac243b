package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ardnew/softusb/pkg"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ws28xx/pkg/codec"
	"ws28xx/pkg/datastore"
	"ws28xx/pkg/frame"
	"ws28xx/pkg/transceiver"
)

const (
	dongleID  uint16 = 0x0102
	consoleCS uint16 = 0x1234
)

// requestTTL is the number of steps a request of the fixture may take.
const requestTTL = 8

var start = time.Date(2024, time.March, 15, 7, 45, 30, 0, time.UTC)

// fakeTX is a dongle that hands out queued frames and records what is sent.
type fakeTX struct {
	mu    sync.Mutex
	rx    [][]byte
	sent  [][]byte
	calls []string
	regs  map[byte]byte
	flash map[uint16][]byte
	fail  error
}

func newFakeTX() *fakeTX {
	return &fakeTX{
		regs: map[byte]byte{},
		flash: map[uint16][]byte{
			transceiver.FlashFrequencyCorrection: {0, 0, 0, 0},
			transceiver.FlashTransceiverID:       {0, 0, 0, 0, 0, byte(dongleID >> 8), byte(dongleID & 0xff)},
		},
	}
}

func (f *fakeTX) call(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.fail != nil {
		return &transceiver.Error{Op: name, Err: f.fail}
	}
	return nil
}

func (f *fakeTX) push(buf []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rx = append(f.rx, buf)
}

// last returns the last frame sent and forgets the sent frames.
func (f *fakeTX) last() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	buf := f.sent[len(f.sent)-1]
	f.sent = nil
	return buf
}

// drainCalls returns the recorded calls and forgets them.
func (f *fakeTX) drainCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.calls
	f.calls = nil
	return calls
}

func (f *fakeTX) SetTX() error { return f.call("settx") }
func (f *fakeTX) SetRX() error { return f.call("setrx") }
func (f *fakeTX) Execute(cmd byte) error { return f.call("execute") }
func (f *fakeTX) SetPreamblePattern(p byte) error { return f.call("preamble") }
func (f *fakeTX) Close() error { return nil }

func (f *fakeTX) WriteReg(addr, value byte) error {
	if err := f.call("writereg"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.regs[addr] = value
	return nil
}

func (f *fakeTX) GetState() ([2]byte, error) {
	if err := f.call("getstate"); err != nil {
		return [2]byte{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rx) > 0 {
		return [2]byte{transceiver.FrameReady, 0}, nil
	}
	return [2]byte{0x15, 0}, nil
}

func (f *fakeTX) GetFrame() ([]byte, error) {
	if err := f.call("getframe"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := f.rx[0]
	f.rx = f.rx[1:]
	return buf, nil
}

func (f *fakeTX) SetFrame(data []byte) error {
	if err := f.call("setframe"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), data...))
	return nil
}

func (f *fakeTX) ReadConfigFlash(addr uint16, n int) ([]byte, error) {
	if err := f.call("readflash"); err != nil {
		return nil, err
	}
	return f.flash[addr][:n], nil
}

type fixture struct {
	tx    *fakeTX
	store *datastore.Store
	clock clockwork.FakeClock
	s     *Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(start)
	store := datastore.New(clock, datastore.Options{RequestTTL: requestTTL, PairingTTL: 1000, Timeout: time.Minute, CommModeInterval: 3})
	t.Cleanup(store.Close)

	opts := DefaultOptions()
	opts.Location = time.UTC
	f := &fixture{tx: newFakeTX(), store: store, clock: clock}
	f.s = New(f.tx, store, clock, opts)
	require.NoError(t, f.s.Init())
	return f
}

// paired returns a fixture talking to a registered console with a cached config.
func paired(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.store.SetDeviceID(dongleID)
	f.store.SetStationConfig(frame.StationConfig{}, consoleCS)
	return f
}

func (f *fixture) step(t *testing.T) []byte {
	t.Helper()
	require.NoError(t, f.s.Step(context.Background()))
	return f.tx.last()
}

func waitState(t *testing.T, store *datastore.Store, typ datastore.RequestType, state datastore.RequestState) {
	t.Helper()
	require.Eventually(t, func() bool {
		r := store.Request()
		return r.Type == typ && r.State == state
	}, 2*time.Second, time.Millisecond)
}

func header(id uint16, typ byte, n int) []byte {
	buf := make([]byte, n)
	buf[0], buf[1] = byte(id>>8), byte(id)
	buf[2] = typ
	buf[3] = 0x50
	buf[4], buf[5] = byte(consoleCS >> 8), byte(consoleCS & 0xff)
	return buf
}

func currentFrame(t *testing.T, outdoor float64) []byte {
	t.Helper()
	buf := header(dongleID, 0x60, frame.CurrentWeatherLength)
	for i := frame.HeaderLength; i < len(buf); i++ {
		buf[i] = 0xaa
	}
	n, err := codec.EncodeBCD(outdoor, 5, 3, 40)
	require.NoError(t, err)
	require.NoError(t, codec.PutNibbles(buf, codec.Span{Offset: 42, Length: 3}, 1, n))
	require.NoError(t, codec.PutNibbles(buf, codec.Span{Offset: 108, Length: 1}, 0, []byte{5, 5}))
	return buf
}

func historyFrame(latest, this int) []byte {
	buf := header(dongleID, 0x80, frame.HistoryLength)
	for i, idx := range []int{latest, this} {
		addr := frame.HistoryAddress(idx, false)
		buf[6+3*i], buf[7+3*i], buf[8+3*i] = byte(addr>>16), byte(addr>>8), byte(addr)
	}
	return buf
}

func TestInit(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, map[byte]byte{0x20: 0x36, 0x21: 0x44, 0x22: 0xcc, 0x23: 0xcd}, f.tx.regs)
	assert.Equal(t, dongleID, f.store.TransceiverID())
	assert.True(t, f.store.TransceiverPresent())

	// negative frequency correction
	f.tx.flash[transceiver.FlashFrequencyCorrection] = []byte{0xff, 0xff, 0xf4, 0x48}
	require.NoError(t, f.s.Init())
	assert.Equal(t, map[byte]byte{0x20: 0x36, 0x21: 0x44, 0x22: 0xc0, 0x23: 0x84}, f.tx.regs)

	f.s.opts.Band = "mars"
	assert.Error(t, f.s.Init())
}

func TestPairing(t *testing.T) {
	f := newFixture(t)

	type result struct {
		id  uint16
		err error
	}
	done := make(chan result, 1)
	go func() {
		id, err := f.store.FirstTimeConfig(context.Background(), 0)
		done <- result{id, err}
	}()
	waitState(t, f.store, datastore.RequestFirstConfig, datastore.StateQueued)

	f.step(t)
	assert.Equal(t, datastore.StatePreamble, f.store.Request().State)

	// still sending the preamble
	f.clock.Advance(time.Second)
	f.step(t)
	assert.Equal(t, datastore.StatePreamble, f.store.Request().State)

	f.clock.Advance(5 * time.Second)
	f.step(t)
	assert.Equal(t, datastore.StateWaitDevice, f.store.Request().State)

	// a frame of another device is ignored
	f.tx.push(header(0x4711, 0x20, 6))
	assert.Nil(t, f.step(t))

	// the console looks for a dongle
	f.tx.push(header(frame.BroadcastID, 0x20, 6))
	reply := f.step(t)
	require.Len(t, reply, frame.AckLength)
	assert.Equal(t, []byte{0x01, 0x02, byte(frame.ActionGetConfig)}, reply[:3])

	// and answers with the dongle id
	f.tx.push(header(dongleID, 0x20, 6))
	reply = f.step(t)
	require.Len(t, reply, frame.AckLength)
	assert.Equal(t, byte(frame.ActionGetConfig), reply[2])

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, dongleID, r.id)
	assert.Equal(t, datastore.StateFinished, f.store.Request().State)

	id, ok := f.store.DeviceID()
	assert.True(t, ok)
	assert.Equal(t, dongleID, id)
}

func TestPairingTimeout(t *testing.T) {
	f := newFixture(t)

	done := make(chan error, 1)
	go func() {
		_, err := f.store.FirstTimeConfig(context.Background(), 0)
		done <- err
	}()
	waitState(t, f.store, datastore.RequestFirstConfig, datastore.StateQueued)

	f.step(t)
	f.clock.Advance(5 * time.Second)
	f.step(t)
	require.Equal(t, datastore.StateWaitDevice, f.store.Request().State)

	f.clock.Advance(91 * time.Second)
	f.step(t)

	assert.ErrorIs(t, <-done, datastore.ErrPairingTimeout)
	assert.Equal(t, datastore.StateError, f.store.Request().State)
	_, ok := f.store.DeviceID()
	assert.False(t, ok)
}

func TestPairingAbandoned(t *testing.T) {
	f := paired(t)

	pairing := make(chan error, 1)
	go func() {
		_, err := f.store.FirstTimeConfig(context.Background(), 2*time.Second)
		pairing <- err
	}()
	waitState(t, f.store, datastore.RequestFirstConfig, datastore.StateQueued)

	f.step(t)
	require.Equal(t, datastore.StatePreamble, f.store.Request().State)

	// the caller gives up while the preamble is sent
	f.clock.Advance(3 * time.Second)
	assert.ErrorIs(t, <-pairing, datastore.ErrRequestTimeout)
	assert.Equal(t, datastore.RequestInvalid, f.store.Request().Type)

	f.tx.drainCalls()
	assert.Nil(t, f.step(t))
	assert.Contains(t, f.tx.drainCalls(), "setrx")

	type result struct {
		c   frame.CurrentWeather
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := f.store.GetCurrentWeather(context.Background(), 0)
		done <- result{c, err}
	}()
	waitState(t, f.store, datastore.RequestGetCurrent, datastore.StateQueued)

	f.tx.push(currentFrame(t, 20))
	reply := f.step(t)
	require.Len(t, reply, frame.AckLength)
	assert.Equal(t, byte(frame.ActionGetCurrent), reply[2])
	assert.Equal(t, datastore.StateRunning, f.store.Request().State)

	// a plain ACK of the console does not complete the request
	f.tx.push(header(dongleID, 0x20, 6))
	assert.Nil(t, f.step(t))
	assert.Equal(t, datastore.StateRunning, f.store.Request().State)

	f.tx.push(currentFrame(t, 21.3))
	f.step(t)
	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, codec.Value(21.3), r.c.TempOutdoor.Current)
}

func TestRequestExpiresWithoutFrames(t *testing.T) {
	f := paired(t)

	done := make(chan error, 1)
	go func() {
		_, err := f.store.GetHistory(context.Background(), 0)
		done <- err
	}()
	waitState(t, f.store, datastore.RequestGetHistory, datastore.StateQueued)

	for i := 0; i < requestTTL; i++ {
		assert.Nil(t, f.step(t))
	}

	assert.ErrorIs(t, <-done, datastore.ErrRequestTimeout)
	r := f.store.Request()
	assert.Equal(t, datastore.RequestInvalid, r.Type)
	assert.Equal(t, datastore.StateError, r.State)
}

func TestGetCurrentWeather(t *testing.T) {
	f := paired(t)

	type result struct {
		c   frame.CurrentWeather
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := f.store.GetCurrentWeather(context.Background(), 0)
		done <- result{c, err}
	}()
	waitState(t, f.store, datastore.RequestGetCurrent, datastore.StateQueued)

	// the first frame starts the request
	f.tx.push(currentFrame(t, 20))
	reply := f.step(t)
	assert.Equal(t, frame.BuildACK(dongleID, frame.ActionGetCurrent, consoleCS, 3, frame.NoAddress), reply)
	assert.Equal(t, datastore.StateRunning, f.store.Request().State)

	// the answer completes it
	f.tx.push(currentFrame(t, 21.3))
	reply = f.step(t)
	assert.Equal(t, byte(frame.ActionGetCurrent), reply[2])

	r := <-done
	require.NoError(t, r.err)
	assert.Equal(t, codec.Value(21.3), r.c.TempOutdoor.Current)
	assert.Equal(t, codec.Value(55), r.c.HumidityOutdoor.Current)
	assert.Equal(t, start, r.c.Time)
	assert.Equal(t, uint8(0x50), f.store.Link().Quality)
}

func TestConfigChecksumChanged(t *testing.T) {
	f := paired(t)
	f.store.SetStationConfig(frame.StationConfig{}, 0x4321)

	f.tx.push(currentFrame(t, 20))
	reply := f.step(t)
	assert.Equal(t, byte(frame.ActionGetConfig), reply[2])

	cfg := frame.StationConfig{HistoryInterval: 3}
	buf, cs, err := frame.EncodeConfig(cfg)
	require.NoError(t, err)
	buf[0], buf[1], buf[2] = byte(dongleID >> 8), byte(dongleID & 0xff), 0x40

	// a corrupt config is read again
	bad := append([]byte(nil), buf...)
	bad[31]++
	f.tx.push(bad)
	reply = f.step(t)
	assert.Equal(t, byte(frame.ActionGetConfig), reply[2])
	_, cached, _ := f.store.StationConfig()
	assert.Equal(t, uint16(0x4321), cached)

	f.tx.push(buf)
	reply = f.step(t)
	assert.Equal(t, byte(frame.ActionGetCurrent), reply[2])
	got, cached, ok := f.store.StationConfig()
	require.True(t, ok)
	assert.Equal(t, cs, cached)
	assert.Equal(t, cfg, got)
}

func TestDropFrames(t *testing.T) {
	f := paired(t)

	f.tx.push(header(0x4711, 0x60, frame.CurrentWeatherLength))
	assert.Nil(t, f.step(t))

	f.tx.push(header(dongleID, 0x60, 100))
	assert.Nil(t, f.step(t))

	f.tx.push([]byte{0x01})
	assert.Nil(t, f.step(t))

	_, ok := f.store.CurrentWeather()
	assert.False(t, ok)
}

func TestDuplicateHistory(t *testing.T) {
	f := paired(t)

	f.tx.push(historyFrame(10, 7))
	reply := f.step(t)
	assert.Equal(t, 7, f.store.History().LastIndex)
	assert.Equal(t, 3, f.store.History().Outstanding)
	assert.Equal(t, frame.BuildACK(dongleID, frame.ActionGetHistory, consoleCS, 3, frame.HistoryAddress(8, false)), reply)

	f.tx.push(historyFrame(11, 7))
	f.step(t)
	assert.Equal(t, 7, f.store.History().LastIndex)
	assert.Equal(t, 3, f.store.History().Outstanding)
	assert.Len(t, f.store.DrainHistory(), 1)

	f.tx.push(historyFrame(11, 8))
	f.step(t)
	assert.Equal(t, 3, f.store.History().Outstanding)
	assert.Len(t, f.store.DrainHistory(), 1)
}

func TestGetHistory(t *testing.T) {
	f := paired(t)
	f.store.SetLastHistoryIndex(6)

	done := make(chan []frame.HistorySlot, 1)
	go func() {
		h, err := f.store.GetHistory(context.Background(), 0)
		assert.NoError(t, err)
		done <- h
	}()
	waitState(t, f.store, datastore.RequestGetHistory, datastore.StateQueued)

	f.tx.push(currentFrame(t, 20))
	reply := f.step(t)
	assert.Equal(t, frame.BuildACK(dongleID, frame.ActionGetHistory, consoleCS, 3, frame.HistoryAddress(7, false)), reply)

	f.tx.push(historyFrame(7, 7))
	reply = f.step(t)
	assert.Equal(t, byte(frame.ActionGetCurrent), reply[2])

	h := <-done
	require.Len(t, h, 1)
	assert.Equal(t, 7, h[0].Index)
}

func TestBufferCheck(t *testing.T) {
	f := paired(t)
	f.store.SetLastHistoryIndex(0)
	f.store.TouchHistory(start)
	f.clock.Advance(11 * time.Minute)

	go func() {
		_, _ = f.store.GetHistory(context.Background(), 0)
	}()
	waitState(t, f.store, datastore.RequestGetHistory, datastore.StateQueued)

	f.tx.push(currentFrame(t, 20))
	reply := f.step(t)
	assert.Equal(t, frame.BuildACK(dongleID, frame.ActionGetHistory, consoleCS, 3, frame.HistoryAddress(1, true)), reply)
	assert.Equal(t, datastore.BufferCheckActive, f.store.History().BufferCheck)

	f.tx.push(historyFrame(5, 0))
	f.step(t)
	assert.Equal(t, datastore.BufferCheckOff, f.store.History().BufferCheck)
	assert.Equal(t, datastore.StateFinished, f.store.Request().State)
}

func TestSetTime(t *testing.T) {
	f := paired(t)
	f.clock.Advance(28 * time.Second) // 07:45:58

	done := make(chan error, 1)
	go func() {
		done <- f.store.SetTime(context.Background())
	}()
	waitState(t, f.store, datastore.RequestSetTime, datastore.StateQueued)

	f.tx.push(currentFrame(t, 20))
	reply := f.step(t)
	assert.Equal(t, byte(frame.ActionReqSetTime), reply[2])

	// too close to the minute boundary for a full frame
	f.tx.push(header(dongleID, 0xa3, 6))
	reply = f.step(t)
	require.Len(t, reply, frame.AckLength)
	assert.Equal(t, byte(frame.ActionReqSetTime), reply[2])

	f.clock.Advance(3 * time.Second) // 07:46:01
	assert.Nil(t, f.step(t))

	f.clock.Advance(5 * time.Second) // 07:46:06
	reply = f.step(t)
	assert.Equal(t, frame.BuildTime(dongleID, consoleCS, start.Add(36*time.Second)), reply)

	f.tx.push(header(dongleID, 0x20, 6))
	assert.Nil(t, f.step(t))
	require.NoError(t, <-done)
}

func TestSetConfig(t *testing.T) {
	f := paired(t)
	want := frame.StationConfig{HistoryInterval: 2, LCDContrast: 5}

	done := make(chan error, 1)
	go func() {
		done <- f.store.SetConfig(context.Background(), want)
	}()
	waitState(t, f.store, datastore.RequestSetConfig, datastore.StateQueued)

	f.tx.push(currentFrame(t, 20))
	reply := f.step(t)
	assert.Equal(t, byte(frame.ActionReqSetConfig), reply[2])

	f.tx.push(header(dongleID, 0xa2, 6))
	reply = f.step(t)
	require.Len(t, reply, frame.ConfigLength)
	assert.Equal(t, byte(frame.ActionSendConfig), reply[2])
	assert.Equal(t, datastore.StateWaitConfig, f.store.Request().State)

	got, cs, err := frame.DecodeConfig(reply)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	ack := header(dongleID, 0x20, 6)
	ack[4], ack[5] = byte(cs>>8), byte(cs)
	f.tx.push(ack)
	f.step(t)
	require.NoError(t, <-done)

	cached, cachedCS, _ := f.store.StationConfig()
	assert.Equal(t, want, cached)
	assert.Equal(t, cs, cachedCS)
}

func TestTransportFailure(t *testing.T) {
	f := paired(t)

	done := make(chan error, 1)
	go func() {
		_, err := f.store.GetCurrentWeather(context.Background(), 0)
		done <- err
	}()
	waitState(t, f.store, datastore.RequestGetCurrent, datastore.StateQueued)

	f.tx.fail = pkg.ErrNoDevice
	err := f.s.Run(context.Background())
	assert.True(t, IsTransportError(err))
	assert.ErrorIs(t, err, pkg.ErrNoDevice)
	assert.False(t, f.store.TransceiverPresent())

	err = <-done
	assert.ErrorIs(t, err, transceiver.ErrTransport)
	assert.Equal(t, datastore.StateError, f.store.Request().State)
}

func TestRunStops(t *testing.T) {
	f := paired(t)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() {
		stopped <- f.s.Run(ctx)
	}()

	done := make(chan error, 1)
	go func() {
		_, err := f.store.GetCurrentWeather(context.Background(), 0)
		done <- err
	}()
	waitState(t, f.store, datastore.RequestGetCurrent, datastore.StateQueued)

	cancel()
	require.NoError(t, <-stopped)
	assert.True(t, errors.Is(<-done, datastore.ErrStopped))
}
