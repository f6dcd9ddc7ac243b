package station

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ws28xx/pkg/codec"
	"ws28xx/pkg/datastore"
	"ws28xx/pkg/frame"
	"ws28xx/pkg/session"
	"ws28xx/pkg/transceiver"
)

const consoleID uint16 = 0x0a3f

// radio is a dongle with a console behind it. The console answers every
// ACK: a history request with the addressed ring slot, anything else with
// the current weather.
type radio struct {
	mu      sync.Mutex
	latest  int
	action  frame.Action
	addr    uint32
	actions map[frame.Action]int
}

func (r *radio) setLatest(latest int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = latest
}

func (r *radio) count(a frame.Action) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.actions[a]
}

func (r *radio) SetTX() error { return nil }
func (r *radio) SetRX() error { return nil }
func (r *radio) WriteReg(addr, value byte) error { return nil }
func (r *radio) Execute(cmd byte) error { return nil }
func (r *radio) SetPreamblePattern(pattern byte) error { return nil }
func (r *radio) Close() error { return nil }

func (r *radio) GetState() ([2]byte, error) {
	return [2]byte{transceiver.FrameReady, 0}, nil
}

func (r *radio) ReadConfigFlash(addr uint16, n int) ([]byte, error) {
	return make([]byte, n), nil
}

func (r *radio) SetFrame(data []byte) error {
	if len(data) != frame.AckLength {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.action = frame.Action(data[2])
	r.addr = uint32(data[6]&0x0f)<<16 | uint32(data[7])<<8 | uint32(data[8])
	r.actions[r.action]++
	return nil
}

func (r *radio) GetFrame() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.action != frame.ActionGetHistory {
		return r.current()
	}

	this := r.latest
	if idx, ok := frame.HistoryIndex(r.addr, false); ok {
		this = idx
	}
	buf := r.header(0x80, frame.HistoryLength)
	for i, idx := range []int{r.latest, this} {
		addr := frame.HistoryAddress(idx, false)
		buf[6+3*i], buf[7+3*i], buf[8+3*i] = byte(addr>>16), byte(addr>>8), byte(addr)
	}
	return buf, nil
}

func (r *radio) current() ([]byte, error) {
	buf := r.header(0x60, frame.CurrentWeatherLength)
	for i := frame.HeaderLength; i < len(buf); i++ {
		buf[i] = 0xaa
	}
	n, err := codec.EncodeBCD(21.3, 5, 3, 40)
	if err != nil {
		return nil, err
	}
	return buf, codec.PutNibbles(buf, codec.Span{Offset: 42, Length: 3}, 1, n)
}

func (r *radio) header(typ byte, n int) []byte {
	buf := make([]byte, n)
	buf[0], buf[1] = byte(consoleID >> 8), byte(consoleID & 0xff)
	buf[2] = typ
	buf[3] = 0x50
	return buf
}

func TestNextFetchesHistoryFromEmptyStore(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	store := datastore.New(clock, datastore.DefaultOptions())
	t.Cleanup(store.Close)
	store.SetDeviceID(consoleID)
	store.SetStationConfig(frame.StationConfig{}, 0)

	opts := session.DefaultOptions()
	opts.Location = time.UTC
	opts.BufferCheckGap = 0
	r := &radio{latest: 7, action: frame.ActionGetCurrent, actions: map[frame.Action]int{}}
	s := session.New(r, store, clock, opts)
	require.NoError(t, s.Init())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for ctx.Err() == nil {
			if err := s.Step(ctx); err != nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	st := New(store, clock, Options{PollInterval: 30 * time.Second, MaxHistory: 10})
	obs := make(chan Observation, 64)
	go func() {
		for {
			o, err := st.Next(ctx)
			if err != nil {
				return
			}
			obs <- o
		}
	}()

	var history []int
	currents := 0
	until := func(index int) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for len(history) == 0 || history[len(history)-1] != index {
			select {
			case o := <-obs:
				switch o.Kind {
				case KindCurrent:
					currents++
				case KindHistory:
					require.NotNil(t, o.History)
					history = append(history, o.History.Index)
				}
			case <-time.After(5 * time.Millisecond):
				clock.Advance(30 * time.Second)
			case <-deadline:
				t.Fatalf("history slot %d not observed, got %v", index, history)
			}
		}
	}

	// the first poll learns the latest slot of the console
	until(7)
	assert.Equal(t, []int{7}, history)
	assert.Positive(t, currents)
	assert.Positive(t, r.count(frame.ActionGetHistory))

	// two more slots recorded by the console
	r.setLatest(9)
	until(9)
	assert.Equal(t, []int{7, 8, 9}, history)
	assert.Equal(t, 9, store.History().LastIndex)
}
