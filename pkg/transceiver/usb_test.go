package transceiver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ardnew/softusb/host/hal"
	"github.com/ardnew/softusb/pkg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transfer struct {
	addr  hal.DeviceAddress
	setup hal.SetupPacket
	data  []byte
}

// fakeHAL answers control transfers from a per device table of handlers.
type fakeHAL struct {
	ports     []int
	devices   map[hal.DeviceAddress][2]uint16
	reply     func(setup *hal.SetupPacket, data []byte) (int, error)
	transfers []transfer
	claimed   []hal.DeviceAddress
	released  []hal.DeviceAddress
}

func (f *fakeHAL) Init(ctx context.Context) error { return nil }
func (f *fakeHAL) Start() error { return nil }
func (f *fakeHAL) Stop() error { return nil }
func (f *fakeHAL) Close() error { return nil }
func (f *fakeHAL) NumPorts() int { return len(f.devices) }
func (f *fakeHAL) GetPortStatus(port int) (hal.PortStatus, error) { return hal.PortStatus{}, nil }
func (f *fakeHAL) PortSpeed(port int) hal.Speed { return 0 }
func (f *fakeHAL) ResetPort(port int) error { return nil }
func (f *fakeHAL) EnablePort(port int, enable bool) error { return nil }
func (f *fakeHAL) SetDeviceAddress(ctx context.Context, addr hal.DeviceAddress) error { return nil }

func (f *fakeHAL) BulkTransfer(ctx context.Context, addr hal.DeviceAddress, ep uint8, data []byte) (int, error) {
	return 0, pkg.ErrNotSupported
}

func (f *fakeHAL) InterruptTransfer(ctx context.Context, addr hal.DeviceAddress, ep uint8, data []byte) (int, error) {
	return 0, pkg.ErrNotSupported
}

func (f *fakeHAL) IsochronousTransfer(ctx context.Context, addr hal.DeviceAddress, ep uint8, data []byte) (int, error) {
	return 0, pkg.ErrNotSupported
}

func (f *fakeHAL) ClaimInterface(addr hal.DeviceAddress, iface uint8) error {
	f.claimed = append(f.claimed, addr)
	return nil
}

func (f *fakeHAL) ReleaseInterface(addr hal.DeviceAddress, iface uint8) error {
	f.released = append(f.released, addr)
	return nil
}

func (f *fakeHAL) WaitForConnection(ctx context.Context) (int, error) {
	if len(f.ports) == 0 {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	port := f.ports[0]
	f.ports = f.ports[1:]
	return port, nil
}

func (f *fakeHAL) WaitForDisconnection(ctx context.Context) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func (f *fakeHAL) ControlTransfer(ctx context.Context, addr hal.DeviceAddress, setup *hal.SetupPacket, data []byte) (int, error) {
	f.transfers = append(f.transfers, transfer{addr: addr, setup: *setup, data: append([]byte(nil), data...)})

	if setup.RequestType == 0x80 && setup.Request == 0x06 {
		ids, ok := f.devices[addr]
		if !ok {
			return 0, pkg.ErrNoDevice
		}
		data[8], data[9] = byte(ids[0]), byte(ids[0]>>8)
		data[10], data[11] = byte(ids[1]), byte(ids[1]>>8)
		return len(data), nil
	}
	if f.reply != nil {
		return f.reply(setup, data)
	}
	return len(data), nil
}

func openFake(t *testing.T, f *fakeHAL) *USB {
	t.Helper()
	u, err := Open(context.Background(), f, time.Second)
	require.NoError(t, err)
	f.transfers = nil
	return u
}

func TestOpen(t *testing.T) {
	f := &fakeHAL{
		ports: []int{3, 5},
		devices: map[hal.DeviceAddress][2]uint16{
			3: {0x046d, 0xc52b},
			5: {VendorID, ProductID},
		},
	}

	u, err := Open(context.Background(), f, time.Second)
	require.NoError(t, err)
	assert.Equal(t, hal.DeviceAddress(5), u.addr)
	assert.Equal(t, []hal.DeviceAddress{5}, f.claimed)

	require.NoError(t, u.Close())
	assert.Equal(t, []hal.DeviceAddress{5}, f.released)
}

func TestOpenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Open(ctx, &fakeHAL{}, time.Second)
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReports(t *testing.T) {
	f := &fakeHAL{ports: []int{1}, devices: map[hal.DeviceAddress][2]uint16{1: {VendorID, ProductID}}}
	u := openFake(t, f)

	require.NoError(t, u.SetTX())
	require.NoError(t, u.SetRX())
	require.NoError(t, u.WriteReg(0xa0, 0x55))
	require.NoError(t, u.Execute(5))
	require.NoError(t, u.SetPreamblePattern(0xaa))
	require.NoError(t, u.SetFrame([]byte{0x01, 0x02, 0x05}))

	require.Len(t, f.transfers, 6)
	for _, tr := range f.transfers {
		assert.Equal(t, uint8(0x21), tr.setup.RequestType)
		assert.Equal(t, uint8(0x09), tr.setup.Request)
		assert.Equal(t, uint16(0x0300)|uint16(tr.data[0]), tr.setup.Value)
		assert.Equal(t, int(tr.setup.Length), len(tr.data))
	}

	assert.Equal(t, byte(0xd1), f.transfers[0].data[0])
	assert.Len(t, f.transfers[0].data, 0x15)
	assert.Equal(t, byte(0xd0), f.transfers[1].data[0])
	assert.Equal(t, []byte{0xf0, 0x20, 0x01, 0x55, 0x00}, f.transfers[2].data)
	assert.Equal(t, []byte{0xd9, 0x05}, f.transfers[3].data[:2])
	assert.Len(t, f.transfers[3].data, 0x0f)
	assert.Equal(t, []byte{0xd8, 0xaa}, f.transfers[4].data[:2])
	assert.Equal(t, []byte{0xd5, 0x00, 0x03, 0x01, 0x02, 0x05, 0x00}, f.transfers[5].data[:7])
	assert.Len(t, f.transfers[5].data, 0x111)

	err := u.SetFrame(make([]byte, 0x10f))
	assert.ErrorIs(t, err, ErrTransport)
}

func TestGetStateAndFrame(t *testing.T) {
	f := &fakeHAL{ports: []int{1}, devices: map[hal.DeviceAddress][2]uint16{1: {VendorID, ProductID}}}
	f.reply = func(setup *hal.SetupPacket, data []byte) (int, error) {
		switch setup.Value & 0xff {
		case 0xde:
			copy(data, []byte{0xde, FrameReady, 0x00})
		case 0xd6:
			copy(data, []byte{0xd6, 0xfe, 0x06, 0x01, 0x02, 0xa1, 0x40, 0x12, 0x34, 0xff})
		}
		return len(data), nil
	}
	u := openFake(t, f)

	st, err := u.GetState()
	require.NoError(t, err)
	assert.Equal(t, [2]byte{FrameReady, 0x00}, st)
	assert.Equal(t, uint8(0xa1), f.transfers[0].setup.RequestType)
	assert.Equal(t, uint8(0x01), f.transfers[0].setup.Request)
	assert.Equal(t, uint16(0x03de), f.transfers[0].setup.Value)
	assert.Equal(t, uint16(0x0a), f.transfers[0].setup.Length)

	// only the low 9 bits of the length prefix count
	buf, err := u.GetFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0xa1, 0x40, 0x12, 0x34}, buf)
}

func TestShortReport(t *testing.T) {
	f := &fakeHAL{ports: []int{1}, devices: map[hal.DeviceAddress][2]uint16{1: {VendorID, ProductID}}}
	f.reply = func(setup *hal.SetupPacket, data []byte) (int, error) {
		return 1, nil
	}
	u := openFake(t, f)

	_, err := u.GetState()
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, ErrShortTransfer)
}

func TestTransportError(t *testing.T) {
	f := &fakeHAL{ports: []int{1}, devices: map[hal.DeviceAddress][2]uint16{1: {VendorID, ProductID}}}
	f.reply = func(setup *hal.SetupPacket, data []byte) (int, error) {
		return 0, pkg.ErrNoDevice
	}
	u := openFake(t, f)

	err := u.SetRX()
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, pkg.ErrNoDevice)

	var te *Error
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "set rx", te.Op)
}

func TestReadConfigFlash(t *testing.T) {
	f := &fakeHAL{ports: []int{1}, devices: map[hal.DeviceAddress][2]uint16{1: {VendorID, ProductID}}}

	var addr uint16
	f.reply = func(setup *hal.SetupPacket, data []byte) (int, error) {
		switch setup.Value & 0xff {
		case 0xdd:
			addr = uint16(data[2])<<8 | uint16(data[3])
		case 0xdc:
			for i := 0; i < 16; i++ {
				data[4+i] = byte(addr) + byte(i)
			}
		}
		return len(data), nil
	}
	u := openFake(t, f)

	buf, err := u.ReadConfigFlash(0x1f0, 20)
	require.NoError(t, err)
	require.Len(t, buf, 20)
	assert.Equal(t, byte(0xf0), buf[0])
	assert.Equal(t, byte(0xff), buf[15])
	assert.Equal(t, byte(0x00), buf[16])
	assert.Equal(t, byte(0x03), buf[19])

	// two address writes, two reads
	require.Len(t, f.transfers, 4)
	assert.Equal(t, []byte{0xdd, 0x0a, 0x01, 0xf0}, f.transfers[0].data[:4])
	assert.Equal(t, []byte{0xdd, 0x0a, 0x02, 0x00}, f.transfers[2].data[:4])
}
