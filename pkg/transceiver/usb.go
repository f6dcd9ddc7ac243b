package transceiver

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ardnew/softusb/host/hal"
	"github.com/womat/debug"
)

// HID class requests on the control endpoint.
const (
	hidOut       uint8 = 0x21
	hidIn        uint8 = 0xa1
	hidSetReport uint8 = 0x09
	hidGetReport uint8 = 0x01
	hidInterface uint8 = 0

	featureReport uint16 = 0x0300
)

// Report IDs of the dongle.
const (
	reportSetRX     byte = 0xd0
	reportSetTX     byte = 0xd1
	reportSetFrame  byte = 0xd5
	reportGetFrame  byte = 0xd6
	reportPreamble  byte = 0xd8
	reportExecute   byte = 0xd9
	reportReadFlash byte = 0xdc
	reportFlashAddr byte = 0xdd
	reportGetState  byte = 0xde
	reportWriteReg  byte = 0xf0

	flashReadCommand byte = 0x0a
)

// Report sizes.
const (
	frameReportSize    = 0x111
	shortReportSize    = 0x15
	stateReportSize    = 0x0a
	executeReportSize  = 0x0f
	registerReportSize = 5
	flashChunk         = 16
	deviceDescSize     = 18
)

var _ Transceiver = (*USB)(nil)

// USB is a dongle attached to a softusb host controller.
type USB struct {
	hal     hal.HostHAL
	addr    hal.DeviceAddress
	timeout time.Duration
}

// Open waits for the dongle to show up on h and claims its HID interface.
// Devices with another vendor or product ID are skipped.
func Open(ctx context.Context, h hal.HostHAL, timeout time.Duration) (*USB, error) {
	for {
		port, err := h.WaitForConnection(ctx)
		if err != nil {
			return nil, &Error{Op: "open", Err: err}
		}

		addr := hal.DeviceAddress(port)
		vid, pid, err := identify(ctx, h, addr, timeout)
		if err != nil {
			debug.DebugLog.Printf("port %d: read device descriptor: %v", port, err)
			continue
		}
		if vid != VendorID || pid != ProductID {
			debug.DebugLog.Printf("port %d: skip device %04x:%04x", port, vid, pid)
			continue
		}

		if err := h.ClaimInterface(addr, hidInterface); err != nil {
			return nil, &Error{Op: "claim interface", Err: err}
		}

		debug.InfoLog.Printf("transceiver %04x:%04x found on port %d", vid, pid, port)
		return &USB{hal: h, addr: addr, timeout: timeout}, nil
	}
}

// identify reads vendor and product ID from the device descriptor.
func identify(ctx context.Context, h hal.HostHAL, addr hal.DeviceAddress, timeout time.Duration) (uint16, uint16, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	buf := make([]byte, deviceDescSize)
	n, err := h.ControlTransfer(ctx, addr, &hal.SetupPacket{
		RequestType: 0x80,
		Request:     0x06,
		Value:       0x0100,
		Length:      deviceDescSize,
	}, buf)
	if err != nil {
		return 0, 0, err
	}
	if n < 12 {
		return 0, 0, ErrShortTransfer
	}
	return binary.LittleEndian.Uint16(buf[8:10]), binary.LittleEndian.Uint16(buf[10:12]), nil
}

func (u *USB) control(op string, requestType, request uint8, id byte, buf []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), u.timeout)
	defer cancel()

	n, err := u.hal.ControlTransfer(ctx, u.addr, &hal.SetupPacket{
		RequestType: requestType,
		Request:     request,
		Value:       featureReport | uint16(id),
		Index:       0,
		Length:      uint16(len(buf)),
	}, buf)
	if err != nil {
		return n, &Error{Op: op, Err: err}
	}
	return n, nil
}

func (u *USB) setReport(op string, id byte, buf []byte) error {
	_, err := u.control(op, hidOut, hidSetReport, id, buf)
	return err
}

func (u *USB) getReport(op string, id byte, size, want int) ([]byte, error) {
	buf := make([]byte, size)
	n, err := u.control(op, hidIn, hidGetReport, id, buf)
	if err != nil {
		return nil, err
	}
	if n < want {
		return nil, &Error{Op: op, Err: fmt.Errorf("%w: %d bytes", ErrShortTransfer, n)}
	}
	return buf[:n], nil
}

func report(id byte, size int, payload ...byte) []byte {
	buf := make([]byte, size)
	buf[0] = id
	copy(buf[1:], payload)
	return buf
}

func (u *USB) SetTX() error {
	return u.setReport("set tx", reportSetTX, report(reportSetTX, shortReportSize))
}

func (u *USB) SetRX() error {
	return u.setReport("set rx", reportSetRX, report(reportSetRX, shortReportSize))
}

func (u *USB) GetState() ([2]byte, error) {
	buf, err := u.getReport("get state", reportGetState, stateReportSize, 3)
	if err != nil {
		return [2]byte{}, err
	}
	return [2]byte{buf[1], buf[2]}, nil
}

func (u *USB) SetFrame(data []byte) error {
	if len(data) > frameReportSize-3 {
		return &Error{Op: "set frame", Err: fmt.Errorf("frame of %d bytes too long", len(data))}
	}

	buf := report(reportSetFrame, frameReportSize, byte(len(data)>>8), byte(len(data)))
	copy(buf[3:], data)
	return u.setReport("set frame", reportSetFrame, buf)
}

// GetFrame returns the frame waiting in the dongle. The 9 bit length prefix is stripped.
func (u *USB) GetFrame() ([]byte, error) {
	buf, err := u.getReport("get frame", reportGetFrame, frameReportSize, 3)
	if err != nil {
		return nil, err
	}

	n := int(uint16(buf[1])<<8|uint16(buf[2])) & 0x1ff
	if n > len(buf)-3 {
		n = len(buf) - 3
	}
	data := make([]byte, n)
	copy(data, buf[3:3+n])
	return data, nil
}

func (u *USB) WriteReg(addr, value byte) error {
	return u.setReport("write register", reportWriteReg, report(reportWriteReg, registerReportSize, addr&0x7f, 0x01, value, 0x00))
}

func (u *USB) Execute(cmd byte) error {
	return u.setReport("execute", reportExecute, report(reportExecute, executeReportSize, cmd))
}

func (u *USB) SetPreamblePattern(pattern byte) error {
	return u.setReport("set preamble", reportPreamble, report(reportPreamble, shortReportSize, pattern))
}

// ReadConfigFlash reads n bytes of the dongle config flash starting at addr.
func (u *USB) ReadConfigFlash(addr uint16, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		if err := u.setReport("read flash", reportFlashAddr, report(reportFlashAddr, shortReportSize, flashReadCommand, byte(addr>>8), byte(addr))); err != nil {
			return nil, err
		}

		buf, err := u.getReport("read flash", reportReadFlash, shortReportSize, 4+flashChunk)
		if err != nil {
			return nil, err
		}

		chunk := buf[4 : 4+flashChunk]
		if rest := n - len(out); rest < len(chunk) {
			chunk = chunk[:rest]
		}
		out = append(out, chunk...)
		addr += flashChunk
	}
	return out, nil
}

func (u *USB) Close() error {
	if err := u.hal.ReleaseInterface(u.addr, hidInterface); err != nil {
		return &Error{Op: "release interface", Err: err}
	}
	return nil
}
