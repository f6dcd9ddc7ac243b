// Package transceiver drives the WS-28xx USB radio dongle through HID reports.
package transceiver

import (
	"errors"
	"fmt"
)

// USB identity of the dongle.
const (
	VendorID  uint16 = 0x6666
	ProductID uint16 = 0x5555
)

// FrameReady is the first state byte while a received frame waits in the dongle.
const FrameReady byte = 0x16

// Flash addresses inside the dongle config flash.
const (
	FlashFrequencyCorrection uint16 = 0x1f5
	FlashTransceiverID       uint16 = 0x1f9
)

var (
	// ErrTransport is matched by every error returned by the dongle primitives.
	ErrTransport = errors.New("transceiver transport failure")
	// ErrShortTransfer is returned when a report is shorter than expected.
	ErrShortTransfer = errors.New("short transfer")
)

// Error wraps a failed dongle primitive.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transceiver %s: %v", e.Op, e.Err)
}

// Unwrap makes errors.Is match both ErrTransport and the underlying error.
func (e *Error) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// Transceiver is the set of dongle primitives the radio session needs.
// Every call is synchronous and bounded by a device timeout.
type Transceiver interface {
	SetTX() error
	SetRX() error
	GetState() ([2]byte, error)
	SetFrame(data []byte) error
	GetFrame() ([]byte, error)
	WriteReg(addr, value byte) error
	Execute(cmd byte) error
	SetPreamblePattern(pattern byte) error
	ReadConfigFlash(addr uint16, n int) ([]byte, error)
	Close() error
}
