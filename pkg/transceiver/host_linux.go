//go:build linux

package transceiver

import (
	"context"
	"time"

	"github.com/ardnew/softusb/host/hal"
	"github.com/ardnew/softusb/host/hal/linux"
)

// NewHost starts the usbfs host controller. Every transfer is bounded by timeout.
func NewHost(ctx context.Context, timeout time.Duration) (hal.HostHAL, error) {
	h := linux.NewHostHAL()
	h.SetTransferTimeout(uint32(timeout / time.Millisecond))

	if err := h.Init(ctx); err != nil {
		return nil, &Error{Op: "init host", Err: err}
	}
	if err := h.Start(); err != nil {
		_ = h.Close()
		return nil, &Error{Op: "start host", Err: err}
	}
	return h, nil
}
