//go:build !linux

package transceiver

import (
	"context"
	"time"

	"github.com/ardnew/softusb/host/hal"
	"github.com/ardnew/softusb/pkg"
)

// NewHost is only available on linux.
func NewHost(ctx context.Context, timeout time.Duration) (hal.HostHAL, error) {
	return nil, &Error{Op: "init host", Err: pkg.ErrNotSupported}
}
