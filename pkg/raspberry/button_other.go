//go:build !linux

package raspberry

import "time"

// Button is only available on linux.
type Button struct {
	C chan Event
}

func Open(chip string, offset int, terminator string, bounce time.Duration) (*Button, error) {
	return nil, ErrNotSupported
}

func (b *Button) Close() error {
	return nil
}
