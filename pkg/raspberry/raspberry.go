// Package raspberry watches a gpio line for the pairing button of the daemon.
package raspberry

import (
	"errors"
	"time"
)

var (
	ErrInvalidParam = errors.New("invalid parameters")
	ErrNotSupported = errors.New("gpio not supported on this platform")
)

// Edge is the type of a line level change.
type Edge int

const (
	_ Edge = iota
	// RisingEdge is a change from low to high.
	RisingEdge
	// FallingEdge is a change from high to low, the button is pressed.
	FallingEdge
)

// Event is a line level change.
type Event struct {
	// Timestamp is the kernel timestamp of the change.
	Timestamp time.Duration
	Type      Edge
}

// debouncer drops events that follow the last accepted one within bounce.
type debouncer struct {
	bounce   time.Duration
	last     time.Duration
	accepted bool
}

func (d *debouncer) accept(evt Event) bool {
	if evt.Type != FallingEdge {
		return false
	}
	if d.accepted && evt.Timestamp-d.last < d.bounce {
		return false
	}
	d.last = evt.Timestamp
	d.accepted = true
	return true
}
