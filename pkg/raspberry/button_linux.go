//go:build linux

package raspberry

import (
	"sync"
	"time"

	"github.com/warthog618/gpiod"
	"github.com/womat/debug"
)

// Button reports presses of a push button on a gpio line.
type Button struct {
	chip *gpiod.Chip
	line *gpiod.Line

	mu sync.Mutex
	d  debouncer
	// C receives a value for every debounced press. Presses are dropped while nobody reads.
	C chan Event
}

// Open requests the line at offset on chip as input and watches it for presses.
// terminator selects the line bias: pullup, pulldown or none.
func Open(chip string, offset int, terminator string, bounce time.Duration) (*Button, error) {
	var bias gpiod.LineReqOption
	switch terminator {
	case "pullup":
		bias = gpiod.WithPullUp
	case "pulldown":
		bias = gpiod.WithPullDown
	case "none":
	default:
		return nil, ErrInvalidParam
	}

	c, err := gpiod.NewChip(chip)
	if err != nil {
		return nil, err
	}

	b := &Button{chip: c, d: debouncer{bounce: bounce}, C: make(chan Event, 1)}

	opts := []gpiod.LineReqOption{gpiod.WithEventHandler(b.handle), gpiod.WithBothEdges, gpiod.AsInput}
	if bias != nil {
		opts = append(opts, bias)
	}
	if b.line, err = c.RequestLine(offset, opts...); err != nil {
		_ = c.Close()
		return nil, err
	}
	return b, nil
}

func (b *Button) handle(evt gpiod.LineEvent) {
	e := Event{Timestamp: evt.Timestamp, Type: RisingEdge}
	if evt.Type == gpiod.LineEventFallingEdge {
		e.Type = FallingEdge
	}

	b.mu.Lock()
	ok := b.d.accept(e)
	b.mu.Unlock()
	if !ok {
		debug.TraceLog.Printf("gpio line %d: edge %d ignored", evt.Offset, e.Type)
		return
	}

	select {
	case b.C <- e:
	default:
		debug.DebugLog.Print("button press dropped, previous press still pending")
	}
}

// Close releases the line and the chip.
//
// Close waits for a running event handler to return, so it must not be
// called from the handler.
func (b *Button) Close() error {
	if err := b.line.Close(); err != nil {
		return err
	}
	return b.chip.Close()
}
