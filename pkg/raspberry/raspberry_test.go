package raspberry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDebounce(t *testing.T) {
	d := debouncer{bounce: 50 * time.Millisecond}

	press := func(ms int) bool {
		return d.accept(Event{Timestamp: time.Duration(ms) * time.Millisecond, Type: FallingEdge})
	}

	assert.True(t, press(1000))
	assert.False(t, press(1020))
	assert.False(t, d.accept(Event{Timestamp: 1100 * time.Millisecond, Type: RisingEdge}))
	assert.True(t, press(1050))
	assert.False(t, press(1099))
	assert.True(t, press(2000))
}

func TestDebounceDisabled(t *testing.T) {
	d := debouncer{}
	assert.True(t, d.accept(Event{Timestamp: 0, Type: FallingEdge}))
	assert.True(t, d.accept(Event{Timestamp: 0, Type: FallingEdge}))
}
