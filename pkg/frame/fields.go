package frame

import (
	"fmt"
	"time"

	"ws28xx/pkg/codec"
)

// field is one row of a decode table: the reversal span, the nibble window
// inside the reversed span and the function that stores the nibbles into T.
type field[T any] struct {
	name  string
	span  codec.Span
	first int
	width int
	set   func(dst *T, n []byte, loc *time.Location)
}

func decodeFields[T any](buf []byte, fields []field[T], dst *T, loc *time.Location) error {
	for _, f := range fields {
		n, err := codec.Nibbles(buf, f.span, f.first, f.width)
		if err != nil {
			return fmt.Errorf("%w: field %s: %v", ErrMalformedFrame, f.name, err)
		}
		f.set(dst, n, loc)
	}
	return nil
}

// right returns a field whose width nibbles are right aligned in the span of length bytes at offset.
func right[T any](name string, offset, length, width int, set func(dst *T, n []byte, loc *time.Location)) field[T] {
	return field[T]{
		name:  name,
		span:  codec.Span{Offset: offset, Length: length},
		first: 2*length - width,
		width: width,
		set:   set,
	}
}

func reading[T any](dec func([]byte) codec.Reading, dst func(*T) *codec.Reading) func(*T, []byte, *time.Location) {
	return func(t *T, n []byte, _ *time.Location) {
		*dst(t) = dec(n)
	}
}

func timestamp[T any](dst func(*T) **time.Time) func(*T, []byte, *time.Location) {
	return func(t *T, n []byte, loc *time.Location) {
		if ts, ok := codec.DateTime(n, loc); ok {
			*dst(t) = &ts
			return
		}
		*dst(t) = nil
	}
}

// MinMax is a measurement with its recorded extremes.
type MinMax struct {
	Current codec.Reading `json:"current"`
	Min     codec.Reading `json:"min"`
	Max     codec.Reading `json:"max"`
	MinTime *time.Time    `json:"min_time,omitempty"`
	MaxTime *time.Time    `json:"max_time,omitempty"`
}

// normalize drops the timestamps of extremes that are not valid.
func (m *MinMax) normalize() {
	if !m.Min.IsValid() {
		m.MinTime = nil
	}
	if !m.Max.IsValid() {
		m.MaxTime = nil
	}
}

// Peak is a measurement with its recorded maximum.
type Peak struct {
	Current codec.Reading `json:"current"`
	Max     codec.Reading `json:"max"`
	MaxTime *time.Time    `json:"max_time,omitempty"`
}

func (p *Peak) normalize() {
	if !p.Max.IsValid() {
		p.MaxTime = nil
	}
}

// minMaxFields lays out a MinMax block at base: max time, min time, max, min, current.
// Times take 5 bytes, values take size bytes holding width nibbles.
func minMaxFields[T any](name string, base, size, width int, dec func([]byte) codec.Reading, dst func(*T) *MinMax) []field[T] {
	return []field[T]{
		right(name+".MaxTime", base, 5, 10, timestamp(func(t *T) **time.Time { return &dst(t).MaxTime })),
		right(name+".MinTime", base+5, 5, 10, timestamp(func(t *T) **time.Time { return &dst(t).MinTime })),
		right(name+".Max", base+10, size, width, reading(dec, func(t *T) *codec.Reading { return &dst(t).Max })),
		right(name+".Min", base+10+size, size, width, reading(dec, func(t *T) *codec.Reading { return &dst(t).Min })),
		right(name+".Current", base+10+2*size, size, width, reading(dec, func(t *T) *codec.Reading { return &dst(t).Current })),
	}
}

// peakFields lays out a Peak block at base: max time, max, current.
func peakFields[T any](name string, base, size, width int, dec func([]byte) codec.Reading, dst func(*T) *Peak) []field[T] {
	return []field[T]{
		right(name+".MaxTime", base, 5, 10, timestamp(func(t *T) **time.Time { return &dst(t).MaxTime })),
		right(name+".Max", base+5, size, width, reading(dec, func(t *T) *codec.Reading { return &dst(t).Max })),
		right(name+".Current", base+5+size, size, width, reading(dec, func(t *T) *codec.Reading { return &dst(t).Current })),
	}
}

func concat[T any](groups ...[]field[T]) []field[T] {
	var out []field[T]
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
