package codec

import "errors"

var (
	// ErrOutOfBounds is returned when a field window does not fit into the frame.
	ErrOutOfBounds = errors.New("field out of frame bounds")
	// ErrOutOfRange is returned when a value cannot be represented in the field width.
	ErrOutOfRange = errors.New("value out of range")
)

// Span is a run of frame bytes that is reversed before its nibbles are read.
type Span struct {
	Offset int
	Length int
}

// Nibbles returns the nibble count of the span.
func (s Span) Nibbles() int {
	return 2 * s.Length
}

func (s Span) fits(frame []byte) bool {
	return s.Offset >= 0 && s.Length >= 0 && s.Offset+s.Length <= len(frame)
}

// ReverseByteOrder returns a reversed copy of frame[offset:offset+length].
func ReverseByteOrder(frame []byte, offset, length int) ([]byte, error) {
	s := Span{Offset: offset, Length: length}
	if !s.fits(frame) {
		return nil, ErrOutOfBounds
	}

	out := make([]byte, length)
	for i := range out {
		out[i] = frame[offset+length-1-i]
	}
	return out, nil
}

// Nibbles reverses span s of frame and returns width nibbles starting at nibble first.
func Nibbles(frame []byte, s Span, first, width int) ([]byte, error) {
	b, err := ReverseByteOrder(frame, s.Offset, s.Length)
	if err != nil {
		return nil, err
	}
	if first < 0 || width < 0 || first+width > s.Nibbles() {
		return nil, ErrOutOfBounds
	}

	out := make([]byte, width)
	for i := range out {
		out[i] = nibble(b, first+i)
	}
	return out, nil
}

// PutNibbles writes n into span s of frame so that Nibbles(frame, s, first, len(n)) returns n.
func PutNibbles(frame []byte, s Span, first int, n []byte) error {
	b, err := ReverseByteOrder(frame, s.Offset, s.Length)
	if err != nil {
		return err
	}
	if first < 0 || first+len(n) > s.Nibbles() {
		return ErrOutOfBounds
	}

	for i, v := range n {
		setNibble(b, first+i, v)
	}
	for i, v := range b {
		frame[s.Offset+s.Length-1-i] = v
	}
	return nil
}

func nibble(b []byte, i int) byte {
	if i%2 == 0 {
		return b[i/2] >> 4
	}
	return b[i/2] & 0x0f
}

func setNibble(b []byte, i int, v byte) {
	v &= 0x0f
	if i%2 == 0 {
		b[i/2] = b[i/2]&0x0f | v<<4
		return
	}
	b[i/2] = b[i/2]&0xf0 | v
}
