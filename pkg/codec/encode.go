package codec

import (
	"math"
	"time"
)

// EncodeBCD is the inverse of BCD. The result has exactly width digits.
func EncodeBCD(v float64, width, decimals int, offset float64) ([]byte, error) {
	x := math.Round((v + offset) * float64(pow10(decimals)))
	if math.IsNaN(x) || x < 0 || x >= float64(pow10(width)) {
		return nil, ErrOutOfRange
	}

	u := int64(x)
	n := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		n[i] = byte(u % 10)
		u /= 10
	}
	return n, nil
}

// EncodeReading encodes r as BCD, writing a sentinel run for not available and overflow readings.
func EncodeReading(r Reading, width, decimals int, offset float64) ([]byte, error) {
	switch r.Status {
	case NotAvailable:
		return fill(width, 0x0a), nil
	case Overflow:
		return fill(width, 0x0f), nil
	}
	return EncodeBCD(r.Value, width, decimals, offset)
}

// EncodeRingWindSpeed is the inverse of RingWindSpeed.
func EncodeRingWindSpeed(r Reading) ([]byte, error) {
	switch r.Status {
	case NotAvailable:
		return []byte{0x0f, 0x0e, 0}, nil
	case Overflow:
		return []byte{0x0f, 0x0f, 0}, nil
	}

	x := math.Round(r.Value * 10)
	if math.IsNaN(x) || x < 0 || x >= 0xfe0 {
		return nil, ErrOutOfRange
	}
	return EncodeBinary(uint64(x), 3), nil
}

// EncodeBinary is the inverse of Binary. Higher bits than width nibbles are dropped.
func EncodeBinary(v uint64, width int) []byte {
	n := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		n[i] = byte(v & 0x0f)
		v >>= 4
	}
	return n
}

// EncodeDateTime is the inverse of DateTime. Years outside 2000..2099 are truncated to two digits.
func EncodeDateTime(t time.Time) []byte {
	f := [5]int{t.Year() % 100, int(t.Month()), t.Day(), t.Hour(), t.Minute()}
	n := make([]byte, 0, 10)
	for _, v := range f {
		n = append(n, byte(v/10), byte(v%10))
	}
	return n
}

func fill(width int, d byte) []byte {
	n := make([]byte, width)
	for i := range n {
		n[i] = d
	}
	return n
}
