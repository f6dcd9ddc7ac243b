package codec

import (
	"math"
	"time"
)

// status classifies a nibble run. Not-available digits win over overflow digits.
func status(n []byte) Status {
	for _, d := range n {
		if d >= 10 && d <= 14 {
			return NotAvailable
		}
	}
	for _, d := range n {
		if d == 15 {
			return Overflow
		}
	}
	return Valid
}

func pow10(n int) int64 {
	p := int64(1)
	for i := 0; i < n; i++ {
		p *= 10
	}
	return p
}

// BCD decodes the decimal digits n with the given number of decimals and subtracts offset.
func BCD(n []byte, decimals int, offset float64) Reading {
	if len(n) == 0 {
		return NA
	}
	if s := status(n); s != Valid {
		return Reading{Status: s}
	}

	var v int64
	for _, d := range n {
		v = v*10 + int64(d)
	}

	p := pow10(decimals)
	v -= int64(math.Round(offset * float64(p)))
	return Value(float64(v) / float64(p))
}

// Temperature decodes 5 digits with 3 decimals and a -40 offset.
func Temperature(n []byte) Reading { return BCD(n, 3, 40) }

// ShortTemperature decodes the 3 digit history temperature with 1 decimal and a -40 offset.
func ShortTemperature(n []byte) Reading { return BCD(n, 1, 40) }

// Humidity decodes 2 digits in percent.
func Humidity(n []byte) Reading { return BCD(n, 0, 0) }

// Pressure decodes 5 digits with 1 decimal in hPa.
func Pressure(n []byte) Reading { return BCD(n, 1, 0) }

// WindSpeed decodes 6 digits with 2 decimals in m/s.
func WindSpeed(n []byte) Reading { return BCD(n, 2, 0) }

// Rain decodes 6 digits with 2 decimals in mm.
func Rain(n []byte) Reading { return BCD(n, 2, 0) }

// RainTotal decodes the 7 digit running total with 3 decimals in mm.
func RainTotal(n []byte) Reading { return BCD(n, 3, 0) }

// RingWindSpeed decodes the 3 nibble binary speed of the history ring in 0.1 m/s.
// The leading byte 0xFE marks not available, 0xFF marks overflow.
func RingWindSpeed(n []byte) Reading {
	if len(n) < 3 {
		return NA
	}
	switch n[0]<<4 | n[1] {
	case 0xfe:
		return NA
	case 0xff:
		return OFL
	}
	return Value(float64(Binary(n)) / 10)
}

// Binary interprets n as an unsigned big-endian nibble number.
func Binary(n []byte) uint64 {
	var v uint64
	for _, d := range n {
		v = v<<4 | uint64(d&0x0f)
	}
	return v
}

func digits(n []byte) (int, bool) {
	v := 0
	for _, d := range n {
		if d > 9 {
			return 0, false
		}
		v = v*10 + int(d)
	}
	return v, true
}

// DateTime decodes the 10 digit timestamp yy mm dd hh mi in loc.
// It reports false for sentinel digits or a calendar date that does not exist.
func DateTime(n []byte, loc *time.Location) (time.Time, bool) {
	if len(n) != 10 {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}

	var f [5]int
	for i := range f {
		v, ok := digits(n[2*i : 2*i+2])
		if !ok {
			return time.Time{}, false
		}
		f[i] = v
	}

	year, month, day, hour, minute := 2000+f[0], f[1], f[2], f[3], f[4]
	if month < 1 || month > 12 || day < 1 || hour > 23 || minute > 59 {
		return time.Time{}, false
	}

	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}
