// Package codec holds the nibble and BCD primitives of the console frame format.
//
// Every sensor field on the wire is a run of 4-bit digits. Before a field is
// read, the bytes of its span are reversed, the reversed bytes are expanded
// into nibbles (high nibble first) and the requested nibble window is taken.
// A digit of 10..14 marks the value as not available, a digit of 15 marks an
// overflow. Both are carried as a Status next to the value instead of being
// folded into a magic number.
package codec

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Status tags a Reading as a real value or as one of the console sentinels.
type Status uint8

const (
	Valid Status = iota
	NotAvailable
	Overflow
)

func (s Status) String() string {
	switch s {
	case Valid:
		return "valid"
	case NotAvailable:
		return "not_available"
	case Overflow:
		return "overflow"
	default:
		return "status(" + strconv.Itoa(int(s)) + ")"
	}
}

// Reading is a decoded sensor value. Value is meaningful only if Status is Valid.
type Reading struct {
	Value  float64
	Status Status
}

var (
	NA  = Reading{Status: NotAvailable}
	OFL = Reading{Status: Overflow}
)

// Value returns a valid reading of v.
func Value(v float64) Reading {
	return Reading{Value: v, Status: Valid}
}

func (r Reading) IsValid() bool {
	return r.Status == Valid
}

// Float returns the value and whether it is valid.
func (r Reading) Float() (float64, bool) {
	return r.Value, r.Status == Valid
}

func (r Reading) String() string {
	if r.Status != Valid {
		return r.Status.String()
	}
	return strconv.FormatFloat(r.Value, 'f', -1, 64)
}

// MarshalJSON writes a valid reading as a number and a sentinel as its status name.
func (r Reading) MarshalJSON() ([]byte, error) {
	if r.Status == Valid {
		return json.Marshal(r.Value)
	}
	return json.Marshal(r.Status.String())
}

func (r *Reading) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}

	switch t := v.(type) {
	case float64:
		*r = Value(t)
	case string:
		switch t {
		case NotAvailable.String():
			*r = NA
		case Overflow.String():
			*r = OFL
		default:
			return fmt.Errorf("unknown reading status %q", t)
		}
	default:
		return fmt.Errorf("invalid reading %s", b)
	}
	return nil
}
