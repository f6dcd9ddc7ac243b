package frame

import (
	"fmt"
	"time"
)

// BuildACK builds the 9 byte acknowledge frame that carries the next action for the console.
// comInt is the 12 bit comm mode interval, addr the 20 bit history address or NoAddress.
func BuildACK(id uint16, action Action, checksum uint16, comInt uint16, addr uint32) []byte {
	return []byte{
		byte(id >> 8), byte(id),
		byte(action),
		byte(checksum >> 8), byte(checksum),
		byte(comInt >> 4 & 0xff),
		byte(comInt&0x0f)<<4 | byte(addr>>16&0x0f),
		byte(addr >> 8), byte(addr),
	}
}

// TimeRace reports whether t is too close to a minute boundary for a full time frame.
func TimeRace(t time.Time) bool {
	s := t.Second()
	return s < 5 || s >= 55
}

func bcd(v int) byte {
	return byte(v/10%10)<<4 | byte(v%10)
}

// BuildTime builds the 12 byte frame that sets the console clock to t.
func BuildTime(id uint16, checksum uint16, t time.Time) []byte {
	dow := int(t.Weekday())
	if dow == 0 {
		dow = 7
	}
	day, month, year := t.Day(), int(t.Month()), t.Year()%100

	return []byte{
		byte(id >> 8), byte(id),
		byte(ActionSendTime),
		byte(checksum >> 8), byte(checksum),
		bcd(t.Second()),
		bcd(t.Minute()),
		bcd(t.Hour()),
		byte(dow) | byte(day%10)<<4,
		byte(day/10) | byte(month%10)<<4,
		byte(month/10) | byte(year%10)<<4,
		byte(year / 10 % 10),
	}
}

// BuildConfig builds the 48 byte frame that writes c to the console.
func BuildConfig(id uint16, c StationConfig) ([]byte, uint16, error) {
	buf, cs, err := EncodeConfig(c)
	if err != nil {
		return nil, 0, fmt.Errorf("encode config: %w", err)
	}

	buf[0], buf[1] = byte(id>>8), byte(id)
	buf[2] = byte(ActionSendConfig)
	buf[3] = 0
	return buf, cs, nil
}
