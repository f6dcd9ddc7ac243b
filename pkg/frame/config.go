package frame

import (
	"fmt"

	"ws28xx/pkg/codec"
)

const (
	configChecksumOffset = 7
	configChecksumFrom   = 4
	configChecksumTo     = 42
)

// Unit selection flags in byte 4 of the config block.
const (
	ClockMode12h          uint8 = 0x01
	TemperatureFahrenheit uint8 = 0x02
	PressureInHg          uint8 = 0x04
	RainInch              uint8 = 0x08
	unitFlagsMask         uint8 = 0x0f
	windUnitShift               = 4
	maxWindUnit           uint8 = 4
	maxHistoryInterval    uint8 = 10
)

// Threshold holds a pair of alarm limits.
type Threshold struct {
	Min codec.Reading `json:"min"`
	Max codec.Reading `json:"max"`
}

// StationConfig is the decoded 48 byte console configuration block.
type StationConfig struct {
	// UnitFlags is a combination of ClockMode12h, TemperatureFahrenheit, PressureInHg and RainInch.
	UnitFlags uint8 `json:"unit_flags"`
	// WindUnit: 0 m/s, 1 knots, 2 beaufort, 3 km/h, 4 mph.
	WindUnit         uint8 `json:"wind_unit"`
	StormThreshold   uint8 `json:"storm_threshold"`
	WeatherThreshold uint8 `json:"weather_threshold"`
	LowBattery       uint8 `json:"low_battery"`
	LCDContrast      uint8 `json:"lcd_contrast"`

	WindDirectionAlarmFlags uint16 `json:"wind_direction_alarm_flags"`
	OtherAlarmFlags         uint16 `json:"other_alarm_flags"`

	TempIndoor      Threshold     `json:"temp_indoor"`
	TempOutdoor     Threshold     `json:"temp_outdoor"`
	HumidityIndoor  Threshold     `json:"humidity_indoor"`
	HumidityOutdoor Threshold     `json:"humidity_outdoor"`
	Rain24HMax      codec.Reading `json:"rain_24h_max"`
	GustMax         codec.Reading `json:"gust_max"`
	Pressure        Threshold     `json:"pressure"`

	// HistoryInterval: 0 1min, 1 5min, 2 10min, 3 15min, 4 20min, 5 30min, 6 60min, 7 2h, 8 4h, 9 6h, 10 24h.
	HistoryInterval uint8 `json:"history_interval"`
	TimeZone        int8  `json:"time_zone"`
	// ResetMinMaxFlags is sent to the console but not covered by the checksum.
	ResetMinMaxFlags uint32 `json:"reset_min_max_flags"`
}

// threshold is one nibble packed config value.
type threshold struct {
	name     string
	span     codec.Span
	width    int
	decimals int
	offset   float64
	dst      func(*StationConfig) *codec.Reading
}

func (t threshold) first() int {
	return t.span.Nibbles() - t.width
}

var configThresholds = []threshold{
	{"TempIndoor.Max", codec.Span{Offset: 11, Length: 3}, 5, 3, 40, func(c *StationConfig) *codec.Reading { return &c.TempIndoor.Max }},
	{"TempIndoor.Min", codec.Span{Offset: 14, Length: 3}, 5, 3, 40, func(c *StationConfig) *codec.Reading { return &c.TempIndoor.Min }},
	{"TempOutdoor.Max", codec.Span{Offset: 17, Length: 3}, 5, 3, 40, func(c *StationConfig) *codec.Reading { return &c.TempOutdoor.Max }},
	{"TempOutdoor.Min", codec.Span{Offset: 20, Length: 3}, 5, 3, 40, func(c *StationConfig) *codec.Reading { return &c.TempOutdoor.Min }},
	{"HumidityIndoor.Max", codec.Span{Offset: 23, Length: 1}, 2, 0, 0, func(c *StationConfig) *codec.Reading { return &c.HumidityIndoor.Max }},
	{"HumidityIndoor.Min", codec.Span{Offset: 24, Length: 1}, 2, 0, 0, func(c *StationConfig) *codec.Reading { return &c.HumidityIndoor.Min }},
	{"HumidityOutdoor.Max", codec.Span{Offset: 25, Length: 1}, 2, 0, 0, func(c *StationConfig) *codec.Reading { return &c.HumidityOutdoor.Max }},
	{"HumidityOutdoor.Min", codec.Span{Offset: 26, Length: 1}, 2, 0, 0, func(c *StationConfig) *codec.Reading { return &c.HumidityOutdoor.Min }},
	{"Rain24HMax", codec.Span{Offset: 27, Length: 4}, 7, 3, 0, func(c *StationConfig) *codec.Reading { return &c.Rain24HMax }},
	{"GustMax", codec.Span{Offset: 32, Length: 3}, 6, 2, 0, func(c *StationConfig) *codec.Reading { return &c.GustMax }},
	{"Pressure.Max", codec.Span{Offset: 35, Length: 3}, 5, 1, 0, func(c *StationConfig) *codec.Reading { return &c.Pressure.Max }},
	{"Pressure.Min", codec.Span{Offset: 38, Length: 3}, 5, 1, 0, func(c *StationConfig) *codec.Reading { return &c.Pressure.Min }},
}

// ConfigChecksum computes the checksum of a config block: 7 plus the sum of bytes 4..41.
func ConfigChecksum(buf []byte) uint16 {
	cs := uint16(configChecksumOffset)
	for _, b := range buf[configChecksumFrom:configChecksumTo] {
		cs += uint16(b)
	}
	return cs
}

// DecodeConfig decodes a config frame and returns the checksum embedded in it.
// ErrConfigChecksum is returned alongside the decoded config if the checksum does not match.
func DecodeConfig(buf []byte) (StationConfig, uint16, error) {
	var c StationConfig
	if len(buf) != ConfigLength {
		return c, 0, fmt.Errorf("%w: config frame with %d bytes", ErrMalformedFrame, len(buf))
	}

	c.UnitFlags = buf[4] & unitFlagsMask
	c.WindUnit = buf[4] >> windUnitShift
	c.StormThreshold = buf[5] >> 4
	c.WeatherThreshold = buf[5] & 0x0f
	c.LowBattery = buf[6] >> 4
	c.LCDContrast = buf[6] & 0x0f
	c.WindDirectionAlarmFlags = uint16(buf[7])<<8 | uint16(buf[8])
	c.OtherAlarmFlags = uint16(buf[9])<<8 | uint16(buf[10])

	for _, t := range configThresholds {
		n, err := codec.Nibbles(buf, t.span, t.first(), t.width)
		if err != nil {
			return c, 0, fmt.Errorf("%w: field %s: %v", ErrMalformedFrame, t.name, err)
		}
		*t.dst(&c) = codec.BCD(n, t.decimals, t.offset)
	}

	c.HistoryInterval = buf[31]
	c.TimeZone = int8(buf[41])
	c.ResetMinMaxFlags = uint32(buf[42])<<16 | uint32(buf[43])<<8 | uint32(buf[44])

	stored := uint16(buf[46])<<8 | uint16(buf[47])
	if cs := ConfigChecksum(buf); cs != stored {
		return c, stored, fmt.Errorf("%w: stored %04x, computed %04x", ErrConfigChecksum, stored, cs)
	}
	return c, stored, nil
}

// EncodeConfig packs c into a 48 byte config block. The header bytes 0..3 are left zero.
// The returned checksum is also written to bytes 46..47.
func EncodeConfig(c StationConfig) ([]byte, uint16, error) {
	if c.UnitFlags&^unitFlagsMask != 0 || c.WindUnit > maxWindUnit {
		return nil, 0, fmt.Errorf("unit selection %#x/%d: %w", c.UnitFlags, c.WindUnit, codec.ErrOutOfRange)
	}
	if c.StormThreshold > 0x0f || c.WeatherThreshold > 0x0f || c.LowBattery > 0x0f || c.LCDContrast > 0x0f {
		return nil, 0, fmt.Errorf("thresholds and contrast are 4 bit: %w", codec.ErrOutOfRange)
	}
	if c.HistoryInterval > maxHistoryInterval {
		return nil, 0, fmt.Errorf("history interval %d: %w", c.HistoryInterval, codec.ErrOutOfRange)
	}
	if c.ResetMinMaxFlags > 0xffffff {
		return nil, 0, fmt.Errorf("reset flags %#x: %w", c.ResetMinMaxFlags, codec.ErrOutOfRange)
	}

	buf := make([]byte, ConfigLength)
	buf[4] = c.WindUnit<<windUnitShift | c.UnitFlags
	buf[5] = c.StormThreshold<<4 | c.WeatherThreshold
	buf[6] = c.LowBattery<<4 | c.LCDContrast
	buf[7], buf[8] = byte(c.WindDirectionAlarmFlags>>8), byte(c.WindDirectionAlarmFlags)
	buf[9], buf[10] = byte(c.OtherAlarmFlags>>8), byte(c.OtherAlarmFlags)

	for _, t := range configThresholds {
		n, err := codec.EncodeReading(*t.dst(&c), t.width, t.decimals, t.offset)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: %w", t.name, err)
		}
		if err := codec.PutNibbles(buf, t.span, t.first(), n); err != nil {
			return nil, 0, fmt.Errorf("%s: %w", t.name, err)
		}
	}

	buf[31] = c.HistoryInterval
	buf[41] = byte(c.TimeZone)
	buf[42], buf[43], buf[44] = byte(c.ResetMinMaxFlags>>16), byte(c.ResetMinMaxFlags>>8), byte(c.ResetMinMaxFlags)

	cs := ConfigChecksum(buf)
	buf[46], buf[47] = byte(cs>>8), byte(cs)
	return buf, cs, nil
}
