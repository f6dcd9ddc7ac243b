package frame

import (
	"fmt"
	"time"

	"ws28xx/pkg/codec"
)

// History ring layout in console memory.
const (
	HistoryBase     = 0x1a0
	HistorySlotSize = 18
	// HistoryCapacity is the number of slots in the ring.
	HistoryCapacity = 0x705

	// NoAddress is sent in an ACK when no history slot is requested.
	NoAddress uint32 = 0xffffff
	// NoIndex stands for a missing or unknown ring index.
	NoIndex = -1
)

// HistoryAddress returns the console memory address of slot index.
// Under the buffer check regime the address of the preceding slot is used.
func HistoryAddress(index int, bufferCheck bool) uint32 {
	if bufferCheck {
		index = (index - 1 + HistoryCapacity) % HistoryCapacity
	}
	return uint32(HistorySlotSize*index + HistoryBase)
}

// HistoryIndex is the inverse of HistoryAddress. It reports false for the
// no-index sentinels and for addresses outside the ring.
func HistoryIndex(addr uint32, bufferCheck bool) (int, bool) {
	if addr == 0xffffff || addr == 0xffff || addr < HistoryBase {
		return NoIndex, false
	}

	off := int(addr - HistoryBase)
	if off%HistorySlotSize != 0 || off/HistorySlotSize >= HistoryCapacity {
		return NoIndex, false
	}

	index := off / HistorySlotSize
	if bufferCheck {
		index = (index + 1) % HistoryCapacity
	}
	return index, true
}

// OutstandingHistorySets returns how many slots lie between this and latest in the ring.
func OutstandingHistorySets(latest, this int) int {
	if latest == NoIndex || this == NoIndex {
		return 0
	}
	return (latest - this + HistoryCapacity) % HistoryCapacity
}

// HistorySlot is one entry of the console history ring.
type HistorySlot struct {
	Index int        `json:"index"`
	Time  *time.Time `json:"time,omitempty"`

	TempIndoor      codec.Reading `json:"temp_indoor"`
	TempOutdoor     codec.Reading `json:"temp_outdoor"`
	HumidityIndoor  codec.Reading `json:"humidity_indoor"`
	HumidityOutdoor codec.Reading `json:"humidity_outdoor"`
	Pressure        codec.Reading `json:"pressure"`
	// RainCounter is the raw tip counter. It wraps at 0x1000.
	RainCounter   uint16        `json:"rain_counter"`
	WindSpeed     codec.Reading `json:"wind_speed"`
	Gust          codec.Reading `json:"gust"`
	WindDirection uint8         `json:"wind_direction"`
	GustDirection uint8         `json:"gust_direction"`
}

// HistoryFrame is the decoded 30 byte history block.
type HistoryFrame struct {
	LatestIndex int
	ThisIndex   int
	Slot        HistorySlot
	Battery     uint8
	Quality     uint8
	Checksum    uint16
}

// the slot record is one reversed 18 byte span
var slotSpan = codec.Span{Offset: 12, Length: HistorySlotSize}

func slot(name string, first, width int, set func(*HistorySlot, []byte, *time.Location)) field[HistorySlot] {
	return field[HistorySlot]{name: name, span: slotSpan, first: first, width: width, set: set}
}

var historySlotFields = []field[HistorySlot]{
	slot("Time", 0, 10, timestamp(func(s *HistorySlot) **time.Time { return &s.Time })),
	slot("TempOutdoor", 10, 3, reading(codec.ShortTemperature, func(s *HistorySlot) *codec.Reading { return &s.TempOutdoor })),
	slot("TempIndoor", 13, 3, reading(codec.ShortTemperature, func(s *HistorySlot) *codec.Reading { return &s.TempIndoor })),
	slot("Pressure", 16, 5, reading(codec.Pressure, func(s *HistorySlot) *codec.Reading { return &s.Pressure })),
	slot("HumidityIndoor", 21, 2, reading(codec.Humidity, func(s *HistorySlot) *codec.Reading { return &s.HumidityIndoor })),
	slot("HumidityOutdoor", 23, 2, reading(codec.Humidity, func(s *HistorySlot) *codec.Reading { return &s.HumidityOutdoor })),
	slot("RainCounter", 25, 3, func(s *HistorySlot, n []byte, _ *time.Location) {
		s.RainCounter = uint16(codec.Binary(n))
	}),
	slot("GustDirection", 28, 1, func(s *HistorySlot, n []byte, _ *time.Location) {
		s.GustDirection = n[0]
	}),
	slot("WindDirection", 29, 1, func(s *HistorySlot, n []byte, _ *time.Location) {
		s.WindDirection = n[0]
	}),
	slot("WindSpeed", 30, 3, reading(codec.RingWindSpeed, func(s *HistorySlot) *codec.Reading { return &s.WindSpeed })),
	slot("Gust", 33, 3, reading(codec.RingWindSpeed, func(s *HistorySlot) *codec.Reading { return &s.Gust })),
}

func address(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

// DecodeHistory decodes a history frame. Timestamps are read in loc.
func DecodeHistory(buf []byte, loc *time.Location) (HistoryFrame, error) {
	hf := HistoryFrame{LatestIndex: NoIndex, ThisIndex: NoIndex}

	h, err := ParseHeader(buf)
	if err != nil {
		return hf, err
	}
	if len(buf) != HistoryLength {
		return hf, fmt.Errorf("%w: history frame with %d bytes", ErrMalformedFrame, len(buf))
	}

	hf.LatestIndex, _ = HistoryIndex(address(buf[6:9]), false)
	hf.ThisIndex, _ = HistoryIndex(address(buf[9:12]), false)

	if err := decodeFields(buf, historySlotFields, &hf.Slot, loc); err != nil {
		return hf, err
	}
	if !hf.Slot.WindSpeed.IsValid() {
		hf.Slot.WindDirection = DirectionAbsent
	}
	if !hf.Slot.Gust.IsValid() {
		hf.Slot.GustDirection = DirectionAbsent
	}

	hf.Slot.Index = hf.ThisIndex
	hf.Battery = h.Battery
	hf.Quality = h.Quality
	hf.Checksum = h.Checksum
	return hf, nil
}
