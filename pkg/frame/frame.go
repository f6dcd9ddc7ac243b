// Package frame decodes and builds the radio frames exchanged with a WS-28xx console.
package frame

import (
	"errors"
	"fmt"
)

// ResponseType is the high nibble of header byte 2 of an inbound frame.
type ResponseType byte

const (
	RespDataWritten    ResponseType = 0x20
	RespConfig         ResponseType = 0x40
	RespCurrentWeather ResponseType = 0x60
	RespHistory        ResponseType = 0x80
	RespRequest        ResponseType = 0xa0
)

func (t ResponseType) String() string {
	switch t {
	case RespDataWritten:
		return "data written"
	case RespConfig:
		return "config"
	case RespCurrentWeather:
		return "current weather"
	case RespHistory:
		return "history"
	case RespRequest:
		return "request"
	default:
		return fmt.Sprintf("response(%#02x)", byte(t))
	}
}

// Subtypes of a RespRequest prompt.
const (
	ReqFirstConfig byte = 0xa1
	ReqSetConfig   byte = 0xa2
	ReqSetTime     byte = 0xa3
)

// Action is the request code sent to the console in byte 2 of an outbound frame.
type Action byte

const (
	ActionGetHistory   Action = 0x00
	ActionReqSetTime   Action = 0x01
	ActionReqSetConfig Action = 0x02
	ActionGetConfig    Action = 0x03
	ActionGetCurrent   Action = 0x05
	ActionSendConfig   Action = 0x40
	ActionSendTime     Action = 0xc0
)

func (a Action) String() string {
	switch a {
	case ActionGetHistory:
		return "get history"
	case ActionReqSetTime:
		return "request set time"
	case ActionReqSetConfig:
		return "request set config"
	case ActionGetConfig:
		return "get config"
	case ActionGetCurrent:
		return "get current"
	case ActionSendConfig:
		return "send config"
	case ActionSendTime:
		return "send time"
	default:
		return fmt.Sprintf("action(%#02x)", byte(a))
	}
}

const (
	// BroadcastID is the device ID used while pairing.
	BroadcastID uint16 = 0xf0f0

	HeaderLength         = 6
	ConfigLength         = 48
	CurrentWeatherLength = 215
	HistoryLength        = 30
	AckLength            = 9
	TimeLength           = 12

	// MaxLength is the largest frame the transceiver buffer holds.
	MaxLength = 0x111 - 3
)

var (
	// ErrMalformedFrame is returned for frames that are too short or have the wrong length for their type.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrForeignFrame is returned for frames that carry another device ID.
	ErrForeignFrame = errors.New("foreign frame")
	// ErrConfigChecksum is returned when a config block does not match its embedded checksum.
	ErrConfigChecksum = errors.New("config checksum mismatch")
)

// Header is the common prefix of every inbound frame.
type Header struct {
	ID       uint16
	Type     ResponseType
	Subtype  byte
	Battery  uint8
	Quality  uint8
	Checksum uint16
	Length   int
}

// ParseHeader reads the header fields shared by all frame types.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLength {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(buf))
	}

	return Header{
		ID:       uint16(buf[0])<<8 | uint16(buf[1]),
		Type:     ResponseType(buf[2] & 0xe0),
		Subtype:  buf[2] & 0xef,
		Battery:  buf[2] & 0x0f,
		Quality:  buf[3] & 0x7f,
		Checksum: uint16(buf[4])<<8 | uint16(buf[5]),
		Length:   len(buf),
	}, nil
}

var lengths = map[ResponseType]int{
	RespDataWritten:    HeaderLength,
	RespConfig:         ConfigLength,
	RespCurrentWeather: CurrentWeatherLength,
	RespHistory:        HistoryLength,
	RespRequest:        HeaderLength,
}

// CheckLength reports ErrMalformedFrame if the frame length does not belong to its response type.
func (h Header) CheckLength() error {
	want, ok := lengths[h.Type]
	if !ok {
		return fmt.Errorf("%w: unknown type %s", ErrMalformedFrame, h.Type)
	}
	if h.Length != want {
		return fmt.Errorf("%w: %s frame with %d bytes, want %d", ErrMalformedFrame, h.Type, h.Length, want)
	}
	return nil
}
