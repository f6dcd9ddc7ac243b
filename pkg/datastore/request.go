package datastore

import "fmt"

// RequestType names what an application caller asked the console for.
type RequestType int

const (
	RequestInvalid RequestType = iota
	RequestGetCurrent
	RequestGetHistory
	RequestGetConfig
	RequestSetConfig
	RequestSetTime
	RequestFirstConfig
)

var requestTypeNames = map[RequestType]string{
	RequestInvalid:     "invalid",
	RequestGetCurrent:  "get current",
	RequestGetHistory:  "get history",
	RequestGetConfig:   "get config",
	RequestSetConfig:   "set config",
	RequestSetTime:     "set time",
	RequestFirstConfig: "first config",
}

func (t RequestType) String() string {
	if s, ok := requestTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("request(%d)", int(t))
}

// RequestState is the progress of the active request.
type RequestState int

const (
	StateInvalid RequestState = iota
	StateQueued
	StateRunning
	StateFinished
	StatePreamble
	StateWaitDevice
	StateWaitConfig
	StateError
)

var requestStateNames = map[RequestState]string{
	StateInvalid:    "invalid",
	StateQueued:     "queued",
	StateRunning:    "running",
	StateFinished:   "finished",
	StatePreamble:   "preamble",
	StateWaitDevice: "wait device",
	StateWaitConfig: "wait config",
	StateError:      "error",
}

func (s RequestState) String() string {
	if n, ok := requestStateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Active reports whether a request in state s still waits for the session.
func (s RequestState) Active() bool {
	switch s {
	case StateQueued, StateRunning, StatePreamble, StateWaitDevice, StateWaitConfig:
		return true
	}
	return false
}

// transitions lists the states reachable from each active state.
var transitions = map[RequestState][]RequestState{
	StateQueued:     {StateRunning, StatePreamble, StateError},
	StateRunning:    {StateWaitConfig, StateFinished, StateError},
	StateWaitConfig: {StateFinished, StateError},
	StatePreamble:   {StateWaitDevice, StateError},
	StateWaitDevice: {StateFinished, StateError},
}

// CanTransition reports whether a request may move from one state to the other.
func CanTransition(from, to RequestState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Request is the descriptor of the single request in flight.
type Request struct {
	Type  RequestType
	State RequestState
	TTL   int
}

func (r Request) String() string {
	return fmt.Sprintf("%s/%s ttl %d", r.Type, r.State, r.TTL)
}

// BufferCheck is the tri-state of the history buffer check regime.
type BufferCheck int

const (
	BufferCheckOff BufferCheck = iota
	BufferCheckArmed
	BufferCheckActive
)

func (b BufferCheck) String() string {
	switch b {
	case BufferCheckOff:
		return "off"
	case BufferCheckArmed:
		return "armed"
	case BufferCheckActive:
		return "active"
	default:
		return fmt.Sprintf("buffercheck(%d)", int(b))
	}
}
