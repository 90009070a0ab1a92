package station

import (
	"time"

	"github.com/dougsko/js8emu/pkg/protocol"
)

// Direction of a frame relative to the emulator
type Direction string

const (
	// Inbound frames were received from an interface's client
	Inbound Direction = "in"
	// Outbound frames were written to an interface's client
	Outbound Direction = "out"
)

// Frame is one protocol message seen on an interface
type Frame struct {
	Time      time.Time `json:"time"`
	Interface string    `json:"interface"`
	Callsign  string    `json:"callsign"`
	Direction Direction `json:"direction"`

	// Frequency is the interface's effective frequency when the frame was seen
	Frequency int64 `json:"frequency"`

	Message protocol.Message `json:"message"`

	// Transmission is set on RX frames produced by a transmission
	Transmission string `json:"transmission,omitempty"`
}
