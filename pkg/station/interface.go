package station

import (
	"net"
	"sync/atomic"

	"github.com/dougsko/js8emu/pkg/config"
)

// Interface is the runtime record of one emulated JS8Call station.
//
// Identity fields never change after construction. The dial frequency is
// written only by the reactor but read by transmission jobs, so it is held
// atomically, as is the connection slot.
type Interface struct {
	Name       string
	Port       int
	Callsign   string
	Maidenhead string
	Offset     int64

	frequency atomic.Int64
	conn      atomic.Pointer[Connection]

	Listener net.Listener
}

// NewInterface creates the record for a configured interface
func NewInterface(ic config.InterfaceConfig) *Interface {
	iface := &Interface{
		Name:       ic.Name,
		Port:       ic.Port,
		Callsign:   ic.Callsign,
		Maidenhead: ic.Maidenhead,
		Offset:     ic.Offset,
	}
	iface.frequency.Store(ic.Frequency)
	return iface
}

// Frequency returns the current dial frequency in Hz
func (i *Interface) Frequency() int64 {
	return i.frequency.Load()
}

// SetFrequency changes the dial frequency
func (i *Interface) SetFrequency(dial int64) {
	i.frequency.Store(dial)
}

// EffectiveFrequency is dial plus the audio offset
func (i *Interface) EffectiveFrequency() int64 {
	return i.Frequency() + i.Offset
}

// Conn returns the attached connection, or nil
func (i *Interface) Conn() *Connection {
	return i.conn.Load()
}

// Connected reports whether a live connection is attached
func (i *Interface) Connected() bool {
	c := i.conn.Load()
	return c != nil && !c.Closed()
}

// Attach installs c as the interface's connection. It fails when a live
// connection is already attached.
func (i *Interface) Attach(c *Connection) bool {
	for {
		cur := i.conn.Load()
		if cur != nil && !cur.Closed() {
			return false
		}
		if i.conn.CompareAndSwap(cur, c) {
			return true
		}
	}
}

// Detach clears the slot if it still holds c
func (i *Interface) Detach(c *Connection) bool {
	return i.conn.CompareAndSwap(c, nil)
}
