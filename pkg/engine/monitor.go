package engine

import (
	"github.com/dougsko/js8emu/pkg/protocol"
	"github.com/dougsko/js8emu/pkg/station"
)

// Monitor observes every message the emulator receives or sends. OnFrame is
// called synchronously from the reactor or a transmission job and must not
// block.
type Monitor interface {
	OnFrame(station.Frame)
}

// MonitorFunc adapts a function to Monitor
type MonitorFunc func(station.Frame)

// OnFrame calls f
func (f MonitorFunc) OnFrame(frame station.Frame) {
	f(frame)
}

func (e *Emulator) observe(iface *station.Interface, dir station.Direction, msg protocol.Message, transmission string) {
	if len(e.monitors) == 0 && e.metrics == nil {
		return
	}
	frame := station.Frame{
		Time:         e.now(),
		Interface:    iface.Name,
		Callsign:     iface.Callsign,
		Direction:    dir,
		Frequency:    iface.EffectiveFrequency(),
		Message:      msg,
		Transmission: transmission,
	}
	e.metrics.OnFrame(frame)
	for _, m := range e.monitors {
		m.OnFrame(frame)
	}
}
