package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dougsko/js8emu/pkg/logging"
	"github.com/dougsko/js8emu/pkg/protocol"
	"github.com/dougsko/js8emu/pkg/station"
)

var errMissingDial = errors.New("missing DIAL parameter")

// dispatch routes one decoded request from iface's client
func (e *Emulator) dispatch(iface *station.Interface, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeGetCallsign:
		e.send(iface, "", protocol.NewCallsignReply(msg.ID(), iface.Callsign))

	case protocol.TypeGetFreq:
		e.send(iface, "", protocol.NewFreqReply(msg.ID(), iface.Frequency(), iface.Offset))

	case protocol.TypeSetFreq:
		raw, _ := msg.Param(protocol.ParamDial)
		dial, err := parseDial(raw)
		if err != nil {
			logging.Warnf("router", "%s invalid RIG.SET_FREQ DIAL %v: %v", iface.Name, raw, err)
			return
		}
		e.applyFrequency(iface, dial)

	case protocol.TypeSendMessage:
		e.startTransmission(iface, protocol.TextValue(msg.Value))

	default:
		logging.Debugf("router", "%s ignoring unsupported message type %q", iface.Name, msg.Type)
	}
}

// applyFrequency changes the dial frequency and reports the new status to
// the interface's client. Runs on the reactor.
func (e *Emulator) applyFrequency(iface *station.Interface, dial int64) {
	iface.SetFrequency(dial)
	e.metrics.SetDial(iface.Name, dial)
	logging.Infof("router", "%s dial frequency set to %d", iface.Name, dial)
	e.send(iface, "", protocol.NewStationStatus(e.now(), dial, iface.Offset))
}

// parseDial accepts a JSON integer, an integral JSON number or a decimal
// integer string
func parseDial(raw interface{}) (int64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, errMissingDial
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("not a number: %w", err)
		}
		return integral(f)
	case float64:
		return integral(v)
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("not an integer: %w", err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", raw)
	}
}

func integral(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, fmt.Errorf("%v is not an integer", f)
	}
	return int64(f), nil
}
