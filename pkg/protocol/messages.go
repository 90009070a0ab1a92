package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RXID is the correlation id carried by unsolicited RX messages
const RXID = -1

// statusEpoch is subtracted from the UTC stamp to form STATION.STATUS ids.
// JS8Call clients expect this exact value.
const statusEpoch = 1499299200000

// DirectedSuffix terminates the text of every RX.DIRECTED message
const DirectedSuffix = " ♢ "

// UTCStamp returns milliseconds since the Unix epoch multiplied by 1000
func UTCStamp(t time.Time) int64 {
	return t.UnixMilli() * 1000
}

// StatusID returns the correlation id used for STATION.STATUS messages
func StatusID(t time.Time) string {
	return strconv.FormatInt(UTCStamp(t)-statusEpoch, 10)
}

// Reception holds the per-recipient values shared by all RX messages
type Reception struct {
	Dial   int64
	Offset int64
	SNR    int
	TDrift float64
	UTC    int64
}

// NewCallsignReply builds the STATION.CALLSIGN reply
func NewCallsignReply(id interface{}, callsign string) Message {
	return Message{
		Params: map[string]interface{}{ParamID: id},
		Type:   TypeCallsign,
		Value:  callsign,
	}
}

// NewFreqReply builds the RIG.FREQ reply
func NewFreqReply(id interface{}, dial, offset int64) Message {
	return Message{
		Params: map[string]interface{}{
			ParamDial:   dial,
			ParamFreq:   dial + offset,
			ParamOffset: offset,
			ParamID:     id,
		},
		Type:  TypeFreq,
		Value: "",
	}
}

// NewStationStatus builds the STATION.STATUS message sent after a frequency change
func NewStationStatus(now time.Time, dial, offset int64) Message {
	return Message{
		Params: map[string]interface{}{
			ParamDial:     dial,
			ParamFreq:     dial + offset,
			ParamOffset:   offset,
			ParamSelected: "",
			ParamSpeed:    1,
			ParamID:       StatusID(now),
		},
		Type:  TypeStationStatus,
		Value: "",
	}
}

// NewRXActivity builds one RX.ACTIVITY fragment message
func NewRXActivity(fragment string, rx Reception) Message {
	return Message{
		Params: map[string]interface{}{
			ParamDial:   rx.Dial,
			ParamFreq:   rx.Dial + rx.Offset,
			ParamOffset: rx.Offset,
			ParamSNR:    rx.SNR,
			ParamSpeed:  1,
			ParamTDrift: rx.TDrift,
			ParamUTC:    rx.UTC,
			ParamID:     RXID,
		},
		Type:  TypeRXActivity,
		Value: fragment,
	}
}

// NewRXDirected builds the RX.DIRECTED message for a completed transmission.
// text must already carry the DirectedSuffix.
func NewRXDirected(from, text string, rx Reception) Message {
	return Message{
		Params: map[string]interface{}{
			ParamCmd:    " ",
			ParamDial:   rx.Dial,
			ParamExtra:  "",
			ParamFreq:   rx.Dial + rx.Offset,
			ParamFrom:   from,
			ParamGrid:   "",
			ParamOffset: rx.Offset,
			ParamSNR:    rx.SNR,
			ParamSpeed:  1,
			ParamTDrift: rx.TDrift,
			ParamText:   text,
			ParamTo:     DirectedTo(text),
			ParamUTC:    rx.UTC,
			ParamID:     RXID,
		},
		Type:  TypeRXDirected,
		Value: text,
	}
}

// NewRXSpot builds the RX.SPOT message that accompanies RX.DIRECTED
func NewRXSpot(call, grid string, rx Reception) Message {
	return Message{
		Params: map[string]interface{}{
			ParamCall:   call,
			ParamDial:   rx.Dial,
			ParamFreq:   rx.Dial + rx.Offset,
			ParamGrid:   grid,
			ParamOffset: rx.Offset,
			ParamSNR:    rx.SNR,
			ParamID:     RXID,
		},
		Type:  TypeRXSpot,
		Value: "",
	}
}

// DirectedTo returns the second whitespace-separated token of text, or ""
func DirectedTo(text string) string {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

// CallsignPrefix returns the "<CALL>: " prefix of a station's transmissions
func CallsignPrefix(callsign string) string {
	return callsign + ": "
}

// WithCallsignPrefix prepends the sender prefix unless text already starts with it
func WithCallsignPrefix(callsign, text string) string {
	prefix := CallsignPrefix(callsign)
	if strings.HasPrefix(text, prefix) {
		return text
	}
	return prefix + text
}

// TextValue coerces a message value to text. Strings are used as is, numbers
// keep their literal form, null is empty and anything else is compact JSON,
// so a missing value sends nothing rather than a placeholder word and
// booleans read "true"/"false" as on the wire.
func TextValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}
