package storage

import (
	"encoding/json"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/dougsko/js8emu/pkg/logging"
	"github.com/dougsko/js8emu/pkg/protocol"
	"github.com/dougsko/js8emu/pkg/station"
)

// DefaultRecorderBuffer is the number of frames queued before new ones are dropped
const DefaultRecorderBuffer = 1024

// Recorder journals frames on its own goroutine so that the reactor and
// transmission jobs never wait on the database
type Recorder struct {
	store   *MessageStore
	frames  chan station.Frame
	done    chan struct{}
	wg      sync.WaitGroup
	stop    sync.Once
	dropped atomic.Int64
}

// NewRecorder creates a recorder writing to store
func NewRecorder(store *MessageStore, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = DefaultRecorderBuffer
	}
	return &Recorder{
		store:  store,
		frames: make(chan station.Frame, buffer),
		done:   make(chan struct{}),
	}
}

// Start launches the writer goroutine
func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.run()
}

// OnFrame queues a frame. It never blocks; frames are dropped when the queue
// is full.
func (r *Recorder) OnFrame(f station.Frame) {
	select {
	case r.frames <- f:
	default:
		if r.dropped.Add(1) == 1 {
			logging.Warn("storage", "journal queue full, dropping frames")
		}
	}
}

// Dropped returns the number of frames dropped because the queue was full
func (r *Recorder) Dropped() int64 {
	return r.dropped.Load()
}

// Stop writes what is already queued and stops the writer goroutine
func (r *Recorder) Stop() {
	r.stop.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case f := <-r.frames:
			r.record(f)
		case <-r.done:
			for {
				select {
				case f := <-r.frames:
					r.record(f)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) record(f station.Frame) {
	if spot, ok := SpotFromFrame(f); ok {
		if err := r.store.RecordSpot(spot); err != nil {
			logging.Warnf("storage", "%v", err)
		}
		return
	}
	if rec, ok := RecordFromFrame(f); ok {
		if _, err := r.store.StoreRecord(rec); err != nil {
			logging.Warnf("storage", "%v", err)
		}
	}
}

// RecordFromFrame maps an inbound TX.SEND_MESSAGE or an outbound RX.DIRECTED
// to a journal record
func RecordFromFrame(f station.Frame) (Record, bool) {
	msg := f.Message
	switch {
	case f.Direction == station.Inbound && msg.Type == protocol.TypeSendMessage:
		text := protocol.WithCallsignPrefix(f.Callsign, protocol.TextValue(msg.Value))
		return Record{
			Timestamp:   f.Time,
			Interface:   f.Interface,
			From:        f.Callsign,
			To:          protocol.DirectedTo(text),
			Text:        text,
			Frequency:   f.Frequency,
			Direction:   DirectionTX,
			MessageType: msg.Type,
		}, true

	case f.Direction == station.Outbound && msg.Type == protocol.TypeRXDirected:
		return Record{
			Timestamp:    f.Time,
			Interface:    f.Interface,
			From:         stringParam(msg, protocol.ParamFrom),
			To:           stringParam(msg, protocol.ParamTo),
			Text:         stringParam(msg, protocol.ParamText),
			SNR:          int(intParam(msg, protocol.ParamSNR)),
			Frequency:    intParam(msg, protocol.ParamFreq),
			Direction:    DirectionRX,
			MessageType:  msg.Type,
			Transmission: f.Transmission,
		}, true
	}
	return Record{}, false
}

// SpotFromFrame maps an outbound RX.SPOT to a heard-list update
func SpotFromFrame(f station.Frame) (Spot, bool) {
	if f.Direction != station.Outbound || f.Message.Type != protocol.TypeRXSpot {
		return Spot{}, false
	}
	return Spot{
		Timestamp: f.Time,
		Interface: f.Interface,
		Callsign:  stringParam(f.Message, protocol.ParamCall),
		Grid:      stringParam(f.Message, protocol.ParamGrid),
		SNR:       int(intParam(f.Message, protocol.ParamSNR)),
		Frequency: intParam(f.Message, protocol.ParamFreq),
	}, true
}

func stringParam(msg protocol.Message, key string) string {
	v, _ := msg.Param(key)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func intParam(msg protocol.Message, key string) int64 {
	v, _ := msg.Param(key)
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	}
	return 0
}
