package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dougsko/js8emu/pkg/config"
	"github.com/dougsko/js8emu/pkg/logging"
	"github.com/dougsko/js8emu/pkg/metrics"
	"github.com/dougsko/js8emu/pkg/protocol"
	"github.com/dougsko/js8emu/pkg/scheduler"
	"github.com/dougsko/js8emu/pkg/station"
)

// transmission is one TX.SEND_MESSAGE in flight. The recipient set is fixed
// when the transmission starts.
type transmission struct {
	id         string
	sender     *station.Interface
	text       string
	directed   string
	fragments  []string
	recipients []*station.Interface
	log        *logging.FieldLogger
}

// newTransmission prepares a transmission of payload from sender
func (e *Emulator) newTransmission(sender *station.Interface, payload string) *transmission {
	text := protocol.WithCallsignPrefix(sender.Callsign, payload)

	directed := text
	if e.config.General.DirectedText == config.DirectedTextOriginal {
		directed = payload
	}

	id := uuid.New().String()
	fields := map[string]interface{}{"tx": id, "callsign": sender.Callsign}
	return &transmission{
		id:         id,
		sender:     sender,
		text:       text,
		directed:   directed + protocol.DirectedSuffix,
		fragments:  protocol.Fragment(text, e.config.General.FragmentSize),
		recipients: e.recipients(sender),
		log:        logging.WithFields(fields),
	}
}

// recipients returns every other connected interface tuned to the sender's
// dial frequency
func (e *Emulator) recipients(sender *station.Interface) []*station.Interface {
	dial := sender.Frequency()
	var out []*station.Interface
	for _, iface := range e.interfaces {
		if iface == sender || !iface.Connected() {
			continue
		}
		if iface.Frequency() == dial {
			out = append(out, iface)
		}
	}
	return out
}

// startTransmission schedules delivery of payload from sender. Runs on the
// reactor and never blocks.
func (e *Emulator) startTransmission(sender *station.Interface, payload string) {
	tx := e.newTransmission(sender, payload)

	if len(tx.recipients) == 0 {
		tx.log.Debugf("engine", "%s TX dropped: no stations listening on %d", sender.Name, sender.Frequency())
		e.metrics.Transmission(sender.Name, metrics.OutcomeDropped)
		return
	}

	name := "tx-" + sender.Callsign + "-" + tx.id
	if !e.scheduler.Go(name, func(ctx context.Context) { e.runTransmission(ctx, tx) }) {
		e.metrics.Transmission(sender.Name, metrics.OutcomeDropped)
		return
	}

	tx.log.Infof("engine", "%s TX %q to %d station(s) in %d fragment(s)",
		sender.Name, tx.text, len(tx.recipients), len(tx.fragments))
	e.metrics.Transmission(sender.Name, metrics.OutcomeStarted)
}

func (e *Emulator) runTransmission(ctx context.Context, tx *transmission) {
	frameTime := time.Duration(e.config.General.FrameTime * float64(time.Second))

	completed := scheduler.RunSequence(ctx, tx.fragments, frameTime,
		func(_ int, fragment string) {
			for _, r := range tx.recipients {
				e.send(r, tx.id, protocol.NewRXActivity(fragment, e.reception(r)))
			}
		},
		func() {
			for _, r := range tx.recipients {
				e.sendDirected(tx, r)
			}
		})

	if !completed {
		tx.log.Debugf("engine", "%s TX aborted", tx.sender.Name)
		e.metrics.Transmission(tx.sender.Name, metrics.OutcomeAborted)
		return
	}
	tx.log.Debugf("engine", "%s TX delivered", tx.sender.Name)
	e.metrics.Transmission(tx.sender.Name, metrics.OutcomeCompleted)
}

// sendDirected writes the RX.DIRECTED and RX.SPOT pair in one write
func (e *Emulator) sendDirected(tx *transmission, r *station.Interface) {
	rx := e.reception(r)
	directed := protocol.NewRXDirected(tx.sender.Callsign, tx.directed, rx)
	spot := protocol.NewRXSpot(tx.sender.Callsign, tx.sender.Maidenhead, rx)
	e.send(r, tx.id, directed, spot)
}

// reception draws fresh signal values for a delivery to r
func (e *Emulator) reception(r *station.Interface) protocol.Reception {
	return protocol.Reception{
		Dial:   r.Frequency(),
		Offset: r.Offset,
		SNR:    e.random.SNR(),
		TDrift: e.random.TimeDrift(),
		UTC:    protocol.UTCStamp(e.now()),
	}
}
