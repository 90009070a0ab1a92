// Package engine implements the emulator reactor: it owns the listeners and
// client connections of every interface, routes API messages and fans
// transmissions out to the stations tuned to the same frequency.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/dougsko/js8emu/pkg/config"
	"github.com/dougsko/js8emu/pkg/logging"
	"github.com/dougsko/js8emu/pkg/metrics"
	"github.com/dougsko/js8emu/pkg/protocol"
	"github.com/dougsko/js8emu/pkg/scheduler"
	"github.com/dougsko/js8emu/pkg/station"
	"github.com/dougsko/js8emu/pkg/verbose"
)

const (
	// ListenHost is the only address interfaces bind to
	ListenHost = "127.0.0.1"

	readBufferSize = 4096
	pollInterval   = 250 * time.Millisecond
	eventQueueSize = 64

	// maxLineBytes bounds the unterminated data buffered for one connection
	maxLineBytes = 1 << 20
)

var (
	// ErrClosed is returned by control-plane calls after Close
	ErrClosed = errors.New("emulator closed")
	// ErrUnknownInterface is returned for a name not in the configuration
	ErrUnknownInterface = errors.New("unknown interface")
	// ErrNotStarted is returned by Run before Start
	ErrNotStarted = errors.New("emulator not started")
)

type eventKind int

const (
	eventAccept eventKind = iota
	eventRead
	eventDisconnect
	eventCall
)

type event struct {
	kind  eventKind
	iface *station.Interface
	netc  net.Conn
	conn  *station.Connection
	data  []byte
	err   error
	fn    func()
}

// Option configures an Emulator
type Option func(*Emulator)

// WithRandomizer replaces the source of SNR and time drift values
func WithRandomizer(r Randomizer) Option {
	return func(e *Emulator) { e.random = r }
}

// WithClock replaces the time source used for UTC stamps and status ids
func WithClock(now func() time.Time) Option {
	return func(e *Emulator) { e.now = now }
}

// WithMonitor adds an observer of every protocol message
func WithMonitor(m Monitor) Option {
	return func(e *Emulator) {
		if m != nil {
			e.monitors = append(e.monitors, m)
		}
	}
}

// WithMetrics records engine activity on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Emulator) { e.metrics = m }
}

// WithWriteTimeout bounds every write to a client. A client that stops
// reading is disconnected once a write exceeds d.
func WithWriteTimeout(d time.Duration) Option {
	return func(e *Emulator) { e.writeTimeout = d }
}

// WithJoinTimeout bounds how long Close waits for transmission jobs
func WithJoinTimeout(d time.Duration) Option {
	return func(e *Emulator) { e.joinTimeout = d }
}

// Emulator runs every configured interface on a single reactor goroutine.
// Accept and read loops only perform blocking I/O and hand their results to
// Run over the event channel; all connection state changes happen there.
type Emulator struct {
	config     *config.Config
	interfaces []*station.Interface
	byName     map[string]*station.Interface

	scheduler    *scheduler.Scheduler
	random       Randomizer
	now          func() time.Time
	monitors     []Monitor
	metrics      *metrics.Metrics
	joinTimeout  time.Duration
	writeTimeout time.Duration

	events    chan event
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	mutex     sync.Mutex
	started   bool
	closing   bool
	startTime time.Time
}

// NewEmulator creates an emulator for cfg. Listeners are not opened until
// Start.
func NewEmulator(cfg *config.Config, opts ...Option) *Emulator {
	e := &Emulator{
		config:       cfg,
		byName:       make(map[string]*station.Interface),
		scheduler:    scheduler.New(),
		now:          time.Now,
		joinTimeout:  scheduler.DefaultJoinTimeout,
		writeTimeout: station.DefaultWriteTimeout,
		events:       make(chan event, eventQueueSize),
		done:         make(chan struct{}),
	}
	for _, ic := range cfg.Interfaces {
		iface := station.NewInterface(ic)
		e.interfaces = append(e.interfaces, iface)
		e.byName[iface.Name] = iface
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.random == nil {
		e.random = NewRandomizer(time.Now().UnixNano())
	}
	return e
}

// Start binds a listener for every interface. If any bind fails the
// listeners already opened are closed and the error is returned.
func (e *Emulator) Start() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.started {
		return errors.New("emulator already started")
	}
	if e.closing {
		return ErrClosed
	}

	for _, iface := range e.interfaces {
		addr := net.JoinHostPort(ListenHost, strconv.Itoa(iface.Port))
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			e.closeListeners()
			return fmt.Errorf("failed to listen for %s on %s: %w", iface.Name, addr, err)
		}
		iface.Listener = ln
		if iface.Port == 0 {
			iface.Port = ln.Addr().(*net.TCPAddr).Port
		}
		logging.Infof("engine", "Listening %s on %s:%d callsign=%s dial=%d offset=%d grid=%s",
			iface.Name, ListenHost, iface.Port, iface.Callsign, iface.Frequency(), iface.Offset, iface.Maidenhead)
		e.metrics.SetDial(iface.Name, iface.Frequency())
		e.metrics.SetConnected(iface.Name, false)
	}

	e.started = true
	e.startTime = e.now()
	for _, iface := range e.interfaces {
		e.wg.Add(1)
		go e.acceptLoop(iface)
	}
	return nil
}

func (e *Emulator) closeListeners() {
	for _, iface := range e.interfaces {
		if iface.Listener != nil {
			iface.Listener.Close()
		}
	}
}

// Run processes events until ctx is cancelled or Close is called
func (e *Emulator) Run(ctx context.Context) error {
	e.mutex.Lock()
	started := e.started
	e.mutex.Unlock()
	if !started {
		return ErrNotStarted
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-e.done:
			return nil
		case ev := <-e.events:
			e.handleEvent(ev)
		case <-ticker.C:
			e.metrics.SetJobs(e.scheduler.Active())
		}
	}
}

// Close stops the emulator: pending transmissions are cancelled and joined,
// then every connection and listener is closed. It is safe to call more than
// once and from any goroutine.
func (e *Emulator) Close() error {
	e.closeOnce.Do(func() {
		e.mutex.Lock()
		e.closing = true
		close(e.done)
		e.mutex.Unlock()

		if err := e.scheduler.Close(e.joinTimeout); err != nil {
			logging.Warnf("engine", "Shutdown: %v", err)
		}

		for _, iface := range e.interfaces {
			if c := iface.Conn(); c != nil {
				c.Close()
				iface.Detach(c)
				e.metrics.SetConnected(iface.Name, false)
			}
		}
		e.closeListeners()
		e.wg.Wait()
		e.drainEvents()
		logging.Info("engine", "Emulator stopped")
	})
	return nil
}

// drainEvents closes sockets accepted but never handed to the reactor
func (e *Emulator) drainEvents() {
	for {
		select {
		case ev := <-e.events:
			if ev.netc != nil {
				ev.netc.Close()
			}
		default:
			return
		}
	}
}

// Done is closed when Close starts
func (e *Emulator) Done() <-chan struct{} {
	return e.done
}

func (e *Emulator) isClosing() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// post hands an event to the reactor. It returns false once the emulator is
// closing.
func (e *Emulator) post(ev event) bool {
	select {
	case e.events <- ev:
		return true
	case <-e.done:
		return false
	}
}

func (e *Emulator) acceptLoop(iface *station.Interface) {
	defer e.wg.Done()

	for {
		netc, err := iface.Listener.Accept()
		if err != nil {
			if e.isClosing() || errors.Is(err, net.ErrClosed) {
				return
			}
			logging.Warnf("engine", "%s accept failed: %v", iface.Name, err)
			select {
			case <-e.done:
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}
		if !e.post(event{kind: eventAccept, iface: iface, netc: netc}) {
			netc.Close()
			return
		}
	}
}

func (e *Emulator) readLoop(iface *station.Interface, c *station.Connection) {
	defer e.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if !e.post(event{kind: eventRead, iface: iface, conn: c, data: data}) {
				return
			}
		}
		if err != nil {
			e.post(event{kind: eventDisconnect, iface: iface, conn: c, err: err})
			return
		}
	}
}

func (e *Emulator) handleEvent(ev event) {
	switch ev.kind {
	case eventAccept:
		e.handleAccept(ev.iface, ev.netc)
	case eventRead:
		e.handleRead(ev.iface, ev.conn, ev.data)
	case eventDisconnect:
		e.disconnect(ev.iface, ev.conn, ev.err)
	case eventCall:
		ev.fn()
	}
}

func (e *Emulator) handleAccept(iface *station.Interface, netc net.Conn) {
	c := station.NewConnection(netc)
	c.SetWriteTimeout(e.writeTimeout)

	e.mutex.Lock()
	if e.closing {
		e.mutex.Unlock()
		c.Close()
		return
	}
	if !iface.Attach(c) {
		e.mutex.Unlock()
		logging.Warnf("engine", "%s rejecting connection from %s: already connected", iface.Name, c.Addr())
		e.metrics.ConnectionRejected(iface.Name)
		c.Close()
		return
	}
	e.wg.Add(1)
	e.mutex.Unlock()

	logging.Infof("engine", "%s accepted connection from %s", iface.Name, c.Addr())
	e.metrics.SetConnected(iface.Name, true)
	go e.readLoop(iface, c)
}

func (e *Emulator) handleRead(iface *station.Interface, c *station.Connection, data []byte) {
	if iface.Conn() != c || c.Closed() {
		return
	}

	c.Append(data)
	for !c.Closed() {
		line, ok := c.NextLine()
		if !ok {
			break
		}
		verbose.Inbound(iface.Name, line)
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		msg, err := protocol.Decode(line)
		if err != nil {
			logging.Warnf("engine", "%s received malformed JSON; ignoring: %v", iface.Name, err)
			e.metrics.DecodeError(iface.Name)
			continue
		}
		e.observe(iface, station.Inbound, msg, "")
		e.dispatch(iface, msg)
	}

	if c.Buffered() > maxLineBytes {
		e.disconnect(iface, c, fmt.Errorf("unterminated line exceeds %d bytes", maxLineBytes))
	}
}

func (e *Emulator) disconnect(iface *station.Interface, c *station.Connection, reason error) {
	if iface.Detach(c) {
		logging.Infof("engine", "%s disconnected (%v)", iface.Name, reason)
		e.metrics.SetConnected(iface.Name, false)
	}
	c.Close()
}

// send writes msgs to the interface's client in a single write. Any failure
// other than an already closed connection tears the connection down; the
// read loop then reports the disconnect. Safe from any goroutine.
func (e *Emulator) send(iface *station.Interface, transmission string, msgs ...protocol.Message) bool {
	c := iface.Conn()
	if c == nil || c.Closed() {
		return false
	}

	payload, err := c.WriteMessages(msgs...)
	if err != nil {
		if !errors.Is(err, station.ErrClosed) {
			logging.Warnf("engine", "%s write failed, dropping connection: %v", iface.Name, err)
			c.Close()
		}
		return false
	}

	verbose.Outbound(iface.Name, payload)
	for _, msg := range msgs {
		e.observe(iface, station.Outbound, msg, transmission)
	}
	return true
}

// call runs fn on the reactor goroutine and waits for it to finish
func (e *Emulator) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !e.post(event{kind: eventCall, fn: func() {
		defer close(finished)
		fn()
	}}) {
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	}
}

// Interface returns the runtime record for name
func (e *Emulator) Interface(name string) (*station.Interface, bool) {
	iface, ok := e.byName[name]
	return iface, ok
}

// Interfaces returns the interfaces in configuration order
func (e *Emulator) Interfaces() []*station.Interface {
	return e.interfaces
}

// ActiveTransmissions returns the number of running transmission jobs
func (e *Emulator) ActiveTransmissions() int {
	return e.scheduler.Active()
}

// Uptime returns the time since Start
func (e *Emulator) Uptime() time.Duration {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if !e.started {
		return 0
	}
	return e.now().Sub(e.startTime)
}

// SetFrequency changes an interface's dial frequency exactly as a
// RIG.SET_FREQ from its client would, including the STATION.STATUS reply.
func (e *Emulator) SetFrequency(ctx context.Context, name string, dial int64) error {
	iface, ok := e.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInterface, name)
	}
	if dial <= 0 {
		return fmt.Errorf("invalid dial frequency %d", dial)
	}
	return e.call(ctx, func() { e.applyFrequency(iface, dial) })
}

// Transmit starts a transmission from name as if its client had sent
// TX.SEND_MESSAGE with text
func (e *Emulator) Transmit(ctx context.Context, name, text string) error {
	iface, ok := e.byName[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownInterface, name)
	}
	return e.call(ctx, func() {
		msg := protocol.Message{Type: protocol.TypeSendMessage, Value: text}
		e.observe(iface, station.Inbound, msg, "")
		e.startTransmission(iface, text)
	})
}

// InterfaceStatus is a point-in-time view of one interface
type InterfaceStatus struct {
	Name       string `json:"name"`
	Port       int    `json:"port"`
	Callsign   string `json:"callsign"`
	Maidenhead string `json:"maidenhead"`
	Dial       int64  `json:"dial"`
	Offset     int64  `json:"offset"`
	Frequency  int64  `json:"frequency"`
	Connected  bool   `json:"connected"`
	Peer       string `json:"peer,omitempty"`
}

// Snapshot returns the status of every interface
func (e *Emulator) Snapshot() []InterfaceStatus {
	statuses := make([]InterfaceStatus, 0, len(e.interfaces))
	for _, iface := range e.interfaces {
		status := InterfaceStatus{
			Name:       iface.Name,
			Port:       iface.Port,
			Callsign:   iface.Callsign,
			Maidenhead: iface.Maidenhead,
			Dial:       iface.Frequency(),
			Offset:     iface.Offset,
			Frequency:  iface.EffectiveFrequency(),
		}
		if c := iface.Conn(); c != nil && !c.Closed() {
			status.Connected = true
			status.Peer = c.Addr()
		}
		statuses = append(statuses, status)
	}
	return statuses
}
