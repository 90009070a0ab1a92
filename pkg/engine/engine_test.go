package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougsko/js8emu/pkg/client"
	"github.com/dougsko/js8emu/pkg/config"
	"github.com/dougsko/js8emu/pkg/logging"
	"github.com/dougsko/js8emu/pkg/protocol"
	"github.com/dougsko/js8emu/pkg/station"
)

const (
	forty  = 7078000
	twenty = 14078000
)

type fixedRandom struct{}

func (fixedRandom) SNR() int           { return -7 }
func (fixedRandom) TimeDrift() float64 { return 0.5 }

var fixedTime = time.UnixMilli(1700000000123)

func testInterface(name, callsign string, dial int64) config.InterfaceConfig {
	return config.InterfaceConfig{
		Name:       name,
		Callsign:   callsign,
		Frequency:  dial,
		Offset:     1500,
		Maidenhead: "FN42",
	}
}

func testConfig(ifaces ...config.InterfaceConfig) *config.Config {
	return &config.Config{
		General: config.GeneralConfig{
			FragmentSize: 4,
			FrameTime:    0,
			DirectedText: config.DirectedTextPrefixed,
		},
		Interfaces: ifaces,
	}
}

func threeStations() *config.Config {
	return testConfig(
		testInterface("interface_1", "N0CALL", forty),
		testInterface("interface_2", "K1ABC", forty),
		testInterface("interface_3", "W2XYZ", twenty),
	)
}

func startEmulator(t *testing.T, cfg *config.Config, opts ...Option) *Emulator {
	t.Helper()
	opts = append([]Option{WithRandomizer(fixedRandom{}), WithClock(func() time.Time { return fixedTime })}, opts...)
	e := NewEmulator(cfg, opts...)
	require.NoError(t, e.Start())

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		e.Close()
		cancel()
		<-stopped
	})
	return e
}

func addr(t *testing.T, e *Emulator, name string) string {
	t.Helper()
	iface, ok := e.Interface(name)
	require.True(t, ok, "unknown interface %s", name)
	return fmt.Sprintf("%s:%d", ListenHost, iface.Port)
}

// connect dials an interface and waits until the emulator has attached it
func connect(t *testing.T, e *Emulator, name string) *client.Client {
	t.Helper()
	c, err := client.Dial(addr(t, e, name), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	iface, _ := e.Interface(name)
	callsign, err := c.GetCallsign()
	require.NoError(t, err)
	require.Equal(t, iface.Callsign, callsign)
	return c
}

func intParam(t *testing.T, msg protocol.Message, key string) int64 {
	t.Helper()
	v, err := client.IntParam(msg, key)
	require.NoError(t, err)
	return v
}

// syncBuffer collects log output written from several goroutines
type syncBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// captureLogs routes the global logger to a buffer for the rest of the test
func captureLogs(t *testing.T) *syncBuffer {
	t.Helper()
	buf := &syncBuffer{}
	previous := logging.GetGlobalLogger()
	logging.SetGlobalLogger(logging.NewWriterLogger(buf, logging.LevelDebug, false))
	t.Cleanup(func() { logging.SetGlobalLogger(previous) })
	return buf
}

func assertSilent(t *testing.T, c *client.Client) {
	t.Helper()
	msg, err := c.Next(150 * time.Millisecond)
	assert.Error(t, err, "unexpected message %s", msg.Type)
}

func TestRequestReplies(t *testing.T) {
	e := startEmulator(t, threeStations())
	c := connect(t, e, "interface_1")

	t.Run("Callsign Echoes String ID", func(t *testing.T) {
		require.NoError(t, c.SendRaw([]byte(`{"params":{"_ID":"abc"},"type":"STATION.GET_CALLSIGN","value":""}`+"\n")))
		reply, err := c.Next(time.Second)
		require.NoError(t, err)
		assert.Equal(t, protocol.TypeCallsign, reply.Type)
		assert.Equal(t, "N0CALL", reply.Value)
		assert.Equal(t, "abc", reply.ID())
	})

	t.Run("Callsign Echoes Large Numeric ID", func(t *testing.T) {
		require.NoError(t, c.SendRaw([]byte(`{"params":{"_ID":1700000000123456},"type":"STATION.GET_CALLSIGN"}`+"\n")))
		reply, err := c.Next(time.Second)
		require.NoError(t, err)
		assert.Equal(t, json.Number("1700000000123456"), reply.ID())
	})

	t.Run("Get Frequency", func(t *testing.T) {
		require.NoError(t, c.SendRaw([]byte(`{"params":{"_ID":7},"type":"RIG.GET_FREQ","value":""}`+"\n")))
		reply, err := c.Next(time.Second)
		require.NoError(t, err)
		assert.Equal(t, protocol.TypeFreq, reply.Type)
		assert.Equal(t, "", reply.Value)
		assert.Equal(t, int64(7078000), intParam(t, reply, protocol.ParamDial))
		assert.Equal(t, int64(7079500), intParam(t, reply, protocol.ParamFreq))
		assert.Equal(t, int64(1500), intParam(t, reply, protocol.ParamOffset))
		assert.Equal(t, json.Number("7"), reply.ID())
		assert.Len(t, reply.Params, 4)
	})

	t.Run("Unknown Type Is Ignored", func(t *testing.T) {
		require.NoError(t, c.Send(protocol.Message{Type: "INBOX.GET_MESSAGES"}))
		assertSilent(t, c)
	})
}

func TestSetFrequency(t *testing.T) {
	e := startEmulator(t, threeStations())
	c := connect(t, e, "interface_1")

	t.Run("Status Reply", func(t *testing.T) {
		require.NoError(t, c.SendRaw([]byte(`{"params":{"DIAL":14078000,"_ID":5},"type":"RIG.SET_FREQ","value":""}`+"\n")))
		reply, err := c.Next(time.Second)
		require.NoError(t, err)
		assert.Equal(t, protocol.TypeStationStatus, reply.Type)
		assert.Equal(t, int64(14078000), intParam(t, reply, protocol.ParamDial))
		assert.Equal(t, int64(14079500), intParam(t, reply, protocol.ParamFreq))
		assert.Equal(t, int64(1500), intParam(t, reply, protocol.ParamOffset))
		assert.Equal(t, "", reply.Params[protocol.ParamSelected])
		assert.Equal(t, json.Number("1"), reply.Params[protocol.ParamSpeed])
		assert.Equal(t, protocol.StatusID(fixedTime), reply.ID())

		f, err := c.GetFrequency()
		require.NoError(t, err)
		assert.Equal(t, int64(14078000), f.Dial)
	})

	t.Run("String Dial", func(t *testing.T) {
		f, err := sendDial(c, `"7074000"`)
		require.NoError(t, err)
		assert.Equal(t, int64(7074000), f.Dial)
	})

	t.Run("Invalid Dial Is Ignored", func(t *testing.T) {
		before, err := c.GetFrequency()
		require.NoError(t, err)

		for _, dial := range []string{`"abc"`, `7078000.5`, `null`, `{"hz":1}`} {
			require.NoError(t, c.SendRaw([]byte(`{"params":{"DIAL":`+dial+`},"type":"RIG.SET_FREQ"}`+"\n")))
		}

		// the next reply must be the RIG.FREQ, not a STATION.STATUS
		require.NoError(t, c.Send(protocol.Message{Type: protocol.TypeGetFreq, Params: map[string]interface{}{"_ID": 1}}))
		reply, err := c.Next(time.Second)
		require.NoError(t, err)
		assert.Equal(t, protocol.TypeFreq, reply.Type)
		assert.Equal(t, before.Dial, intParam(t, reply, protocol.ParamDial))
	})
}

func sendDial(c *client.Client, dial string) (client.Frequency, error) {
	if err := c.SendRaw([]byte(`{"params":{"DIAL":` + dial + `},"type":"RIG.SET_FREQ"}` + "\n")); err != nil {
		return client.Frequency{}, err
	}
	reply, err := c.WaitFor(protocol.TypeStationStatus, time.Second)
	if err != nil {
		return client.Frequency{}, err
	}
	return client.ParseFrequency(reply)
}

func TestLineHandling(t *testing.T) {
	e := startEmulator(t, threeStations())
	c := connect(t, e, "interface_1")

	t.Run("Malformed Lines Keep Connection", func(t *testing.T) {
		require.NoError(t, c.SendRaw([]byte("not json\n\n[1,2]\n{\"type\":\n   \n")))
		callsign, err := c.GetCallsign()
		require.NoError(t, err)
		assert.Equal(t, "N0CALL", callsign)
	})

	t.Run("Split Across Writes", func(t *testing.T) {
		line := []byte(`{"params":{"_ID":"split"},"type":"STATION.GET_CALLSIGN","value":""}` + "\n")
		require.NoError(t, c.SendRaw(line[:10]))
		time.Sleep(50 * time.Millisecond)
		require.NoError(t, c.SendRaw(line[10:]))

		reply, err := c.Next(time.Second)
		require.NoError(t, err)
		assert.Equal(t, "split", reply.ID())
	})

	t.Run("Several Lines In One Write", func(t *testing.T) {
		require.NoError(t, c.SendRaw([]byte(
			`{"params":{"_ID":"a"},"type":"STATION.GET_CALLSIGN"}`+"\n"+
				`{"params":{"_ID":"b"},"type":"RIG.GET_FREQ"}`+"\n")))

		first, err := c.Next(time.Second)
		require.NoError(t, err)
		second, err := c.Next(time.Second)
		require.NoError(t, err)
		assert.Equal(t, "a", first.ID())
		assert.Equal(t, protocol.TypeFreq, second.Type)
		assert.Equal(t, "b", second.ID())
	})
}

func TestSingleConnection(t *testing.T) {
	e := startEmulator(t, threeStations())
	first := connect(t, e, "interface_1")

	t.Run("Second Client Rejected", func(t *testing.T) {
		second, err := client.Dial(addr(t, e, "interface_1"), time.Second)
		require.NoError(t, err)
		defer second.Close()

		_, err = second.Next(time.Second)
		assert.Error(t, err)

		callsign, err := first.GetCallsign()
		require.NoError(t, err)
		assert.Equal(t, "N0CALL", callsign)
	})

	t.Run("Reconnect After Disconnect", func(t *testing.T) {
		require.NoError(t, first.Close())

		assert.Eventually(t, func() bool {
			c, err := client.Dial(addr(t, e, "interface_1"), time.Second)
			if err != nil {
				return false
			}
			callsign, err := c.GetCallsign()
			if err != nil {
				c.Close()
				return false
			}
			defer c.Close()
			return callsign == "N0CALL"
		}, 3*time.Second, 50*time.Millisecond)
	})
}

func TestTransmission(t *testing.T) {
	t.Run("Fragments Then Directed And Spot", func(t *testing.T) {
		e := startEmulator(t, threeStations())
		sender := connect(t, e, "interface_1")
		recipient := connect(t, e, "interface_2")
		elsewhere := connect(t, e, "interface_3")

		require.NoError(t, sender.SendMessage("hi"))

		var fragments []string
		for i := 0; i < 3; i++ {
			msg, err := recipient.Next(time.Second)
			require.NoError(t, err)
			require.Equal(t, protocol.TypeRXActivity, msg.Type)
			fragments = append(fragments, msg.Value.(string))

			assert.Equal(t, int64(forty), intParam(t, msg, protocol.ParamDial))
			assert.Equal(t, int64(forty+1500), intParam(t, msg, protocol.ParamFreq))
			assert.Equal(t, int64(-7), intParam(t, msg, protocol.ParamSNR))
			assert.Equal(t, json.Number("0.5"), msg.Params[protocol.ParamTDrift])
			assert.Equal(t, protocol.UTCStamp(fixedTime), intParam(t, msg, protocol.ParamUTC))
			assert.Equal(t, int64(protocol.RXID), intParam(t, msg, protocol.ParamID))
		}
		assert.Equal(t, []string{"N0CA", "LL: ", "hi"}, fragments)

		directed, err := recipient.Next(time.Second)
		require.NoError(t, err)
		require.Equal(t, protocol.TypeRXDirected, directed.Type)
		assert.Equal(t, "N0CALL: hi ♢ ", directed.Value)
		assert.Equal(t, "N0CALL: hi ♢ ", directed.Params[protocol.ParamText])
		assert.Equal(t, "N0CALL", directed.Params[protocol.ParamFrom])
		assert.Equal(t, "hi", directed.Params[protocol.ParamTo])
		assert.Equal(t, " ", directed.Params[protocol.ParamCmd])

		spot, err := recipient.Next(time.Second)
		require.NoError(t, err)
		require.Equal(t, protocol.TypeRXSpot, spot.Type)
		assert.Equal(t, "N0CALL", spot.Params[protocol.ParamCall])
		assert.Equal(t, "FN42", spot.Params[protocol.ParamGrid])
		assert.Equal(t, intParam(t, directed, protocol.ParamSNR), intParam(t, spot, protocol.ParamSNR))

		assertSilent(t, sender)
		assertSilent(t, elsewhere)
	})

	t.Run("Prefix Is Not Doubled", func(t *testing.T) {
		e := startEmulator(t, threeStations())
		sender := connect(t, e, "interface_1")
		recipient := connect(t, e, "interface_2")

		require.NoError(t, sender.SendMessage("N0CALL: hi"))
		directed, err := recipient.WaitFor(protocol.TypeRXDirected, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "N0CALL: hi ♢ ", directed.Value)
	})

	t.Run("Original Directed Text", func(t *testing.T) {
		cfg := threeStations()
		cfg.General.DirectedText = config.DirectedTextOriginal
		e := startEmulator(t, cfg)
		sender := connect(t, e, "interface_1")
		recipient := connect(t, e, "interface_2")

		require.NoError(t, sender.SendMessage("K1ABC hello"))
		directed, err := recipient.WaitFor(protocol.TypeRXDirected, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "K1ABC hello ♢ ", directed.Value)
		assert.Equal(t, "hello", directed.Params[protocol.ParamTo])
	})

	t.Run("Non String Payload", func(t *testing.T) {
		e := startEmulator(t, threeStations())
		sender := connect(t, e, "interface_1")
		recipient := connect(t, e, "interface_2")

		require.NoError(t, sender.SendRaw([]byte(`{"params":{},"type":"TX.SEND_MESSAGE","value":42}`+"\n")))
		directed, err := recipient.WaitFor(protocol.TypeRXDirected, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "N0CALL: 42 ♢ ", directed.Value)
	})

	t.Run("Retuned Station Stops Receiving", func(t *testing.T) {
		e := startEmulator(t, threeStations())
		sender := connect(t, e, "interface_1")
		recipient := connect(t, e, "interface_2")
		other := connect(t, e, "interface_3")

		_, err := recipient.SetFrequency(twenty)
		require.NoError(t, err)

		require.NoError(t, sender.SendMessage("anyone"))
		assertSilent(t, recipient)
		assertSilent(t, other)

		_, err = sender.SetFrequency(twenty)
		require.NoError(t, err)
		require.NoError(t, sender.SendMessage("qsy"))

		for _, c := range []*client.Client{recipient, other} {
			directed, err := c.WaitFor(protocol.TypeRXDirected, time.Second)
			require.NoError(t, err)
			assert.Equal(t, int64(twenty), intParam(t, directed, protocol.ParamDial))
		}
	})

	t.Run("Retune During Transmission Keeps Recipient", func(t *testing.T) {
		cfg := threeStations()
		cfg.General.FrameTime = 0.2
		e := startEmulator(t, cfg)
		sender := connect(t, e, "interface_1")
		recipient := connect(t, e, "interface_2")

		require.NoError(t, sender.SendMessage("hi"))

		first, err := recipient.Next(time.Second)
		require.NoError(t, err)
		require.Equal(t, protocol.TypeRXActivity, first.Type)
		assert.Equal(t, "N0CA", first.Value)

		require.NoError(t, recipient.Send(protocol.Message{
			Type:   protocol.TypeSetFreq,
			Params: map[string]interface{}{protocol.ParamDial: twenty},
			Value:  "",
		}))

		var activity []protocol.Message
		var directed, spot protocol.Message
		statusSeen := false
		for spot.Type == "" {
			msg, err := recipient.Next(2 * time.Second)
			require.NoError(t, err)
			switch msg.Type {
			case protocol.TypeStationStatus:
				statusSeen = true
			case protocol.TypeRXActivity:
				activity = append(activity, msg)
			case protocol.TypeRXDirected:
				directed = msg
			case protocol.TypeRXSpot:
				spot = msg
			}
		}

		assert.True(t, statusSeen)
		require.Len(t, activity, 2)
		assert.Equal(t, "LL: ", activity[0].Value)
		assert.Equal(t, "hi", activity[1].Value)
		for _, msg := range activity {
			assert.Equal(t, int64(twenty), intParam(t, msg, protocol.ParamDial))
		}
		require.Equal(t, protocol.TypeRXDirected, directed.Type)
		assert.Equal(t, "N0CALL: hi ♢ ", directed.Value)
		assert.Equal(t, int64(twenty), intParam(t, directed, protocol.ParamDial))
		assert.Equal(t, int64(twenty+1500), intParam(t, spot, protocol.ParamFreq))
	})

	t.Run("Logs Carry Transmission Fields", func(t *testing.T) {
		logs := captureLogs(t)
		e := startEmulator(t, threeStations())
		sender := connect(t, e, "interface_1")
		recipient := connect(t, e, "interface_2")

		require.NoError(t, sender.SendMessage("hi"))
		_, err := recipient.WaitFor(protocol.TypeRXSpot, time.Second)
		require.NoError(t, err)

		assert.Eventually(t, func() bool {
			return strings.Contains(logs.String(), "interface_1 TX delivered [callsign=N0CALL tx=")
		}, time.Second, 10*time.Millisecond)
		assert.Contains(t, logs.String(), `interface_1 TX "N0CALL: hi" to 1 station(s) in 3 fragment(s) [callsign=N0CALL tx=`)
	})

	t.Run("Disconnected Station Excluded", func(t *testing.T) {
		var frames []station.Frame
		var mu sync.Mutex
		e := startEmulator(t, threeStations(), WithMonitor(MonitorFunc(func(f station.Frame) {
			mu.Lock()
			defer mu.Unlock()
			if f.Message.Type != protocol.TypeGetCallsign && f.Message.Type != protocol.TypeCallsign {
				frames = append(frames, f)
			}
		})))
		sender := connect(t, e, "interface_1")

		require.NoError(t, sender.SendMessage("hello?"))
		time.Sleep(100 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		for _, f := range frames {
			assert.NotEqual(t, station.Outbound, f.Direction, "unexpected %s", f.Message.Type)
		}
	})

	t.Run("Close Aborts Pending Transmission", func(t *testing.T) {
		cfg := threeStations()
		cfg.General.FrameTime = 30
		e := startEmulator(t, cfg)
		sender := connect(t, e, "interface_1")
		recipient := connect(t, e, "interface_2")

		require.NoError(t, sender.SendMessage("slow"))
		assert.Eventually(t, func() bool { return e.ActiveTransmissions() == 1 }, time.Second, 10*time.Millisecond)

		start := time.Now()
		require.NoError(t, e.Close())
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Equal(t, 0, e.ActiveTransmissions())

		_, err := recipient.Next(time.Second)
		assert.Error(t, err)
	})
}

func TestStalledClient(t *testing.T) {
	cfg := threeStations()
	cfg.Interfaces[0].Callsign = strings.Repeat("N", 60000)
	e := startEmulator(t, cfg, WithWriteTimeout(200*time.Millisecond))

	// a client that sends requests and never reads the replies
	stalled, err := net.Dial("tcp", addr(t, e, "interface_1"))
	require.NoError(t, err)
	defer stalled.Close()

	request := []byte(`{"params":{},"type":"STATION.GET_CALLSIGN","value":""}` + "\n")
	go func() {
		stalled.SetWriteDeadline(time.Now().Add(5 * time.Second))
		for i := 0; i < 2000; i++ {
			if _, err := stalled.Write(request); err != nil {
				return
			}
		}
	}()

	iface1, _ := e.Interface("interface_1")
	time.Sleep(500 * time.Millisecond)

	start := time.Now()
	c, err := client.Dial(addr(t, e, "interface_2"), time.Second)
	require.NoError(t, err)
	defer c.Close()
	callsign, err := c.GetCallsign()
	require.NoError(t, err, "interface_2 not served while interface_1 stalls")
	assert.Equal(t, "K1ABC", callsign)
	assert.Less(t, time.Since(start), 3*time.Second)

	assert.Eventually(t, func() bool { return !iface1.Connected() }, 3*time.Second, 20*time.Millisecond)
}

func TestControlPlane(t *testing.T) {
	e := startEmulator(t, threeStations())
	recipient := connect(t, e, "interface_2")
	ctx := context.Background()

	t.Run("Set Frequency", func(t *testing.T) {
		require.NoError(t, e.SetFrequency(ctx, "interface_2", twenty))
		status, err := recipient.WaitFor(protocol.TypeStationStatus, time.Second)
		require.NoError(t, err)
		assert.Equal(t, int64(twenty), intParam(t, status, protocol.ParamDial))

		require.NoError(t, e.SetFrequency(ctx, "interface_2", forty))
		_, err = recipient.WaitFor(protocol.TypeStationStatus, time.Second)
		require.NoError(t, err)
	})

	t.Run("Transmit", func(t *testing.T) {
		require.NoError(t, e.Transmit(ctx, "interface_1", "K1ABC test"))
		directed, err := recipient.WaitFor(protocol.TypeRXDirected, time.Second)
		require.NoError(t, err)
		assert.Equal(t, "N0CALL: K1ABC test ♢ ", directed.Value)
		assert.Equal(t, "K1ABC", directed.Params[protocol.ParamTo])
	})

	t.Run("Unknown Interface", func(t *testing.T) {
		assert.ErrorIs(t, e.SetFrequency(ctx, "interface_9", forty), ErrUnknownInterface)
		assert.ErrorIs(t, e.Transmit(ctx, "interface_9", "x"), ErrUnknownInterface)
		assert.Error(t, e.SetFrequency(ctx, "interface_1", 0))
	})

	t.Run("Snapshot", func(t *testing.T) {
		snapshot := e.Snapshot()
		require.Len(t, snapshot, 3)
		assert.Equal(t, "interface_1", snapshot[0].Name)
		assert.False(t, snapshot[0].Connected)
		assert.True(t, snapshot[1].Connected)
		assert.NotEmpty(t, snapshot[1].Peer)
		assert.Equal(t, int64(forty+1500), snapshot[1].Frequency)
	})

	t.Run("After Close", func(t *testing.T) {
		require.NoError(t, e.Close())
		assert.ErrorIs(t, e.Transmit(ctx, "interface_1", "x"), ErrClosed)
	})
}

func TestMonitor(t *testing.T) {
	var mu sync.Mutex
	var frames []station.Frame
	e := startEmulator(t, threeStations(), WithMonitor(MonitorFunc(func(f station.Frame) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, f)
	})))
	connect(t, e, "interface_1")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, frames, 2)
	assert.Equal(t, station.Inbound, frames[0].Direction)
	assert.Equal(t, protocol.TypeGetCallsign, frames[0].Message.Type)
	assert.Equal(t, station.Outbound, frames[1].Direction)
	assert.Equal(t, protocol.TypeCallsign, frames[1].Message.Type)
	assert.Equal(t, "N0CALL", frames[1].Callsign)
	assert.Equal(t, fixedTime, frames[1].Time)
}

func TestLifecycle(t *testing.T) {
	t.Run("Run Before Start", func(t *testing.T) {
		e := NewEmulator(threeStations())
		assert.ErrorIs(t, e.Run(context.Background()), ErrNotStarted)
		require.NoError(t, e.Close())
	})

	t.Run("Bind Failure Releases Listeners", func(t *testing.T) {
		busy, err := net.Listen("tcp", ListenHost+":0")
		require.NoError(t, err)
		defer busy.Close()

		cfg := threeStations()
		cfg.Interfaces[2].Port = busy.Addr().(*net.TCPAddr).Port

		e := NewEmulator(cfg)
		err = e.Start()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "interface_3")

		first, _ := e.Interface("interface_1")
		_, err = first.Listener.Accept()
		assert.Error(t, err)
		require.NoError(t, e.Close())
	})

	t.Run("Close Twice", func(t *testing.T) {
		e := startEmulator(t, threeStations())
		connect(t, e, "interface_1")
		require.NoError(t, e.Close())
		require.NoError(t, e.Close())
	})
}

func TestParseDial(t *testing.T) {
	tests := []struct {
		name    string
		raw     interface{}
		want    int64
		wantErr bool
	}{
		{"Integer", json.Number("7078000"), 7078000, false},
		{"Integral Float", json.Number("7078000.0"), 7078000, false},
		{"Exponent", json.Number("7.078e6"), 7078000, false},
		{"String", " 14078000 ", 14078000, false},
		{"Native Int", 3573000, 3573000, false},
		{"Fractional", json.Number("7078000.5"), 0, true},
		{"Word", "abc", 0, true},
		{"Missing", nil, 0, true},
		{"Bool", true, 0, true},
		{"Object", map[string]interface{}{}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDial(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRandomizer(t *testing.T) {
	r := NewRandomizer(1)
	for i := 0; i < 1000; i++ {
		snr := r.SNR()
		assert.True(t, snr >= -20 && snr <= 20, "snr %d out of range", snr)
		drift := r.TimeDrift()
		assert.True(t, drift >= -2 && drift <= 2, "drift %f out of range", drift)
	}
}
