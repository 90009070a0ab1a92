package client

import (
	"bufio"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dougsko/js8emu/pkg/protocol"
)

// scriptedPeer answers each received line with the lines reply returns
func scriptedPeer(t *testing.T, reply func(protocol.Message) []string) (string, chan protocol.Message) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	received := make(chan protocol.Message, 16)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			msg, err := protocol.Decode(scanner.Bytes())
			if err != nil {
				continue
			}
			received <- msg
			for _, line := range reply(msg) {
				conn.Write([]byte(line + "\n"))
			}
		}
	}()
	return ln.Addr().String(), received
}

func TestRequests(t *testing.T) {
	addr, received := scriptedPeer(t, func(msg protocol.Message) []string {
		switch msg.Type {
		case protocol.TypeGetCallsign:
			return []string{
				`{"params":{},"type":"RX.ACTIVITY","value":"noise"}`,
				`{"params":{"_ID":1},"type":"STATION.CALLSIGN","value":"N0CALL"}`,
			}
		case protocol.TypeGetFreq:
			return []string{`{"params":{"DIAL":7078000,"FREQ":7079500,"OFFSET":1500,"_ID":2},"type":"RIG.FREQ","value":""}`}
		case protocol.TypeSetFreq:
			return []string{`{"params":{"DIAL":14078000,"FREQ":14079500,"OFFSET":1500},"type":"STATION.STATUS","value":""}`}
		}
		return nil
	})

	c, err := Dial(addr, time.Second)
	require.NoError(t, err)
	defer c.Close()

	t.Run("Callsign", func(t *testing.T) {
		callsign, err := c.GetCallsign()
		require.NoError(t, err)
		assert.Equal(t, "N0CALL", callsign)

		sent := <-received
		assert.Equal(t, json.Number("1"), sent.ID())
	})

	t.Run("Frequency", func(t *testing.T) {
		f, err := c.GetFrequency()
		require.NoError(t, err)
		assert.Equal(t, Frequency{Dial: 7078000, Freq: 7079500, Offset: 1500}, f)
		<-received
	})

	t.Run("Set Frequency", func(t *testing.T) {
		f, err := c.SetFrequency(14078000)
		require.NoError(t, err)
		assert.Equal(t, int64(14078000), f.Dial)

		sent := <-received
		assert.Equal(t, json.Number("14078000"), sent.Params[protocol.ParamDial])
	})

	t.Run("Send Message", func(t *testing.T) {
		require.NoError(t, c.SendMessage("K1ABC hi"))
		sent := <-received
		assert.Equal(t, protocol.TypeSendMessage, sent.Type)
		assert.Equal(t, "K1ABC hi", sent.Value)
	})
}

func TestWaitForTimeout(t *testing.T) {
	addr, _ := scriptedPeer(t, func(protocol.Message) []string { return nil })

	c, err := Dial(addr, 100*time.Millisecond)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.GetCallsign()
	assert.ErrorContains(t, err, "timed out waiting for STATION.CALLSIGN")
}

func TestDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	_, err = Dial(addr, 100*time.Millisecond)
	assert.Error(t, err)
}

func TestIntParam(t *testing.T) {
	msg := protocol.Message{Type: "T", Params: map[string]interface{}{
		"number": json.Number("42"),
		"string": "7",
		"float":  float64(3),
		"bool":   true,
	}}

	tests := []struct {
		key     string
		want    int64
		wantErr bool
	}{
		{"number", 42, false},
		{"string", 7, false},
		{"float", 3, false},
		{"bool", 0, true},
		{"missing", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			got, err := IntParam(msg, tt.key)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
