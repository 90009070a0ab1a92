// Package client is a minimal JS8Call TCP API client. It speaks the same
// JSON-line protocol as JS8Call, so it works against the emulator and a real
// JS8Call instance alike.
package client

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dougsko/js8emu/pkg/protocol"
)

// DefaultTimeout applies to dialing and to request/reply round trips
const DefaultTimeout = 5 * time.Second

// Frequency is the tuning reported by RIG.FREQ or STATION.STATUS
type Frequency struct {
	Dial   int64 `json:"dial"`
	Freq   int64 `json:"freq"`
	Offset int64 `json:"offset"`
}

// Client is one connection to a JS8Call API port. Sends are safe for
// concurrent use; receives must come from a single goroutine.
type Client struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration

	writeMu sync.Mutex
	nextID  atomic.Int64
}

// Dial connects to addr
func Dial(addr string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	return &Client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: timeout,
	}, nil
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send writes msg as one line
func (c *Client) Send(msg protocol.Message) error {
	line, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return c.SendRaw(line)
}

// SendRaw writes raw bytes unchanged
func (c *Client) SendRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("send error: %w", err)
	}
	return nil
}

// Next reads the next message, waiting at most timeout
func (c *Client) Next(timeout time.Duration) (protocol.Message, error) {
	c.conn.SetReadDeadline(time.Now().Add(timeout))
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return protocol.Message{}, fmt.Errorf("read error: %w", err)
	}
	return protocol.Decode(line[:len(line)-1])
}

// WaitFor reads until a message of msgType arrives, discarding others
func (c *Client) WaitFor(msgType string, timeout time.Duration) (protocol.Message, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return protocol.Message{}, fmt.Errorf("timed out waiting for %s", msgType)
		}
		msg, err := c.Next(remaining)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return protocol.Message{}, fmt.Errorf("timed out waiting for %s", msgType)
			}
			return protocol.Message{}, err
		}
		if msg.Type == msgType {
			return msg, nil
		}
	}
}

func (c *Client) request(msg protocol.Message, replyType string) (protocol.Message, error) {
	if msg.Params == nil {
		msg.Params = map[string]interface{}{}
	}
	if _, ok := msg.Params[protocol.ParamID]; !ok {
		msg.Params[protocol.ParamID] = c.nextID.Add(1)
	}
	if err := c.Send(msg); err != nil {
		return protocol.Message{}, err
	}
	return c.WaitFor(replyType, c.timeout)
}

// GetCallsign asks for the station callsign
func (c *Client) GetCallsign() (string, error) {
	reply, err := c.request(protocol.Message{Type: protocol.TypeGetCallsign, Value: ""}, protocol.TypeCallsign)
	if err != nil {
		return "", err
	}
	callsign, _ := reply.Value.(string)
	return callsign, nil
}

// GetFrequency asks for the current tuning
func (c *Client) GetFrequency() (Frequency, error) {
	reply, err := c.request(protocol.Message{Type: protocol.TypeGetFreq, Value: ""}, protocol.TypeFreq)
	if err != nil {
		return Frequency{}, err
	}
	return ParseFrequency(reply)
}

// SetFrequency changes the dial frequency and returns the reported status
func (c *Client) SetFrequency(dial int64) (Frequency, error) {
	msg := protocol.Message{
		Type:   protocol.TypeSetFreq,
		Params: map[string]interface{}{protocol.ParamDial: dial},
		Value:  "",
	}
	if err := c.Send(msg); err != nil {
		return Frequency{}, err
	}
	reply, err := c.WaitFor(protocol.TypeStationStatus, c.timeout)
	if err != nil {
		return Frequency{}, err
	}
	return ParseFrequency(reply)
}

// SendMessage transmits text. Delivery is asynchronous and unacknowledged.
func (c *Client) SendMessage(text string) error {
	return c.Send(protocol.Message{Type: protocol.TypeSendMessage, Value: text})
}

// ParseFrequency extracts DIAL, FREQ and OFFSET from a message
func ParseFrequency(msg protocol.Message) (Frequency, error) {
	var f Frequency
	var err error
	if f.Dial, err = IntParam(msg, protocol.ParamDial); err != nil {
		return Frequency{}, err
	}
	if f.Freq, err = IntParam(msg, protocol.ParamFreq); err != nil {
		return Frequency{}, err
	}
	if f.Offset, err = IntParam(msg, protocol.ParamOffset); err != nil {
		return Frequency{}, err
	}
	return f, nil
}

// IntParam returns an integer parameter of msg
func IntParam(msg protocol.Message, key string) (int64, error) {
	raw, ok := msg.Param(key)
	if !ok {
		return 0, fmt.Errorf("%s: missing %s", msg.Type, key)
	}
	switch v := raw.(type) {
	case json.Number:
		return v.Int64()
	case string:
		return strconv.ParseInt(v, 10, 64)
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("%s: %s has type %T", msg.Type, key, raw)
	}
}
