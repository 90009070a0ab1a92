// Package spots publishes every delivered RX.SPOT to an MQTT broker.
package spots

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/dougsko/js8emu/pkg/config"
	"github.com/dougsko/js8emu/pkg/logging"
	"github.com/dougsko/js8emu/pkg/protocol"
	"github.com/dougsko/js8emu/pkg/station"
)

const publishTimeout = 5 * time.Second

// SpotMessage is the JSON body published for one spot
type SpotMessage struct {
	Interface    string    `json:"interface"`
	Receiver     string    `json:"receiver"`
	Callsign     string    `json:"callsign"`
	Grid         string    `json:"grid"`
	SNR          int64     `json:"snr"`
	Dial         int64     `json:"dial"`
	Frequency    int64     `json:"frequency"`
	Offset       int64     `json:"offset"`
	Timestamp    time.Time `json:"timestamp"`
	Transmission string    `json:"transmission,omitempty"`
}

// broker is the part of mqtt.Client the publisher uses
type broker interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher forwards RX.SPOT frames to MQTT
type Publisher struct {
	client broker
	topic  string
}

// NewPublisher connects to the configured broker. It returns nil, nil when
// MQTT is disabled.
func NewPublisher(cfg *config.Config) (*Publisher, error) {
	mc := cfg.MQTT
	if !mc.Enabled {
		return nil, nil
	}

	clientID := mc.ClientID
	if clientID == "" {
		clientID = "js8emu-" + uuid.New().String()[:8]
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(mc.Broker)
	opts.SetClientID(clientID)
	if mc.Username != "" {
		opts.SetUsername(mc.Username)
	}
	if mc.Password != "" {
		opts.SetPassword(mc.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(mqtt.Client) {
		logging.Infof("mqtt", "Connected to broker %s", mc.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logging.Warnf("mqtt", "Connection lost: %v", err)
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		logging.Info("mqtt", "Attempting to reconnect...")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		logging.Warnf("mqtt", "Broker %s not reachable yet, retrying in background", mc.Broker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	return newPublisher(client, mc.Topic), nil
}

func newPublisher(client broker, topic string) *Publisher {
	return &Publisher{
		client: client,
		topic:  strings.TrimSuffix(topic, "/"),
	}
}

// OnFrame publishes outbound RX.SPOT frames and ignores everything else. It
// never waits on the broker.
func (p *Publisher) OnFrame(f station.Frame) {
	if p == nil || f.Direction != station.Outbound || f.Message.Type != protocol.TypeRXSpot {
		return
	}
	if !p.client.IsConnected() {
		logging.Debug("mqtt", "not connected, spot dropped")
		return
	}

	msg := BuildSpot(f)
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Warnf("mqtt", "failed to marshal spot: %v", err)
		return
	}

	topic := p.Topic(msg)
	token := p.client.Publish(topic, 0, false, data)
	go func() {
		if token.WaitTimeout(publishTimeout) && token.Error() != nil {
			logging.Warnf("mqtt", "failed to publish to %s: %v", topic, token.Error())
		}
	}()
}

// Topic returns the topic for a spot: <prefix>/<receiver>/<callsign>
func (p *Publisher) Topic(msg SpotMessage) string {
	return fmt.Sprintf("%s/%s/%s", p.topic, msg.Receiver, msg.Callsign)
}

// BuildSpot converts an RX.SPOT frame into its published form
func BuildSpot(f station.Frame) SpotMessage {
	msg := f.Message
	return SpotMessage{
		Interface:    f.Interface,
		Receiver:     f.Callsign,
		Callsign:     stringParam(msg, protocol.ParamCall),
		Grid:         stringParam(msg, protocol.ParamGrid),
		SNR:          intParam(msg, protocol.ParamSNR),
		Dial:         intParam(msg, protocol.ParamDial),
		Frequency:    intParam(msg, protocol.ParamFreq),
		Offset:       intParam(msg, protocol.ParamOffset),
		Timestamp:    f.Time.UTC(),
		Transmission: f.Transmission,
	}
}

// Close disconnects from the broker
func (p *Publisher) Close() {
	if p == nil || p.client == nil {
		return
	}
	if p.client.IsConnected() {
		p.client.Disconnect(250)
		logging.Info("mqtt", "Disconnected from broker")
	}
}

func stringParam(msg protocol.Message, key string) string {
	v, _ := msg.Param(key)
	s, _ := v.(string)
	return s
}

func intParam(msg protocol.Message, key string) int64 {
	v, _ := msg.Param(key)
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case json.Number:
		i, _ := n.Int64()
		return i
	}
	return 0
}
