// Package mqtt publishes observation records to an mqtt broker.
package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqttlib "github.com/eclipse/paho.mqtt.golang"
	"github.com/womat/debug"
)

// quiesce is the specified number of milliseconds to wait for existing work to be completed.
const (
	quiesce = 250
)

// Handler contains the handler of the mqtt broker.
type Handler struct {
	client mqttlib.Client
	// C is the channel to service the mqtt message
	// sending a message to channel C will send the message.
	C chan Message
}

// Message contains the properties of the mqtt message.
type Message struct {
	Topic    string
	Payload  []byte
	Qos      byte
	Retained bool
}

// New generate a new mqtt broker client.
func New() *Handler {
	return &Handler{
		C: make(chan Message),
	}
}

// Connect connects to the mqtt broker.
// If no broker is defined, no mqtt message are send.
func (m *Handler) Connect(broker, clientID string) error {
	if broker == "" {
		return nil
	}

	opts := mqttlib.NewClientOptions().AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(_ mqttlib.Client) {
		debug.InfoLog.Printf("mqtt connected to %s", broker)
	})
	opts.SetConnectionLostHandler(func(_ mqttlib.Client, err error) {
		debug.ErrorLog.Printf("mqtt connection lost: %v", err)
	})

	m.client = mqttlib.NewClient(opts)
	return m.ReConnect()
}

// ReConnect reconnects to the defined mqtt broker.
func (m *Handler) ReConnect() error {
	t := m.client.Connect()
	<-t.Done()
	return t.Error()
}

// Disconnect will end the connection to the broker.
func (m *Handler) Disconnect() error {
	if m.client == nil {
		return nil
	}

	m.client.Disconnect(quiesce)
	return nil
}

// Send marshals v as JSON and queues it for topic.
func (m *Handler) Send(topic string, v interface{}, retained bool) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}

	debug.TraceLog.Printf("prepare mqtt message %s %s", topic, b)
	go func() {
		m.C <- Message{Topic: topic, Payload: b, Retained: retained}
	}()
	return nil
}

// Topic joins the configured base topic and the record kind.
func Topic(base, kind string) string {
	if base == "" {
		return ""
	}
	return strings.TrimSuffix(base, "/") + "/" + kind
}

// Service listen to a message on the channel C and send the message to mqtt.
// If no client or topic is defined, the message will be ignored.
func (m *Handler) Service() {
	for d := range m.C {
		if m.client == nil || d.Topic == "" {
			continue
		}

		go func(msg Message) {
			if !m.client.IsConnected() {
				debug.DebugLog.Printf("mqtt broker isn't connected, reconnect it")

				if err := m.ReConnect(); err != nil {
					debug.ErrorLog.Printf("can't reconnect to mqtt broker %v", err)
					return
				}
			}

			debug.DebugLog.Printf("publishing %v bytes to topic %v", len(msg.Payload), msg.Topic)
			t := m.client.Publish(msg.Topic, msg.Qos, msg.Retained, msg.Payload)

			go func() {
				<-t.Done()
				if err := t.Error(); err != nil {
					debug.ErrorLog.Printf("publishing topic %v: %v", msg.Topic, err)
				}
			}()
		}(d)
	}
}
