package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	bufferCapacity = 256
	publishTimeout = 5 * time.Second
)

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client      paho.Client
	statsTopic  string
	systemTopic string

	mu  sync.Mutex
	buf *ringBuffer
}

// NewRealPublisher creates a publisher for the meter on pin and starts
// connecting in the background. The broker being unreachable at startup is
// not an error; messages are buffered until it comes up.
func NewRealPublisher(broker, clientID string, pin int) *RealPublisher {
	p := &RealPublisher{
		statsTopic:  StatsTopic(pin),
		systemTopic: SystemTopic(pin),
		buf:         newRingBuffer(bufferCapacity),
	}

	will, _ := FormatSystemPayload(SystemEvent{Event: "OFFLINE"})
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(p.systemTopic, string(will), 1, true).
		SetOnConnectHandler(func(paho.Client) {
			log.Printf("mqtt: connected to %s", broker)
			go p.flush()
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	p.client.Connect()
	return p
}

// PublishStats sends a statistics update. QoS 0 (at-most-once), not retained.
func (p *RealPublisher) PublishStats(msg StatsMessage) error {
	payload, err := FormatPayload(msg)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.statsTopic, payload: payload})
}

// PublishSystem sends a system lifecycle event.
// QoS 1 (at-least-once) - we want to ensure delivery.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.systemTopic, payload: payload, qos: 1, retained: event.Retained})
}

// publish sends msg, or buffers it for replay when the broker is unreachable.
// A buffered message is owned by the buffer, so it is not reported as an
// error; callers would otherwise resend it ahead of the replay.
func (p *RealPublisher) publish(msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.enqueue(msg)
		return nil
	}
	if err := p.send(msg); err != nil {
		log.Printf("mqtt: %v, buffering for replay", err)
		p.enqueue(msg)
	}
	return nil
}

func (p *RealPublisher) enqueue(msg bufferedMsg) {
	p.mu.Lock()
	p.buf.push(msg)
	p.mu.Unlock()
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// flush replays buffered messages after a (re)connect.
func (p *RealPublisher) flush() {
	p.mu.Lock()
	msgs, dropped := p.buf.drainAll()
	p.mu.Unlock()

	if dropped > 0 {
		log.Printf("mqtt: %d buffered messages were dropped while offline", dropped)
	}
	for i, msg := range msgs {
		if err := p.send(msg); err != nil {
			log.Printf("mqtt: replay failed: %v", err)
			p.mu.Lock()
			for _, rest := range msgs[i:] {
				p.buf.push(rest)
			}
			p.mu.Unlock()
			return
		}
	}
	if len(msgs) > 0 {
		log.Printf("mqtt: replayed %d buffered messages", len(msgs))
	}
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// IsConnected reports whether the broker connection is currently up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker. Messages still buffered are lost.
func (p *RealPublisher) Close() error {
	if n := p.Buffered(); n > 0 {
		log.Printf("mqtt: discarding %d buffered messages on close", n)
	}
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
