package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/sweeney/adc-pwm-pipeline/internal/pipeline"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// Options configure a RealPublisher.
type Options struct {
	Broker     string
	ClientID   string
	Topics     Topics
	BufferSize int
	Logger     zerolog.Logger

	// OnConnectionChange is called from paho's goroutines whenever the
	// connection comes up or drops.
	OnConnectionChange func(connected bool)
}

// RealPublisher publishes to an actual MQTT broker. While the broker is
// unreachable messages are held in a ring buffer and replayed in order on
// (re)connect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	log    zerolog.Logger
	onConn func(bool)

	mu            sync.Mutex
	connected     bool
	everConnected bool
	buf           *ringBuffer
}

func newRealPublisher(o Options) *RealPublisher {
	if o.Topics == (Topics{}) {
		o.Topics = NewTopics("")
	}
	return &RealPublisher{
		topics: o.Topics,
		log:    o.Logger,
		onConn: o.OnConnectionChange,
		buf:    newRingBuffer(o.BufferSize, o.Logger),
	}
}

// NewRealPublisher creates a publisher for the given broker. The broker
// need not be reachable yet: paho keeps retrying in the background and
// messages are buffered meanwhile. Only a refused connection is an error.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	p := newRealPublisher(o)

	// Retained LWT so subscribers see the pipeline went away uncleanly.
	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetBinaryWill(p.topics.System, will, 1, true).
		SetOnConnectHandler(func(paho.Client) { p.handleConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) { p.handleConnectionLost(err) })

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		p.log.Warn().Str("broker", o.Broker).Msg("mqtt broker not reachable yet, buffering until connected")
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// handleConnect replays buffered messages, then marks the connection up.
// Publishes arriving during the replay are buffered behind it.
func (p *RealPublisher) handleConnect() {
	p.mu.Lock()
	reconnect := p.everConnected
	p.everConnected = true
	p.mu.Unlock()

	replayed := 0
	for {
		p.mu.Lock()
		msgs := p.buf.drainAll()
		if len(msgs) == 0 {
			p.connected = true
			p.mu.Unlock()
			break
		}
		p.mu.Unlock()

		for i, m := range msgs {
			if err := p.send(m); err != nil {
				p.mu.Lock()
				for _, r := range msgs[i:] {
					p.buf.push(r)
				}
				p.mu.Unlock()
				p.log.Warn().Err(err).Int("pending", len(msgs)-i).Msg("mqtt replay interrupted")
				return
			}
			replayed++
		}
	}

	p.log.Info().Bool("reconnect", reconnect).Int("replayed", replayed).Msg("mqtt connected")
	if p.onConn != nil {
		p.onConn(true)
	}
	if reconnect {
		if err := p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"}); err != nil {
			p.log.Warn().Err(err).Msg("mqtt reconnected event failed")
		}
	}
}

func (p *RealPublisher) handleConnectionLost(err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()

	p.log.Warn().Err(err).Msg("mqtt connection lost, buffering until reconnect")
	if p.onConn != nil {
		p.onConn(false)
	}
}

// IsConnected reports whether messages are currently sent straight through.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Dropped returns how many buffered messages were displaced by newer ones
// since the publisher was created.
func (p *RealPublisher) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.dropped
}

// PublishSample sends a sample at QoS 0.
func (p *RealPublisher) PublishSample(s pipeline.Sample) error {
	payload, err := FormatSamplePayload(s)
	if err != nil {
		return fmt.Errorf("format sample payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.topics.Samples, payload: payload})
}

// PublishDuty sends a duty command at QoS 0.
func (p *RealPublisher) PublishDuty(cmd pipeline.DutyCommand, writeErr error) error {
	payload, err := FormatDutyPayload(cmd, writeErr)
	if err != nil {
		return fmt.Errorf("format duty payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.topics.Duty, payload: payload})
}

// PublishSystem sends a system lifecycle event at QoS 1.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(bufferedMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) publish(m bufferedMsg) error {
	p.mu.Lock()
	if !p.connected {
		p.buf.push(m)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	// Only an outage buffers. A failed send on a live connection is reported
	// to the caller and the message is not kept: nothing would replay it
	// until the next reconnect.
	return p.send(m)
}

func (p *RealPublisher) send(m bufferedMsg) error {
	token := p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Close disconnects from the broker. Messages still buffered are lost.
func (p *RealPublisher) Close() error {
	if n := p.Buffered(); n > 0 {
		p.log.Warn().Int("messages", n).Msg("mqtt closing with undelivered messages")
	}
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
