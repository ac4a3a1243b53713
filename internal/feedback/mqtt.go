package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/kozaktomas/attendance-kiosk/internal/config"
	"github.com/kozaktomas/attendance-kiosk/internal/constants"
	"github.com/kozaktomas/attendance-kiosk/internal/logger"
	"github.com/kozaktomas/attendance-kiosk/internal/models"
)

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
)

type mqttMessage struct {
	topic    string
	payload  []byte
	retained bool
}

// MQTTPublisher publishes statuses to an MQTT broker. Render only queues;
// a background worker does the publishing so the caller never waits on the
// network.
type MQTTPublisher struct {
	client mqtt.Client
	prefix string
	qos    byte

	queue     chan mqttMessage
	wg        sync.WaitGroup
	closeOnce sync.Once

	published atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64
}

// MQTTStats are publisher counters.
type MQTTStats struct {
	Connected bool
	Published uint64
	Dropped   uint64
	Errors    uint64
}

// NewMQTTPublisher creates a publisher for the configured broker. Call
// Connect, then Start.
func NewMQTTPublisher(cfg config.MQTTConfig) *MQTTPublisher {
	log := logger.Component("mqtt").WithField("broker", cfg.Broker)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		log.Info("mqtt connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("mqtt connection lost, will auto-reconnect")
	}

	return newMQTTPublisher(mqtt.NewClient(opts), cfg.TopicPrefix, cfg.QoS)
}

func newMQTTPublisher(client mqtt.Client, prefix string, qos byte) *MQTTPublisher {
	return &MQTTPublisher{
		client: client,
		prefix: prefix,
		qos:    qos,
		queue:  make(chan mqttMessage, constants.MQTTQueueSize),
	}
}

// Connect waits for the first connection. With connect-retry enabled the
// client keeps trying in the background after a timeout.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	token := p.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(mqttConnectTimeout):
		return errors.New("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}
	return nil
}

// Start launches the publishing worker.
func (p *MQTTPublisher) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for msg := range p.queue {
			p.publish(msg)
		}
	}()
}

// Render queues the status on <prefix>/status and, for verifications, on
// <prefix>/verified. Messages are dropped when the queue is full.
func (p *MQTTPublisher) Render(status models.Status) {
	payload, err := json.Marshal(status)
	if err != nil {
		p.errors.Add(1)
		logger.Component("mqtt").WithError(err).Warn("could not marshal status")
		return
	}

	p.enqueue(mqttMessage{topic: p.topic("status"), payload: payload, retained: true})
	if status.State == models.StateVerified {
		p.enqueue(mqttMessage{topic: p.topic("verified"), payload: payload})
	}
}

func (p *MQTTPublisher) enqueue(msg mqttMessage) {
	select {
	case p.queue <- msg:
	default:
		p.dropped.Add(1)
	}
}

func (p *MQTTPublisher) publish(msg mqttMessage) {
	log := logger.Component("mqtt").WithField("topic", msg.topic)
	if !p.client.IsConnected() {
		p.dropped.Add(1)
		log.Debug("mqtt not connected, dropping message")
		return
	}

	token := p.client.Publish(msg.topic, p.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		p.errors.Add(1)
		log.Warn("mqtt publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		p.errors.Add(1)
		log.WithError(err).Warn("mqtt publish failed")
		return
	}
	p.published.Add(1)
}

func (p *MQTTPublisher) topic(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "/" + name
}

// Close drains the queue and disconnects. Render must not be called after Close.
func (p *MQTTPublisher) Close() {
	p.closeOnce.Do(func() {
		close(p.queue)
		p.wg.Wait()
		if p.client.IsConnected() {
			p.client.Disconnect(250)
			logger.Component("mqtt").Info("mqtt disconnected")
		}
	})
}

// Stats returns publisher counters.
func (p *MQTTPublisher) Stats() MQTTStats {
	return MQTTStats{
		Connected: p.client.IsConnected(),
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		Errors:    p.errors.Load(),
	}
}
