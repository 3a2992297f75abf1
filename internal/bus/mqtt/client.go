// Package mqtt connects the decision pipeline to an MQTT broker.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Portunus/gateway/internal/bus"
)

var _ bus.Publisher = (*Client)(nil)

// ErrPublishTimeout is returned when the broker does not accept a publish
// within Config.PublishTimeout.
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// ErrNotSubscribed is returned by Ping while the link is up but the request
// subscription has not been acknowledged.
var ErrNotSubscribed = errors.New("mqtt request topic not subscribed")

// newPahoClient is swapped out in tests.
var newPahoClient = paho.NewClient

type Config struct {
	Broker       string // e.g. "tcp://192.168.1.15:1883"
	ClientID     string // random "portunus-gateway-xxxxxxxx" when empty
	RequestTopic string
	QoS          byte

	// PublishTimeout bounds how long Publish and Subscribe wait for the broker.
	PublishTimeout time.Duration

	// SubscribeRetry is the pause between attempts after a failed subscribe.
	SubscribeRetry time.Duration

	// Workers is how many inbound messages are processed at once.
	Workers int

	// QueueSize is the number of deliveries buffered ahead of the workers.
	// When full, the paho delivery goroutine blocks.
	QueueSize int
}

// Client subscribes to the request topic, fans deliveries out to a pool of
// workers and publishes responses.  The broker link reconnects on its own
// and the subscription is restored on every (re)connect.
type Client struct {
	cfg    Config
	logger *slog.Logger
	client paho.Client

	queue      chan []byte
	stopping   chan struct{}
	mu         sync.RWMutex
	closed     bool
	workers    sync.WaitGroup
	subscribed atomic.Bool
}

func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.ClientID == "" {
		cfg.ClientID = "portunus-gateway-" + uuid.NewString()[:8]
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.SubscribeRetry <= 0 {
		cfg.SubscribeRetry = 5 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 16
	}

	c := &Client{
		cfg:      cfg,
		logger:   logger.With(slog.String("broker", cfg.Broker), slog.String("client_id", cfg.ClientID)),
		queue:    make(chan []byte, cfg.QueueSize),
		stopping: make(chan struct{}),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.subscribed.Store(false)
			c.logger.Warn("mqtt connection lost", slog.String("error", err.Error()))
		}).
		SetReconnectingHandler(func(paho.Client, *paho.ClientOptions) {
			c.logger.Info("mqtt reconnecting")
		})

	c.client = newPahoClient(opts)
	return c
}

// Run connects to the broker and feeds every request delivery to h until ctx
// is cancelled.  Messages already queued when ctx ends are still processed
// before Run returns.
func (c *Client) Run(ctx context.Context, h bus.Handler) error {
	for i := 0; i < c.cfg.Workers; i++ {
		c.workers.Add(1)
		go c.work(ctx, h)
	}
	defer c.shutdown()

	c.logger.Info("mqtt connecting", slog.String("topic", c.cfg.RequestTopic))
	tok := c.client.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt connect %s: %w", c.cfg.Broker, err)
		}
	case <-ctx.Done():
		return nil
	}

	<-ctx.Done()
	return nil
}

// Publish sends payload to topic with the configured QoS.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return bus.ErrNotConnected
	}

	tok := c.client.Publish(topic, c.cfg.QoS, false, payload)

	timer := time.NewTimer(c.cfg.PublishTimeout)
	defer timer.Stop()

	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt publish %s: %w", topic, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsConnected reports whether the broker link is currently up.
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Ping fails unless the link is up and the request topic is subscribed.
func (c *Client) Ping(context.Context) error {
	if !c.IsConnected() {
		return bus.ErrNotConnected
	}
	if !c.subscribed.Load() {
		return ErrNotSubscribed
	}
	return nil
}

func (c *Client) onConnect(cl paho.Client) {
	c.logger.Info("mqtt connected")
	c.subscribed.Store(false)

	if c.subscribe(cl) {
		return
	}
	go c.retrySubscribe(cl)
}

// retrySubscribe keeps trying until the subscription sticks, the link drops
// (the next onConnect takes over) or the client shuts down.
func (c *Client) retrySubscribe(cl paho.Client) {
	t := time.NewTicker(c.cfg.SubscribeRetry)
	defer t.Stop()

	for {
		select {
		case <-c.stopping:
			return
		case <-t.C:
		}
		if !cl.IsConnectionOpen() || c.subscribed.Load() {
			return
		}
		if c.subscribe(cl) {
			return
		}
	}
}

func (c *Client) subscribe(cl paho.Client) bool {
	tok := cl.Subscribe(c.cfg.RequestTopic, c.cfg.QoS, c.onMessage)
	if !tok.WaitTimeout(c.cfg.PublishTimeout) {
		c.logger.Error("mqtt subscribe timed out", slog.String("topic", c.cfg.RequestTopic))
		return false
	}
	if err := tok.Error(); err != nil {
		c.logger.Error("mqtt subscribe failed",
			slog.String("topic", c.cfg.RequestTopic),
			slog.String("error", err.Error()),
		)
		return false
	}
	c.subscribed.Store(true)
	c.logger.Info("mqtt subscribed", slog.String("topic", c.cfg.RequestTopic), slog.Int("qos", int(c.cfg.QoS)))
	return true
}

func (c *Client) onMessage(_ paho.Client, msg paho.Message) {
	payload := append([]byte(nil), msg.Payload()...)

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.queue <- payload:
	case <-c.stopping:
		c.logger.Warn("dropping delivery during shutdown", slog.String("topic", msg.Topic()))
	}
}

func (c *Client) work(ctx context.Context, h bus.Handler) {
	defer c.workers.Done()
	for payload := range c.queue {
		h(ctx, payload)
	}
}

func (c *Client) shutdown() {
	close(c.stopping)

	c.mu.Lock()
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	// Drained messages still need the link for their replies.
	c.workers.Wait()

	c.subscribed.Store(false)
	c.client.Disconnect(250)
	c.logger.Info("mqtt client stopped")
}
