package mqtt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/gateway/internal/bus"
)

// ── fakes ────────────────────────────────────────────────────────────────────

type fakeToken struct {
	done chan struct{}
	err  error
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func pendingToken() *fakeToken { return &fakeToken{done: make(chan struct{})} }

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type pubCall struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePaho struct {
	opts *paho.ClientOptions

	mu           sync.Mutex
	connected    bool
	handler      paho.MessageHandler
	subTopic     string
	published    []pubCall
	publishToken *fakeToken
	disconnected bool

	// subscribeErrs is consumed one entry per Subscribe call; nil or an
	// exhausted slice means the broker grants the subscription.
	subscribeErrs  []error
	subscribeCalls int
}

func (f *fakePaho) IsConnected() bool { return f.IsConnectionOpen() }
func (f *fakePaho) IsConnectionOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
func (f *fakePaho) Connect() paho.Token {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.opts.OnConnect(f)
	return doneToken(nil)
}
func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected = true
}
func (f *fakePaho) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, pubCall{topic: topic, qos: qos, payload: payload.([]byte)})
	if f.publishToken != nil {
		return f.publishToken
	}
	return doneToken(nil)
}
func (f *fakePaho) Subscribe(topic string, _ byte, cb paho.MessageHandler) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeCalls++
	if len(f.subscribeErrs) > 0 {
		err := f.subscribeErrs[0]
		f.subscribeErrs = f.subscribeErrs[1:]
		if err != nil {
			return doneToken(err)
		}
	}
	f.subTopic = topic
	f.handler = cb
	return doneToken(nil)
}
func (f *fakePaho) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return doneToken(nil)
}
func (f *fakePaho) Unsubscribe(...string) paho.Token         { return doneToken(nil) }
func (f *fakePaho) AddRoute(string, paho.MessageHandler)     {}
func (f *fakePaho) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }

func (f *fakePaho) deliver(topic string, payload []byte) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(f, fakeMessage{topic: topic, payload: payload})
}

func newTestClient(t *testing.T, cfg Config) (*Client, *fakePaho) {
	t.Helper()

	fake := &fakePaho{}
	orig := newPahoClient
	newPahoClient = func(o *paho.ClientOptions) paho.Client {
		fake.opts = o
		return fake
	}
	t.Cleanup(func() { newPahoClient = orig })

	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil))), fake
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestNew_Defaults(t *testing.T) {
	c, fake := newTestClient(t, Config{Broker: "tcp://localhost:1883", RequestTopic: "access/req"})

	assert.Contains(t, c.cfg.ClientID, "portunus-gateway-")
	assert.Equal(t, 1, c.cfg.Workers)
	assert.Equal(t, 5*time.Second, c.cfg.PublishTimeout)
	assert.Equal(t, c.cfg.ClientID, fake.opts.ClientID)
	assert.True(t, fake.opts.AutoReconnect)
}

func TestRun_SubscribesAndDispatches(t *testing.T) {
	c, fake := newTestClient(t, Config{
		Broker:       "tcp://localhost:1883",
		RequestTopic: "access/req",
		QoS:          1,
		Workers:      3,
	})

	var (
		mu  sync.Mutex
		got []string
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(_ context.Context, p []byte) {
			mu.Lock()
			got = append(got, string(p))
			mu.Unlock()
		})
	}()

	require.Eventually(t, c.IsConnected, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return fake.handler != nil
	}, time.Second, time.Millisecond)
	assert.Equal(t, "access/req", fake.subTopic)

	for _, p := range []string{"a", "b", "c", "d"} {
		fake.deliver("access/req", []byte(p))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 4
	}, time.Second, time.Millisecond)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, got)

	cancel()
	require.NoError(t, <-done)
	assert.True(t, fake.disconnected)

	// Late deliveries after shutdown are dropped, not panics.
	assert.NotPanics(t, func() { fake.deliver("access/req", []byte("late")) })
}

func TestRun_DrainsQueuedMessagesOnShutdown(t *testing.T) {
	c, fake := newTestClient(t, Config{
		Broker:       "tcp://localhost:1883",
		RequestTopic: "access/req",
		Workers:      1,
		QueueSize:    8,
	})

	release := make(chan struct{})
	var (
		mu      sync.Mutex
		count   int
		pubErrs []error
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx, func(ctx context.Context, p []byte) {
			<-release
			err := c.Publish(context.WithoutCancel(ctx), "access/resp/dev1", p)
			mu.Lock()
			count++
			if err != nil {
				pubErrs = append(pubErrs, err)
			}
			mu.Unlock()
		})
	}()
	require.Eventually(t, func() bool {
		fake.mu.Lock()
		defer fake.mu.Unlock()
		return fake.handler != nil
	}, time.Second, time.Millisecond)

	for i := 0; i < 5; i++ {
		fake.deliver("access/req", []byte("x"))
	}
	cancel()
	close(release)

	require.NoError(t, <-done)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, count)
	assert.Empty(t, pubErrs, "replies for drained messages must go out before disconnect")

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.published, 5)
	assert.True(t, fake.disconnected)
}

func TestRun_RetriesFailedSubscribe(t *testing.T) {
	c, fake := newTestClient(t, Config{
		Broker:         "tcp://localhost:1883",
		RequestTopic:   "access/req",
		SubscribeRetry: 5 * time.Millisecond,
	})
	fake.subscribeErrs = []error{errors.New("not authorized"), errors.New("not authorized")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, func(context.Context, []byte) {}) }()

	require.Eventually(t, c.IsConnected, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return c.Ping(context.Background()) == nil }, time.Second, time.Millisecond)

	fake.mu.Lock()
	assert.Equal(t, 3, fake.subscribeCalls)
	assert.Equal(t, "access/req", fake.subTopic)
	fake.mu.Unlock()

	// A dropped link clears the subscription until the next connect.
	fake.opts.OnConnectionLost(fake, errors.New("eof"))
	assert.ErrorIs(t, c.Ping(context.Background()), ErrNotSubscribed)

	cancel()
	require.NoError(t, <-done)
}

func TestPing_FailsWhileUnsubscribed(t *testing.T) {
	c, fake := newTestClient(t, Config{
		Broker:         "tcp://localhost:1883",
		RequestTopic:   "access/req",
		SubscribeRetry: time.Hour,
	})
	fake.subscribeErrs = []error{errors.New("refused")}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, func(context.Context, []byte) {}) }()

	require.Eventually(t, c.IsConnected, time.Second, time.Millisecond)
	assert.ErrorIs(t, c.Ping(context.Background()), ErrNotSubscribed)

	cancel()
	require.NoError(t, <-done)
}

func TestPublish(t *testing.T) {
	c, fake := newTestClient(t, Config{Broker: "tcp://localhost:1883", RequestTopic: "access/req", QoS: 2})
	ctx := context.Background()

	err := c.Publish(ctx, "access/resp/dev1", []byte(`{}`))
	assert.ErrorIs(t, err, bus.ErrNotConnected)

	fake.connected = true
	require.NoError(t, c.Publish(ctx, "access/resp/dev1", []byte(`{"authorized":true}`)))
	require.Len(t, fake.published, 1)
	assert.Equal(t, pubCall{topic: "access/resp/dev1", qos: 2, payload: []byte(`{"authorized":true}`)}, fake.published[0])

	fake.publishToken = doneToken(errors.New("broker said no"))
	assert.Error(t, c.Publish(ctx, "access/resp/dev1", []byte(`{}`)))
}

func TestPublish_Timeout(t *testing.T) {
	c, fake := newTestClient(t, Config{
		Broker:         "tcp://localhost:1883",
		RequestTopic:   "access/req",
		PublishTimeout: 10 * time.Millisecond,
	})
	fake.connected = true
	fake.publishToken = pendingToken()

	err := c.Publish(context.Background(), "access/resp/dev1", []byte(`{}`))
	assert.ErrorIs(t, err, ErrPublishTimeout)
}

func TestPing(t *testing.T) {
	c, fake := newTestClient(t, Config{Broker: "tcp://localhost:1883", RequestTopic: "access/req"})
	assert.ErrorIs(t, c.Ping(context.Background()), bus.ErrNotConnected)

	fake.Connect()
	assert.NoError(t, c.Ping(context.Background()))
}
