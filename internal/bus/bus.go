// Package bus defines the message-bus boundary the decision pipeline is
// driven by and publishes to.
package bus

import (
	"context"
	"errors"
)

// ErrNotConnected is returned when publishing while the broker link is down.
var ErrNotConnected = errors.New("bus not connected")

// Publisher sends one payload to a named channel.  Delivery is not
// acknowledged beyond the broker accepting the message.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Handler processes one inbound payload.  It owns the payload slice.
type Handler func(ctx context.Context, payload []byte)
