// Package notification sends notices about executed high-risk actions to
// webhook and Slack channels.
//
// Delivery is best-effort: a failed send is logged and never changes the
// outcome returned to the caller.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Channel is one configured notification target.
type Channel struct {
	Name         string
	Type         string // "webhook" or "slack".
	URL          string // webhook only.
	ChannelID    string // slack only.
	Token        string // slack bot token.
	AllowPrivate bool   // webhook: permit loopback and private hosts.
}

// Message is the payload sent through a channel.
type Message struct {
	Subject  string
	Body     string
	Metadata map[string]string // action, caller, risk, log_id.
}

// Sender delivers messages for one channel type.
type Sender interface {
	// Type returns the channel type identifier ("webhook", "slack").
	Type() string
	Send(ctx context.Context, ch *Channel, msg *Message) error
}

// Dispatcher routes a message to every configured channel. Thread-safe.
type Dispatcher struct {
	senders  map[string]Sender
	channels []Channel
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewDispatcher creates a dispatcher for channels. Register a Sender for
// each channel type before calling Notify.
func NewDispatcher(channels []Channel, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		senders:  make(map[string]Sender),
		channels: channels,
		logger:   logger,
	}
}

// RegisterSender adds a channel backend.
func (d *Dispatcher) RegisterSender(s Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[s.Type()] = s
}

// Len returns the number of configured channels.
func (d *Dispatcher) Len() int { return len(d.channels) }

// Notify sends msg to all channels. Returns per-channel errors keyed by
// channel name (nil = delivered).
func (d *Dispatcher) Notify(ctx context.Context, msg *Message) map[string]error {
	errs := make(map[string]error, len(d.channels))
	for i := range d.channels {
		ch := &d.channels[i]

		d.mu.RLock()
		sender, ok := d.senders[ch.Type]
		d.mu.RUnlock()
		if !ok {
			errs[ch.Name] = fmt.Errorf("no sender registered for channel type %q", ch.Type)
			continue
		}

		if err := sender.Send(ctx, ch, msg); err != nil {
			errs[ch.Name] = err
			d.logger.WarnContext(ctx, "notification send failed",
				slog.String("channel", ch.Name),
				slog.String("type", ch.Type),
				slog.String("error", err.Error()),
			)
			continue
		}
		errs[ch.Name] = nil
		d.logger.DebugContext(ctx, "notification sent",
			slog.String("channel", ch.Name),
			slog.String("type", ch.Type),
		)
	}
	return errs
}
