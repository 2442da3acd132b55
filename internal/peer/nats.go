package peer

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const (
	ActionEnter       = "enter"
	ActionExit        = "exit"
	ActionModified    = "modified"
	ActionSignaled    = "signaled"
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionSet         = "set"
)

// Subjects builds the NATS subjects under a common prefix:
// <prefix>.peer.<event> inbound, <prefix>.peer.<peerId>.<action> outbound.
type Subjects struct {
	Prefix string
}

func (s Subjects) Event(action string) string {
	return fmt.Sprintf("%s.peer.%s", s.Prefix, action)
}

func (s Subjects) Request(peerID string, action string) string {
	return fmt.Sprintf("%s.peer.%s.%s", s.Prefix, peerID, action)
}

// Events matches every inbound event. Requests carry one more token and
// never match it.
func (s Subjects) Events() string {
	return fmt.Sprintf("%s.peer.*", s.Prefix)
}

// Requests matches every outbound request of every peer.
func (s Subjects) Requests() string {
	return fmt.Sprintf("%s.peer.*.*", s.Prefix)
}

// Bridge connects the mirror to the peer network over NATS. It implements
// Publisher for outbound requests and feeds inbound events to a Handler.
type Bridge struct {
	conn     *nats.Conn
	subjects Subjects
	logger   zerolog.Logger
	subs     []*nats.Subscription
	closed   sync.Once
}

func NewBridge(natsURL string, prefix string, clientName string, logger zerolog.Logger) (*Bridge, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Bridge{conn: nc, subjects: Subjects{Prefix: prefix}, logger: logger}, nil
}

func (b *Bridge) Subjects() Subjects {
	return b.subjects
}

// Listen subscribes once to every inbound event subject. A single
// subscription keeps publish order: an enter is always routed before the
// modified that follows it. Handler methods run on the NATS dispatch
// goroutine and must hand work off quickly.
func (b *Bridge) Listen(handler Handler) error {
	routes := map[string]func(Envelope) error{
		ActionEnter: func(env Envelope) error {
			return handler.PeerEnter(env.Peer, env.Name)
		},
		ActionExit: func(env Envelope) error {
			return handler.PeerExit(env.Peer, env.Name)
		},
		ActionModified: func(env Envelope) error {
			updates, err := env.Updates()
			if err != nil {
				return err
			}
			return handler.PeerModified(env.Peer, env.Name, updates)
		},
		ActionSignaled: func(env Envelope) error {
			signal, err := env.Signal()
			if err != nil {
				return err
			}
			return handler.PeerSignaled(env.Peer, env.Name, signal)
		},
	}

	subject := b.subjects.Events()
	sub, err := b.conn.Subscribe(subject, b.dispatch(routes))
	if err != nil {
		return fmt.Errorf("nats subscribe %q: %w", subject, err)
	}
	b.subs = append(b.subs, sub)
	b.logger.Info().Str("subject", subject).Msg("Listening for peer events")
	return nil
}

func (b *Bridge) dispatch(routes map[string]func(Envelope) error) nats.MsgHandler {
	return func(msg *nats.Msg) {
		action := msg.Subject[strings.LastIndex(msg.Subject, ".")+1:]
		route, ok := routes[action]
		if !ok {
			b.logger.Debug().Str("subject", msg.Subject).Msg("Ignoring unknown peer event")
			return
		}
		env, err := DecodeEnvelope(msg.Data)
		if err != nil {
			b.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("Dropping peer event")
			return
		}
		if err := route(env); err != nil {
			b.logger.Warn().Err(err).
				Str("action", action).
				Str("peer", env.Peer).
				Msg("Peer event rejected")
		}
	}
}

func (b *Bridge) Subscribe(sub Subscription) error {
	return b.request(sub.ReceiverPeer, ActionSubscribe, sub)
}

func (b *Bridge) Unsubscribe(sub Subscription) error {
	return b.request(sub.ReceiverPeer, ActionUnsubscribe, sub)
}

func (b *Bridge) SetPeerState(peerID string, state map[string]any) error {
	return b.request(peerID, ActionSet, state)
}

func (b *Bridge) request(peerID string, action string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", action, err)
	}
	subject := b.subjects.Request(peerID, action)
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("nats publish %q: %w", subject, err)
	}
	b.logger.Debug().Str("subject", subject).Msg("Request published")
	return nil
}

// ============ Announcer ============

// Announce publishes an inbound event as a peer would. Used by the
// simulator and by integration setups.
func (b *Bridge) Announce(action string, peerID string, name string, data any) error {
	env := Envelope{Peer: peerID, Name: name}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s data: %w", action, err)
		}
		env.Data = raw
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return b.conn.Publish(b.subjects.Event(action), payload)
}

// WatchRequests calls fn for every outbound request seen on the bus.
func (b *Bridge) WatchRequests(fn func(subject string, data []byte)) error {
	sub, err := b.conn.Subscribe(b.subjects.Requests(), func(msg *nats.Msg) {
		fn(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %q: %w", b.subjects.Requests(), err)
	}
	b.subs = append(b.subs, sub)
	return nil
}

// Flush waits until published messages reached the server.
func (b *Bridge) Flush() error {
	return b.conn.Flush()
}

// Close drains the NATS connection. Calls after the first are no-ops.
func (b *Bridge) Close() {
	b.closed.Do(func() {
		for _, sub := range b.subs {
			_ = sub.Unsubscribe()
		}
		if err := b.conn.Drain(); err != nil {
			b.logger.Warn().Err(err).Msg("nats drain")
		}
	})
}
