// Package peer describes the contract with the remote peer network: the
// events it delivers, the requests it accepts, and a NATS transport for both.
package peer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Access flag characters announced on a port.
const (
	AccessReceive = 's'
	AccessEmit    = 'e'
)

// MetaPosition is the block-level metadata key carrying the editor position.
const MetaPosition = "_zne_position"

var validate = validator.New()

// Handler consumes inbound peer events.
type Handler interface {
	PeerEnter(id string, name string) error
	PeerExit(id string, name string) error
	PeerModified(id string, name string, updates PortUpdates) error
	PeerSignaled(id string, name string, signal Signal) error
}

// Subscription names both ends of a remote data-flow subscription.
type Subscription struct {
	ReceiverPeer string `json:"receiverPeer" validate:"required"`
	ReceiverPort string `json:"receiverPort" validate:"required"`
	EmitterPeer  string `json:"emitterPeer" validate:"required"`
	EmitterPort  string `json:"emitterPort" validate:"required"`
}

func (s Subscription) String() string {
	return fmt.Sprintf("%s@%s -> %s@%s", s.EmitterPort, s.EmitterPeer, s.ReceiverPort, s.ReceiverPeer)
}

// Publisher issues requests to the peer network. Calls are fire-and-forget:
// an error only means the request could not be handed to the transport.
type Publisher interface {
	Subscribe(sub Subscription) error
	Unsubscribe(sub Subscription) error
	SetPeerState(peerID string, state map[string]any) error
}

// ============ Subscriber references ============

// SubscriberRef points at a receiving port on some peer.
type SubscriberRef struct {
	Peer string `json:"peer" validate:"required"`
	Port string `json:"port" validate:"required"`
}

// UnmarshalJSON accepts both ["peer", "port"] and {"peer": .., "port": ..}.
func (r *SubscriberRef) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var pair []string
		if err := json.Unmarshal(trimmed, &pair); err != nil {
			return fmt.Errorf("subscriber: %w", err)
		}
		if len(pair) != 2 {
			return fmt.Errorf("subscriber: expected [peer, port], got %d elements", len(pair))
		}
		r.Peer, r.Port = pair[0], pair[1]
		return nil
	}
	type plain SubscriberRef
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return fmt.Errorf("subscriber: %w", err)
	}
	*r = SubscriberRef(p)
	return nil
}

func (r SubscriberRef) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string{r.Peer, r.Port})
}

// ============ Port data ============

// PortData is what a peer announces for one key of its state. Keys without
// an access string are block metadata; Raw then holds the decoded payload.
type PortData struct {
	Access         *string
	TypeHint       string
	Value          any
	HasValue       bool
	Subscribers    []SubscriberRef
	HasSubscribers bool
	Raw            any
}

// Capability builds the data of a port announcement.
func Capability(access string, value any) PortData {
	return PortData{Access: &access, Value: value, HasValue: true}
}

// Metadata builds block-level data.
func Metadata(raw any) PortData {
	return PortData{Raw: raw}
}

// WithSubscribers returns a copy carrying an authoritative subscriber list.
func (d PortData) WithSubscribers(refs ...SubscriberRef) PortData {
	d.Subscribers = append([]SubscriberRef{}, refs...)
	d.HasSubscribers = true
	return d
}

func (d PortData) WithTypeHint(hint string) PortData {
	d.TypeHint = hint
	return d
}

func (d PortData) HasAccess() bool {
	return d.Access != nil
}

func (d PortData) CanReceive() bool {
	return d.Access != nil && strings.ContainsRune(*d.Access, AccessReceive)
}

func (d PortData) CanEmit() bool {
	return d.Access != nil && strings.ContainsRune(*d.Access, AccessEmit)
}

type portDataWire struct {
	Access      *string          `json:"access,omitempty"`
	TypeHint    string           `json:"typeHint,omitempty"`
	Value       json.RawMessage  `json:"value,omitempty"`
	Subscribers *[]SubscriberRef `json:"subscribers,omitempty"`
}

func (d *PortData) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = PortData{Raw: raw}

	if _, isObject := raw.(map[string]any); !isObject {
		return nil
	}
	var w portDataWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	d.Access = w.Access
	d.TypeHint = w.TypeHint
	if w.Value != nil {
		if err := json.Unmarshal(w.Value, &d.Value); err != nil {
			return err
		}
		d.HasValue = true
	}
	if w.Subscribers != nil {
		d.Subscribers = *w.Subscribers
		d.HasSubscribers = true
	}
	return nil
}

func (d PortData) MarshalJSON() ([]byte, error) {
	if !d.HasAccess() && !d.HasValue && !d.HasSubscribers && d.TypeHint == "" {
		return json.Marshal(d.Raw)
	}
	w := portDataWire{Access: d.Access, TypeHint: d.TypeHint}
	if d.HasValue {
		v, err := json.Marshal(d.Value)
		if err != nil {
			return nil, err
		}
		w.Value = v
	}
	if d.HasSubscribers {
		subs := d.Subscribers
		if subs == nil {
			subs = []SubscriberRef{}
		}
		w.Subscribers = &subs
	}
	return json.Marshal(w)
}

// ============ Ordered port updates ============

type PortUpdate struct {
	Name string
	Data PortData
}

// PortUpdates keeps the order in which a peer listed its keys. It decodes
// from and encodes to a JSON object.
type PortUpdates []PortUpdate

func (u *PortUpdates) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("port updates: expected object")
	}

	out := PortUpdates{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("port updates: unexpected key %v", keyTok)
		}
		var pd PortData
		if err := dec.Decode(&pd); err != nil {
			return fmt.Errorf("port updates: %q: %w", key, err)
		}
		out = append(out, PortUpdate{Name: key, Data: pd})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*u = out
	return nil
}

func (u PortUpdates) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, pu := range u {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(pu.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(pu.Data)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// ============ Signals and envelopes ============

// Signal is a value change pushed by a peer for one of its ports.
type Signal struct {
	Port  string `validate:"required"`
	Value any
}

// UnmarshalJSON decodes the [port, value] pair peers send.
func (s *Signal) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("signal: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("signal: expected [port, value], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &s.Port); err != nil {
		return fmt.Errorf("signal port: %w", err)
	}
	if err := json.Unmarshal(pair[1], &s.Value); err != nil {
		return fmt.Errorf("signal value: %w", err)
	}
	return nil
}

func (s Signal) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{s.Port, s.Value})
}

// Envelope wraps every inbound event.
type Envelope struct {
	Peer string          `json:"peer" validate:"required"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	if err := validate.Struct(env); err != nil {
		return Envelope{}, fmt.Errorf("invalid envelope: %w", err)
	}
	return env, nil
}

func (e Envelope) Updates() (PortUpdates, error) {
	if len(e.Data) == 0 {
		return PortUpdates{}, nil
	}
	var updates PortUpdates
	if err := json.Unmarshal(e.Data, &updates); err != nil {
		return nil, fmt.Errorf("failed to decode port updates: %w", err)
	}
	for _, u := range updates {
		for _, ref := range u.Data.Subscribers {
			if err := validate.Struct(ref); err != nil {
				return nil, fmt.Errorf("port %q: invalid subscriber: %w", u.Name, err)
			}
		}
	}
	return updates, nil
}

func (e Envelope) Signal() (Signal, error) {
	var s Signal
	if err := json.Unmarshal(e.Data, &s); err != nil {
		return Signal{}, fmt.Errorf("failed to decode signal: %w", err)
	}
	if err := validate.Struct(s); err != nil {
		return Signal{}, fmt.Errorf("invalid signal: %w", err)
	}
	return s, nil
}
