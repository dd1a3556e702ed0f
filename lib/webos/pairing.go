package webos

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coder/websocket/wsjson"
)

// PairingState tracks the register handshake on the control socket.
type PairingState int

const (
	PairingUnregistered PairingState = iota
	PairingAwaitingResponse
	PairingAwaitingUserPrompt
	PairingRegistered
	PairingFailed
)

func (s PairingState) String() string {
	switch s {
	case PairingUnregistered:
		return "unregistered"
	case PairingAwaitingResponse:
		return "awaiting-response"
	case PairingAwaitingUserPrompt:
		return "awaiting-user-prompt"
	case PairingRegistered:
		return "registered"
	case PairingFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Pairing is the register handshake for one control connection.
type Pairing struct {
	state     PairingState
	cachedKey string
	issuedKey string
}

func NewPairing(cachedKey string) *Pairing {
	return &Pairing{cachedKey: cachedKey}
}

func (p *Pairing) State() PairingState { return p.state }

// RegisterMessage builds the register request and moves to AwaitingResponse.
func (p *Pairing) RegisterMessage(id string) (Message, error) {
	if p.state != PairingUnregistered {
		return Message{}, fmt.Errorf("register already sent (state %s)", p.state)
	}
	msg, err := newRegisterMessage(id, p.cachedKey)
	if err != nil {
		return Message{}, err
	}
	p.state = PairingAwaitingResponse
	return msg, nil
}

// Handle feeds one control message into the handshake and returns the new state.
// Once Registered, NewKey reports whether the TV issued a different secret.
func (p *Pairing) Handle(msg Message) (PairingState, error) {
	switch p.state {
	case PairingAwaitingResponse, PairingAwaitingUserPrompt:
	default:
		return p.state, &PairingError{State: p.state, Err: fmt.Errorf("unexpected %q message", msg.Type)}
	}

	payload, err := msg.DecodePayload()
	if err != nil {
		return p.fail(err)
	}

	switch {
	case msg.Type == TypeRegistered:
		p.issuedKey = payload.ClientKey
		p.state = PairingRegistered
	case msg.Type == TypeResponse && payload.PairingType == "PROMPT":
		p.state = PairingAwaitingUserPrompt
	case msg.Type == TypeError:
		return p.fail(fmt.Errorf("tv refused registration: %s", msg.Error))
	case p.state == PairingAwaitingUserPrompt:
		// the prompt is still on screen; unrelated traffic does not end the wait
	default:
		return p.fail(fmt.Errorf("unexpected %q message during registration", msg.Type))
	}
	return p.state, nil
}

// NewKey returns the issued secret when it differs from the cached one.
func (p *Pairing) NewKey() (string, bool) {
	if p.state != PairingRegistered || p.issuedKey == "" || p.issuedKey == p.cachedKey {
		return "", false
	}
	return p.issuedKey, true
}

func (p *Pairing) fail(err error) (PairingState, error) {
	prev := p.state
	p.state = PairingFailed
	return p.state, &PairingError{State: prev, Err: err}
}

// register runs the handshake on conn. A newly issued key is persisted before
// returning so no later call uses an unsaved secret.
func (m *Manager) register(ctx context.Context, control *controlSocket) error {
	cached := m.cachedKey()
	p := NewPairing(cached)

	msg, err := p.RegisterMessage(m.nextID("register"))
	if err != nil {
		return err
	}
	if err := wsjson.Write(ctx, control.conn, msg); err != nil {
		return &SendError{Socket: "control", Err: fmt.Errorf("send register: %w", err)}
	}

	for {
		resp, err := control.recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &PairingError{State: p.State(), Err: fmt.Errorf("read: %w", err)}
		}

		prev := p.State()
		state, err := p.Handle(resp)
		if err != nil {
			return err
		}
		switch state {
		case PairingAwaitingUserPrompt:
			if prev != PairingAwaitingUserPrompt {
				m.log.Info("awaiting user approval on tv")
			}
		case PairingRegistered:
			if key, ok := p.NewKey(); ok {
				m.persistKey(key)
			}
			m.log.Debug("registered with tv", slog.Bool("had_key", cached != ""))
			return nil
		}
	}
}
