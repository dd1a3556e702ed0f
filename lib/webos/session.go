// Package webos drives the LG webOS remote control protocol: pairing on the
// control socket and the pointer and keyboard sockets derived from it.
package webos

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/touchpad-bridge/server/lib/pointer"
)

// SecretStore loads and saves the pairing secret for a device.
type SecretStore interface {
	Load(device string) (string, error)
	Save(device, secret string) error
}

// Device identifies the TV a Manager talks to.
type Device struct {
	Name   string
	Host   string
	Port   int
	UseTLS bool
	// Origin nil means "not configured"; a pointer to "" suppresses the header.
	Origin *string
}

// SessionState is the lifecycle of the socket set owned by a Manager.
type SessionState int32

const (
	StateEmpty SessionState = iota
	StateConnecting
	StateReady
)

func (s SessionState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

type session struct {
	state               SessionState
	control             *controlSocket
	pointer             *socket
	keyboard            *socket
	keyboardUnavailable bool
	scroll              *pointer.ScrollAccumulator
}

func newSession() session {
	return session{state: StateEmpty, scroll: pointer.NewScrollAccumulator(pointer.DefaultScrollScale)}
}

// Manager owns the control, pointer and keyboard sockets for one TV.
type Manager struct {
	dev   Device
	store SecretStore
	dial  DialFunc
	log   *slog.Logger

	// connectMu serialises EnsurePointer and EnsureKeyboard.
	connectMu sync.Mutex
	// controlMu keeps request/response pairs on the control socket together.
	controlMu sync.Mutex

	mu        sync.Mutex
	sess      session
	clientKey string
	keyLoaded bool

	pingInterval time.Duration

	reqSeq   atomic.Uint64
	connects atomic.Uint64
}

// Option customises a Manager.
type Option func(*Manager)

func WithDialer(d DialFunc) Option {
	return func(m *Manager) { m.dial = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithPingInterval sets how often TV sockets are pinged. Zero disables pings.
func WithPingInterval(d time.Duration) Option {
	return func(m *Manager) { m.pingInterval = d }
}

func NewManager(dev Device, store SecretStore, opts ...Option) *Manager {
	m := &Manager{
		dev:   dev,
		store: store,
		dial:  Dial,
		log:   slog.Default(),
		sess:  newSession(),

		pingInterval: DefaultPingInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("device", dev.Name)
	return m
}

// State reports the current session state.
func (m *Manager) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.state
}

// Connects counts control-socket connect sequences started by this Manager.
func (m *Manager) Connects() uint64 {
	return m.connects.Load()
}

func (m *Manager) pointerReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.state == StateReady && m.sess.pointer.alive() && m.sess.control.alive()
}

// EnsurePointer connects and pairs if the pointer socket is not open.
// Concurrent callers wait for a single connect sequence and then share it.
func (m *Manager) EnsurePointer(ctx context.Context) error {
	if m.pointerReady() {
		return nil
	}

	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	if m.pointerReady() {
		return nil
	}

	m.teardown()
	m.mu.Lock()
	m.sess.state = StateConnecting
	m.mu.Unlock()

	if err := m.connectPointer(ctx); err != nil {
		m.teardown()
		return err
	}
	m.connectKeyboard(ctx)
	return nil
}

func (m *Manager) connectPointer(ctx context.Context) error {
	m.connects.Add(1)
	m.loadKey()

	conn, err := m.dialControl(ctx)
	if err != nil {
		return err
	}
	control := openControl(conn, m.pingInterval, func(msg Message) {
		m.log.Debug("dropping unread control message", "id", msg.ID, "type", msg.Type)
	})
	m.mu.Lock()
	m.sess.control = control
	m.mu.Unlock()

	if err := m.register(ctx, control); err != nil {
		return err
	}

	path, err := m.requestSocketPath(ctx, "pointer", URIPointerInputSocket)
	if err != nil {
		return err
	}
	if path == "" {
		return &ProtocolError{Op: "get pointer socket", Err: ErrNoSocketPath}
	}

	conn, err = m.dialSocket(ctx, "pointer", path)
	if err != nil {
		return err
	}

	ptr := drain(conn, m.pingInterval)
	m.mu.Lock()
	m.sess.pointer = ptr
	m.sess.state = StateReady
	m.mu.Unlock()
	go m.watch(control, ptr)
	m.log.Info("pointer socket established", "url", path)
	return nil
}

// EnsureKeyboard opens the keyboard socket unless this session already found
// it unavailable. It needs an open control socket.
func (m *Manager) EnsureKeyboard(ctx context.Context) error {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	unavailable := m.sess.keyboardUnavailable
	open := m.sess.keyboard.alive()
	hasControl := m.sess.control != nil
	m.mu.Unlock()

	switch {
	case unavailable:
		return ErrKeyboardUnavailable
	case open:
		return nil
	case !hasControl:
		return ErrNotConnected
	}

	m.connectKeyboard(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.sess.keyboard.alive() {
		return ErrKeyboardUnavailable
	}
	return nil
}

// connectKeyboard never fails the caller; a missing keyboard marks the
// session so text goes through the fallbacks. Caller holds connectMu.
func (m *Manager) connectKeyboard(ctx context.Context) {
	m.mu.Lock()
	alreadyFailed := m.sess.keyboardUnavailable
	m.mu.Unlock()

	markUnavailable := func(msg string, args ...any) {
		if !alreadyFailed {
			m.log.Info(msg, args...)
		}
		m.mu.Lock()
		m.sess.keyboardUnavailable = true
		m.sess.keyboard = nil
		m.mu.Unlock()
	}

	path, err := m.requestSocketPath(ctx, "keyboard", URIRemoteKeyboard)
	if err != nil {
		markUnavailable("keyboard socket not available; text will use fallbacks", "err", err)
		return
	}
	if path == "" {
		markUnavailable("keyboard socket not provided by tv")
		return
	}
	conn, err := m.dialSocket(ctx, "keyboard", path)
	if err != nil {
		markUnavailable("keyboard socket not available; text will use fallbacks", "err", err)
		return
	}

	m.mu.Lock()
	m.sess.keyboard = drain(conn, m.pingInterval)
	m.mu.Unlock()
	m.log.Info("keyboard socket established", "url", path)
}

// request sends one request on the control socket and reads one reply.
func (m *Manager) request(ctx context.Context, prefix, uri string, payload any) (Message, error) {
	m.mu.Lock()
	control := m.sess.control
	m.mu.Unlock()
	if control == nil {
		return Message{}, ErrNotConnected
	}

	msg, err := newRequest(m.nextID(prefix), uri, payload)
	if err != nil {
		return Message{}, err
	}

	m.controlMu.Lock()
	defer m.controlMu.Unlock()

	if err := wsjson.Write(ctx, control.conn, msg); err != nil {
		return Message{}, &SendError{Socket: "control", Err: fmt.Errorf("send %s: %w", uri, err)}
	}
	for {
		resp, err := control.recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return Message{}, ctx.Err()
			}
			return Message{}, &SendError{Socket: "control", Err: fmt.Errorf("read %s: %w", uri, err)}
		}
		if resp.ID == "" || resp.ID == msg.ID {
			return resp, nil
		}
		m.log.Debug("skipping control message for another request", "id", resp.ID, "want", msg.ID)
	}
}

func (m *Manager) requestSocketPath(ctx context.Context, prefix, uri string) (string, error) {
	resp, err := m.request(ctx, prefix, uri, nil)
	if err != nil {
		return "", err
	}
	if resp.Type != TypeResponse {
		return "", &ProtocolError{Op: uri, Err: fmt.Errorf("expected response, got %q %s", resp.Type, resp.Error)}
	}
	payload, err := resp.DecodePayload()
	if err != nil {
		return "", &ProtocolError{Op: uri, Err: err}
	}
	return payload.SocketPath, nil
}

// call is a request whose success is a response carrying returnValue=true.
func (m *Manager) call(ctx context.Context, prefix, uri string, payload any) error {
	resp, err := m.request(ctx, prefix, uri, payload)
	if err != nil {
		return err
	}
	if resp.Type != TypeResponse {
		return &ProtocolError{Op: uri, Err: fmt.Errorf("expected response, got %q %s", resp.Type, resp.Error)}
	}
	p, err := resp.DecodePayload()
	if err != nil {
		return &ProtocolError{Op: uri, Err: err}
	}
	if !p.ReturnValue {
		return ErrRequestRejected
	}
	return nil
}

// SendPointer writes one command to the pointer socket. A write failure tears
// the whole session down; the next EnsurePointer reconnects.
func (m *Manager) SendPointer(ctx context.Context, cmd string) error {
	m.mu.Lock()
	ptr := m.sess.pointer
	m.mu.Unlock()
	if ptr == nil {
		return &SendError{Socket: "pointer", Err: ErrNotConnected}
	}

	if err := ptr.conn.Write(ctx, websocket.MessageText, []byte(cmd)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.log.Warn("pointer send failed; tearing down session", "err", err)
		m.teardownIf(ptr)
		return &SendError{Socket: "pointer", Err: err}
	}
	return nil
}

// Scroll feeds (dx, dy) into the session's scroll remainders.
func (m *Manager) Scroll(dx, dy float64) (int, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.scroll.Add(dx, dy)
}

// Close tears down every socket.
func (m *Manager) Close() {
	m.teardown()
}

// teardown closes all sockets, ignoring close errors, and resets the session.
func (m *Manager) teardown() {
	m.mu.Lock()
	old := m.sess
	m.sess = newSession()
	m.mu.Unlock()
	closeSession(old)
}

// teardownIf resets the session only if ptr is still its pointer socket, so a
// late write failure cannot kill a session that was already rebuilt.
func (m *Manager) teardownIf(ptr *socket) bool {
	m.mu.Lock()
	if m.sess.pointer != ptr {
		m.mu.Unlock()
		return false
	}
	old := m.sess
	m.sess = newSession()
	m.mu.Unlock()
	closeSession(old)
	return true
}

// watch tears the session down once its control or pointer socket dies, so a
// TV that vanished without closing TCP is noticed before the next command.
func (m *Manager) watch(control *controlSocket, ptr *socket) {
	select {
	case <-control.done.Done():
	case <-ptr.done.Done():
	}
	if m.teardownIf(ptr) {
		m.log.Warn("lost connection to tv; session reset")
	}
}

func closeSession(s session) {
	if s.pointer != nil {
		_ = s.pointer.conn.Close(websocket.StatusNormalClosure, "")
	}
	if s.keyboard != nil {
		_ = s.keyboard.conn.Close(websocket.StatusNormalClosure, "")
	}
	if s.control != nil {
		_ = s.control.conn.Close(websocket.StatusNormalClosure, "")
	}
}

func (m *Manager) teardownKeyboard() {
	m.mu.Lock()
	kb := m.sess.keyboard
	m.sess.keyboard = nil
	m.mu.Unlock()
	if kb != nil {
		_ = kb.conn.Close(websocket.StatusNormalClosure, "")
	}
}

func (m *Manager) nextID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, m.reqSeq.Add(1)-1)
}

func (m *Manager) loadKey() {
	m.mu.Lock()
	loaded := m.keyLoaded
	m.mu.Unlock()
	if loaded || m.store == nil {
		return
	}

	key, err := m.store.Load(m.dev.Name)
	if err != nil {
		m.log.Warn("failed to read client key; will re-pair", "err", err)
	} else if key != "" {
		m.log.Info("loaded cached client key")
	}

	m.mu.Lock()
	m.clientKey = key
	m.keyLoaded = true
	m.mu.Unlock()
}

func (m *Manager) cachedKey() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientKey
}

// persistKey saves before caching so the key is on disk before it is reused.
func (m *Manager) persistKey(key string) {
	if m.store != nil {
		if err := m.store.Save(m.dev.Name, key); err != nil {
			m.log.Warn("failed to persist client key", "err", err)
		} else {
			m.log.Info("paired and saved client key")
		}
	}
	m.mu.Lock()
	m.clientKey = key
	m.mu.Unlock()
}
