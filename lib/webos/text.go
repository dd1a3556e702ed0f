package webos

import (
	"context"
	"errors"
	"fmt"

	"github.com/coder/websocket/wsjson"

	"github.com/touchpad-bridge/server/lib/pointer"
)

// textStrategy is one way of getting literal text onto the TV.
type textStrategy struct {
	name string
	send func(ctx context.Context, text string) error
}

func (m *Manager) textStrategies() []textStrategy {
	return []textStrategy{
		{name: "keyboard socket", send: m.insertViaKeyboard},
		{name: "ime request", send: m.insertViaRequest},
		{name: "pointer socket", send: m.insertViaPointer},
	}
}

// InsertText delivers text using the first strategy that succeeds.
func (m *Manager) InsertText(ctx context.Context, text string) error {
	if err := m.EnsurePointer(ctx); err != nil {
		return err
	}

	var errs []error
	for _, s := range m.textStrategies() {
		err := s.send(ctx, text)
		if err == nil {
			m.log.Debug("text delivered", "strategy", s.name, "len", len(text))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.log.Debug("text strategy failed", "strategy", s.name, "err", err)
		errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
	}
	return errors.Join(errs...)
}

type insertTextEvent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (m *Manager) insertViaKeyboard(ctx context.Context, text string) error {
	if err := m.EnsureKeyboard(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	kb := m.sess.keyboard
	m.mu.Unlock()
	if kb == nil {
		return ErrKeyboardUnavailable
	}

	if err := wsjson.Write(ctx, kb.conn, insertTextEvent{Type: "insertText", Text: text}); err != nil {
		m.log.Warn("keyboard send failed; falling back", "err", err)
		m.teardownKeyboard()
		return &SendError{Socket: "keyboard", Err: err}
	}
	return nil
}

func (m *Manager) insertViaRequest(ctx context.Context, text string) error {
	return m.call(ctx, "ime_insert", URIInsertText, map[string]string{"text": text})
}

func (m *Manager) insertViaPointer(ctx context.Context, text string) error {
	return m.SendPointer(ctx, pointer.TextCommand(text))
}

// DeleteCharacters asks the IME to remove count characters before the cursor.
func (m *Manager) DeleteCharacters(ctx context.Context, count int) error {
	return m.call(ctx, "ime_delete", URIDeleteCharacters, map[string]int{"count": count})
}
