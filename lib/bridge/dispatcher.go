package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/touchpad-bridge/server/lib/pointer"
)

// DefaultDoubleClickGap fits inside the TV's double-click window.
const DefaultDoubleClickGap = 80 * time.Millisecond

var keyButtons = map[string]string{
	"enter":       "ENTER",
	"backspace":   "BACKSPACE",
	"escape":      "BACK",
	"back":        "BACK",
	"tab":         "TAB",
	"space":       "SPACE",
	"delete":      "BACKSPACE",
	"arrow_left":  "LEFT",
	"arrow_right": "RIGHT",
	"arrow_up":    "UP",
	"arrow_down":  "DOWN",
	"home":        "HOME",
	"end":         "END",
	"page_up":     "PAGEUP",
	"page_down":   "PAGEDOWN",
	"power":       "POWER",
	"settings":    "MENU",
}

var volumeButtons = map[string]string{
	"up":   "VOLUMEUP",
	"down": "VOLUMEDOWN",
	"mute": "MUTE",
}

// Target is the TV session the dispatcher drives.
type Target interface {
	EnsurePointer(ctx context.Context) error
	SendPointer(ctx context.Context, cmd string) error
	Scroll(dx, dy float64) (int, int, bool)
	InsertText(ctx context.Context, text string) error
	DeleteCharacters(ctx context.Context, count int) error
}

// Dispatcher turns client commands into pointer, button and text actions.
type Dispatcher struct {
	target   Target
	chunker  pointer.Chunker
	clickGap time.Duration
	log      *slog.Logger
}

func NewDispatcher(target Target, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		target:   target,
		chunker:  pointer.DefaultChunker(),
		clickGap: DefaultDoubleClickGap,
		log:      log,
	}
}

// Dispatch runs cmd to completion. Unknown kinds, keys and volume actions are
// logged and dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case KindMove:
		return d.move(ctx, cmd.DX, cmd.DY)
	case KindScroll:
		return d.scroll(ctx, cmd.DX, cmd.DY)
	case KindClick:
		return d.send(ctx, pointer.ClickCommand())
	case KindDoubleClick:
		return d.doubleClick(ctx)
	case KindText:
		if cmd.Text == "" {
			return nil
		}
		return d.target.InsertText(ctx, cmd.Text)
	case KindKey:
		if cmd.Key == "" {
			return nil
		}
		return d.key(ctx, cmd.Key)
	case KindVolume:
		if cmd.Action == "" {
			return nil
		}
		name, ok := volumeButtons[cmd.Action]
		if !ok {
			d.log.Debug("unsupported volume action", "action", cmd.Action)
			return nil
		}
		return d.send(ctx, pointer.ButtonCommand(name))
	default:
		d.log.Debug("unsupported message type from client", "type", string(cmd.Kind))
		return nil
	}
}

func (d *Dispatcher) send(ctx context.Context, cmd string) error {
	if err := d.target.EnsurePointer(ctx); err != nil {
		return err
	}
	return d.target.SendPointer(ctx, cmd)
}

func (d *Dispatcher) move(ctx context.Context, dx, dy float64) error {
	if err := d.target.EnsurePointer(ctx); err != nil {
		return err
	}
	for _, c := range d.chunker.Chunk(dx, dy) {
		if err := d.target.SendPointer(ctx, pointer.MoveCommand(c)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) scroll(ctx context.Context, dx, dy float64) error {
	if err := d.target.EnsurePointer(ctx); err != nil {
		return err
	}
	x, y, ok := d.target.Scroll(dx, dy)
	if !ok {
		return nil
	}
	for _, c := range d.chunker.Chunk(float64(x), float64(y)) {
		if err := d.target.SendPointer(ctx, pointer.ScrollCommand(c)); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) doubleClick(ctx context.Context) error {
	if err := d.send(ctx, pointer.ClickCommand()); err != nil {
		return err
	}
	t := time.NewTimer(d.clickGap)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	return d.send(ctx, pointer.ClickCommand())
}

func (d *Dispatcher) key(ctx context.Context, key string) error {
	if key == "backspace" {
		err := d.target.DeleteCharacters(ctx, 1)
		if err == nil {
			return nil
		}
		d.log.Debug("ime delete failed; sending BACKSPACE button", "err", err)
	}
	name, ok := keyButtons[key]
	if !ok {
		d.log.Debug("unsupported key command", "key", key)
		return nil
	}
	return d.send(ctx, pointer.ButtonCommand(name))
}
