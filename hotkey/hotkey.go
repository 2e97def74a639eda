// Package hotkey turns global keyboard events into push-to-talk press
// transitions for a configured key combination.
package hotkey

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	hook "github.com/robotn/gohook"
)

// libuiohook virtual key codes as reported in hook.Event.Keycode.
const (
	vcControlL uint16 = 0x001D
	vcControlR uint16 = 0x0E1D
	vcShiftL   uint16 = 0x002A
	vcShiftR   uint16 = 0x0036
	vcAltL     uint16 = 0x0038
	vcAltR     uint16 = 0x0E38
	vcMetaL    uint16 = 0x0E5B
	vcMetaR    uint16 = 0x0E5C
	vcF13      uint16 = 0x005B
	vcF14      uint16 = 0x005C
	vcF15      uint16 = 0x005D
)

// Event is a press transition of the configured combination.
type Event int

const (
	None Event = iota
	PressStart
	PressEnd
)

func (e Event) String() string {
	switch e {
	case PressStart:
		return "press-start"
	case PressEnd:
		return "press-end"
	default:
		return "none"
	}
}

// Combo is a chord: every group must have at least one key held.
// Each group lists interchangeable keys (e.g. left and right Control).
type Combo struct {
	Name        string
	Description string
	Groups      [][]uint16
}

var combos = map[string]Combo{
	"cmd_r":      {Name: "cmd_r", Description: "Right Command", Groups: [][]uint16{{vcMetaR}}},
	"alt":        {Name: "alt", Description: "Option/Alt", Groups: [][]uint16{{vcAltL, vcAltR}}},
	"ctrl_alt":   {Name: "ctrl_alt", Description: "Control + Option", Groups: [][]uint16{{vcControlL, vcControlR}, {vcAltL, vcAltR}}},
	"ctrl_shift": {Name: "ctrl_shift", Description: "Control + Shift", Groups: [][]uint16{{vcControlL, vcControlR}, {vcShiftL, vcShiftR}}},
	"f13":        {Name: "f13", Description: "F13", Groups: [][]uint16{{vcF13}}},
	"f14":        {Name: "f14", Description: "F14", Groups: [][]uint16{{vcF14}}},
	"f15":        {Name: "f15", Description: "F15", Groups: [][]uint16{{vcF15}}},
}

// Parse returns the combination for a configured hotkey name.
func Parse(name string) (Combo, error) {
	c, ok := combos[name]
	if !ok {
		return Combo{}, fmt.Errorf("hotkey: unknown combination %q", name)
	}
	return c, nil
}

// Tracker is the chord state machine. It is not safe for concurrent use.
type Tracker struct {
	combo   Combo
	held    map[uint16]bool
	pressed bool
}

// NewTracker creates a tracker for combo.
func NewTracker(combo Combo) *Tracker {
	return &Tracker{combo: combo, held: make(map[uint16]bool)}
}

// Down records a key-down. Auto-repeat of a held key is a no-op.
func (t *Tracker) Down(code uint16) Event {
	if !t.relevant(code) {
		return None
	}
	t.held[code] = true
	return t.transition()
}

// Up records a key-up.
func (t *Tracker) Up(code uint16) Event {
	if !t.relevant(code) {
		return None
	}
	delete(t.held, code)
	return t.transition()
}

// Pressed reports whether the combination is currently held.
func (t *Tracker) Pressed() bool { return t.pressed }

func (t *Tracker) transition() Event {
	now := t.satisfied()
	switch {
	case now && !t.pressed:
		t.pressed = true
		return PressStart
	case !now && t.pressed:
		t.pressed = false
		return PressEnd
	default:
		return None
	}
}

func (t *Tracker) satisfied() bool {
	for _, group := range t.combo.Groups {
		down := false
		for _, code := range group {
			if t.held[code] {
				down = true
				break
			}
		}
		if !down {
			return false
		}
	}
	return true
}

func (t *Tracker) relevant(code uint16) bool {
	for _, group := range t.combo.Groups {
		for _, c := range group {
			if c == code {
				return true
			}
		}
	}
	return false
}

// Listener owns the global keyboard subscription. It subscribes once and
// delivers press transitions in order on Events.
type Listener struct {
	combo Combo
	log   *slog.Logger

	// Overridable for tests.
	start      func() chan hook.Event
	end        func()
	permission func() error

	events   chan Event
	stopOnce sync.Once
	started  bool
}

// NewListener creates a listener for combo backed by gohook.
func NewListener(combo Combo, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		combo:      combo,
		log:        logger.With("component", "hotkey", "combo", combo.Name),
		start:      hook.Start,
		end:        hook.End,
		permission: CheckPermission,
		events:     make(chan Event, 16),
	}
}

// Events returns the press transition stream. It is closed when the
// listener stops.
func (l *Listener) Events() <-chan Event {
	return l.events
}

// Start subscribes to global keyboard events. It returns a PermissionError
// when the OS refuses input monitoring.
func (l *Listener) Start(ctx context.Context) error {
	if l.started {
		return fmt.Errorf("hotkey: listener already started")
	}
	if err := l.permission(); err != nil {
		return err
	}

	raw := l.start()
	l.started = true
	l.log.Info("hotkey listener started", "description", l.combo.Description)

	go l.run(ctx, raw)
	return nil
}

// Stop ends the subscription. Safe to call more than once.
func (l *Listener) Stop() {
	if !l.started {
		return
	}
	l.stopOnce.Do(func() {
		l.end()
		l.log.Info("hotkey listener stopped")
	})
}

func (l *Listener) run(ctx context.Context, raw chan hook.Event) {
	defer close(l.events)

	tracker := NewTracker(l.combo)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-raw:
			if !ok {
				return
			}

			var out Event
			switch ev.Kind {
			case hook.KeyHold:
				out = tracker.Down(ev.Keycode)
			case hook.KeyUp:
				out = tracker.Up(ev.Keycode)
			}
			if out == None {
				continue
			}

			l.log.Debug("hotkey transition", "event", out)
			select {
			case l.events <- out:
			case <-ctx.Done():
				return
			}
		}
	}
}
