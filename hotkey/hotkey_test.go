package hotkey

import (
	"context"
	"errors"
	"testing"
	"time"

	hook "github.com/robotn/gohook"

	"go.aimuz.me/miaoshu/config"
	"go.aimuz.me/miaoshu/internal/types"
)

func TestParseSupportedHotkeys(t *testing.T) {
	for _, name := range config.SupportedHotkeys {
		if _, err := Parse(name); err != nil {
			t.Errorf("Parse(%q): %v", name, err)
		}
	}
	if _, err := Parse("space"); err == nil {
		t.Error("expected error for unknown combination")
	}
}

func TestTracker(t *testing.T) {
	type step struct {
		down bool
		code uint16
		want Event
	}

	tests := []struct {
		name  string
		combo string
		steps []step
	}{
		{
			name:  "single key press and release",
			combo: "f13",
			steps: []step{
				{true, vcF13, PressStart},
				{false, vcF13, PressEnd},
			},
		},
		{
			name:  "key repeat suppressed",
			combo: "alt",
			steps: []step{
				{true, vcAltL, PressStart},
				{true, vcAltL, None},
				{true, vcAltL, None},
				{false, vcAltL, PressEnd},
			},
		},
		{
			name:  "chord needs both groups",
			combo: "ctrl_alt",
			steps: []step{
				{true, vcControlL, None},
				{true, vcAltR, PressStart},
				{true, vcControlL, None},
				{false, vcAltR, PressEnd},
				{false, vcControlL, None},
			},
		},
		{
			name:  "left and right variants are interchangeable",
			combo: "ctrl_shift",
			steps: []step{
				{true, vcShiftL, None},
				{true, vcControlL, PressStart},
				{true, vcControlR, None},
				{false, vcControlL, None},
				{false, vcControlR, PressEnd},
			},
		},
		{
			name:  "unrelated keys ignored",
			combo: "cmd_r",
			steps: []step{
				{true, vcF13, None},
				{true, vcMetaL, None},
				{true, vcMetaR, PressStart},
				{false, vcF13, None},
				{false, vcMetaR, PressEnd},
			},
		},
		{
			name:  "release of a never pressed key",
			combo: "f14",
			steps: []step{
				{false, vcF14, None},
				{true, vcF14, PressStart},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			combo, err := Parse(tt.combo)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			tr := NewTracker(combo)

			for i, s := range tt.steps {
				var got Event
				if s.down {
					got = tr.Down(s.code)
				} else {
					got = tr.Up(s.code)
				}
				if got != s.want {
					t.Fatalf("step %d: got %v, want %v", i, got, s.want)
				}
			}
		})
	}
}

func newTestListener(t *testing.T, combo string) (*Listener, chan hook.Event, *int) {
	t.Helper()

	c, err := Parse(combo)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	raw := make(chan hook.Event, 16)
	ends := 0
	l := NewListener(c, nil)
	l.start = func() chan hook.Event { return raw }
	l.end = func() {
		ends++
		close(raw)
	}
	l.permission = func() error { return nil }
	return l, raw, &ends
}

func TestListenerDeliversOrderedTransitions(t *testing.T) {
	l, raw, ends := newTestListener(t, "alt")

	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	raw <- hook.Event{Kind: hook.KeyHold, Keycode: vcAltL}
	raw <- hook.Event{Kind: hook.KeyHold, Keycode: vcAltL}   // auto-repeat
	raw <- hook.Event{Kind: hook.KeyDown, Keycode: vcAltL}   // typed, ignored
	raw <- hook.Event{Kind: hook.KeyHold, Keycode: vcShiftL} // unrelated
	raw <- hook.Event{Kind: hook.KeyUp, Keycode: vcAltL}
	raw <- hook.Event{Kind: hook.KeyHold, Keycode: vcAltR}
	raw <- hook.Event{Kind: hook.KeyUp, Keycode: vcAltR}

	want := []Event{PressStart, PressEnd, PressStart, PressEnd}
	for i, w := range want {
		select {
		case got := <-l.Events():
			if got != w {
				t.Fatalf("event %d: got %v, want %v", i, got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	l.Stop()
	l.Stop()
	if *ends != 1 {
		t.Errorf("end called %d times, want 1", *ends)
	}

	select {
	case _, ok := <-l.Events():
		if ok {
			t.Error("expected events channel to be closed")
		}
	case <-time.After(time.Second):
		t.Error("events channel not closed after Stop")
	}
}

func TestListenerPermissionDenied(t *testing.T) {
	l, _, _ := newTestListener(t, "f13")
	l.permission = func() error {
		return &types.PermissionError{Grant: types.GrantInputMonitoring}
	}

	err := l.Start(context.Background())
	if !errors.Is(err, types.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}

	// Stop before a successful Start must not call end.
	l.Stop()
}

func TestListenerDoubleStart(t *testing.T) {
	l, _, _ := newTestListener(t, "f15")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := l.Start(ctx); err == nil {
		t.Fatal("expected error on second Start")
	}
	l.Stop()
}
