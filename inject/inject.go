// Package inject delivers text into the focused application by placing it
// on the clipboard and sending the platform paste shortcut, so the target
// sees one atomic insertion.
package inject

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.aimuz.me/miaoshu/clipboard"
)

// ErrInjectionFailed is matched by every injection failure.
var ErrInjectionFailed = errors.New("injection failed")

// Injector inserts text at the current focus point.
type Injector interface {
	Inject(ctx context.Context, text string) error
}

// Clipboard is the text clipboard used for staging.
type Clipboard interface {
	GetText() (string, error)
	SetText(text string) error
}

// Delays around the paste keystroke. Applications read the clipboard
// asynchronously after the shortcut, so restoring too early pastes the old
// contents.
const (
	settleDelay  = 80 * time.Millisecond
	restoreDelay = 150 * time.Millisecond
)

// Paster injects text with clipboard + paste shortcut and restores the
// previous clipboard text afterwards.
type Paster struct {
	clip  Clipboard
	paste func(ctx context.Context) error
	log   *slog.Logger

	settle  time.Duration
	restore time.Duration
}

// New creates a Paster for the current platform. It returns a
// types.PermissionError when synthetic input is not allowed.
func New(logger *slog.Logger) (*Paster, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !clipboard.Available() {
		return nil, fmt.Errorf("inject: no clipboard backend available")
	}

	paste, err := newPasteFunc()
	if err != nil {
		return nil, err
	}
	return &Paster{
		clip:    clipboard.System{},
		paste:   paste,
		log:     logger.With("component", "inject"),
		settle:  settleDelay,
		restore: restoreDelay,
	}, nil
}

// Inject pastes text into the focused application. Empty text is a no-op.
func (p *Paster) Inject(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}

	orig, origErr := p.clip.GetText()

	if err := p.clip.SetText(text); err != nil {
		return fmt.Errorf("%w: %w", ErrInjectionFailed, err)
	}
	if err := sleep(ctx, p.settle); err != nil {
		p.restoreClipboard(orig, origErr)
		return fmt.Errorf("%w: %w", ErrInjectionFailed, err)
	}

	if err := p.paste(ctx); err != nil {
		p.restoreClipboard(orig, origErr)
		return fmt.Errorf("%w: paste: %w", ErrInjectionFailed, err)
	}

	// The paste has been sent; a cancelled context only shortens the wait.
	_ = sleep(ctx, p.restore)
	p.restoreClipboard(orig, origErr)

	p.log.Debug("text injected", "chars", len([]rune(text)))
	return nil
}

func (p *Paster) restoreClipboard(orig string, readErr error) {
	if readErr != nil {
		return
	}
	if err := p.clip.SetText(orig); err != nil {
		p.log.Warn("restore clipboard", "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
