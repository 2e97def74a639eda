// Package clipboard reads and writes the system text clipboard.
package clipboard

import (
	"fmt"
	"sync"

	"github.com/atotto/clipboard"
)

var clipboardLock sync.Mutex

// GetText returns the current clipboard text.
func GetText() (string, error) {
	clipboardLock.Lock()
	defer clipboardLock.Unlock()

	text, err := clipboard.ReadAll()
	if err != nil {
		return "", fmt.Errorf("read clipboard: %w", err)
	}
	return text, nil
}

// SetText replaces the clipboard contents with text.
func SetText(text string) error {
	clipboardLock.Lock()
	defer clipboardLock.Unlock()

	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	return nil
}

// Available reports whether a clipboard backend exists (e.g. xclip or
// wl-clipboard on Linux).
func Available() bool {
	return !clipboard.Unsupported
}

// System is the process clipboard as a value, for code that takes the
// clipboard as a dependency.
type System struct{}

func (System) GetText() (string, error) { return GetText() }
func (System) SetText(text string) error { return SetText(text) }
