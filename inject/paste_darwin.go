//go:build darwin

package inject

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.aimuz.me/miaoshu/hotkey"
	"go.aimuz.me/miaoshu/internal/types"
)

const pasteScript = `tell application "System Events" to keystroke "v" using command down`

// newPasteFunc sends Cmd+V through System Events. Synthetic keystrokes need
// the Accessibility grant.
func newPasteFunc() (func(context.Context) error, error) {
	if !hotkey.IsAccessibilityEnabled(false) {
		return nil, &types.PermissionError{
			Grant: types.GrantInputInjection,
			Err:   errors.New("enable this app in System Settings > Privacy & Security > Accessibility"),
		}
	}

	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, "osascript", "-e", pasteScript)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("osascript: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil
	}, nil
}
