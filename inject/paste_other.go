//go:build !darwin

package inject

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/micmonay/keybd_event"

	"go.aimuz.me/miaoshu/internal/types"
)

// newPasteFunc sends Ctrl+V through a virtual keyboard. On Linux this needs
// write access to /dev/uinput.
func newPasteFunc() (func(context.Context) error, error) {
	kb, err := keybd_event.NewKeyBonding()
	if err != nil {
		return nil, &types.PermissionError{Grant: types.GrantInputInjection, Err: err}
	}
	if runtime.GOOS == "linux" {
		// uinput devices are ignored for a moment after creation.
		time.Sleep(2 * time.Second)
	}

	var mu sync.Mutex
	return func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()

		kb.Clear()
		kb.HasCTRL(true)
		kb.SetKeys(keybd_event.VK_V)
		return kb.Launching()
	}, nil
}
