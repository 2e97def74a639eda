// Package notify shows user-visible desktop notifications.
package notify

import (
	"log/slog"

	"github.com/gen2brain/beeep"
)

// AppName is used as the notification title.
const AppName = "Miaoshu"

// Notifier surfaces a message to the user. Implementations must not block
// for long; failures are logged, never returned.
type Notifier interface {
	Notify(message string)
}

// Desktop sends notifications through the OS notification centre.
type Desktop struct {
	log *slog.Logger
}

// New returns a desktop notifier, or a Nop notifier when disabled.
func New(enabled bool, logger *slog.Logger) Notifier {
	if !enabled {
		return Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Desktop{log: logger.With("component", "notify")}
}

// Notify posts message in the background; delivery can take a D-Bus or
// osascript round trip.
func (d *Desktop) Notify(message string) {
	go func() {
		if err := beeep.Notify(AppName, message, ""); err != nil {
			d.log.Warn("notification failed", "error", err, "message", message)
		}
	}()
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(string) {}
