//go:build !darwin

package hotkey

// IsAccessibilityEnabled always reports true; only macOS gates global
// keyboard access behind a grant.
func IsAccessibilityEnabled(bool) bool { return true }

// CheckPermission is a no-op outside macOS.
func CheckPermission() error { return nil }
