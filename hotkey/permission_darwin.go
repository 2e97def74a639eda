//go:build darwin

package hotkey

/*
#cgo LDFLAGS: -framework ApplicationServices -framework CoreFoundation
#include <ApplicationServices/ApplicationServices.h>

static int axTrusted(int prompt) {
	const void *keys[] = { kAXTrustedCheckOptionPrompt };
	const void *values[] = { prompt ? kCFBooleanTrue : kCFBooleanFalse };
	CFDictionaryRef opts = CFDictionaryCreate(kCFAllocatorDefault, keys, values, 1,
		&kCFCopyStringDictionaryKeyCallBacks, &kCFTypeDictionaryValueCallBacks);
	Boolean trusted = AXIsProcessTrustedWithOptions(opts);
	CFRelease(opts);
	return trusted ? 1 : 0;
}
*/
import "C"

import "go.aimuz.me/miaoshu/internal/types"

// IsAccessibilityEnabled reports whether the process is trusted for
// accessibility. With prompt set, macOS shows the grant dialog if not.
func IsAccessibilityEnabled(prompt bool) bool {
	p := C.int(0)
	if prompt {
		p = 1
	}
	return C.axTrusted(p) == 1
}

// CheckPermission returns a PermissionError when input monitoring is not
// granted.
func CheckPermission() error {
	if !IsAccessibilityEnabled(true) {
		return &types.PermissionError{Grant: types.GrantInputMonitoring}
	}
	return nil
}
