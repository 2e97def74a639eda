package types

import (
	"errors"
	"fmt"
)

// ErrPermissionDenied is matched by every missing OS grant.
var ErrPermissionDenied = errors.New("permission denied")

// Grant names.
const (
	GrantMicrophone      = "microphone"
	GrantInputMonitoring = "input monitoring"
	GrantInputInjection  = "input injection"
)

// PermissionError reports which OS grant is missing.
type PermissionError struct {
	Grant string
	Err   error
}

func (e *PermissionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s access not granted", ErrPermissionDenied, e.Grant)
	}
	return fmt.Sprintf("%s: %s access not granted: %v", ErrPermissionDenied, e.Grant, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// Is reports every PermissionError as ErrPermissionDenied.
func (e *PermissionError) Is(target error) bool { return target == ErrPermissionDenied }
