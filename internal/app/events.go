package app

import (
	"errors"
	"time"

	"go.aimuz.me/miaoshu/internal/types"
)

// Notification texts shown to the user.
const (
	MsgDeviceUnavailable = "Microphone unavailable"
	MsgRecognitionFailed = "Recognition failed"
	MsgInjectionFailed   = "Could not insert text"
	MsgBusy              = "Still transcribing, try again in a moment"
	MsgLimitReached      = "Recording limit reached, transcribing what was captured"
)

var (
	// ErrPermissionDenied is matched by every missing OS grant.
	ErrPermissionDenied = types.ErrPermissionDenied

	// ErrBusy is reported when a press arrives while the recognition queue
	// is full.
	ErrBusy = errors.New("recognition queue full")
)

type jobKind int

const (
	jobTranscribe jobKind = iota
	jobInject
)

func (k jobKind) String() string {
	if k == jobInject {
		return "inject"
	}
	return "transcribe"
}

// job is handed from the controller to the worker. The worker owns the
// session until it answers with a result.
type job struct {
	kind    jobKind
	session *Session
}

// result is the worker's answer to a job, consumed by the controller.
type result struct {
	kind      jobKind
	sessionID string
	err       error
	elapsed   time.Duration
}

// Session is one press-hold-release cycle.
type Session struct {
	ID        string
	StartedAt time.Time
	Status    types.SessionStatus

	rec      Recording
	samples  []float32
	duration time.Duration
	limited  bool

	// Filled in by the worker.
	transcript *types.Transcript
	text       string
}
