// Package types provides shared type definitions for the application.
package types

import (
	"strings"
	"time"
)

// Segment is one time-stamped piece of a transcript.
type Segment struct {
	Text       string        `json:"text"`
	Confidence float64       `json:"confidence"` // 0-1, 0 when the engine does not report it
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
}

// Transcript is the immutable result of recognising one recording.
type Transcript struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language"` // Detected or declared language code, "auto" if unknown

	// Punctuated is set by engines that emit their own punctuation.
	Punctuated bool `json:"punctuated"`
}

// SegmentText concatenates the segment texts in order.
func (t *Transcript) SegmentText() string {
	var b strings.Builder
	for _, s := range t.Segments {
		b.WriteString(s.Text)
	}
	return b.String()
}

// SessionStatus is the lifecycle status of a recording session.
type SessionStatus string

const (
	SessionActive     SessionStatus = "active"
	SessionFinalizing SessionStatus = "finalizing"
	SessionDiscarded  SessionStatus = "discarded"
)

// State is the externally visible controller state.
type State string

const (
	StateIdle         State = "idle"
	StateRecording    State = "recording"
	StateTranscribing State = "transcribing"
	StateInjecting    State = "injecting"
)

// Outcome describes how a session ended.
type Outcome string

const (
	OutcomeInjected          Outcome = "injected"
	OutcomeEmpty             Outcome = "empty"
	OutcomeNoText            Outcome = "no_text"
	OutcomeRecognitionFailed Outcome = "recognition_failed"
	OutcomeInjectionFailed   Outcome = "injection_failed"
	OutcomeDeviceUnavailable Outcome = "device_unavailable"
	OutcomeBusy              Outcome = "busy"
)

// HistoryEntry is one dictation kept in the local history.
type HistoryEntry struct {
	ID        string        `json:"id"`
	Raw       string        `json:"raw"`
	Text      string        `json:"text"`
	Language  string        `json:"language"`
	Duration  time.Duration `json:"duration"`
	Outcome   Outcome       `json:"outcome"`
	CreatedAt time.Time     `json:"createdAt"`
}
