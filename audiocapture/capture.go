// Package audiocapture provides microphone capture for push-to-talk
// recordings.
package audiocapture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrUnsupported is returned when no capture backend is available.
	ErrUnsupported = errors.New("audiocapture: unsupported platform")

	// ErrRunning is returned by a Capturer that is already streaming.
	ErrRunning = errors.New("audiocapture: already running")

	// ErrDeviceUnavailable wraps failures to open the input device.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrAlreadyCapturing is returned by Begin while a recording is open.
	ErrAlreadyCapturing = errors.New("already capturing audio")

	// ErrEmptyRecording is returned by End when the recording is too short
	// to contain speech.
	ErrEmptyRecording = errors.New("recording too short")
)

// AudioHandler receives mono float32 samples in [-1, 1]. The slice is only
// valid for the duration of the call.
type AudioHandler func(samples []float32)

// Capturer streams samples from an input device.
type Capturer interface {
	Start(handler AudioHandler) error
	Stop() error
}

// Config holds recorder settings.
type Config struct {
	SampleRate       int           // Default 16000 Hz
	MinDuration      time.Duration // Shorter recordings are ErrEmptyRecording
	MaxDuration      time.Duration // Capture stops after this much audio, 0 disables
	SilenceThreshold float64       // RMS below which audio counts as silence, 0 disables trimming
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:  16000,
		MinDuration: 300 * time.Millisecond,
		MaxDuration: 60 * time.Second,
	}
}

// Recorder hands out one Recording at a time on top of a Capturer.
type Recorder struct {
	cfg      Config
	capturer Capturer
	log      *slog.Logger

	mu     sync.Mutex
	active *Recording
}

// NewRecorder creates a recorder.
func NewRecorder(c Capturer, cfg Config, logger *slog.Logger) *Recorder {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		cfg:      cfg,
		capturer: c,
		log:      logger.With("component", "audiocapture"),
	}
}

// Begin opens the device and starts appending to a fresh buffer. It returns
// without waiting for audio. onLimit, if set, is called once from a separate
// goroutine when MaxDuration of audio has been captured.
func (r *Recorder) Begin(onLimit func()) (*Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return nil, ErrAlreadyCapturing
	}

	rec := &Recording{
		recorder: r,
		started:  time.Now(),
		onLimit:  onLimit,
	}
	if r.cfg.MaxDuration > 0 {
		rec.limit = int(r.cfg.MaxDuration.Seconds() * float64(r.cfg.SampleRate))
	}

	if err := r.capturer.Start(rec.append); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	r.active = rec
	r.log.Debug("recording started")
	return rec, nil
}

func (r *Recorder) release(rec *Recording) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != rec {
		return nil
	}
	r.active = nil
	return r.capturer.Stop()
}

// Recording is the append-only buffer of one session.
type Recording struct {
	recorder *Recorder
	started  time.Time
	onLimit  func()

	mu      sync.Mutex
	chunks  [][]float32
	samples int
	limit   int
	limited bool
	sealed  bool

	endOnce sync.Once
}

// captured returns the audio duration appended so far.
func (rec *Recording) captured() time.Duration {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return samplesDuration(rec.samples, rec.recorder.cfg.SampleRate)
}

// isLimited reports whether capture stopped at MaxDuration.
func (rec *Recording) isLimited() bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.limited
}

// append runs on the device callback thread.
func (rec *Recording) append(in []float32) {
	rec.mu.Lock()
	if rec.sealed || rec.limited {
		rec.mu.Unlock()
		return
	}

	n := len(in)
	if rec.limit > 0 && rec.samples+n >= rec.limit {
		n = rec.limit - rec.samples
		rec.limited = true
	}
	if n > 0 {
		chunk := make([]float32, n)
		copy(chunk, in[:n])
		rec.chunks = append(rec.chunks, chunk)
		rec.samples += n
	}
	hitLimit := rec.limited
	rec.mu.Unlock()

	if hitLimit && rec.onLimit != nil {
		go rec.onLimit()
	}
}

// End stops the device and returns the captured samples. The device is
// released on every path. Recordings shorter than MinDuration (after silence
// trimming) return ErrEmptyRecording.
func (rec *Recording) End() ([]float32, error) {
	samples, stopErr := rec.seal()
	if stopErr != nil {
		rec.recorder.log.Warn("stop capture", "error", stopErr)
	}

	cfg := rec.recorder.cfg
	raw := len(samples)
	if cfg.SilenceThreshold > 0 {
		samples = TrimSilence(samples, cfg.SampleRate, cfg.SilenceThreshold)
	}

	d := samplesDuration(len(samples), cfg.SampleRate)
	rec.recorder.log.Debug("recording ended",
		"duration", d,
		"trimmed", raw-len(samples),
		"limited", rec.isLimited(),
		"elapsed", time.Since(rec.started).Round(time.Millisecond),
	)

	if len(samples) == 0 || d < cfg.MinDuration {
		return nil, fmt.Errorf("%w: %s < %s", ErrEmptyRecording, d.Round(time.Millisecond), cfg.MinDuration)
	}
	return samples, nil
}

// Discard stops the device and drops the buffer.
func (rec *Recording) Discard() {
	if _, err := rec.seal(); err != nil {
		rec.recorder.log.Warn("stop capture", "error", err)
	}
}

// seal stops capture once and flattens the buffer.
func (rec *Recording) seal() ([]float32, error) {
	var (
		out []float32
		err error
	)
	rec.endOnce.Do(func() {
		err = rec.recorder.release(rec)

		rec.mu.Lock()
		rec.sealed = true
		out = make([]float32, 0, rec.samples)
		for _, c := range rec.chunks {
			out = append(out, c...)
		}
		rec.chunks = nil
		rec.mu.Unlock()
	})
	return out, err
}

func samplesDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}
