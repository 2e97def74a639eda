package stt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.aimuz.me/miaoshu/internal/types"
)

// serial admits one Transcribe call at a time and bounds how long a caller
// waits for it.
type serial struct {
	inner   Engine
	timeout time.Duration
	log     *slog.Logger

	// sem is held until the inner call returns, even after the caller has
	// given up, so a slow engine never sees overlapping calls.
	sem chan struct{}
}

// Serial wraps e so that at most one recognition runs at a time. Calls that
// exceed timeout (or whose context ends) return ErrRecognitionFailed; a zero
// timeout disables the bound.
func Serial(e Engine, timeout time.Duration, logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &serial{
		inner:   e,
		timeout: timeout,
		log:     logger,
		sem:     make(chan struct{}, 1),
	}
}

func (s *serial) Name() string { return s.inner.Name() }

type transcribeResult struct {
	t   *types.Transcript
	err error
}

func (s *serial) Transcribe(ctx context.Context, samples []float32, opts Options) (*types.Transcript, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, recognitionError("waiting for engine: %v", ctx.Err())
	}

	done := make(chan transcribeResult, 1)
	start := time.Now()
	go func() {
		defer func() { <-s.sem }()
		t, err := s.inner.Transcribe(ctx, samples, opts)
		done <- transcribeResult{t, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, wrapRecognition(r.err)
		}
		if r.t == nil {
			return nil, recognitionError("engine returned no transcript")
		}
		s.log.Debug("transcribed", "elapsed", time.Since(start), "chars", len([]rune(r.t.Text)))
		return r.t, nil
	case <-ctx.Done():
		s.log.Warn("recognition abandoned", "elapsed", time.Since(start), "error", ctx.Err())
		return nil, recognitionError("%v after %s", ctx.Err(), time.Since(start).Round(time.Millisecond))
	}
}

func (s *serial) Close() error {
	// Wait for an abandoned call to finish before releasing the engine.
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	return s.inner.Close()
}

func wrapRecognition(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrRecognitionFailed, err)
}
