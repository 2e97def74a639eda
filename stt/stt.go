// Package stt provides the speech recognition engine interface and
// implementations.
package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.aimuz.me/miaoshu/config"
	"go.aimuz.me/miaoshu/internal/types"
)

// ErrRecognitionFailed is matched by every engine failure, including
// timeouts.
var ErrRecognitionFailed = errors.New("recognition failed")

// ErrEngineUnavailable is returned when an engine cannot be constructed,
// e.g. missing model files or a backend not compiled in.
var ErrEngineUnavailable = errors.New("recognition engine unavailable")

// Options configures one recognition call.
type Options struct {
	SampleRate int
	Language   string // "auto" or a language code
	UseITN     bool
}

// Engine converts a finished recording into a transcript.
//
// Implementations are not required to be safe for concurrent use; wrap them
// with Serial.
type Engine interface {
	// Name returns the engine identifier.
	Name() string

	// Transcribe recognises mono float32 samples at opts.SampleRate.
	Transcribe(ctx context.Context, samples []float32, opts Options) (*types.Transcript, error)

	// Close releases resources held by the engine.
	Close() error
}

// New builds the engine selected by cfg, already wrapped with Serial.
func New(cfg *config.Config, logger *slog.Logger) (Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "stt", "engine", cfg.Engine)

	var (
		e   Engine
		err error
	)
	switch cfg.Engine {
	case config.EngineSenseVoice:
		if !SenseVoiceAvailable() {
			log.Warn("sensevoice not compiled in (build with -tags sherpa), falling back to whisper")
			e, err = newWhisper(cfg)
			if err != nil {
				err = fmt.Errorf("%w: sensevoice requires building with -tags sherpa; whisper fallback: %v", ErrEngineUnavailable, err)
			}
			break
		}
		e, err = NewSenseVoice(SenseVoiceConfig{
			ModelDir:   cfg.ResolvedModelDir(),
			NumThreads: cfg.NumThreads,
			SampleRate: cfg.SampleRate,
		})
	case config.EngineWhisper:
		e, err = newWhisper(cfg)
	case config.EngineStub:
		log.Warn("stub engine selected; recognition returns fixed text")
		e = NewStub("")
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", ErrEngineUnavailable, cfg.Engine)
	}
	if err != nil {
		return nil, err
	}

	log.Info("engine ready", "name", e.Name(), "model_dir", cfg.ResolvedModelDir())
	return Serial(e, cfg.RecognitionTimeout.D(), log), nil
}

func newWhisper(cfg *config.Config) (Engine, error) {
	w, err := NewWhisperLocal(WhisperLocalConfig{
		ModelDir:   cfg.ResolvedModelDir(),
		NumThreads: cfg.NumThreads,
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func recognitionError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRecognitionFailed, fmt.Sprintf(format, args...))
}
