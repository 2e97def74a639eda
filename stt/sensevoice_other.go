//go:build !sherpa

package stt

import (
	"context"
	"fmt"

	"go.aimuz.me/miaoshu/internal/types"
)

// SenseVoiceAvailable reports whether the sherpa-onnx backend is compiled in.
func SenseVoiceAvailable() bool { return false }

// SenseVoice is a placeholder when built without the sherpa tag.
type SenseVoice struct{}

// NewSenseVoice returns ErrEngineUnavailable; rebuild with -tags sherpa.
func NewSenseVoice(cfg SenseVoiceConfig) (*SenseVoice, error) {
	return nil, fmt.Errorf("%w: sensevoice requires building with -tags sherpa", ErrEngineUnavailable)
}

func (s *SenseVoice) Name() string { return "sensevoice" }

func (s *SenseVoice) Transcribe(ctx context.Context, samples []float32, opts Options) (*types.Transcript, error) {
	return nil, ErrEngineUnavailable
}

func (s *SenseVoice) Close() error { return nil }
