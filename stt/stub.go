package stt

import (
	"context"
	"time"

	"go.aimuz.me/miaoshu/internal/types"
)

// Stub returns a fixed transcript for every recording. It lets the pipeline
// run without model files.
type Stub struct {
	text string
}

// NewStub creates a stub engine. An empty text selects a default phrase.
func NewStub(text string) *Stub {
	if text == "" {
		text = "你好世界"
	}
	return &Stub{text: text}
}

func (s *Stub) Name() string { return "stub" }

func (s *Stub) Transcribe(ctx context.Context, samples []float32, opts Options) (*types.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lang := opts.Language
	if lang == "" {
		lang = "auto"
	}
	var d time.Duration
	if opts.SampleRate > 0 {
		d = time.Duration(len(samples)) * time.Second / time.Duration(opts.SampleRate)
	}
	return &types.Transcript{
		Text:     s.text,
		Language: lang,
		Segments: []types.Segment{{Text: s.text, Confidence: 1, End: d}},
	}, nil
}

func (s *Stub) Close() error { return nil }
