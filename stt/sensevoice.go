//go:build sherpa

package stt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"go.aimuz.me/miaoshu/internal/types"
)

// SenseVoiceAvailable reports whether the sherpa-onnx backend is compiled in.
func SenseVoiceAvailable() bool { return true }

// SenseVoice runs the SenseVoice model through sherpa-onnx.
//
// sherpa-onnx fixes use_itn and language at recognizer construction, so one
// recognizer is kept per (language, itn) pair and created on first use.
type SenseVoice struct {
	cfg   SenseVoiceConfig
	model string
	recs  map[recognizerKey]*sherpa.OfflineRecognizer
}

type recognizerKey struct {
	language string
	itn      bool
}

// NewSenseVoice checks the model directory and loads the default recognizer
// (auto language, ITN on) so that startup fails early on a broken model.
func NewSenseVoice(cfg SenseVoiceConfig) (*SenseVoice, error) {
	model, tokens, err := senseVoiceFiles(cfg.ModelDir)
	if err != nil {
		return nil, err
	}
	cfg.tokens = tokens

	s := &SenseVoice{
		cfg:   cfg,
		model: model,
		recs:  make(map[recognizerKey]*sherpa.OfflineRecognizer),
	}
	if _, err := s.recognizer("auto", true); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SenseVoice) Name() string { return "sensevoice" }

func (s *SenseVoice) recognizer(lang string, itn bool) (*sherpa.OfflineRecognizer, error) {
	key := recognizerKey{language: lang, itn: itn}
	if r, ok := s.recs[key]; ok {
		return r, nil
	}

	useITN := 0
	if itn {
		useITN = 1
	}
	config := sherpa.OfflineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{SampleRate: s.cfg.SampleRate, FeatureDim: 80},
		ModelConfig: sherpa.OfflineModelConfig{
			SenseVoice: sherpa.OfflineSenseVoiceModelConfig{
				Model:                       s.model,
				Language:                    lang,
				UseInverseTextNormalization: useITN,
			},
			Tokens:     s.cfg.tokens,
			NumThreads: s.cfg.NumThreads,
			Provider:   "cpu",
		},
		DecodingMethod: "greedy_search",
	}

	r := sherpa.NewOfflineRecognizer(&config)
	if r == nil {
		return nil, fmt.Errorf("%w: sherpa-onnx rejected model %s", ErrEngineUnavailable, s.model)
	}
	s.recs[key] = r
	return r, nil
}

// Transcribe decodes the whole recording in one pass. Decoding is not
// interruptible; ctx is only checked before it starts.
func (s *SenseVoice) Transcribe(ctx context.Context, samples []float32, opts Options) (*types.Transcript, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lang := opts.Language
	if lang == "" {
		lang = "auto"
	}
	r, err := s.recognizer(lang, opts.UseITN)
	if err != nil {
		return nil, err
	}

	stream := sherpa.NewOfflineStream(r)
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(opts.SampleRate, samples)
	r.Decode(stream)
	res := stream.GetResult()
	if res == nil {
		return nil, fmt.Errorf("sherpa-onnx returned no result")
	}

	t := &types.Transcript{
		Text:       strings.TrimSpace(res.Text),
		Language:   senseVoiceLang(res.Lang, lang),
		Punctuated: opts.UseITN,
	}
	t.Segments = tokenSegments(res.Tokens, res.Timestamps, time.Duration(len(samples))*time.Second/time.Duration(opts.SampleRate))
	return t, nil
}

func (s *SenseVoice) Close() error {
	for k, r := range s.recs {
		sherpa.DeleteOfflineRecognizer(r)
		delete(s.recs, k)
	}
	return nil
}

// senseVoiceFiles prefers the int8 model when present.
func senseVoiceFiles(dir string) (model, tokens string, err error) {
	for _, name := range []string{"model.int8.onnx", "model.onnx"} {
		p := filepath.Join(dir, name)
		if _, statErr := os.Stat(p); statErr == nil {
			model = p
			break
		}
	}
	if model == "" {
		return "", "", fmt.Errorf("%w: no model.onnx in %s", ErrEngineUnavailable, dir)
	}

	tokens = filepath.Join(dir, "tokens.txt")
	if _, statErr := os.Stat(tokens); statErr != nil {
		return "", "", fmt.Errorf("%w: %v", ErrEngineUnavailable, statErr)
	}
	return model, tokens, nil
}
