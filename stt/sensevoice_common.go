package stt

import (
	"strings"
	"time"

	"go.aimuz.me/miaoshu/internal/types"
)

// SenseVoiceConfig holds configuration for the SenseVoice engine.
type SenseVoiceConfig struct {
	ModelDir   string // Contains model(.int8).onnx and tokens.txt
	NumThreads int
	SampleRate int

	tokens string
}

// senseVoiceLang converts a result tag like "<|zh|>" to a language code,
// falling back to the requested language.
func senseVoiceLang(tag, requested string) string {
	code := strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(tag), "<|"), "|>")
	switch code {
	case "zh", "en", "ja", "ko", "yue":
		return code
	}
	if requested == "" {
		return "auto"
	}
	return requested
}

// tokenSegments turns per-token start times (seconds) into segments. The
// last token ends at total. Returns nil when the slices disagree.
func tokenSegments(tokens []string, starts []float32, total time.Duration) []types.Segment {
	if len(tokens) == 0 || len(tokens) != len(starts) {
		return nil
	}

	segs := make([]types.Segment, 0, len(tokens))
	for i, tok := range tokens {
		if strings.HasPrefix(tok, "<|") {
			continue
		}
		end := total
		if i+1 < len(starts) {
			end = seconds(starts[i+1])
		}
		segs = append(segs, types.Segment{
			Text:  strings.ReplaceAll(tok, "▁", " "),
			Start: seconds(starts[i]),
			End:   end,
		})
	}
	return segs
}

func seconds(s float32) time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}
