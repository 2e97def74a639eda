package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"go.aimuz.me/miaoshu/internal/types"
)

// WhisperLocal runs recognition through the whisper.cpp CLI.
type WhisperLocal struct {
	modelPath  string
	binPath    string
	numThreads int
}

// WhisperLocalConfig holds configuration for WhisperLocal.
type WhisperLocalConfig struct {
	ModelDir   string // Directory containing ggml-*.bin
	ModelFile  string // Optional, defaults to the first ggml-*.bin in ModelDir
	BinPath    string // Optional, searched in PATH and common locations
	NumThreads int
}

// NewWhisperLocal locates the whisper.cpp binary and model.
func NewWhisperLocal(cfg WhisperLocalConfig) (*WhisperLocal, error) {
	modelPath := cfg.ModelFile
	if modelPath == "" {
		matches, _ := filepath.Glob(filepath.Join(cfg.ModelDir, "ggml-*.bin"))
		if len(matches) == 0 {
			return nil, fmt.Errorf("%w: no ggml-*.bin model in %s", ErrEngineUnavailable, cfg.ModelDir)
		}
		modelPath = matches[0]
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: model: %v", ErrEngineUnavailable, err)
	}

	binPath := cfg.BinPath
	if binPath == "" {
		binPath = findWhisperBinary()
	}
	if binPath == "" {
		return nil, fmt.Errorf("%w: whisper-cli binary not found, please install whisper.cpp", ErrEngineUnavailable)
	}

	return &WhisperLocal{
		modelPath:  modelPath,
		binPath:    binPath,
		numThreads: max(cfg.NumThreads, 1),
	}, nil
}

func (w *WhisperLocal) Name() string { return "whisper-local" }

// Transcribe writes the samples to a temporary WAV file and runs
// whisper-cli with JSON output. The process is killed when ctx ends.
func (w *WhisperLocal) Transcribe(ctx context.Context, samples []float32, opts Options) (*types.Transcript, error) {
	tmpDir, err := os.MkdirTemp("", "miaoshu-whisper-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	base := filepath.Join(tmpDir, uuid.NewString())
	audioPath := base + ".wav"
	if err := WriteWAV(audioPath, samples, opts.SampleRate); err != nil {
		return nil, err
	}

	lang := opts.Language
	if lang == "" {
		lang = "auto"
	}
	args := []string{
		"-m", w.modelPath,
		"-f", audioPath,
		"-t", strconv.Itoa(w.numThreads),
		"-l", lang,
		"-oj", // JSON output
		"-of", base,
		"-np",
	}

	cmd := exec.CommandContext(ctx, w.binPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("whisper-cli failed: %w, stderr: %s", err, strings.TrimSpace(stderr.String()))
	}

	data, err := os.ReadFile(base + ".json")
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}
	return parseWhisperOutput(data)
}

func (w *WhisperLocal) Close() error {
	return nil
}

// whisperCppOutput represents the JSON output from whisper.cpp.
type whisperCppOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Text    string `json:"text"`
		Offsets struct {
			From int64 `json:"from"` // milliseconds
			To   int64 `json:"to"`
		} `json:"offsets"`
	} `json:"transcription"`
}

func parseWhisperOutput(data []byte) (*types.Transcript, error) {
	var out whisperCppOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse whisper output: %w", err)
	}

	lang := out.Result.Language
	if lang == "" {
		lang = "auto"
	}

	t := &types.Transcript{
		Language:   lang,
		Punctuated: true,
		Segments:   make([]types.Segment, 0, len(out.Transcription)),
	}

	var text strings.Builder
	for _, seg := range out.Transcription {
		text.WriteString(seg.Text)
		t.Segments = append(t.Segments, types.Segment{
			Text:  seg.Text,
			Start: time.Duration(seg.Offsets.From) * time.Millisecond,
			End:   time.Duration(seg.Offsets.To) * time.Millisecond,
		})
	}
	t.Text = strings.TrimSpace(text.String())
	return t, nil
}

func findWhisperBinary() string {
	// whisper-cli is the Homebrew name
	names := []string{"whisper-cli", "whisper-cpp", "whisper"}

	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	homeDir, _ := os.UserHomeDir()
	locations := []string{
		"/opt/homebrew/bin",
		"/usr/local/bin",
		filepath.Join(homeDir, ".local", "bin"),
		filepath.Join(homeDir, "whisper.cpp", "build", "bin"),
	}

	for _, loc := range locations {
		for _, name := range names {
			path := filepath.Join(loc, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}

	if runtime.GOOS == "darwin" {
		execPath, _ := os.Executable()
		bundlePath := filepath.Join(filepath.Dir(execPath), "..", "Resources", "whisper-cli")
		if _, err := os.Stat(bundlePath); err == nil {
			return bundlePath
		}
	}

	return ""
}
