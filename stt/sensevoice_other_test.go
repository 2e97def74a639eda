//go:build !sherpa

package stt

import (
	"errors"
	"strings"
	"testing"

	"go.aimuz.me/miaoshu/config"
)

func TestNewDefaultWithoutSherpa(t *testing.T) {
	cfg := config.Default()
	cfg.ModelDir = t.TempDir()

	if SenseVoiceAvailable() {
		t.Fatal("SenseVoiceAvailable() = true in a build without the sherpa tag")
	}

	_, err := New(cfg, nil)
	if !errors.Is(err, ErrEngineUnavailable) {
		t.Fatalf("expected ErrEngineUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "-tags sherpa") {
		t.Errorf("error %q should name the build tag", err)
	}
}

func TestNewStub(t *testing.T) {
	cfg := config.Default()
	cfg.Engine = config.EngineStub

	e, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()
	if e.Name() != "stub" {
		t.Errorf("Name() = %q, want stub", e.Name())
	}
}
