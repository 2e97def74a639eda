// Package app wires the dictation pipeline together and runs the
// push-to-talk state machine.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.aimuz.me/miaoshu/audiocapture"
	"go.aimuz.me/miaoshu/config"
	"go.aimuz.me/miaoshu/history"
	"go.aimuz.me/miaoshu/hotkey"
	"go.aimuz.me/miaoshu/inject"
	"go.aimuz.me/miaoshu/metrics"
	"go.aimuz.me/miaoshu/notify"
	"go.aimuz.me/miaoshu/stt"
	"go.aimuz.me/miaoshu/textproc"
)

const metricsInterval = 15 * time.Second

// Service owns the process-wide resources: the hotkey subscription, the
// recognition engine and the optional history and metrics sinks.
type Service struct {
	cfg     *config.Config
	log     *slog.Logger
	version string

	listener   *hotkey.Listener
	engine     stt.Engine
	history    *history.Store
	metrics    *metrics.Metrics
	controller *Controller
}

// New creates a Service. Call Init before Run.
func New(cfg *config.Config, logger *slog.Logger, version string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, log: logger, version: version}
}

// Init probes OS permissions and builds every component. A missing grant
// is returned as a types.PermissionError.
func (s *Service) Init() error {
	combo, err := hotkey.Parse(s.cfg.Hotkey)
	if err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────
	// Permissions
	// ─────────────────────────────────────────────────────────────────────

	if err := audiocapture.CheckPermission(); err != nil {
		return err
	}
	if err := hotkey.CheckPermission(); err != nil {
		return err
	}
	injector, err := inject.New(s.log)
	if err != nil {
		return err
	}

	// ─────────────────────────────────────────────────────────────────────
	// Components
	// ─────────────────────────────────────────────────────────────────────

	capturer, err := audiocapture.New(s.cfg.SampleRate)
	if err != nil {
		return fmt.Errorf("create audio capture: %w", err)
	}
	recorder := audiocapture.NewRecorder(capturer, audiocapture.Config{
		SampleRate:       s.cfg.SampleRate,
		MinDuration:      s.cfg.MinDuration.D(),
		MaxDuration:      s.cfg.MaxDuration.D(),
		SilenceThreshold: s.cfg.SilenceThreshold,
	}, s.log)

	engine, err := stt.New(s.cfg, s.log)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	s.engine = engine

	s.setupHistory()
	if s.cfg.MetricsFile != "" {
		s.metrics = metrics.New()
	}

	if s.cfg.DumpDir != "" {
		if err := os.MkdirAll(s.cfg.DumpDir, 0755); err != nil {
			s.log.Warn("create dump dir", "error", err)
		}
	}

	deps := Deps{
		Recorder:  captureRecorder{recorder},
		Engine:    engine,
		Processor: textproc.New(s.cfg, s.log),
		Injector:  injector,
		Notifier:  notify.New(s.cfg.Notification, s.log),
		Metrics:   s.metrics,
		Logger:    s.log,
	}
	if s.history != nil {
		deps.History = s.history
	}

	s.controller = NewController(Options{
		Language:   s.cfg.Language,
		UseITN:     s.cfg.UseITN,
		SampleRate: s.cfg.SampleRate,
		QueueDepth: s.cfg.QueueDepth,
		DumpDir:    s.cfg.DumpDir,
	}, deps)

	s.listener = hotkey.NewListener(combo, s.log)

	s.log.Info("service initialized",
		"version", s.version,
		"hotkey", combo.Description,
		"language", s.cfg.Language,
		"engine", engine.Name(),
	)
	return nil
}

func (s *Service) setupHistory() {
	if !s.cfg.History.Enabled {
		return
	}
	dir, err := s.cfg.HistoryDir()
	if err != nil {
		s.log.Error("get history dir", "error", err)
		return
	}
	h, err := history.Open(dir, s.cfg.History.TTL.D(), s.log)
	if err != nil {
		s.log.Error("open history", "error", err)
		return
	}
	s.history = h
	s.log.Info("history enabled", "path", dir)

	if recent, err := h.Recent(1); err != nil {
		s.log.Warn("read history", "error", err)
	} else if len(recent) > 0 {
		last := recent[0]
		s.log.Debug("last dictation", "at", last.CreatedAt, "outcome", last.Outcome, "text", last.Text)
	}
}

// Run subscribes to the hotkey and drives sessions until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	if err := s.listener.Start(ctx); err != nil {
		return err
	}

	if s.metrics != nil {
		go s.flushMetrics(ctx)
	}
	return s.controller.Run(ctx, s.listener.Events())
}

// Shutdown releases resources in reverse order of acquisition.
func (s *Service) Shutdown() {
	if s.listener != nil {
		s.listener.Stop()
	}
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			s.log.Error("close engine", "error", err)
		}
	}
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.log.Error("close history", "error", err)
		}
	}
	if s.metrics != nil {
		s.writeMetrics()
	}
}

func (s *Service) flushMetrics(ctx context.Context) {
	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMetrics()
		}
	}
}

func (s *Service) writeMetrics() {
	if err := s.metrics.WriteFile(s.cfg.MetricsFile); err != nil {
		s.log.Warn("write metrics", "error", err)
	}
}

// captureRecorder adapts audiocapture.Recorder to Recorder.
type captureRecorder struct {
	r *audiocapture.Recorder
}

func (c captureRecorder) Begin(onLimit func()) (Recording, error) {
	rec, err := c.r.Begin(onLimit)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
