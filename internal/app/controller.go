package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"go.aimuz.me/miaoshu/audiocapture"
	"go.aimuz.me/miaoshu/hotkey"
	"go.aimuz.me/miaoshu/inject"
	"go.aimuz.me/miaoshu/internal/types"
	"go.aimuz.me/miaoshu/metrics"
	"go.aimuz.me/miaoshu/notify"
	"go.aimuz.me/miaoshu/stt"
)

// Recorder opens one recording at a time.
type Recorder interface {
	Begin(onLimit func()) (Recording, error)
}

// Recording is an open capture.
type Recording interface {
	// End stops capture and returns the samples, or an error matching
	// audiocapture.ErrEmptyRecording.
	End() ([]float32, error)
	// Discard stops capture and drops the samples.
	Discard()
}

// Processor turns a transcript into the text to inject.
type Processor interface {
	Process(t *types.Transcript) string
}

// History records finished dictations.
type History interface {
	Append(e types.HistoryEntry) (types.HistoryEntry, error)
}

// Options are the controller settings taken from configuration.
type Options struct {
	Language   string
	UseITN     bool
	SampleRate int
	QueueDepth int    // Sealed sessions allowed in flight or waiting
	DumpDir    string // Optional directory for WAV dumps of each recording
}

// Deps are the collaborators of the controller. History and Metrics are
// optional.
type Deps struct {
	Recorder  Recorder
	Engine    stt.Engine
	Processor Processor
	Injector  inject.Injector
	Notifier  notify.Notifier
	History   History
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Controller is the push-to-talk state machine. All session state is owned
// by the goroutine running Run; recognition and injection run on a single
// worker goroutine and report back as results.
type Controller struct {
	opts Options
	deps Deps
	log  *slog.Logger

	// Owned by Run.
	active   *Session
	queue    []*Session
	inflight *Session
	phase    jobKind

	jobs    chan job
	results chan result
	limits  chan string

	state atomic.Value // types.State

	// onFinish, if set, observes every finished session. Called from Run.
	onFinish func(s *Session, o types.Outcome)
}

// NewController creates a controller.
func NewController(opts Options, deps Deps) *Controller {
	if opts.QueueDepth < 1 {
		opts.QueueDepth = 1
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 16000
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	c := &Controller{
		opts:    opts,
		deps:    deps,
		log:     deps.Logger.With("component", "controller"),
		jobs:    make(chan job, 1),
		results: make(chan result, 1),
		limits:  make(chan string, 1),
	}
	c.state.Store(types.StateIdle)
	return c
}

// State returns the externally visible state. While a new recording runs
// alongside an earlier transcription, Recording wins.
func (c *Controller) State() types.State {
	return c.state.Load().(types.State)
}

// Run consumes hotkey events until ctx ends or the event stream closes.
// On return any open recording is discarded and the worker has stopped.
func (c *Controller) Run(ctx context.Context, events <-chan hotkey.Event) error {
	workerCtx, cancel := context.WithCancel(ctx)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		c.worker(workerCtx)
	}()

	defer func() {
		if c.active != nil {
			c.active.rec.Discard()
			c.active.Status = types.SessionDiscarded
			c.active = nil
		}
		cancel()
		close(c.jobs)
		<-workerDone
		c.queue = nil
		c.inflight = nil
		c.publish()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("hotkey event stream closed")
			}
			switch ev {
			case hotkey.PressStart:
				c.pressStart()
			case hotkey.PressEnd:
				c.pressEnd()
			}
		case id := <-c.limits:
			c.limitReached(id)
		case r := <-c.results:
			c.handleResult(r)
		}
		c.publish()
	}
}

func (c *Controller) pending() int {
	n := len(c.queue)
	if c.inflight != nil {
		n++
	}
	return n
}

func (c *Controller) pressStart() {
	if c.active != nil {
		c.log.Debug("press start while recording, ignored", "session", c.active.ID)
		return
	}

	if c.pending() >= c.opts.QueueDepth {
		c.log.Warn("rejecting new recording", "error", ErrBusy, "pending", c.pending())
		c.deps.Notifier.Notify(MsgBusy)
		c.record(types.OutcomeBusy)
		return
	}

	s := &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Status:    types.SessionActive,
	}
	id := s.ID
	rec, err := c.deps.Recorder.Begin(func() {
		select {
		case c.limits <- id:
		default:
		}
	})
	if err != nil {
		c.log.Error("begin recording", "error", err)
		c.deps.Notifier.Notify(fmt.Sprintf("%s: %v", MsgDeviceUnavailable, err))
		c.record(types.OutcomeDeviceUnavailable)
		return
	}

	s.rec = rec
	c.active = s
	c.log.Info("recording", "session", s.ID)
}

func (c *Controller) pressEnd() {
	if c.active == nil {
		// Release after Busy, a failed Begin or an auto-stop.
		return
	}
	c.seal()
}

func (c *Controller) limitReached(id string) {
	if c.active == nil || c.active.ID != id {
		return
	}
	c.log.Warn("maximum recording duration reached", "session", id)
	c.deps.Notifier.Notify(MsgLimitReached)
	c.active.limited = true
	c.seal()
}

// seal ends the active recording and queues it for recognition.
func (c *Controller) seal() {
	s := c.active
	c.active = nil
	s.Status = types.SessionFinalizing

	samples, err := s.rec.End()
	s.rec = nil
	if err != nil {
		s.Status = types.SessionDiscarded
		if errors.Is(err, audiocapture.ErrEmptyRecording) {
			c.log.Info("empty recording discarded", "session", s.ID, "reason", err)
			c.finish(s, types.OutcomeEmpty)
			return
		}
		c.log.Error("end recording", "session", s.ID, "error", err)
		c.deps.Notifier.Notify(fmt.Sprintf("%s: %v", MsgDeviceUnavailable, err))
		c.finish(s, types.OutcomeDeviceUnavailable)
		return
	}

	s.samples = samples
	s.duration = time.Duration(len(samples)) * time.Second / time.Duration(c.opts.SampleRate)
	if c.deps.Metrics != nil {
		c.deps.Metrics.ObserveRecording(s.duration)
	}
	c.log.Info("recording sealed", "session", s.ID, "duration", s.duration, "limited", s.limited)

	c.queue = append(c.queue, s)
	c.dispatch()
}

// dispatch hands the oldest sealed session to the worker when it is free.
// One session at a time keeps recognition serial and injection FIFO.
func (c *Controller) dispatch() {
	if c.inflight != nil || len(c.queue) == 0 {
		return
	}
	s := c.queue[0]
	c.queue = c.queue[1:]
	c.inflight = s
	c.phase = jobTranscribe
	c.jobs <- job{kind: jobTranscribe, session: s}
}

func (c *Controller) handleResult(r result) {
	s := c.inflight
	if s == nil || s.ID != r.sessionID || c.phase != r.kind {
		c.log.Warn("stale worker result dropped", "session", r.sessionID, "kind", r.kind)
		return
	}

	switch r.kind {
	case jobTranscribe:
		if c.deps.Metrics != nil {
			c.deps.Metrics.ObserveRecognition(r.elapsed)
		}
		if r.err != nil {
			c.log.Error("recognition failed", "session", s.ID, "error", r.err)
			c.deps.Notifier.Notify(MsgRecognitionFailed)
			c.complete(s, types.OutcomeRecognitionFailed)
			return
		}
		if s.text == "" {
			c.log.Info("no text recognised", "session", s.ID)
			c.complete(s, types.OutcomeNoText)
			return
		}
		c.phase = jobInject
		c.jobs <- job{kind: jobInject, session: s}

	case jobInject:
		if c.deps.Metrics != nil {
			c.deps.Metrics.ObserveInjection(r.elapsed)
		}
		if r.err != nil {
			c.log.Error("injection failed", "session", s.ID, "error", r.err)
			c.deps.Notifier.Notify(MsgInjectionFailed)
			c.complete(s, types.OutcomeInjectionFailed)
			return
		}
		c.log.Info("text injected", "session", s.ID, "chars", len([]rune(s.text)))
		c.complete(s, types.OutcomeInjected)
	}
}

// complete finishes the in-flight session and starts the next one.
func (c *Controller) complete(s *Session, o types.Outcome) {
	c.inflight = nil
	c.finish(s, o)
	c.dispatch()
}

func (c *Controller) finish(s *Session, o types.Outcome) {
	s.Status = types.SessionDiscarded
	s.samples = nil
	c.record(o)
	if c.onFinish != nil {
		c.onFinish(s, o)
	}
}

func (c *Controller) record(o types.Outcome) {
	if c.deps.Metrics != nil {
		c.deps.Metrics.SessionDone(o)
	}
}

func (c *Controller) publish() {
	st := types.StateIdle
	switch {
	case c.active != nil:
		st = types.StateRecording
	case c.inflight != nil && c.phase == jobInject:
		st = types.StateInjecting
	case c.inflight != nil || len(c.queue) > 0:
		st = types.StateTranscribing
	}
	c.state.Store(st)
	if c.deps.Metrics != nil {
		c.deps.Metrics.SetQueueDepth(c.pending())
	}
}

// worker runs one job at a time. It never touches controller state other
// than the session it was handed.
func (c *Controller) worker(ctx context.Context) {
	for j := range c.jobs {
		start := time.Now()
		var err error
		switch j.kind {
		case jobTranscribe:
			err = c.transcribe(ctx, j.session)
		case jobInject:
			err = c.inject(ctx, j.session)
		}

		r := result{kind: j.kind, sessionID: j.session.ID, err: err, elapsed: time.Since(start)}
		select {
		case c.results <- r:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) transcribe(ctx context.Context, s *Session) error {
	if c.opts.DumpDir != "" {
		path := filepath.Join(c.opts.DumpDir, s.ID+".wav")
		if err := stt.WriteWAV(path, s.samples, c.opts.SampleRate); err != nil {
			c.log.Warn("dump recording", "error", err)
		}
	}

	t, err := c.deps.Engine.Transcribe(ctx, s.samples, stt.Options{
		SampleRate: c.opts.SampleRate,
		Language:   c.opts.Language,
		UseITN:     c.opts.UseITN,
	})
	if err != nil {
		c.appendHistory(s, types.OutcomeRecognitionFailed)
		return err
	}

	s.transcript = t
	s.text = c.deps.Processor.Process(t)
	c.log.Debug("transcribed", "session", s.ID, "language", t.Language, "raw", t.Text, "text", s.text)
	return nil
}

func (c *Controller) inject(ctx context.Context, s *Session) error {
	err := c.deps.Injector.Inject(ctx, s.text)
	outcome := types.OutcomeInjected
	if err != nil {
		outcome = types.OutcomeInjectionFailed
	}
	c.appendHistory(s, outcome)
	return err
}

func (c *Controller) appendHistory(s *Session, o types.Outcome) {
	if c.deps.History == nil {
		return
	}
	e := types.HistoryEntry{
		ID:        s.ID,
		Text:      s.text,
		Duration:  s.duration,
		Outcome:   o,
		CreatedAt: s.StartedAt,
	}
	if s.transcript != nil {
		e.Raw = s.transcript.Text
		e.Language = s.transcript.Language
	}
	if _, err := c.deps.History.Append(e); err != nil {
		c.log.Warn("append history", "error", err)
	}
}
