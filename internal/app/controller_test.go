package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"go.aimuz.me/miaoshu/audiocapture"
	"go.aimuz.me/miaoshu/config"
	"go.aimuz.me/miaoshu/hotkey"
	"go.aimuz.me/miaoshu/internal/types"
	"go.aimuz.me/miaoshu/stt"
	"go.aimuz.me/miaoshu/textproc"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────────────────

type fakeRecorder struct {
	mu       sync.Mutex
	beginErr error
	endErr   map[int]error // by session index
	open     bool
	begins   int
	discards int
	onLimit  func()
}

func (r *fakeRecorder) Begin(onLimit func()) (Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.beginErr != nil {
		return nil, fmt.Errorf("%w: %v", audiocapture.ErrDeviceUnavailable, r.beginErr)
	}
	if r.open {
		return nil, audiocapture.ErrAlreadyCapturing
	}
	r.open = true
	r.onLimit = onLimit
	idx := r.begins
	r.begins++
	return &fakeRecording{r: r, idx: idx}, nil
}

func (r *fakeRecorder) beginCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.begins
}

type fakeRecording struct {
	r   *fakeRecorder
	idx int
}

// End returns one second of samples whose value identifies the session.
func (rec *fakeRecording) End() ([]float32, error) {
	rec.r.mu.Lock()
	defer rec.r.mu.Unlock()
	rec.r.open = false
	if err := rec.r.endErr[rec.idx]; err != nil {
		return nil, err
	}
	samples := make([]float32, 16000)
	for i := range samples {
		samples[i] = float32(rec.idx)
	}
	return samples, nil
}

func (rec *fakeRecording) Discard() {
	rec.r.mu.Lock()
	defer rec.r.mu.Unlock()
	rec.r.open = false
	rec.r.discards++
}

type fakeEngine struct {
	mu        sync.Mutex
	delay     func(call int) time.Duration
	fail      func(call int) error
	block     chan struct{}
	text      string // fixed text, otherwise "u<session>"
	lang      string
	calls     int
	active    int
	maxActive int
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Transcribe(ctx context.Context, samples []float32, opts stt.Options) (*types.Transcript, error) {
	e.mu.Lock()
	call := e.calls
	e.calls++
	e.active++
	e.maxActive = max(e.maxActive, e.active)
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	if e.block != nil {
		<-e.block
	}
	if e.delay != nil {
		time.Sleep(e.delay(call))
	}
	if e.fail != nil {
		if err := e.fail(call); err != nil {
			return nil, err
		}
	}

	text := e.text
	if text == "" {
		text = fmt.Sprintf("u%d", int(samples[0]))
	}
	return &types.Transcript{Text: text, Language: e.lang, Segments: []types.Segment{{Text: text, End: time.Second}}}, nil
}

func (e *fakeEngine) Close() error { return nil }

func (e *fakeEngine) stats() (calls, maxActive int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls, e.maxActive
}

type passthrough struct{}

func (passthrough) Process(t *types.Transcript) string { return t.Text }

type fakeInjector struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (i *fakeInjector) Inject(_ context.Context, text string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.err != nil {
		return i.err
	}
	i.texts = append(i.texts, text)
	return nil
}

func (i *fakeInjector) injected() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return slices.Clone(i.texts)
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}

func (n *fakeNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.messages)
}

func (n *fakeNotifier) has(prefix string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range n.messages {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []types.HistoryEntry
}

func (h *fakeHistory) Append(e types.HistoryEntry) (types.HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	return e, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Harness
// ─────────────────────────────────────────────────────────────────────────────

type harness struct {
	c      *Controller
	rec    *fakeRecorder
	inj    *fakeInjector
	note   *fakeNotifier
	hist   *fakeHistory
	events chan hotkey.Event
	cancel context.CancelFunc
	done   chan error

	mu       sync.Mutex
	outcomes []types.Outcome
}

func newHarness(t *testing.T, opts Options, engine stt.Engine, proc Processor) *harness {
	t.Helper()
	if proc == nil {
		proc = passthrough{}
	}
	if opts.QueueDepth == 0 {
		opts.QueueDepth = 2
	}
	h := &harness{
		rec:    &fakeRecorder{endErr: map[int]error{}},
		inj:    &fakeInjector{},
		note:   &fakeNotifier{},
		hist:   &fakeHistory{},
		events: make(chan hotkey.Event),
		done:   make(chan error, 1),
	}
	h.c = NewController(opts, Deps{
		Recorder:  h.rec,
		Engine:    engine,
		Processor: proc,
		Injector:  h.inj,
		Notifier:  h.note,
		History:   h.hist,
	})
	h.c.onFinish = func(_ *Session, o types.Outcome) {
		h.mu.Lock()
		h.outcomes = append(h.outcomes, o)
		h.mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.c.Run(ctx, h.events) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Error("controller did not stop")
		}
	})
	return h
}

func (h *harness) send(evs ...hotkey.Event) {
	for _, ev := range evs {
		h.events <- ev
	}
}

func (h *harness) finished() []types.Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.outcomes)
}

// waitOutcomes waits for n finished sessions and then for Idle.
func (h *harness) waitOutcomes(t *testing.T, n int) []types.Outcome {
	t.Helper()
	eventually(t, func() bool { return len(h.finished()) >= n })
	eventually(t, func() bool { return h.c.State() == types.StateIdle })
	return h.finished()
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

var (
	start = hotkey.PressStart
	end   = hotkey.PressEnd
)

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestDictationEndToEnd(t *testing.T) {
	cfg := config.Default()
	proc := textproc.New(cfg, nil)
	engine := &fakeEngine{text: "你好世界", lang: "zh"}
	h := newHarness(t, Options{Language: "auto", SampleRate: 16000}, engine, proc)

	h.send(start, end)

	got := h.waitOutcomes(t, 1)
	if got[0] != types.OutcomeInjected {
		t.Fatalf("got outcome %q, want injected", got[0])
	}
	if texts := h.inj.injected(); len(texts) != 1 || texts[0] != "你好世界。" {
		t.Errorf("injected %q, want [你好世界。]", texts)
	}

	h.hist.mu.Lock()
	defer h.hist.mu.Unlock()
	if len(h.hist.entries) != 1 {
		t.Fatalf("got %d history entries, want 1", len(h.hist.entries))
	}
	e := h.hist.entries[0]
	if e.Raw != "你好世界" || e.Text != "你好世界。" || e.Duration != time.Second || e.Outcome != types.OutcomeInjected {
		t.Errorf("unexpected history entry %+v", e)
	}
}

func TestEmptyRecordingNeverReachesEngine(t *testing.T) {
	engine := &fakeEngine{}
	h := newHarness(t, Options{}, engine, nil)
	h.rec.endErr[0] = fmt.Errorf("%w: 120ms < 300ms", audiocapture.ErrEmptyRecording)

	h.send(start, end)

	got := h.waitOutcomes(t, 1)
	if got[0] != types.OutcomeEmpty {
		t.Errorf("got outcome %q, want empty", got[0])
	}
	if calls, _ := engine.stats(); calls != 0 {
		t.Errorf("engine called %d times, want 0", calls)
	}
	if msgs := h.note.sent(); len(msgs) != 0 {
		t.Errorf("empty recording notified: %q", msgs)
	}
}

func TestEndFailureReportsDevice(t *testing.T) {
	engine := &fakeEngine{}
	h := newHarness(t, Options{}, engine, nil)
	h.rec.endErr[0] = errors.New("stream stopped unexpectedly")

	h.send(start, end)

	got := h.waitOutcomes(t, 1)
	if got[0] != types.OutcomeDeviceUnavailable {
		t.Errorf("got outcome %q, want device_unavailable", got[0])
	}
	if !h.note.has(MsgDeviceUnavailable) {
		t.Error("device failure not notified")
	}
	if calls, _ := engine.stats(); calls != 0 {
		t.Errorf("engine called %d times, want 0", calls)
	}
}

func TestDeviceUnavailableStaysIdle(t *testing.T) {
	engine := &fakeEngine{}
	h := newHarness(t, Options{}, engine, nil)
	h.rec.beginErr = errors.New("device busy")

	h.send(start, end)

	eventually(t, func() bool { return h.note.has(MsgDeviceUnavailable) })
	if st := h.c.State(); st != types.StateIdle {
		t.Errorf("state = %q, want idle", st)
	}
	if n := len(h.finished()); n != 0 {
		t.Errorf("%d sessions created, want 0", n)
	}
	if calls, _ := engine.stats(); calls != 0 {
		t.Errorf("engine called %d times, want 0", calls)
	}

	// Recoverable: the next press works.
	h.rec.mu.Lock()
	h.rec.beginErr = nil
	h.rec.mu.Unlock()
	h.send(start, end)
	if got := h.waitOutcomes(t, 1); got[0] != types.OutcomeInjected {
		t.Errorf("got outcome %q, want injected", got[0])
	}
}

func TestRecognitionTimeout(t *testing.T) {
	slow := &fakeEngine{delay: func(int) time.Duration { return 300 * time.Millisecond }}
	engine := stt.Serial(slow, 20*time.Millisecond, nil)
	h := newHarness(t, Options{}, engine, nil)

	h.send(start, end)

	got := h.waitOutcomes(t, 1)
	if got[0] != types.OutcomeRecognitionFailed {
		t.Errorf("got outcome %q, want recognition_failed", got[0])
	}
	if texts := h.inj.injected(); len(texts) != 0 {
		t.Errorf("injected %q after timeout", texts)
	}
	if !h.note.has(MsgRecognitionFailed) {
		t.Error("recognition failure not notified")
	}
}

func TestInjectionOrderIsFIFO(t *testing.T) {
	// The first utterance is the slowest to recognise.
	engine := &fakeEngine{delay: func(call int) time.Duration {
		if call == 0 {
			return 100 * time.Millisecond
		}
		return 0
	}}
	h := newHarness(t, Options{QueueDepth: 3}, engine, nil)

	h.send(start, end, start, end, start, end)

	h.waitOutcomes(t, 3)
	if got, want := h.inj.injected(), []string{"u0", "u1", "u2"}; !slices.Equal(got, want) {
		t.Errorf("injected %q, want %q", got, want)
	}
	if _, maxActive := engine.stats(); maxActive != 1 {
		t.Errorf("max concurrent engine calls = %d, want 1", maxActive)
	}
}

func TestBusyRejectsNewRecording(t *testing.T) {
	engine := &fakeEngine{block: make(chan struct{})}
	h := newHarness(t, Options{QueueDepth: 1}, engine, nil)

	h.send(start, end)
	eventually(t, func() bool { calls, _ := engine.stats(); return calls == 1 })

	// Queue is full: this press is rejected and its release ignored.
	h.send(start, end)
	eventually(t, func() bool { return h.note.has(MsgBusy) })
	if n := h.rec.beginCount(); n != 1 {
		t.Errorf("recorder began %d times, want 1", n)
	}

	close(engine.block)
	h.waitOutcomes(t, 1)
	if got := h.inj.injected(); !slices.Equal(got, []string{"u0"}) {
		t.Errorf("injected %q, want [u0]", got)
	}
}

func TestRecordingWhileTranscribing(t *testing.T) {
	engine := &fakeEngine{block: make(chan struct{})}
	h := newHarness(t, Options{QueueDepth: 2}, engine, nil)

	h.send(start, end)
	eventually(t, func() bool { calls, _ := engine.stats(); return calls == 1 })

	// Capture is not blocked by the busy engine.
	h.send(start)
	eventually(t, func() bool { return h.c.State() == types.StateRecording })
	h.send(end)
	eventually(t, func() bool { return h.c.State() == types.StateTranscribing })

	close(engine.block)
	h.waitOutcomes(t, 2)
	if got := h.inj.injected(); !slices.Equal(got, []string{"u0", "u1"}) {
		t.Errorf("injected %q, want [u0 u1]", got)
	}
}

func TestDuplicatePressStartIgnored(t *testing.T) {
	engine := &fakeEngine{}
	h := newHarness(t, Options{}, engine, nil)

	h.send(start, start, start, end)

	h.waitOutcomes(t, 1)
	if n := h.rec.beginCount(); n != 1 {
		t.Errorf("recorder began %d times, want 1", n)
	}
	if got := h.inj.injected(); len(got) != 1 {
		t.Errorf("injected %q, want one text", got)
	}
}

func TestMaxDurationAutoStop(t *testing.T) {
	engine := &fakeEngine{}
	h := newHarness(t, Options{}, engine, nil)

	h.send(start)
	eventually(t, func() bool { return h.c.State() == types.StateRecording })

	h.rec.mu.Lock()
	onLimit := h.rec.onLimit
	h.rec.mu.Unlock()
	onLimit()

	got := h.waitOutcomes(t, 1)
	if got[0] != types.OutcomeInjected {
		t.Errorf("got outcome %q, want injected", got[0])
	}
	if !h.note.has(MsgLimitReached) {
		t.Error("limit not notified")
	}

	// The eventual key release belongs to the finished session.
	h.send(end)
	time.Sleep(20 * time.Millisecond)
	if n := len(h.finished()); n != 1 {
		t.Errorf("got %d finished sessions, want 1", n)
	}
}

func TestInjectionFailureIsRecoverable(t *testing.T) {
	engine := &fakeEngine{}
	h := newHarness(t, Options{}, engine, nil)
	h.inj.err = errors.New("no focused window")

	h.send(start, end)
	if got := h.waitOutcomes(t, 1); got[0] != types.OutcomeInjectionFailed {
		t.Fatalf("got outcome %q, want injection_failed", got[0])
	}
	if !h.note.has(MsgInjectionFailed) {
		t.Error("injection failure not notified")
	}

	h.inj.mu.Lock()
	h.inj.err = nil
	h.inj.mu.Unlock()

	h.send(start, end)
	if got := h.waitOutcomes(t, 2); got[1] != types.OutcomeInjected {
		t.Errorf("got outcome %q, want injected", got[1])
	}
}

func TestNoTextSkipsInjection(t *testing.T) {
	engine := &fakeEngine{text: "[BLANK_AUDIO]"}
	proc := textproc.New(config.Default(), nil)
	h := newHarness(t, Options{}, engine, proc)

	h.send(start, end)
	if got := h.waitOutcomes(t, 1); got[0] != types.OutcomeNoText {
		t.Errorf("got outcome %q, want no_text", got[0])
	}
	if got := h.inj.injected(); len(got) != 0 {
		t.Errorf("injected %q, want nothing", got)
	}
}

func TestShutdownDiscardsActiveRecording(t *testing.T) {
	engine := &fakeEngine{}
	h := newHarness(t, Options{}, engine, nil)

	h.send(start)
	eventually(t, func() bool { return h.c.State() == types.StateRecording })

	h.cancel()
	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
		h.done <- err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	if h.rec.discards != 1 || h.rec.open {
		t.Errorf("recording not released: discards=%d open=%v", h.rec.discards, h.rec.open)
	}
}

func TestEventStreamClosed(t *testing.T) {
	c := NewController(Options{}, Deps{
		Recorder:  &fakeRecorder{},
		Engine:    &fakeEngine{},
		Processor: passthrough{},
		Injector:  &fakeInjector{},
	})
	events := make(chan hotkey.Event)
	close(events)

	if err := c.Run(context.Background(), events); err == nil {
		t.Error("expected error when the event stream closes")
	}
}

// TestRandomSequencesReturnToIdle drives random press sequences against an
// engine that randomly succeeds, fails or times out.
func TestRandomSequencesReturnToIdle(t *testing.T) {
	for seed := uint64(1); seed <= 5; seed++ {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			r := rand.New(rand.NewPCG(seed, seed))

			const pairs = 12
			behaviour := make([]int, pairs*2)
			for i := range behaviour {
				behaviour[i] = r.IntN(3)
			}
			inner := &fakeEngine{
				delay: func(call int) time.Duration {
					if behaviour[call%len(behaviour)] == 2 {
						return 40 * time.Millisecond
					}
					return time.Duration(call%3) * time.Millisecond
				},
				fail: func(call int) error {
					if behaviour[call%len(behaviour)] == 1 {
						return errors.New("engine crashed")
					}
					return nil
				},
			}
			engine := stt.Serial(inner, 20*time.Millisecond, nil)
			h := newHarness(t, Options{QueueDepth: 2}, engine, nil)
			for i := 0; i < pairs; i++ {
				if r.IntN(4) == 0 {
					h.rec.mu.Lock()
					h.rec.endErr[h.rec.begins] = audiocapture.ErrEmptyRecording
					h.rec.mu.Unlock()
				}
				h.send(start, end)
				time.Sleep(time.Duration(r.IntN(10)) * time.Millisecond)
			}

			// Busy presses create no session, so wait for whatever began.
			eventually(t, func() bool { return len(h.finished()) == h.rec.beginCount() })
			eventually(t, func() bool { return h.c.State() == types.StateIdle })

			if _, maxActive := inner.stats(); maxActive > 1 {
				t.Errorf("max concurrent engine calls = %d, want <= 1", maxActive)
			}
			injected := h.inj.injected()
			if !slices.IsSortedFunc(injected, func(a, b string) int {
				var x, y int
				fmt.Sscanf(a, "u%d", &x)
				fmt.Sscanf(b, "u%d", &y)
				return x - y
			}) {
				t.Errorf("injection order not FIFO: %q", injected)
			}
		})
	}
}
