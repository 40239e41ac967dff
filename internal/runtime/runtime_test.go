package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Conceptual-Machines/magda-composer/internal/composition"
	"github.com/Conceptual-Machines/magda-composer/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCatalogRuntime(t *testing.T) (*Runtime, *tools.Catalog) {
	t.Helper()
	cat := tools.NewCatalog(composition.New(), tools.WithSeed(1))
	r := New()
	r.RegisterAll(cat.Definitions())
	t.Cleanup(r.Close)
	return r, cat
}

func stubTool(name string, fn tools.Executor) tools.Definition {
	return tools.Definition{
		Name:        name,
		Description: name,
		Schema: tools.Schema{Properties: map[string]*tools.Param{
			"n": {Kind: tools.KindInteger},
		}},
		Execute: fn,
	}
}

func TestCallsRunOneAtATimeInOrder(t *testing.T) {
	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		order   []int
	)
	r := New()
	defer r.Close()
	r.RegisterAll([]tools.Definition{stubTool("work", func(_ context.Context, args tools.Args) (tools.Result, error) {
		mu.Lock()
		active++
		if active > maxSeen {
			maxSeen = active
		}
		n, _ := args.Int("n", -1)
		order = append(order, n)
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return tools.Result{"n": n}, nil
	})})

	const calls = 25
	chans := make([]<-chan Envelope, 0, calls)
	for i := 0; i < calls; i++ {
		chans = append(chans, r.Submit(context.Background(), "work", map[string]any{"n": i}, SourceManual))
	}
	for i, ch := range chans {
		env := <-ch
		require.True(t, env.OK)
		assert.Equal(t, tools.Result{"n": i}, env.Data)
	}

	assert.Equal(t, 1, maxSeen, "executors must never overlap")
	require.Len(t, order, calls)
	for i, n := range order {
		assert.Equal(t, i, n)
	}

	m := r.Metrics()
	assert.Equal(t, calls, m.TotalCalls)
	assert.Equal(t, calls, m.SuccessCalls)
	assert.Equal(t, 0, m.QueueDepth)
}

func TestConcurrentInvokesAreSerialized(t *testing.T) {
	r, cat := newCatalogRuntime(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			env := r.Invoke(context.Background(), "add_note", map[string]any{
				"track": "lead", "pitch": "C4", "beat": float64(i + 1), "duration": 1.0,
			}, SourceAgent)
			assert.True(t, env.OK)
		}(i)
	}
	wg.Wait()

	var ids map[int64]bool
	require.NoError(t, r.Exec(context.Background(), func() {
		ids = make(map[int64]bool)
		for _, n := range cat.Composition().Notes {
			ids[n.ID] = true
		}
	}))
	assert.Len(t, ids, 20, "every note gets a distinct id")
}

func TestNameResolution(t *testing.T) {
	r, _ := newCatalogRuntime(t)

	tests := []struct {
		name     string
		called   string
		resolved string
	}{
		{"exact", "set_tempo", "set_tempo"},
		{"alias", "set_bpm", "set_tempo"},
		{"normalized alias", "Add-Drums", "add_percussion_bar"},
		{"normalized name", "Add_Notes!", "add_notes"},
		{"camel case", "getCompositionState", "get_composition_state"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := r.Invoke(context.Background(), tt.called, map[string]any{
				"bpm": 100, "track": "drums", "notes": []any{map[string]any{"pitch": "C4", "beat": 1}},
			}, SourceManual)
			assert.True(t, env.OK, env.Error)

			hist := r.History()
			last := hist[len(hist)-1]
			assert.Equal(t, tt.resolved, last.Tool)
			if tt.called != tt.resolved {
				assert.Equal(t, tt.called, last.Requested)
			}
		})
	}
}

func TestUnknownToolListsAvailable(t *testing.T) {
	r, _ := newCatalogRuntime(t)

	env := r.Invoke(context.Background(), "make_it_louder", nil, SourceAgent)
	assert.False(t, env.OK)
	assert.Contains(t, env.Error, ErrToolNotFound.Error())
	assert.Contains(t, env.Error, "set_tempo")
	assert.Contains(t, env.Error, "and 10 more")

	m := r.Metrics()
	assert.Equal(t, 1, m.TotalCalls)
	assert.Equal(t, 1, m.FailedCalls)
}

func TestPanicsAndErrorsBecomeFailedEnvelopes(t *testing.T) {
	r := New()
	defer r.Close()
	r.RegisterAll([]tools.Definition{
		stubTool("boom", func(context.Context, tools.Args) (tools.Result, error) {
			panic("kaboom")
		}),
		stubTool("fail", func(context.Context, tools.Args) (tools.Result, error) {
			return nil, errors.New("disk full")
		}),
		stubTool("soft", func(context.Context, tools.Args) (tools.Result, error) {
			return tools.Result{"error": "track is required", "hint": "pass track"}, nil
		}),
		stubTool("ok", func(context.Context, tools.Args) (tools.Result, error) {
			return tools.Result{"done": true}, nil
		}),
	})

	env := r.Invoke(context.Background(), "boom", nil, SourceManual)
	assert.False(t, env.OK)
	assert.Contains(t, env.Error, "kaboom")

	env = r.Invoke(context.Background(), "fail", nil, SourceManual)
	assert.False(t, env.OK)
	assert.Equal(t, "disk full", env.Error)

	env = r.Invoke(context.Background(), "soft", nil, SourceManual)
	assert.False(t, env.OK)
	assert.Equal(t, "track is required", env.Error)
	assert.Equal(t, tools.Result{"error": "track is required", "hint": "pass track"}, env.Data)

	env = r.Invoke(context.Background(), "ok", nil, SourceManual)
	assert.True(t, env.OK, "queue keeps working after a panic")

	m := r.Metrics()
	assert.Equal(t, 4, m.TotalCalls)
	assert.Equal(t, 1, m.SuccessCalls)
	assert.Equal(t, 3, m.FailedCalls)
}

func TestArgumentsAreCoercedBeforeExecution(t *testing.T) {
	var got tools.Args
	r := New()
	defer r.Close()
	r.RegisterAll([]tools.Definition{stubTool("count", func(_ context.Context, args tools.Args) (tools.Result, error) {
		got = args
		return tools.Result{}, nil
	})})

	env := r.Invoke(context.Background(), "count", map[string]any{"n": "4.6", "junk": true}, SourceManual)
	require.True(t, env.OK)
	assert.Equal(t, tools.Args{"n": 5.0}, got)
}

func TestRunActiveResetsMetrics(t *testing.T) {
	now := time.Unix(1000, 0)
	var clockMu sync.Mutex
	clock := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		clockMu.Lock()
		now = now.Add(d)
		clockMu.Unlock()
	}

	cat := tools.NewCatalog(nil)
	r := New(WithClock(clock))
	defer r.Close()
	r.RegisterAll(cat.Definitions())

	r.Invoke(context.Background(), "set_tempo", map[string]any{"bpm": 90}, SourceManual)
	assert.Equal(t, 1, r.Metrics().TotalCalls)

	r.SetRunActive(true)
	assert.Equal(t, Metrics{}, r.Metrics())
	assert.True(t, r.Snapshot().RunActive)

	r.Invoke(context.Background(), "set_tempo", map[string]any{"bpm": 95}, SourceAgent)
	advance(1500 * time.Millisecond)
	assert.Equal(t, int64(1500), r.Metrics().RuntimeMs)

	r.SetRunActive(false)
	advance(time.Hour)
	m := r.Metrics()
	assert.Equal(t, 1, m.TotalCalls)
	assert.Equal(t, int64(1500), m.RuntimeMs, "runtime freezes when the run ends")

	r.Invoke(context.Background(), "set_tempo", map[string]any{"bpm": 100}, SourceManual)
	assert.Equal(t, 2, r.Metrics().TotalCalls, "manual calls accumulate outside runs")
}

func TestRestoreFromHistory(t *testing.T) {
	r, _ := newCatalogRuntime(t)

	records := []ToolCallRecord{
		{ID: "a", Tool: "set_tempo", OK: true, ElapsedMs: 1.5},
		{ID: "b", Tool: "add_note", OK: false, Error: "bad pitch"},
	}
	r.RestoreFromHistory(Metrics{TotalCalls: 2, SuccessCalls: 1, FailedCalls: 1, QueueDepth: 9, RuntimeMs: 4200}, records)

	snap := r.Snapshot()
	assert.Equal(t, Metrics{TotalCalls: 2, SuccessCalls: 1, FailedCalls: 1, RuntimeMs: 4200}, snap.Metrics)
	assert.False(t, snap.RunActive)
	assert.Len(t, snap.Logs, 3)
	assert.Equal(t, LevelError, snap.Logs[2].Level)
	assert.Equal(t, records, r.History())
}

func TestLogRingBufferIsBounded(t *testing.T) {
	r, _ := newCatalogRuntime(t)
	for i := 0; i < maxLogEntries; i++ {
		r.Invoke(context.Background(), "get_composition_state", nil, SourceManual)
	}
	assert.Len(t, r.Snapshot().Logs, maxLogEntries)
}

func TestSubscribers(t *testing.T) {
	r, _ := newCatalogRuntime(t)

	var (
		mu        sync.Mutex
		snapshots []Snapshot
		calls     []ToolCallRecord
	)
	unsubSnap := r.SubscribeSnapshot(func(s Snapshot) {
		mu.Lock()
		snapshots = append(snapshots, s)
		mu.Unlock()
	})
	unsubCalls := r.SubscribeToolCalls(func(rec ToolCallRecord) {
		mu.Lock()
		calls = append(calls, rec)
		mu.Unlock()
	})

	mu.Lock()
	require.Len(t, snapshots, 1, "subscribing delivers the current state")
	assert.Len(t, snapshots[0].Tools, 22)
	mu.Unlock()

	r.Invoke(context.Background(), "set_tempo", map[string]any{"bpm": 128}, SourceAgent)

	mu.Lock()
	require.Len(t, calls, 1)
	assert.Equal(t, "set_tempo", calls[0].Tool)
	assert.Equal(t, SourceAgent, calls[0].Source)
	assert.Greater(t, len(snapshots), 1)
	seen := len(snapshots)
	mu.Unlock()

	unsubSnap()
	unsubCalls()
	r.Invoke(context.Background(), "set_tempo", map[string]any{"bpm": 120}, SourceAgent)

	mu.Lock()
	assert.Len(t, calls, 1)
	assert.Len(t, snapshots, seen)
	mu.Unlock()
}

type fakeBridge struct {
	native   bool
	tools    []ToolInfo
	invoke   InvokeFunc
	register int
}

func (b *fakeBridge) Native() bool { return b.native }

func (b *fakeBridge) Register(tools []ToolInfo, invoke InvokeFunc) error {
	b.tools = tools
	b.invoke = invoke
	b.register++
	return nil
}

func TestInstallBridge(t *testing.T) {
	r, _ := newCatalogRuntime(t)
	b := &fakeBridge{native: true}

	require.NoError(t, r.InstallBridge(b))
	assert.Len(t, b.tools, 22)
	assert.True(t, r.Snapshot().NativeSupport)

	env := b.invoke(context.Background(), "set_tempo", map[string]any{"bpm": 77}, SourceManual)
	assert.True(t, env.OK)

	r.RegisterAll(tools.NewCatalog(nil).Definitions()[:3])
	assert.Equal(t, 2, b.register, "re-registration refreshes the bridge")
	assert.Len(t, b.tools, 3)
}

type countingRecorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingRecorder) RecordToolCall(tool, source string, ok bool, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[fmt.Sprintf("%s/%s/%t", tool, source, ok)]++
}

func TestRecorderReceivesEveryCall(t *testing.T) {
	rec := &countingRecorder{calls: map[string]int{}}
	r := New(WithRecorder(rec))
	defer r.Close()
	r.RegisterAll(tools.NewCatalog(nil).Definitions())

	r.Invoke(context.Background(), "set_tempo", map[string]any{"bpm": 100}, SourceAgent)
	r.Invoke(context.Background(), "nope", nil, SourceAgent)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.calls["set_tempo/agent/true"])
	assert.Equal(t, 1, rec.calls["nope/agent/false"])
}

func TestCanceledCallFails(t *testing.T) {
	r, _ := newCatalogRuntime(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	env := <-r.Submit(ctx, "set_tempo", map[string]any{"bpm": 100}, SourceManual)
	assert.False(t, env.OK)
	assert.Contains(t, env.Error, "canceled")
}

func TestCanceledExecDoesNotRunLater(t *testing.T) {
	r, _ := newCatalogRuntime(t)

	release := make(chan struct{})
	busy := make(chan struct{})
	go func() {
		_ = r.Exec(context.Background(), func() {
			close(busy)
			<-release
		})
	}()
	<-busy

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	errc := make(chan error, 1)
	go func() { errc <- r.Exec(ctx, func() { ran.Store(true) }) }()
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	close(release)
	require.NoError(t, r.Exec(context.Background(), func() {}))
	assert.False(t, ran.Load(), "an abandoned job must not run after the caller gave up")
}

func TestExecWaitsForStartedWork(t *testing.T) {
	r, _ := newCatalogRuntime(t)
	ctx, cancel := context.WithCancel(context.Background())

	var ran atomic.Bool
	err := r.Exec(ctx, func() {
		cancel()
		time.Sleep(10 * time.Millisecond)
		ran.Store(true)
	})
	assert.NoError(t, err, "work that already started is reported as done")
	assert.True(t, ran.Load())
}

func TestClosedRuntimeRejectsCalls(t *testing.T) {
	r := New()
	r.Close()

	env := r.Invoke(context.Background(), "set_tempo", nil, SourceManual)
	assert.False(t, env.OK)
	assert.Equal(t, ErrClosed.Error(), env.Error)
	assert.ErrorIs(t, r.Exec(context.Background(), func() {}), ErrClosed)
}

func TestCompositionScenario(t *testing.T) {
	r, cat := newCatalogRuntime(t)
	ctx := context.Background()

	steps := []struct {
		tool string
		args map[string]any
	}{
		{"set_tempo", map[string]any{"bpm": 100}},
		{"set_instrument", map[string]any{"track": "bass", "family": "bass"}},
		{"add_notes", map[string]any{"track": "bass", "notes": []any{
			map[string]any{"pitch": "C2", "beat": 1, "duration": 1},
			map[string]any{"pitch": "G2", "beat": 5, "duration": 1},
		}}},
		{"add_percussion_bar", map[string]any{"track": "drums", "pattern": "four_on_floor", "bar": 1}},
	}
	for _, s := range steps {
		env := r.Invoke(ctx, s.tool, s.args, SourceAgent)
		require.True(t, env.OK, "%s: %s", s.tool, env.Error)
	}

	env := r.Invoke(ctx, "get_composition_state", nil, SourceAgent)
	require.True(t, env.OK)
	state := env.Data.(tools.Result)
	assert.Equal(t, 100.0, state["bpm"])
	assert.Equal(t, 2, state["trackCount"])
	assert.Equal(t, 6, state["noteCount"])

	require.NoError(t, r.Exec(ctx, func() {
		assert.Equal(t, 5.0, cat.Composition().TotalBeats)
	}))
	assert.Len(t, r.History(), 5)
}
