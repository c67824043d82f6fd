package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/extraction"
)

type script func(ctx context.Context, emit func(extraction.Event)) ([]extraction.Outcome, error)

type fakeSession struct {
	script script
	closes atomic.Int32
}

func (f *fakeSession) Invoke(ctx context.Context, content string, onEvent func(extraction.Event)) ([]extraction.Outcome, error) {
	return f.script(ctx, onEvent)
}

func (f *fakeSession) Close() error {
	f.closes.Add(1)
	return nil
}

// dialer hands out one fake session per script, in order.
type dialer struct {
	mu       sync.Mutex
	scripts  []script
	sessions []*fakeSession
}

func (d *dialer) dial(ctx context.Context) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.scripts) == 0 {
		return nil, errors.New("no more scripts")
	}
	s := &fakeSession{script: d.scripts[0]}
	d.scripts = d.scripts[1:]
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *dialer) session(i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[i]
}

// recorder collects events and flags any delivered after Run returned.
type recorder struct {
	mu       sync.Mutex
	events   []Event
	returned atomic.Bool
	late     atomic.Int32
}

func (r *recorder) on(e Event) {
	if r.returned.Load() {
		r.late.Add(1)
	}
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.State)
	}
	return out
}

func entities() []extraction.Outcome {
	return []extraction.Outcome{{
		Kind:     extraction.OutcomeEntities,
		Tool:     extraction.ToolCreateEntities,
		Entities: []extraction.Entity{{Name: "Go", Type: "language"}},
	}}
}

func happyScript(chunks ...string) script {
	return func(ctx context.Context, emit func(extraction.Event)) ([]extraction.Outcome, error) {
		emit(extraction.Event{Kind: extraction.EventToolStart, Tool: "create_entities"})
		for _, c := range chunks {
			emit(extraction.Event{Kind: extraction.EventArguments, Fragment: c})
		}
		emit(extraction.Event{Kind: extraction.EventSave, Tool: "create_entities"})
		return entities(), nil
	}
}

func TestRun_EventOrder(t *testing.T) {
	d := &dialer{scripts: []script{happyScript("a", "b", "c")}}
	p := New(d.dial)
	rec := &recorder{}

	outcomes, err := p.Run(context.Background(), "note", rec.on)
	rec.returned.Store(true)
	require.NoError(t, err)
	assert.Len(t, outcomes, 1)

	assert.Equal(t, []State{Understanding, GeneratingParameters, GeneratingParameters, GeneratingParameters, Saving, Done}, rec.states())
	snap := p.Snapshot()
	assert.Equal(t, Done, snap.State)
	assert.Equal(t, "abc", snap.Streamed)
	assert.Contains(t, snap.Report, "| Go | language | - |")
	assert.NotEmpty(t, snap.RunID)
	assert.Equal(t, int32(1), d.session(0).closes.Load())
	assert.Zero(t, rec.late.Load())
}

func TestRun_MultipleToolsReenterUnderstanding(t *testing.T) {
	d := &dialer{scripts: []script{func(ctx context.Context, emit func(extraction.Event)) ([]extraction.Outcome, error) {
		for _, tool := range []string{"create_entities", "create_relations"} {
			emit(extraction.Event{Kind: extraction.EventToolStart, Tool: tool})
			emit(extraction.Event{Kind: extraction.EventArguments, Fragment: "{}"})
			emit(extraction.Event{Kind: extraction.EventSave, Tool: tool})
		}
		return nil, nil
	}}}
	p := New(d.dial)
	rec := &recorder{}

	_, err := p.Run(context.Background(), "note", rec.on)
	require.NoError(t, err)
	assert.Equal(t, []State{
		Understanding, GeneratingParameters, Saving,
		Understanding, GeneratingParameters, Saving,
		Done,
	}, rec.states())
	assert.Equal(t, "{}{}", p.Snapshot().Streamed)
}

func TestRun_ErrorThenRetry(t *testing.T) {
	var retryContent string
	d := &dialer{scripts: []script{
		func(ctx context.Context, emit func(extraction.Event)) ([]extraction.Outcome, error) {
			emit(extraction.Event{Kind: extraction.EventToolStart})
			emit(extraction.Event{Kind: extraction.EventArguments, Fragment: "partial"})
			return nil, errors.New("model went away")
		},
		happyScript("x", "y"),
	}}
	p := New(d.dial)
	rec := &recorder{}

	_, err := p.Run(context.Background(), "the note", rec.on)
	require.Error(t, err)
	var xe *apperr.ExtractionError
	assert.True(t, errors.As(err, &xe))

	snap := p.Snapshot()
	assert.Equal(t, Error, snap.State)
	assert.Contains(t, snap.Message, "model went away")
	assert.Equal(t, []State{Understanding, GeneratingParameters, Error}, rec.states())
	assert.Equal(t, int32(1), d.session(0).closes.Load())

	retried := &recorder{}
	_, err = p.Retry(context.Background(), func(e Event) {
		if e.State == Understanding && retryContent == "" {
			retryContent = p.Snapshot().Streamed
		}
		retried.on(e)
	})
	require.NoError(t, err)
	states := retried.states()
	require.NotEmpty(t, states)
	assert.Equal(t, Understanding, states[0])
	assert.Empty(t, retryContent)
	assert.Equal(t, "xy", p.Snapshot().Streamed)
	assert.Equal(t, Done, p.Snapshot().State)
}

func TestRetry_OnlyFromError(t *testing.T) {
	d := &dialer{scripts: []script{happyScript("a")}}
	p := New(d.dial)

	_, err := p.Retry(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotRetryable)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = p.Run(context.Background(), "n", nil)
	require.NoError(t, err)
	_, err = p.Retry(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestRun_ConnectFailure(t *testing.T) {
	p := New(func(ctx context.Context) (Session, error) {
		return nil, &apperr.ConnectionError{URL: "http://x", Err: errors.New("refused")}
	})
	rec := &recorder{}

	_, err := p.Run(context.Background(), "n", rec.on)
	var ce *apperr.ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, []State{Understanding, Error}, rec.states())
	assert.Equal(t, Error, p.Snapshot().State)
}

func blockingScript(started chan<- struct{}) script {
	return func(ctx context.Context, emit func(extraction.Event)) ([]extraction.Outcome, error) {
		emit(extraction.Event{Kind: extraction.EventToolStart})
		emit(extraction.Event{Kind: extraction.EventArguments, Fragment: "first"})
		close(started)
		<-ctx.Done()
		emit(extraction.Event{Kind: extraction.EventArguments, Fragment: "late"})
		return nil, ctx.Err()
	}
}

func TestCancel_DuringRun(t *testing.T) {
	started := make(chan struct{})
	d := &dialer{scripts: []script{blockingScript(started)}}
	p := New(d.dial)
	rec := &recorder{}

	errc := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), "n", rec.on)
		rec.returned.Store(true)
		errc <- err
	}()

	<-started
	p.Cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrCanceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}

	assert.Equal(t, Idle, p.Snapshot().State)
	assert.Equal(t, int32(1), d.session(0).closes.Load())
	assert.NotContains(t, p.Snapshot().Streamed, "late")
	assert.Zero(t, rec.late.Load())

	p.Cancel()
	assert.Equal(t, int32(1), d.session(0).closes.Load())
}

func TestRun_CallerContextCanceled(t *testing.T) {
	started := make(chan struct{})
	d := &dialer{scripts: []script{blockingScript(started)}}
	p := New(d.dial, WithTimeout(time.Minute))
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		_, err := p.Run(ctx, "n", rec.on)
		rec.returned.Store(true)
		errc <- err
	}()

	<-started
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrCanceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after the caller gave up")
	}

	snap := p.Snapshot()
	assert.Equal(t, Idle, snap.State)
	assert.Empty(t, snap.Message)
	assert.Equal(t, int32(1), d.session(0).closes.Load())
	assert.NotContains(t, rec.states(), Error)
	assert.Zero(t, rec.late.Load())

	_, err := p.Retry(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNotRetryable)
}

func TestCancel_WaitsForObserver(t *testing.T) {
	started := make(chan struct{})
	d := &dialer{scripts: []script{blockingScript(started)}}
	p := New(d.dial)

	inCallback := make(chan struct{})
	release := make(chan struct{})
	var canceled atomic.Bool
	var afterCancel atomic.Int32
	onEvent := func(e Event) {
		if canceled.Load() {
			afterCancel.Add(1)
		}
		if e.Fragment == "first" {
			close(inCallback)
			<-release
		}
	}

	errc := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), "n", onEvent)
		errc <- err
	}()
	<-inCallback

	done := make(chan struct{})
	go func() {
		p.Cancel()
		canceled.Store(true)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Cancel returned while the observer was still running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-done
	<-started

	assert.ErrorIs(t, <-errc, ErrCanceled)
	assert.Zero(t, afterCancel.Load())
	assert.Equal(t, Idle, p.Snapshot().State)
}

func TestCancel_BeforeSessionAcquired(t *testing.T) {
	release := make(chan struct{})
	dialing := make(chan struct{})
	sess := &fakeSession{script: happyScript("a")}
	p := New(func(ctx context.Context) (Session, error) {
		close(dialing)
		<-release
		return sess, nil
	})

	errc := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), "n", nil)
		errc <- err
	}()

	<-dialing
	p.Cancel()
	close(release)

	assert.ErrorIs(t, <-errc, ErrCanceled)
	assert.Equal(t, int32(1), sess.closes.Load())
	assert.Equal(t, Idle, p.Snapshot().State)
}

func TestCancel_AfterSuccess(t *testing.T) {
	d := &dialer{scripts: []script{happyScript("a")}}
	p := New(d.dial)

	_, err := p.Run(context.Background(), "n", nil)
	require.NoError(t, err)
	p.Cancel()

	assert.Equal(t, Idle, p.Snapshot().State)
	assert.Equal(t, int32(1), d.session(0).closes.Load())
}

func TestRun_SupersedesPrevious(t *testing.T) {
	started := make(chan struct{})
	d := &dialer{scripts: []script{blockingScript(started), happyScript("new")}}
	p := New(d.dial)
	first := &recorder{}

	errc := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), "old", first.on)
		first.returned.Store(true)
		errc <- err
	}()
	<-started

	second := &recorder{}
	_, err := p.Run(context.Background(), "new", second.on)
	require.NoError(t, err)

	assert.ErrorIs(t, <-errc, ErrSuperseded)
	assert.Equal(t, []State{Understanding, GeneratingParameters}, first.states())
	assert.Zero(t, first.late.Load())
	assert.Equal(t, Done, p.Snapshot().State)
	assert.Equal(t, "new", p.Snapshot().Streamed)
	assert.Equal(t, int32(1), d.session(0).closes.Load())
	assert.Equal(t, int32(1), d.session(1).closes.Load())
}

func TestRun_Timeout(t *testing.T) {
	d := &dialer{scripts: []script{func(ctx context.Context, emit func(extraction.Event)) ([]extraction.Outcome, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}}
	p := New(d.dial, WithTimeout(20*time.Millisecond))

	_, err := p.Run(context.Background(), "n", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Error, p.Snapshot().State)
}

func TestState_Text(t *testing.T) {
	b, err := GeneratingParameters.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "generating_parameters", string(b))

	var s State
	require.NoError(t, s.UnmarshalText([]byte("saving")))
	assert.Equal(t, Saving, s)
	assert.Error(t, s.UnmarshalText([]byte("bogus")))
	assert.True(t, Done.Terminal())
	assert.False(t, Saving.Terminal())
}
