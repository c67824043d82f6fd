// Package memory runs the staged knowledge extraction pipeline for a note:
// connect to the extraction service, stream the model's tool arguments, save
// through the tool server and format the outcomes as a report.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/starford/inkwell/internal/apperr"
	"github.com/starford/inkwell/internal/extraction"
)

var (
	// ErrCanceled is returned by a run stopped with Cancel or by canceling
	// the context passed to Run.
	ErrCanceled = errors.New("memory: run canceled")
	// ErrSuperseded is returned by a run replaced by a newer one.
	ErrSuperseded = errors.New("memory: run superseded")
	// ErrNotRetryable is returned by Retry outside the Error state.
	ErrNotRetryable = fmt.Errorf("%w: retry is only allowed after a failed run", apperr.ErrConflict)
)

// Session is a live extraction handle. It must stop delivering events once
// Close returns.
type Session interface {
	Invoke(ctx context.Context, content string, onEvent func(extraction.Event)) ([]extraction.Outcome, error)
	Close() error
}

// Dialer acquires a fresh Session for one run.
type Dialer func(ctx context.Context) (Session, error)

// Event is delivered to a run's observer on every state change and for every
// streamed argument fragment.
type Event struct {
	RunID    string `json:"runId"`
	State    State  `json:"state"`
	Tool     string `json:"tool,omitempty"`
	Fragment string `json:"fragment,omitempty"`
	Message  string `json:"message,omitempty"`
	Report   string `json:"report,omitempty"`
}

// Snapshot is the pipeline's current view.
type Snapshot struct {
	RunID    string               `json:"runId,omitempty"`
	State    State                `json:"state"`
	Streamed string               `json:"streamed"`
	Report   string               `json:"report,omitempty"`
	Message  string               `json:"message,omitempty"`
	Outcomes []extraction.Outcome `json:"outcomes,omitempty"`
}

// Pipeline drives one extraction run at a time. Starting a run supersedes the
// one in flight: the old run is canceled, its handle released and any events
// it still produces are dropped.
type Pipeline struct {
	dial    Dialer
	timeout time.Duration
	logger  *slog.Logger

	mu          sync.Mutex
	cur         *run
	runID       string
	state       State
	streamed    strings.Builder
	report      string
	message     string
	outcomes    []extraction.Outcome
	lastContent string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithTimeout bounds every run; zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New creates a Pipeline that acquires sessions through dial.
func New(dial Dialer, opts ...Option) *Pipeline {
	p := &Pipeline{dial: dial, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run is one invocation of the pipeline.
type run struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	onEvent func(Event)

	// emitMu serializes observer calls with kill, so once a run is killed
	// its observer is no longer running and never runs again.
	emitMu sync.Mutex
	dead   atomic.Bool

	mu       sync.Mutex
	sess     Session
	released bool
	stopErr  error // why the run was stopped from outside
}

func (r *run) emit(e Event) {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if r.dead.Load() || r.onEvent == nil {
		return
	}
	e.RunID = r.id
	r.onEvent(e)
}

// kill stops event delivery, waiting for an observer call in progress.
func (r *run) kill() {
	r.emitMu.Lock()
	r.dead.Store(true)
	r.emitMu.Unlock()
}

// attach hands the acquired session to the run. It fails when the run was
// already released, in which case the caller still owns the session.
func (r *run) attach(s Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return false
	}
	r.sess = s
	return true
}

// release closes the session exactly once, whatever path gets here first.
func (r *run) release(logger *slog.Logger) {
	r.mu.Lock()
	s, already := r.sess, r.released
	r.released = true
	r.mu.Unlock()
	if already || s == nil {
		return
	}
	if err := s.Close(); err != nil {
		logger.Warn("release extraction session",
			slog.String("run", r.id),
			slog.String("error", err.Error()))
	}
}

// stop ends the run from outside: no more events, context canceled, handle
// released.
func (r *run) stop(reason error, logger *slog.Logger) {
	r.mu.Lock()
	if r.stopErr == nil {
		r.stopErr = reason
	}
	r.mu.Unlock()
	r.kill()
	r.cancel()
	r.release(logger)
}

func (r *run) stopped() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopErr
}

// Run extracts knowledge from content. onEvent sees every state change and
// streamed fragment in order, and is never called after Run returns or after
// the run is canceled or superseded. onEvent must not call back into the
// pipeline.
//
// Canceling ctx is a cancellation like Cancel: the pipeline returns to Idle
// and Run returns ErrCanceled. The pipeline timeout expiring is a failure.
func (p *Pipeline) Run(ctx context.Context, content string, onEvent func(Event)) ([]extraction.Outcome, error) {
	r := p.begin(ctx, content, onEvent)
	defer p.settle(r)

	sess, err := p.dial(r.ctx)
	if err != nil {
		return nil, p.abort(ctx, r, err)
	}
	if !r.attach(sess) {
		_ = sess.Close()
		return nil, r.stopped()
	}

	outcomes, err := sess.Invoke(r.ctx, content, func(e extraction.Event) { p.handle(r, e) })
	if stopErr := r.stopped(); stopErr != nil {
		return nil, stopErr
	}
	if err != nil {
		return nil, p.abort(ctx, r, err)
	}
	if err := p.finish(r, outcomes); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// Retry restarts the last failed run from scratch with the same content.
func (p *Pipeline) Retry(ctx context.Context, onEvent func(Event)) ([]extraction.Outcome, error) {
	p.mu.Lock()
	state, content := p.state, p.lastContent
	p.mu.Unlock()
	if state != Error {
		return nil, ErrNotRetryable
	}
	return p.Run(ctx, content, onEvent)
}

// Cancel stops the current run, releases its handle and returns the pipeline
// to Idle. It is a no-op for the handle when nothing is running.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	r := p.cur
	p.cur = nil
	p.state = Idle
	p.mu.Unlock()
	if r != nil {
		r.stop(ErrCanceled, p.logger)
		p.logger.Info("memory run canceled", slog.String("run", r.id))
	}
}

// Snapshot returns the current state, streamed text and last result.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{
		RunID:    p.runID,
		State:    p.state,
		Streamed: p.streamed.String(),
		Report:   p.report,
		Message:  p.message,
		Outcomes: append([]extraction.Outcome(nil), p.outcomes...),
	}
}

func (p *Pipeline) begin(ctx context.Context, content string, onEvent func(Event)) *run {
	var rctx context.Context
	var cancel context.CancelFunc
	if p.timeout > 0 {
		rctx, cancel = context.WithTimeout(ctx, p.timeout)
	} else {
		rctx, cancel = context.WithCancel(ctx)
	}
	r := &run{id: uuid.NewString(), ctx: rctx, cancel: cancel, onEvent: onEvent}

	p.mu.Lock()
	prev := p.cur
	p.cur = r
	p.runID = r.id
	p.state = Understanding
	p.streamed.Reset()
	p.report = ""
	p.message = ""
	p.outcomes = nil
	p.lastContent = content
	p.mu.Unlock()

	if prev != nil {
		prev.stop(ErrSuperseded, p.logger)
		p.logger.Info("memory run superseded",
			slog.String("run", prev.id),
			slog.String("by", r.id))
	}
	p.logger.Info("memory run started", slog.String("run", r.id))
	r.emit(Event{State: Understanding})
	return r
}

// settle detaches a finished run: no event may follow, the handle is released.
func (p *Pipeline) settle(r *run) {
	p.mu.Lock()
	if p.cur == r {
		p.cur = nil
	}
	p.mu.Unlock()
	r.kill()
	r.cancel()
	r.release(p.logger)
}

// handle maps a client event onto the state machine.
func (p *Pipeline) handle(r *run, e extraction.Event) {
	switch e.Kind {
	case extraction.EventToolStart:
		p.advance(r, Understanding, e.Tool, "")
	case extraction.EventArguments:
		p.advance(r, GeneratingParameters, e.Tool, e.Fragment)
	case extraction.EventSave:
		p.advance(r, Saving, e.Tool, "")
	}
}

// advance moves r to s and appends fragment. A state-only transition into the
// current state is not re-announced.
func (p *Pipeline) advance(r *run, s State, tool, fragment string) {
	p.mu.Lock()
	if p.cur != r || r.dead.Load() {
		p.mu.Unlock()
		return
	}
	if fragment == "" && p.state == s {
		p.mu.Unlock()
		return
	}
	p.state = s
	p.streamed.WriteString(fragment)
	p.mu.Unlock()
	r.emit(Event{State: s, Tool: tool, Fragment: fragment})
}

// abort ends r after err. A canceled caller context means the caller gave up,
// which returns the pipeline to Idle rather than Error.
func (p *Pipeline) abort(ctx context.Context, r *run, err error) error {
	if stopErr := r.stopped(); stopErr != nil {
		return stopErr
	}
	if !errors.Is(ctx.Err(), context.Canceled) {
		return p.fail(r, err)
	}
	p.mu.Lock()
	if p.cur == r {
		p.cur = nil
		p.state = Idle
	}
	p.mu.Unlock()
	r.stop(ErrCanceled, p.logger)
	p.logger.Info("memory run canceled by caller", slog.String("run", r.id))
	return ErrCanceled
}

func (p *Pipeline) fail(r *run, err error) error {
	if stopErr := r.stopped(); stopErr != nil {
		return stopErr
	}
	var xe *apperr.ExtractionError
	var ce *apperr.ConnectionError
	if !errors.As(err, &xe) && !errors.As(err, &ce) {
		err = &apperr.ExtractionError{Err: err}
	}

	p.mu.Lock()
	current := p.cur == r
	if current {
		p.state = Error
		p.message = err.Error()
	}
	p.mu.Unlock()
	if current {
		p.logger.Warn("memory run failed",
			slog.String("run", r.id),
			slog.String("error", err.Error()))
		r.emit(Event{State: Error, Message: err.Error()})
	}
	return err
}

func (p *Pipeline) finish(r *run, outcomes []extraction.Outcome) error {
	report := Format(outcomes)

	p.mu.Lock()
	if p.cur != r {
		p.mu.Unlock()
		if err := r.stopped(); err != nil {
			return err
		}
		return ErrSuperseded
	}
	p.state = Done
	p.report = report
	p.outcomes = outcomes
	p.mu.Unlock()

	p.logger.Info("memory run done",
		slog.String("run", r.id),
		slog.Int("outcomes", len(outcomes)))
	r.emit(Event{State: Done, Report: report})
	return nil
}
