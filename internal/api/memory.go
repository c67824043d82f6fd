package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/starford/inkwell/internal/extraction"
	"github.com/starford/inkwell/internal/memory"
	"github.com/starford/inkwell/internal/models"
	"github.com/starford/inkwell/internal/noteservice"
	"github.com/starford/inkwell/internal/sse"
)

const statusProbeTimeout = 5 * time.Second

// StatusFunc probes the extraction service.
type StatusFunc func(ctx context.Context) extraction.Status

// EventPublisher broadcasts events to connected clients.
type EventPublisher interface {
	Publish(event sse.Event)
}

type nopEvents struct{}

func (nopEvents) Publish(sse.Event) {}

// MemoryHandler exposes the memory pipeline. Runs execute in the background;
// their progress is delivered through the event stream.
type MemoryHandler struct {
	notes    *noteservice.Service
	pipeline *memory.Pipeline
	status   StatusFunc
	events   EventPublisher
}

// NewMemoryHandler creates a MemoryHandler. A nil status reports the
// extraction service as disconnected.
func NewMemoryHandler(notes *noteservice.Service, pipeline *memory.Pipeline, status StatusFunc, events EventPublisher) *MemoryHandler {
	if status == nil {
		status = func(context.Context) extraction.Status { return extraction.Status{} }
	}
	if events == nil {
		events = nopEvents{}
	}
	return &MemoryHandler{notes: notes, pipeline: pipeline, status: status, events: events}
}

type startResult struct {
	runID string
	err   error
}

// Start handles POST /api/memory.
func (h *MemoryHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req MemoryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	content := req.Content
	if req.ID != "" {
		note, err := h.notes.GetNote(r.Context(), req.ID)
		if err != nil {
			writeError(w, "memory note", err)
			return
		}
		if note.Type != models.KindMarkdown {
			writeJSON(w, http.StatusBadRequest, errorBody("only markdown notes can be memorized"))
			return
		}
		content = note.Content
	}
	h.launch(w, r, func(ctx context.Context, onEvent func(memory.Event)) error {
		_, err := h.pipeline.Run(ctx, content, onEvent)
		return err
	})
}

// Retry handles POST /api/memory/retry.
func (h *MemoryHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.launch(w, r, func(ctx context.Context, onEvent func(memory.Event)) error {
		_, err := h.pipeline.Retry(ctx, onEvent)
		return err
	})
}

// Cancel handles DELETE /api/memory.
func (h *MemoryHandler) Cancel(w http.ResponseWriter, _ *http.Request) {
	h.pipeline.Cancel()
	w.WriteHeader(http.StatusNoContent)
}

// Snapshot handles GET /api/memory.
func (h *MemoryHandler) Snapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.pipeline.Snapshot())
}

// Status handles GET /api/memory/status.
func (h *MemoryHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), statusProbeTimeout)
	defer cancel()
	writeJSON(w, http.StatusOK, h.status(ctx))
}

// launch starts a run on its own goroutine, detached from the request, and
// answers 202 with the run id once the run has begun. A run rejected before
// it begins is reported as an error response.
func (h *MemoryHandler) launch(w http.ResponseWriter, r *http.Request, start func(context.Context, func(memory.Event)) error) {
	res := make(chan startResult, 1)
	var once sync.Once
	report := func(s startResult) { once.Do(func() { res <- s }) }

	go func() {
		var last memory.Event
		err := start(context.WithoutCancel(r.Context()), func(e memory.Event) {
			last = e
			report(startResult{runID: e.RunID})
			h.events.Publish(sse.Event{Type: sse.TypeMemoryEvent, Data: e})
		})
		report(startResult{err: err})
		h.publishResult(last, err)
	}()

	select {
	case s := <-res:
		if s.err != nil {
			writeError(w, "memory run", s.err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"runId": s.runID})
	case <-r.Context().Done():
	}
}

func (h *MemoryHandler) publishResult(last memory.Event, err error) {
	switch {
	case err == nil:
		h.events.Publish(sse.Event{Type: sse.TypeMemoryDone, Data: last})
	case errors.Is(err, memory.ErrCanceled), errors.Is(err, memory.ErrSuperseded):
		slog.Debug("memory run stopped", slog.String("run", last.RunID), slog.String("reason", err.Error()))
	case last.RunID == "":
		// Rejected before starting; the caller already got the error.
	default:
		h.events.Publish(sse.Event{Type: sse.TypeMemoryError, Data: map[string]string{
			"runId":   last.RunID,
			"message": err.Error(),
		}})
	}
}
