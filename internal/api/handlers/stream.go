package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/caiolacerdamt/cognistream/internal/job"
)

// StreamVideo runs the same pipeline as ProcessVideo but delivers every stage
// transition as a server-sent event, ending with exactly one terminal event.
func (h *ProcessHandler) StreamVideo(w http.ResponseWriter, r *http.Request) {
	req, ok := h.videoRequest(w, r)
	if !ok {
		return
	}
	h.runStreaming(w, r, req)
}

// StreamFile is the streaming delivery mode for uploads.
func (h *ProcessHandler) StreamFile(w http.ResponseWriter, r *http.Request) {
	req, ok := h.fileRequest(w, r)
	if !ok {
		return
	}
	h.runStreaming(w, r, req)
}

func (h *ProcessHandler) runStreaming(w http.ResponseWriter, r *http.Request, req job.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	// Subscribe before checking headers are sent so no transition between
	// start and first write is missed.
	flight, _ := h.manager.StartOrAttach(req)
	events, cancel := flight.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			// Client disconnected: detach only. The job runs to a terminal
			// state and persists regardless.
			return
		case ev, open := <-events:
			if !open {
				// Attached after the terminal event, or detached as a stalled
				// consumer. Wait for the outcome and emit it so the stream
				// never just drops.
				result, failure, err := flight.Wait(r.Context())
				if err != nil {
					return
				}
				if failure != nil {
					writeSSE(w, flusher, job.Event{Stage: job.StageFailed, Failure: failure})
				} else {
					writeSSE(w, flusher, job.Event{Stage: job.StageCompleted, Result: result})
				}
				return
			}
			writeSSE(w, flusher, ev)
			if ev.Terminal() {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev job.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
	flusher.Flush()
}
