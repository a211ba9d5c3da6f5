// ABOUTME: SSE streaming aggregator converting execution events into data frames
// ABOUTME: Emits events in production order, then the aggregate, then the [DONE] sentinel

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/2389/devgate/internal/executor"
)

// doneFrame terminates every successfully completed stream.
const doneFrame = "data: [DONE]\n\n"

// streamExecution consumes the execution stream and writes SSE frames.
//
// Frame order is exactly the production order of the event sequence. After
// the sequence completes, the full ordered event list is folded into one
// terminal aggregate event whose sequence number equals the count of prior
// events, followed by the [DONE] sentinel. A production fault replaces the
// aggregate with a single structured error frame; frames already sent are
// not retracted.
func (g *Gateway) streamExecution(w http.ResponseWriter, r *http.Request, items <-chan executor.StreamItem, req *executor.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported by response writer")
		g.sendExecutionError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ctx := r.Context()
	var events []executor.Envelope

	for {
		select {
		case <-ctx.Done():
			// Client is gone: stop promptly, flush nothing further.
			g.logger.Debug("client disconnected during streaming", "entity_id", req.EntityID)
			return

		case item, ok := <-items:
			if !ok {
				g.writeAggregate(w, flusher, events, req)
				return
			}
			if item.Err != nil {
				g.writeErrorFrame(w, flusher, item.Err)
				return
			}

			events = append(events, item.Event)
			payload, err := json.Marshal(item.Event)
			if err != nil {
				g.logger.Error("failed to marshal stream event", "error", err)
				g.writeErrorFrame(w, flusher, err)
				return
			}
			writeDataFrame(w, payload)
			flusher.Flush()
		}
	}
}

// writeAggregate folds the event list into the terminal completed event and
// emits it followed by the [DONE] sentinel.
func (g *Gateway) writeAggregate(w http.ResponseWriter, flusher http.Flusher, events []executor.Envelope, req *executor.Request) {
	completed := executor.Envelope{
		Type: executor.TypeResponseDone,
		Payload: map[string]any{
			"response":        g.engine.AggregateResponse(events, req),
			"sequence_number": len(events),
		},
	}

	payload, err := json.Marshal(completed)
	if err != nil {
		g.logger.Error("failed to marshal aggregate event", "error", err)
		g.writeErrorFrame(w, flusher, err)
		return
	}
	writeDataFrame(w, payload)
	flusher.Flush()

	fmt.Fprint(w, doneFrame)
	flusher.Flush()
}

// writeErrorFrame emits the single structured error frame that terminates a
// faulted stream. No aggregate and no [DONE] sentinel follow.
func (g *Gateway) writeErrorFrame(w http.ResponseWriter, flusher http.Flusher, err error) {
	frame := map[string]any{
		"id":     "error",
		"object": "error",
		"error": map[string]string{
			"message": err.Error(),
			"type":    "execution_error",
		},
	}
	payload, merr := json.Marshal(frame)
	if merr != nil {
		g.logger.Error("failed to marshal error frame", "error", merr)
		return
	}
	writeDataFrame(w, payload)
	flusher.Flush()
}

// writeDataFrame writes one SSE data frame. Embedded newlines are illegal in
// SSE data, so any that survive marshaling are stripped before framing.
func writeDataFrame(w http.ResponseWriter, payload []byte) {
	payload = bytes.ReplaceAll(payload, []byte("\n"), nil)
	payload = bytes.ReplaceAll(payload, []byte("\r"), nil)
	fmt.Fprintf(w, "data: %s\n\n", payload)
}
