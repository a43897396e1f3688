// Package agentcore implements the Bedrock AgentCore runtime HTTP contract:
// POST /invocations streams the agent's answer as server-sent events and
// GET /ping reports health.
package agentcore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/agentcore-guard/internal/core/domain"
	"github.com/tjfontaine/agentcore-guard/internal/server"
)

// SessionHeader carries the runtime session identifier.
const SessionHeader = "X-Amzn-Bedrock-AgentCore-Runtime-Session-Id"

// maxBodyBytes bounds the invocation payload.
const maxBodyBytes = 1 << 20

// Invoker runs one guarded invocation. *pipeline.Pipeline implements it.
type Invoker interface {
	Invoke(ctx context.Context, req domain.InvocationRequest) <-chan domain.Fragment
}

// Handler serves the runtime contract.
type Handler struct {
	invoker Invoker
	logger  *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(invoker Invoker, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{invoker: invoker, logger: logger}
}

// Routes registers the runtime endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/invocations", h.handleInvocation)
	r.Get("/ping", h.handlePing)
}

func (h *Handler) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Healthy"})
}

func (h *Handler) handleInvocation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := server.GetRequestID(ctx)

	payload, err := decodePayload(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		server.AddError(ctx, err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	req := domain.NewInvocationRequest(payload, r.Header.Get(SessionHeader))
	server.AddLogField(ctx, "session_id", req.SessionID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		server.AddError(ctx, fmt.Errorf("streaming not supported"))
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	fragments := h.invoker.Invoke(ctx, req)

	// Hold the headers until the first fragment so that a failure before
	// any output can still be reported with a status code.
	first, ok := <-fragments
	if !ok {
		writeSSEHeaders(w)
		flusher.Flush()
		return
	}
	if first.Err != nil {
		h.logger.Error("invocation failed before streaming",
			slog.String("request_id", requestID),
			slog.String("session_id", req.SessionID),
			slog.String("error", first.Err.Error()),
		)
		server.AddError(ctx, first.Err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": first.Err.Error()})
		drain(fragments)
		return
	}

	writeSSEHeaders(w)
	count := 0
	for frag, more := first, true; more; frag, more = <-fragments {
		if frag.Err != nil {
			h.logger.Error("invocation failed mid-stream",
				slog.String("request_id", requestID),
				slog.String("session_id", req.SessionID),
				slog.String("error", frag.Err.Error()),
			)
			server.AddError(ctx, frag.Err)
			data, _ := json.Marshal(map[string]string{"error": frag.Err.Error()})
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
			flusher.Flush()
			continue
		}
		data, _ := json.Marshal(frag.Text)
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			// Client went away; the request context cancels the pipeline.
			drain(fragments)
			break
		}
		flusher.Flush()
		count++
		if frag.Kind != domain.FragmentText {
			server.AddLogField(ctx, "gate", string(frag.Kind))
		}
	}
	server.AddLogField(ctx, "fragments", fmt.Sprint(count))
}

func decodePayload(body io.Reader) (map[string]any, error) {
	payload := map[string]any{}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return payload, nil
		}
		return nil, fmt.Errorf("invalid JSON payload: %w", err)
	}
	return payload, nil
}

func writeSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func drain(ch <-chan domain.Fragment) {
	for range ch {
	}
}
