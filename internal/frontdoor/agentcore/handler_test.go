package agentcore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/agentcore-guard/internal/core/domain"
	"github.com/tjfontaine/agentcore-guard/internal/server"
)

type fakeInvoker struct {
	fragments []domain.Fragment
	got       domain.InvocationRequest
	requestID string
}

func (f *fakeInvoker) Invoke(ctx context.Context, req domain.InvocationRequest) <-chan domain.Fragment {
	f.got = req
	f.requestID = server.GetRequestID(ctx)
	ch := make(chan domain.Fragment, len(f.fragments))
	for _, frag := range f.fragments {
		ch <- frag
	}
	close(ch)
	return ch
}

func newTestRouter(inv Invoker) http.Handler {
	r := chi.NewRouter()
	r.Use(server.RequestIDMiddleware)
	NewHandler(inv, nil).Routes(r)
	return r
}

func TestHandler_Ping(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(&fakeInvoker{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != `{"status":"Healthy"}` {
		t.Errorf("unexpected body %s", body)
	}
}

func TestHandler_StreamsFragments(t *testing.T) {
	inv := &fakeInvoker{fragments: []domain.Fragment{
		{Kind: domain.FragmentText, Text: "Hel"},
		{Kind: domain.FragmentText, Text: "lo \"world\"\n"},
		{Kind: domain.FragmentWarning, Text: "\n\n⚠️ blocked"},
	}}

	req := httptest.NewRequest(http.MethodPost, "/invocations", strings.NewReader(`{"prompt":"hi"}`))
	req.Header.Set(SessionHeader, "session-123")
	rec := httptest.NewRecorder()
	newTestRouter(inv).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected text/event-stream, got %q", ct)
	}
	want := "data: \"Hel\"\n\n" +
		"data: \"lo \\\"world\\\"\\n\"\n\n" +
		"data: \"\\n\\n⚠️ blocked\"\n\n"
	if rec.Body.String() != want {
		t.Errorf("unexpected body:\n%q\nwant:\n%q", rec.Body.String(), want)
	}
	if inv.got.Prompt != "hi" || inv.got.SessionID != "session-123" {
		t.Errorf("unexpected request %+v", inv.got)
	}
	if inv.requestID == "" {
		t.Error("expected request id in invocation context")
	}
}

func TestHandler_Defaults(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing prompt", `{"message":"hi"}`},
		{"non-string prompt", `{"prompt":42}`},
		{"empty body", ``},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &fakeInvoker{fragments: []domain.Fragment{{Text: "ok"}}}
			rec := httptest.NewRecorder()
			newTestRouter(inv).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/invocations", strings.NewReader(tt.body)))

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			if inv.got.Prompt != domain.MissingPromptPhrase {
				t.Errorf("expected fallback prompt, got %q", inv.got.Prompt)
			}
			if inv.got.SessionID != domain.DefaultSessionID {
				t.Errorf("expected default session, got %q", inv.got.SessionID)
			}
		})
	}
}

func TestHandler_InvalidJSON(t *testing.T) {
	inv := &fakeInvoker{}
	rec := httptest.NewRecorder()
	newTestRouter(inv).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/invocations", strings.NewReader(`{"prompt":`)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_ErrorBeforeOutput(t *testing.T) {
	inv := &fakeInvoker{fragments: []domain.Fragment{{Err: errors.New("model unavailable")}}}
	rec := httptest.NewRecorder()
	newTestRouter(inv).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/invocations", strings.NewReader(`{"prompt":"hi"}`)))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "model unavailable") {
		t.Errorf("expected error in body, got %s", rec.Body.String())
	}
}

func TestHandler_ErrorMidStream(t *testing.T) {
	inv := &fakeInvoker{fragments: []domain.Fragment{
		{Kind: domain.FragmentText, Text: "partial"},
		{Err: errors.New("stream reset")},
	}}
	rec := httptest.NewRecorder()
	newTestRouter(inv).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/invocations", strings.NewReader(`{"prompt":"hi"}`)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want := "data: \"partial\"\n\nevent: error\ndata: {\"error\":\"stream reset\"}\n\n"
	if rec.Body.String() != want {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestHandler_EmptyStream(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(&fakeInvoker{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/invocations", strings.NewReader(`{"prompt":"hi"}`)))

	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Errorf("expected empty 200 stream, got %d %q", rec.Code, rec.Body.String())
	}
}
