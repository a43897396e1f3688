package prompt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/agentcore-guard/internal/core/domain"
	"github.com/tjfontaine/agentcore-guard/internal/observe"
)

type stubStore struct {
	results []*domain.PromptTemplate
	errs    []error
	calls   int
	lastID  string
	lastVer string
}

func (s *stubStore) GetPrompt(_ context.Context, id, version string) (*domain.PromptTemplate, error) {
	i := s.calls
	s.calls++
	s.lastID, s.lastVer = id, version
	var (
		tmpl *domain.PromptTemplate
		err  error
	)
	if i < len(s.results) {
		tmpl = s.results[i]
	}
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return tmpl, err
}

func template(def string, variants ...domain.PromptVariant) *domain.PromptTemplate {
	return &domain.PromptTemplate{Identifier: "PROMPT1", DefaultVariant: def, Variants: variants}
}

func TestResolve_Remote(t *testing.T) {
	store := &stubStore{results: []*domain.PromptTemplate{template("v2",
		domain.PromptVariant{Name: "v1", Text: "first"},
		domain.PromptVariant{Name: "v2", Text: "second"},
	)}}
	rec := &observe.Recorder{}
	r := NewResolver(store, Config{Identifier: "PROMPT1", Version: "3"}, rec, nil)

	got := r.Resolve(context.Background())

	assert.Equal(t, "second", got)
	assert.Equal(t, "PROMPT1", store.lastID)
	assert.Equal(t, "3", store.lastVer)
	events := rec.OfType(observe.EventPromptResolved)
	require.Len(t, events, 1)
	assert.Equal(t, SourceRemote, events[0].Attrs["source"])
}

func TestResolve_FallbackOnFailures(t *testing.T) {
	tests := []struct {
		name  string
		store *stubStore
	}{
		{"store error", &stubStore{errs: []error{errors.New("network unreachable")}}},
		{"nil template", &stubStore{}},
		{"no matching variant", &stubStore{results: []*domain.PromptTemplate{
			template("missing", domain.PromptVariant{Name: "other", Text: "x"}),
		}}},
		{"empty text", &stubStore{results: []*domain.PromptTemplate{
			template("v1", domain.PromptVariant{Name: "v1", Text: "   "}),
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &observe.Recorder{}
			r := NewResolver(tt.store, Config{Identifier: "PROMPT1"}, rec, nil)

			assert.Equal(t, DefaultSystemPrompt, r.Resolve(context.Background()))

			events := rec.OfType(observe.EventPromptResolved)
			require.Len(t, events, 1)
			assert.Equal(t, SourceFallback, events[0].Attrs["source"])
			assert.NotEmpty(t, events[0].Attrs["reason"])
		})
	}
}

func TestResolve_NotConfigured(t *testing.T) {
	assert.Equal(t, DefaultSystemPrompt, NewResolver(nil, Config{}, nil, nil).Resolve(context.Background()))

	store := &stubStore{}
	r := NewResolver(store, Config{}, nil, nil)
	assert.Equal(t, DefaultSystemPrompt, r.Resolve(context.Background()))
	assert.Zero(t, store.calls)
}

func TestResolve_CustomFallback(t *testing.T) {
	r := NewResolver(nil, Config{Fallback: "be brief"}, nil, nil)
	assert.Equal(t, "be brief", r.Resolve(context.Background()))
}

func TestResolve_Retries(t *testing.T) {
	store := &stubStore{
		errs:    []error{errors.New("throttled"), nil},
		results: []*domain.PromptTemplate{nil, template("v1", domain.PromptVariant{Name: "v1", Text: "recovered"})},
	}
	r := NewResolver(store, Config{Identifier: "PROMPT1", Retries: 2}, nil, nil)

	assert.Equal(t, "recovered", r.Resolve(context.Background()))
	assert.Equal(t, 2, store.calls)
}

func TestResolve_RecomputesEachCallByDefault(t *testing.T) {
	tmpl := template("v1", domain.PromptVariant{Name: "v1", Text: "fresh"})
	store := &stubStore{results: []*domain.PromptTemplate{tmpl, tmpl, tmpl}}
	r := NewResolver(store, Config{Identifier: "PROMPT1"}, nil, nil)

	r.Resolve(context.Background())
	r.Resolve(context.Background())

	assert.Equal(t, 2, store.calls)
}

func TestResolve_CacheTTL(t *testing.T) {
	tmpl := template("v1", domain.PromptVariant{Name: "v1", Text: "cached"})
	store := &stubStore{results: []*domain.PromptTemplate{tmpl, tmpl}}
	r := NewResolver(store, Config{Identifier: "PROMPT1", CacheTTL: time.Minute}, nil, nil)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	assert.Equal(t, "cached", r.Resolve(context.Background()))
	assert.Equal(t, "cached", r.Resolve(context.Background()))
	assert.Equal(t, 1, store.calls)

	now = now.Add(2 * time.Minute)
	r.Resolve(context.Background())
	assert.Equal(t, 2, store.calls)
}
