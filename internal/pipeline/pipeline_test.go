package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/agentcore-guard/internal/core/domain"
	"github.com/tjfontaine/agentcore-guard/internal/core/ports"
	"github.com/tjfontaine/agentcore-guard/internal/observe"
	"github.com/tjfontaine/agentcore-guard/internal/prompt"
)

// stubGate records the directions it was asked to screen.
type stubGate struct {
	mu       sync.Mutex
	blockIn  bool
	blockOut bool
	calls    []domain.Direction
	contents []string
}

func (g *stubGate) Screen(_ context.Context, content string, dir domain.Direction) domain.GateVerdict {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, dir)
	g.contents = append(g.contents, content)
	switch {
	case dir == domain.DirectionInput && g.blockIn:
		return domain.GateVerdict{Action: domain.GateActionIntervened, Message: "input blocked"}
	case dir == domain.DirectionOutput && g.blockOut:
		return domain.GateVerdict{Action: domain.GateActionIntervened, Message: "output blocked"}
	}
	return domain.AllowVerdict()
}

func (g *stubGate) directions() []domain.Direction {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]domain.Direction(nil), g.calls...)
}

// stubAgent replays a fixed event list. When hold is set the stream pauses
// after the first event until hold is closed.
type stubAgent struct {
	events  []domain.AgentEvent
	openErr error
	hold    chan struct{}
	message string
}

func (a *stubAgent) Stream(ctx context.Context, message string) (<-chan domain.AgentEvent, error) {
	a.message = message
	if a.openErr != nil {
		return nil, a.openErr
	}
	ch := make(chan domain.AgentEvent)
	go func() {
		defer close(ch)
		for i, ev := range a.events {
			if i == 1 && a.hold != nil {
				select {
				case <-a.hold:
				case <-ctx.Done():
					return
				}
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

type stubFactory struct {
	agent   *stubAgent
	err     error
	opened  int
	configs []ports.AgentConfig
}

func (f *stubFactory) NewAgent(_ context.Context, cfg ports.AgentConfig) (ports.Agent, error) {
	f.opened++
	f.configs = append(f.configs, cfg)
	if f.err != nil {
		return nil, f.err
	}
	return f.agent, nil
}

func textEvents(texts ...string) []domain.AgentEvent {
	out := make([]domain.AgentEvent, 0, len(texts))
	for _, t := range texts {
		out = append(out, domain.AgentEvent{Event: domain.MapEvent{"data": t}})
	}
	return out
}

func newPipeline(t *testing.T, g Screener, f ports.AgentFactory, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithGate(g)}, opts...)
	p, err := New(Config{AutoApproveToolCalls: true}, f, opts...)
	require.NoError(t, err)
	return p
}

func TestNew_RequiresFactory(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.ErrorIs(t, err, ErrNoAgentFactory)
}

func TestInvoke_BlockedInput(t *testing.T) {
	g := &stubGate{blockIn: true}
	f := &stubFactory{agent: &stubAgent{events: textEvents("never")}}
	rec := &observe.Recorder{}
	p := newPipeline(t, g, f, WithSink(rec))

	got, err := Collect(p.Invoke(context.Background(), domain.InvocationRequest{Prompt: "bad"}))

	require.NoError(t, err)
	assert.Equal(t, []string{"input blocked"}, got)
	assert.Zero(t, f.opened)
	assert.Equal(t, []domain.Direction{domain.DirectionInput}, g.directions())
	assert.Len(t, rec.OfType(observe.EventInvocationBlocked), 1)
	assert.Empty(t, rec.OfType(observe.EventInvocationCompleted))
}

func TestInvoke_StreamsFragmentsInOrder(t *testing.T) {
	g := &stubGate{}
	f := &stubFactory{agent: &stubAgent{events: textEvents("Hel", "lo")}}
	p := newPipeline(t, g, f, WithPromptResolver(staticPrompt("be helpful")))

	got, err := Collect(p.Invoke(context.Background(), domain.InvocationRequest{Prompt: "hi", SessionID: "s1"}))

	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, got)
	assert.Equal(t, []domain.Direction{domain.DirectionInput, domain.DirectionOutput}, g.directions())
	assert.Equal(t, "Hello", g.contents[1])

	require.Len(t, f.configs, 1)
	assert.Equal(t, ports.AgentConfig{
		SystemPrompt:         "be helpful",
		SessionID:            "s1",
		AutoApproveToolCalls: true,
	}, f.configs[0])
	assert.Equal(t, "hi", f.agent.message)
}

func TestInvoke_DefaultSystemPromptWithoutResolver(t *testing.T) {
	f := &stubFactory{agent: &stubAgent{events: textEvents("ok")}}
	p := newPipeline(t, &stubGate{}, f)

	_, err := Collect(p.Invoke(context.Background(), domain.InvocationRequest{Prompt: "hi"}))

	require.NoError(t, err)
	require.Len(t, f.configs, 1)
	assert.Equal(t, prompt.DefaultSystemPrompt, f.configs[0].SystemPrompt)
}

func TestInvoke_FragmentKinds(t *testing.T) {
	g := &stubGate{blockOut: true}
	f := &stubFactory{agent: &stubAgent{events: textEvents("Hel", "lo")}}
	p := newPipeline(t, g, f)

	var kinds []domain.FragmentKind
	var texts []string
	for frag := range p.Invoke(context.Background(), domain.InvocationRequest{Prompt: "hi"}) {
		kinds = append(kinds, frag.Kind)
		texts = append(texts, frag.Text)
	}

	assert.Equal(t, []domain.FragmentKind{domain.FragmentText, domain.FragmentText, domain.FragmentWarning}, kinds)
	assert.Equal(t, []string{"Hel", "lo", "\n\n⚠️ output blocked"}, texts)
}

func TestInvoke_SkipsTextlessEvents(t *testing.T) {
	g := &stubGate{}
	f := &stubFactory{agent: &stubAgent{events: []domain.AgentEvent{
		{Event: domain.MapEvent{"event": map[string]any{"messageStart": map[string]any{"role": "assistant"}}}},
		{Event: domain.MapEvent{"data": "A"}},
		{Event: domain.MapEvent{"data": ""}},
		{Event: domain.ObjectEvent{Text: "B"}},
		{Event: domain.MapEvent{"delta": map[string]any{"text": "C"}}},
		{Event: 42},
		{Event: nil},
	}}}
	p := newPipeline(t, g, f)

	got, err := Collect(p.Invoke(context.Background(), domain.InvocationRequest{Prompt: "hi"}))

	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, got)
	assert.Equal(t, "ABC", g.contents[1])
}

func TestInvoke_EmptyResponseSkipsOutputGate(t *testing.T) {
	g := &stubGate{blockOut: true}
	f := &stubFactory{agent: &stubAgent{}}
	p := newPipeline(t, g, f)

	got, err := Collect(p.Invoke(context.Background(), domain.InvocationRequest{Prompt: "hi"}))

	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, []domain.Direction{domain.DirectionInput}, g.directions())
}

func TestInvoke_UpstreamFailure(t *testing.T) {
	boom := errors.New("stream reset")

	t.Run("mid stream", func(t *testing.T) {
		g := &stubGate{}
		f := &stubFactory{agent: &stubAgent{events: append(textEvents("partial"), domain.AgentEvent{Err: boom})}}
		rec := &observe.Recorder{}
		p := newPipeline(t, g, f, WithSink(rec))

		got, err := Collect(p.Invoke(context.Background(), domain.InvocationRequest{Prompt: "hi"}))

		assert.ErrorIs(t, err, boom)
		assert.Equal(t, []string{"partial"}, got)
		assert.Equal(t, []domain.Direction{domain.DirectionInput}, g.directions())
		assert.Len(t, rec.OfType(observe.EventInvocationFailed), 1)
	})

	t.Run("open", func(t *testing.T) {
		g := &stubGate{}
		f := &stubFactory{agent: &stubAgent{openErr: boom}}
		p := newPipeline(t, g, f)

		got, err := Collect(p.Invoke(context.Background(), domain.InvocationRequest{Prompt: "hi"}))

		assert.ErrorIs(t, err, boom)
		assert.Empty(t, got)
	})

	t.Run("factory", func(t *testing.T) {
		g := &stubGate{}
		f := &stubFactory{err: boom}
		p := newPipeline(t, g, f)

		_, err := Collect(p.Invoke(context.Background(), domain.InvocationRequest{Prompt: "hi"}))

		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, f.opened)
	})
}

func TestInvoke_CancelMidStreamSkipsOutputGate(t *testing.T) {
	g := &stubGate{}
	agent := &stubAgent{events: textEvents("Hel", "lo"), hold: make(chan struct{})}
	f := &stubFactory{agent: agent}
	rec := &observe.Recorder{}
	p := newPipeline(t, g, f, WithSink(rec))

	ctx, cancel := context.WithCancel(context.Background())
	ch := p.Invoke(ctx, domain.InvocationRequest{Prompt: "hi"})

	first := <-ch
	assert.Equal(t, "Hel", first.Text)
	cancel()
	close(agent.hold)

	for range ch {
	}

	assert.Equal(t, []domain.Direction{domain.DirectionInput}, g.directions())
	cancelled := rec.OfType(observe.EventInvocationCancelled)
	require.Len(t, cancelled, 1)
	assert.Empty(t, rec.OfType(observe.EventInvocationCompleted))
}

func TestInvoke_MissingPrompt(t *testing.T) {
	g := &stubGate{}
	agent := &stubAgent{events: textEvents("ok")}
	p := newPipeline(t, g, &stubFactory{agent: agent})

	req := domain.NewInvocationRequest(map[string]any{"other": 1}, "")
	_, err := Collect(p.Invoke(context.Background(), req))

	require.NoError(t, err)
	assert.Equal(t, domain.MissingPromptPhrase, agent.message)
	assert.Equal(t, domain.MissingPromptPhrase, g.contents[0])
}

func TestInvoke_DefaultsSessionAndEmitsCompletion(t *testing.T) {
	g := &stubGate{}
	f := &stubFactory{agent: &stubAgent{events: textEvents("Hello", " world")}}
	rec := &observe.Recorder{}
	p := newPipeline(t, g, f, WithSink(rec))

	ctx := observe.WithRequestID(context.Background(), "req-1")
	_, err := Collect(p.Invoke(ctx, domain.InvocationRequest{Prompt: "hi"}))
	require.NoError(t, err)

	assert.Equal(t, domain.DefaultSessionID, f.configs[0].SessionID)
	done := rec.OfType(observe.EventInvocationCompleted)
	require.Len(t, done, 1)
	assert.Equal(t, "req-1", done[0].RequestID)
	assert.Equal(t, domain.DefaultSessionID, done[0].SessionID)
	assert.Equal(t, 2, done[0].Attrs["fragments"])
	assert.Equal(t, len("Hello world"), done[0].Attrs["response_bytes"])
	assert.Equal(t, false, done[0].Attrs["output_blocked"])
}

func TestInvoke_ConcurrentInvocationsAreIndependent(t *testing.T) {
	g := &stubGate{}
	factory := ports.AgentFactoryFunc(func(_ context.Context, cfg ports.AgentConfig) (ports.Agent, error) {
		return &stubAgent{events: textEvents(cfg.SessionID, "!")}, nil
	})
	p := newPipeline(t, g, factory)

	var wg sync.WaitGroup
	results := make([][]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sid := string(rune('a' + i))
			results[i], _ = Collect(p.Invoke(context.Background(), domain.InvocationRequest{Prompt: "x", SessionID: sid}))
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		assert.Equal(t, []string{string(rune('a' + i)), "!"}, got)
	}
}
