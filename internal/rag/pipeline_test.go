package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liao/guide-bot/internal/chat"
	"github.com/liao/guide-bot/internal/store"
)

func newTestPipeline(t *testing.T, gen *fakeGen, emb Embedder, s store.Store) (*Pipeline, *chat.MemoryStore) {
	sessions, err := chat.NewMemoryStore(chat.DefaultMaxTurns, 0, "")
	require.NoError(t, err)
	p := NewPipeline(
		NewExpander(gen, 5),
		NewRetriever(emb, s, 3),
		NewFilter(gen),
		NewSynthesizer(gen, nil),
		sessions,
		3,
	)
	return p, sessions
}

func TestPipelinePizzaScenario(t *testing.T) {
	gen := &fakeGen{reply: func(p string) (string, error) {
		switch {
		case isExpandPrompt(p):
			return `["best pizza Jersey City", "top pizzerias downtown JC", "thin crust pizza near me"]`, nil
		case isFilterPrompt(p):
			return `{"valid_indices": [0, 1, 2, 3, 4]}`, nil
		default:
			return "Try Razza for wood-fired pies.", nil
		}
	}}
	p, sessions := newTestPipeline(t, gen, pizzaEmbedder(), pizzaStore())

	ans, err := p.Answer(context.Background(), "s1", "best pizza in Jersey City")
	require.NoError(t, err)

	assert.Equal(t, "Try Razza for wood-fired pies.", ans.Response)
	assert.Len(t, ans.Candidates, 5)
	require.Len(t, ans.Sources, 5)
	assert.Equal(t, Source{Name: "Razza", URL: "u/razza"}, ans.Sources[0])

	turns, err := sessions.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "best pizza in Jersey City", turns[0].UserQuery)
}

func TestPipelineAllEmbeddingsFail(t *testing.T) {
	gen := &fakeGen{reply: func(p string) (string, error) {
		if isExpandPrompt(p) {
			return `["a", "b", "c"]`, nil
		}
		if isFilterPrompt(p) {
			t.Fatal("filter must not be called without candidates")
		}
		return "Based on what we discussed, the waterfront is lovely in the evening.", nil
	}}
	p, sessions := newTestPipeline(t, gen, &fakeEmbedder{}, pizzaStore())
	ctx := context.Background()
	require.NoError(t, sessions.Append(ctx, "s2", "I like walks", "Great, I'll keep that in mind."))

	ans, err := p.Answer(ctx, "s2", "anything for tonight?")
	require.NoError(t, err)
	assert.NotEmpty(t, ans.Response)
	assert.Empty(t, ans.Candidates)
	assert.Empty(t, ans.Sources)

	last := gen.prompts[len(gen.prompts)-1]
	assert.Contains(t, last, "User: I like walks")
	assert.Contains(t, last, noCandidatesText)
}

func TestPipelineUpstreamDownStillAnswers(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeGen{}, pizzaEmbedder(), pizzaStore())

	ans, err := p.Answer(context.Background(), "s3", "best pizza Jersey City")
	require.NoError(t, err)
	// 扩展失败 → 原查询；过滤失败 → 不过滤；合成失败 → 道歉
	assert.Equal(t, []string{"best pizza Jersey City"}, ans.Expanded)
	assert.Len(t, ans.Kept, 2)
	assert.Equal(t, ApologyMessage, ans.Response)
}

func TestPipelineStoreUnavailable(t *testing.T) {
	s := pizzaStore()
	s.err = errors.New("dial tcp: connection refused")
	p, sessions := newTestPipeline(t, &fakeGen{}, pizzaEmbedder(), s)

	_, err := p.Answer(context.Background(), "s4", "best pizza Jersey City")
	assert.ErrorIs(t, err, store.ErrUnavailable)

	turns, _ := sessions.Get(context.Background(), "s4")
	assert.Empty(t, turns)
}

func TestPipelineReset(t *testing.T) {
	gen := &fakeGen{reply: replyWith("ok")}
	p, sessions := newTestPipeline(t, gen, &fakeEmbedder{}, pizzaStore())
	ctx := context.Background()

	_, err := p.Answer(ctx, "s5", "hello")
	require.NoError(t, err)
	require.NoError(t, p.Reset(ctx, "s5"))
	require.NoError(t, p.Reset(ctx, "never-seen"))

	turns, err := sessions.Get(ctx, "s5")
	require.NoError(t, err)
	assert.Empty(t, turns)
}
