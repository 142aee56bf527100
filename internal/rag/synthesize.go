package rag

import (
	"context"
	"log/slog"

	"github.com/liao/guide-bot/internal/chat"
	"github.com/liao/guide-bot/internal/metrics"
	"github.com/liao/guide-bot/internal/persona"
	"github.com/liao/guide-bot/internal/store"
)

// Synthesizer 根据历史和候选生成最终回答
type Synthesizer struct {
	gen   Generator
	guide *persona.Guide
}

func NewSynthesizer(gen Generator, guide *persona.Guide) *Synthesizer {
	if guide == nil {
		guide = persona.Default("")
	}
	return &Synthesizer{gen: gen, guide: guide}
}

// Synthesize 永不返回空串；失败时返回 ApologyMessage
func (s *Synthesizer) Synthesize(ctx context.Context, query string, history []chat.Turn, candidates []store.Candidate) string {
	prompt := BuildSynthesisPrompt(s.guide, query, history, candidates)
	text, err := s.gen.Generate(ctx, prompt)
	if err != nil || text == "" {
		slog.Error("synthesize answer failed", "error", err)
		metrics.StageFallbacks.WithLabelValues("synthesize").Inc()
		return ApologyMessage
	}
	return text
}
