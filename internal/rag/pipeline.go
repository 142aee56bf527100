package rag

import (
	"context"
	"log/slog"
	"time"

	"github.com/liao/guide-bot/internal/chat"
	"github.com/liao/guide-bot/internal/metrics"
	"github.com/liao/guide-bot/internal/store"
)

// Answer 一次问答的结果；Sources 与过滤后的候选顺序一致
type Answer struct {
	Response   string
	Sources    []Source
	Expanded   []string
	Candidates []store.Candidate
	Kept       []store.Candidate
}

type Pipeline struct {
	expander    *Expander
	retriever   *Retriever
	filter      *Filter
	synthesizer *Synthesizer
	sessions    chat.SessionStore
	topK        int
}

func NewPipeline(expander *Expander, retriever *Retriever, filter *Filter, synthesizer *Synthesizer, sessions chat.SessionStore, topK int) *Pipeline {
	return &Pipeline{
		expander:    expander,
		retriever:   retriever,
		filter:      filter,
		synthesizer: synthesizer,
		sessions:    sessions,
		topK:        topK,
	}
}

// Answer 完整流程；只有存储不可用时返回错误
func (p *Pipeline) Answer(ctx context.Context, sessionID, query string) (*Answer, error) {
	start := time.Now()

	var history []chat.Turn
	if p.sessions != nil && sessionID != "" {
		h, err := p.sessions.Get(ctx, sessionID)
		if err != nil {
			slog.Warn("load session failed, answering without history", "session", sessionID, "error", err)
		}
		history = h
	}

	expanded := p.expander.Expand(ctx, query)

	candidates, err := p.retriever.Retrieve(ctx, expanded, p.topK)
	if err != nil {
		metrics.PipelineDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, err
	}

	kept := p.filter.Apply(ctx, query, candidates)
	response := p.synthesizer.Synthesize(ctx, query, history, kept)

	if p.sessions != nil && sessionID != "" {
		if err := p.sessions.Append(ctx, sessionID, query, response); err != nil {
			slog.Warn("save turn failed", "session", sessionID, "error", err)
		}
	}

	slog.Info("answered query",
		"session", sessionID,
		"expanded", len(expanded),
		"candidates", len(candidates),
		"kept", len(kept),
		"elapsed", time.Since(start),
	)
	metrics.PipelineDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	return &Answer{
		Response:   response,
		Sources:    Sources(kept),
		Expanded:   expanded,
		Candidates: candidates,
		Kept:       kept,
	}, nil
}

// Reset 清空会话
func (p *Pipeline) Reset(ctx context.Context, sessionID string) error {
	if p.sessions == nil {
		return nil
	}
	return p.sessions.Reset(ctx, sessionID)
}
