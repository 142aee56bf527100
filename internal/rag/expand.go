package rag

import (
	"context"
	"log/slog"
	"strings"

	"github.com/liao/guide-bot/internal/llmjson"
	"github.com/liao/guide-bot/internal/metrics"
)

const defaultMaxExpanded = 5

// Expander 把一条查询扩展成多条相关查询
type Expander struct {
	gen Generator
	max int
}

func NewExpander(gen Generator, max int) *Expander {
	if max <= 0 {
		max = defaultMaxExpanded
	}
	return &Expander{gen: gen, max: max}
}

// Expand 失败时返回只含原查询的切片，结果永不为空
func (e *Expander) Expand(ctx context.Context, query string) []string {
	fallback := []string{query}

	text, err := e.gen.Generate(ctx, BuildExpandPrompt(query))
	if err != nil {
		slog.Warn("expand query failed, using original", "query", query, "error", err)
		metrics.StageFallbacks.WithLabelValues("expand").Inc()
		return fallback
	}

	items, err := llmjson.ExtractStringArray(text)
	if err != nil {
		slog.Warn("unparseable expansion, using original", "query", query, "error", err)
		metrics.StageFallbacks.WithLabelValues("expand").Inc()
		return fallback
	}

	out := make([]string, 0, len(items))
	for _, q := range items {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		out = append(out, q)
		if len(out) == e.max {
			break
		}
	}
	if len(out) == 0 {
		slog.Warn("empty expansion, using original", "query", query)
		metrics.StageFallbacks.WithLabelValues("expand").Inc()
		return fallback
	}

	slog.Debug("query expanded", "query", query, "expanded", out)
	return out
}
