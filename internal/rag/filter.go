package rag

import (
	"context"
	"log/slog"
	"sort"

	"github.com/liao/guide-bot/internal/llmjson"
	"github.com/liao/guide-bot/internal/metrics"
	"github.com/liao/guide-bot/internal/store"
)

// Filter 剔除违反查询中否定约束的候选
type Filter struct {
	gen Generator
}

func NewFilter(gen Generator) *Filter {
	return &Filter{gen: gen}
}

type filterVerdict struct {
	ValidIndices *[]int `json:"valid_indices"`
}

// Apply 返回 candidates 的保序子序列；任何失败都原样返回输入
func (f *Filter) Apply(ctx context.Context, query string, candidates []store.Candidate) []store.Candidate {
	if len(candidates) == 0 {
		return candidates
	}

	text, err := f.gen.Generate(ctx, BuildFilterPrompt(query, candidates))
	if err != nil {
		slog.Warn("filter call failed, keeping all candidates", "error", err)
		metrics.StageFallbacks.WithLabelValues("filter").Inc()
		return candidates
	}

	var verdict filterVerdict
	if err := llmjson.ExtractObject(text, &verdict); err != nil || verdict.ValidIndices == nil {
		slog.Warn("unparseable filter verdict, keeping all candidates", "error", err)
		metrics.StageFallbacks.WithLabelValues("filter").Inc()
		return candidates
	}

	kept := SelectIndices(candidates, *verdict.ValidIndices)
	// 只有明确返回空列表才能清空结果
	if len(*verdict.ValidIndices) > 0 && len(kept) == 0 {
		slog.Warn("filter verdict has no usable index, keeping all candidates", "indices", *verdict.ValidIndices)
		metrics.StageFallbacks.WithLabelValues("filter").Inc()
		return candidates
	}
	slog.Debug("candidates filtered", "before", len(candidates), "after", len(kept))
	metrics.CandidatesKept.Observe(float64(len(kept)))
	return kept
}

// SelectIndices 按原始顺序取出指定下标，越界和重复的下标忽略
func SelectIndices(candidates []store.Candidate, indices []int) []store.Candidate {
	valid := make([]int, 0, len(indices))
	seen := make(map[int]struct{}, len(indices))
	for _, i := range indices {
		if i < 0 || i >= len(candidates) {
			continue
		}
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		valid = append(valid, i)
	}
	sort.Ints(valid)

	out := make([]store.Candidate, 0, len(valid))
	for _, i := range valid {
		out = append(out, candidates[i])
	}
	return out
}
