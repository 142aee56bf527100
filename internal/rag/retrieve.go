package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/conc/iter"

	"github.com/liao/guide-bot/internal/ai"
	"github.com/liao/guide-bot/internal/metrics"
	"github.com/liao/guide-bot/internal/store"
)

// Retriever 对每条扩展查询做嵌入 + 近邻检索，合并后按 source_url 去重
type Retriever struct {
	embedder    Embedder
	store       store.Store
	concurrency int
}

func NewRetriever(embedder Embedder, s store.Store, concurrency int) *Retriever {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Retriever{embedder: embedder, store: s, concurrency: concurrency}
}

type queryResult struct {
	candidates []store.Candidate
	err        error
}

// Retrieve 单条查询嵌入失败时跳过；存储错误直接返回
func (r *Retriever) Retrieve(ctx context.Context, queries []string, topK int) ([]store.Candidate, error) {
	mapper := iter.Mapper[string, queryResult]{MaxGoroutines: r.concurrency}
	results := mapper.Map(queries, func(q *string) queryResult {
		return r.retrieveOne(ctx, *q, topK)
	})

	// 结果按查询在列表中的位置排列，与完成顺序无关
	perQuery := make([][]store.Candidate, len(results))
	for i, res := range results {
		if res.err != nil {
			return nil, res.err
		}
		perQuery[i] = res.candidates
	}

	unique := Dedupe(perQuery)
	metrics.CandidatesRetrieved.Observe(float64(len(unique)))
	return unique, nil
}

func (r *Retriever) retrieveOne(ctx context.Context, query string, topK int) queryResult {
	vec, err := r.embedder.Embed(ctx, query, ai.TaskQuery)
	if err != nil || len(vec) == 0 {
		slog.Warn("embedding failed, skipping query", "query", query, "error", err)
		metrics.StageFallbacks.WithLabelValues("embed").Inc()
		return queryResult{}
	}

	candidates, err := r.store.Nearest(ctx, vec, topK)
	if err != nil {
		// 调用方取消或超时不算存储故障
		if ctxErr := ctx.Err(); ctxErr != nil {
			return queryResult{err: ctxErr}
		}
		if !errors.Is(err, store.ErrUnavailable) {
			err = fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		return queryResult{err: err}
	}
	slog.Debug("retrieved candidates", "query", query, "count", len(candidates))
	return queryResult{candidates: candidates}
}

// Dedupe 按查询顺序拼接，source_url 重复时保留最先出现的那条
func Dedupe(perQuery [][]store.Candidate) []store.Candidate {
	seen := make(map[string]struct{})
	var out []store.Candidate
	for _, list := range perQuery {
		for _, c := range list {
			if _, ok := seen[c.SourceURL]; ok {
				continue
			}
			seen[c.SourceURL] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}
