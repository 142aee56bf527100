// Package rag 推荐问答流水线：查询扩展 → 向量检索去重 → 否定约束过滤 → 回答合成
package rag

import (
	"context"

	"github.com/liao/guide-bot/internal/ai"
	"github.com/liao/guide-bot/internal/store"
)

// Generator 文本生成，*ai.Client 实现
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Embedder 文本嵌入，*ai.Client 实现
type Embedder interface {
	Embed(ctx context.Context, text string, task ai.TaskType) ([]float32, error)
}

// Source 回答附带的来源
type Source struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Sources 按过滤后的顺序生成来源列表
func Sources(candidates []store.Candidate) []Source {
	out := make([]Source, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Source{Name: c.Name, URL: c.SourceURL})
	}
	return out
}
