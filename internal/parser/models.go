package parser

import (
	"strings"

	"github.com/liao/guide-bot/internal/store"
)

// Entry JSONL 中的一条推荐，Line 从 1 开始
type Entry struct {
	Line   int
	Record store.Record
}

// EmbeddingText 生成文档向量的输入：名称 + 摘要 + 引用 + 标签
func (e *Entry) EmbeddingText() string {
	r := e.Record
	parts := make([]string, 0, 4)
	for _, s := range []string{r.Name, r.Summary, r.Quote} {
		if s != "" && s != store.UnknownMarker {
			parts = append(parts, s)
		}
	}
	if len(r.Tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(r.Tags, ", "))
	}
	return strings.Join(parts, "\n")
}
