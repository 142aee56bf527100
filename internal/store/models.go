package store

import (
	"sort"
	"strings"
)

// Dimension 文档向量维度，与 gemini-embedding-001 的 output_dimensionality 一致
const Dimension = 1536

// UnknownMarker 未知字段的统一占位
const UnknownMarker = "unknown"

// Record 一条推荐（地点/活动），source_url 唯一
type Record struct {
	ID           string    `json:"id,omitempty"`
	Name         string    `json:"name"`
	Location     string    `json:"location"`
	Neighborhood string    `json:"neighborhood"`
	Summary      string    `json:"summary"`
	Quote        string    `json:"quote"`
	SourceURL    string    `json:"source_url"`
	Embedding    []float32 `json:"-"`
	Tags         []string  `json:"tags,omitempty"`
	Hashtags     []string  `json:"hashtags,omitempty"`
}

// Candidate 单次检索得到的记录及其相似度（1 - cosine distance）
type Candidate struct {
	Record
	Similarity float64 `json:"similarity"`
}

var blankValues = map[string]bool{
	"":        true,
	"n/a":     true,
	"na":      true,
	"none":    true,
	"null":    true,
	"unknown": true,
}

func orUnknown(s string) string {
	s = strings.TrimSpace(s)
	if blankValues[strings.ToLower(s)] {
		return UnknownMarker
	}
	return s
}

// Normalize 填充缺省值；location 为空时使用 defaultLocale
func (r *Record) Normalize(defaultLocale string) {
	r.Name = orUnknown(r.Name)
	r.Neighborhood = orUnknown(r.Neighborhood)
	r.Summary = orUnknown(r.Summary)
	r.Quote = orUnknown(r.Quote)
	r.SourceURL = strings.TrimSpace(r.SourceURL)

	r.Location = strings.TrimSpace(r.Location)
	if blankValues[strings.ToLower(r.Location)] {
		r.Location = defaultLocale
	}
	if r.Location == "" {
		r.Location = UnknownMarker
	}

	r.Tags = NormalizeLabels(r.Tags, false)
	r.Hashtags = NormalizeLabels(r.Hashtags, true)
}

// NormalizeLabels 去重、小写、排序；hashtag 去掉前导 #
func NormalizeLabels(labels []string, stripHash bool) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		l = strings.ToLower(strings.TrimSpace(l))
		if stripHash {
			l = strings.TrimLeft(l, "#")
		}
		if blankValues[l] {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// mergeLabels 合并两组标签，只增不减
func mergeLabels(a, b []string) []string {
	return NormalizeLabels(append(append([]string{}, a...), b...), false)
}
