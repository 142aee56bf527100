package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/liao/guide-bot/internal/ai"
	"github.com/liao/guide-bot/internal/store"
)

var errFake = errors.New("fake upstream down")

// fakeGen 按提示词内容返回预设回复
type fakeGen struct {
	mu      sync.Mutex
	prompts []string
	reply   func(prompt string) (string, error)
}

func (f *fakeGen) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.reply == nil {
		return "", errFake
	}
	return f.reply(prompt)
}

func (f *fakeGen) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func replyWith(text string) func(string) (string, error) {
	return func(string) (string, error) { return text, nil }
}

// fakeEmbedder 每条查询映射到一个一维向量，值为查询编号
type fakeEmbedder struct {
	ids    map[string]int
	fail   map[string]bool
	delays map[string]time.Duration
	mu     sync.Mutex
	tasks  []ai.TaskType
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, task ai.TaskType) ([]float32, error) {
	f.mu.Lock()
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()

	if d := f.delays[text]; d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail[text] {
		return nil, ai.ErrUpstream
	}
	id, ok := f.ids[text]
	if !ok {
		return nil, ai.ErrUpstream
	}
	return []float32{float32(id)}, nil
}

type fakeStore struct {
	results map[int][]store.Candidate
	err     error
	topKs   []int
	mu      sync.Mutex
}

func (f *fakeStore) Nearest(_ context.Context, embedding []float32, topK int) ([]store.Candidate, error) {
	f.mu.Lock()
	f.topKs = append(f.topKs, topK)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	res := f.results[int(embedding[0])]
	if len(res) > topK {
		res = res[:topK]
	}
	return res, nil
}

func (f *fakeStore) Upsert(context.Context, store.Record) (bool, error) { return false, nil }
func (f *fakeStore) Count(context.Context) (int, error)                 { return len(f.results), nil }
func (f *fakeStore) Ping(context.Context) error                         { return f.err }
func (f *fakeStore) Close() error                                       { return nil }

func cand(name, url string, sim float64, summary string) store.Candidate {
	return store.Candidate{
		Record: store.Record{
			Name:         name,
			Location:     "Jersey City, NJ",
			Neighborhood: "Downtown",
			Summary:      summary,
			Quote:        "quote for " + name,
			SourceURL:    url,
		},
		Similarity: sim,
	}
}

func urls(cs []store.Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.SourceURL
	}
	return out
}

func isFilterPrompt(p string) bool { return strings.Contains(p, "valid_indices") }
func isExpandPrompt(p string) bool { return strings.Contains(p, "Expanded Queries:") }
