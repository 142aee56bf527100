package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"github.com/liao/guide-bot/internal/config"
)

const labelSep = ","

// Chromem 嵌入式向量存储，记录必须自带向量
type Chromem struct {
	db         *chromem.DB
	collection *chromem.Collection
	// 保证同一 source_url 的读-改-写不交错
	mu sync.Mutex
}

// NewChromem 创建或加载持久化存储；VectorsDir 为空时使用内存
func NewChromem(cfg config.ChromemConfig) (*Chromem, error) {
	var (
		db  *chromem.DB
		err error
	)
	if cfg.VectorsDir == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.VectorsDir, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open vector db: %w", err)
		}
	}

	col, err := db.GetOrCreateCollection(cfg.Collection, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("get/create collection: %w", err)
	}

	slog.Info("chromem store loaded", "dir", cfg.VectorsDir, "count", col.Count())
	return &Chromem{db: db, collection: col}, nil
}

// 向量由调用方提供，collection 不自行生成
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, ErrMissingEmbedding
}

// recordID 由 source_url 派生，重复导入得到同一个 ID
func recordID(sourceURL string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourceURL)).String()
}

func (s *Chromem) Nearest(ctx context.Context, embedding []float32, topK int) ([]Candidate, error) {
	n := s.collection.Count()
	if n == 0 || topK <= 0 {
		return nil, nil
	}
	if topK > n {
		topK = n
	}

	docs, err := s.collection.QueryEmbedding(ctx, embedding, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: query vectors: %v", ErrUnavailable, err)
	}

	out := make([]Candidate, 0, len(docs))
	for _, d := range docs {
		out = append(out, Candidate{
			Record:     recordFromMetadata(d.ID, d.Metadata),
			Similarity: float64(d.Similarity),
		})
	}
	return out, nil
}

func (s *Chromem) Upsert(ctx context.Context, rec Record) (bool, error) {
	if err := validateRecord(rec); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := recordID(rec.SourceURL)
	existing, err := s.collection.GetByID(ctx, id)
	if err == nil {
		// 已存在：只合并标签
		old := recordFromMetadata(id, existing.Metadata)
		tags := mergeLabels(old.Tags, rec.Tags)
		hashtags := mergeLabels(old.Hashtags, rec.Hashtags)
		if len(tags) == len(old.Tags) && len(hashtags) == len(old.Hashtags) {
			return false, nil
		}
		old.Tags, old.Hashtags = tags, hashtags
		existing.Metadata = recordMetadata(old)
		// 同 ID 覆盖
		if err := s.collection.AddDocument(ctx, existing); err != nil {
			return false, fmt.Errorf("replace %s: %w", rec.SourceURL, err)
		}
		return false, nil
	}

	if len(rec.Embedding) == 0 {
		return false, ErrMissingEmbedding
	}
	rec.ID = id
	doc := chromem.Document{
		ID:        id,
		Metadata:  recordMetadata(rec),
		Embedding: rec.Embedding,
		Content:   rec.Name + "\n" + rec.Summary,
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return false, fmt.Errorf("add %s: %w", rec.SourceURL, err)
	}
	return true, nil
}

func (s *Chromem) Count(context.Context) (int, error) {
	return s.collection.Count(), nil
}

func (s *Chromem) Ping(context.Context) error {
	if s.collection == nil {
		return errors.New("chromem collection not initialised")
	}
	return nil
}

func (s *Chromem) Close() error { return nil }

func recordMetadata(r Record) map[string]string {
	return map[string]string{
		"name":         r.Name,
		"location":     r.Location,
		"neighborhood": r.Neighborhood,
		"summary":      r.Summary,
		"quote":        r.Quote,
		"source_url":   r.SourceURL,
		"tags":         strings.Join(r.Tags, labelSep),
		"hashtags":     strings.Join(r.Hashtags, labelSep),
	}
}

func recordFromMetadata(id string, md map[string]string) Record {
	return Record{
		ID:           id,
		Name:         md["name"],
		Location:     md["location"],
		Neighborhood: md["neighborhood"],
		Summary:      md["summary"],
		Quote:        md["quote"],
		SourceURL:    md["source_url"],
		Tags:         splitLabels(md["tags"]),
		Hashtags:     splitLabels(md["hashtags"]),
	}
}

func splitLabels(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, labelSep)
}
