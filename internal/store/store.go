package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/liao/guide-bot/internal/config"
)

var (
	// ErrUnavailable 存储不可达，检索无法继续
	ErrUnavailable = errors.New("vector store unavailable")
	// ErrMissingEmbedding 后端要求记录带向量
	ErrMissingEmbedding = errors.New("record has no embedding")
	ErrMissingSourceURL = errors.New("record has no source_url")
)

// Store 推荐记录的向量存储
type Store interface {
	// Nearest 按余弦相似度降序返回最多 topK 条有向量的记录
	Nearest(ctx context.Context, embedding []float32, topK int) ([]Candidate, error)
	// Upsert 按 source_url 幂等写入；已存在时只追加 tags/hashtags，返回 false
	Upsert(ctx context.Context, rec Record) (bool, error)
	Count(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open 按配置创建后端
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Store.Backend {
	case "postgres":
		s, err = NewPostgres(cfg.Postgres)
	case "chromem":
		s, err = NewChromem(cfg.Chromem)
	case "qdrant":
		s, err = NewQdrant(ctx, cfg.Qdrant, int(cfg.Gemini.EmbeddingDim))
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if err != nil {
		return nil, err
	}
	slog.Info("vector store opened", "backend", cfg.Store.Backend)
	return s, nil
}

func validateRecord(rec Record) error {
	if rec.SourceURL == "" {
		return ErrMissingSourceURL
	}
	return nil
}
