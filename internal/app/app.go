// Package app 从配置组装各入口共用的组件
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/liao/guide-bot/internal/ai"
	"github.com/liao/guide-bot/internal/chat"
	"github.com/liao/guide-bot/internal/config"
	"github.com/liao/guide-bot/internal/persona"
	"github.com/liao/guide-bot/internal/rag"
	"github.com/liao/guide-bot/internal/store"
)

// App 持有共享资源，Close 负责释放
type App struct {
	Config   *config.Config
	AI       *ai.Client
	Store    store.Store
	Sessions chat.SessionStore
	Guide    *persona.Guide
	Pipeline *rag.Pipeline

	memory  *chat.MemoryStore
	closers []func() error
}

// SetupLogger 按 log.level / log.format 设置默认 logger
func SetupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// New 创建 Gemini 客户端、向量存储、会话存储和问答流水线
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	aiClient, err := ai.NewClient(ctx, cfg.Gemini)
	if err != nil {
		return nil, err
	}
	a.AI = aiClient
	slog.Info("AI client initialized", "models", cfg.Gemini.ChatModels, "embedding", cfg.Gemini.EmbeddingModel)

	s, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Store = s
	a.closers = append(a.closers, s.Close)

	if err := a.openSessions(); err != nil {
		a.Close()
		return nil, err
	}

	a.Guide = loadGuide(cfg.Guide)

	a.Pipeline = rag.NewPipeline(
		rag.NewExpander(aiClient, cfg.RAG.MaxExpanded),
		rag.NewRetriever(aiClient, s, cfg.RAG.Concurrency),
		rag.NewFilter(aiClient),
		rag.NewSynthesizer(aiClient, a.Guide),
		a.Sessions,
		cfg.RAG.TopK,
	)
	return a, nil
}

func (a *App) openSessions() error {
	cfg := a.Config
	switch cfg.Session.Backend {
	case "redis":
		client, err := chat.NewRedisClient(cfg.Redis)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		a.Sessions = chat.NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.Session.MaxTurns, cfg.Session.TTL)
	default:
		m, err := chat.NewMemoryStore(cfg.Session.MaxTurns, cfg.Session.TTL, cfg.Session.Dir)
		if err != nil {
			return fmt.Errorf("create session store: %w", err)
		}
		a.memory = m
		a.Sessions = m
	}
	slog.Info("session store ready", "backend", cfg.Session.Backend, "max_turns", cfg.Session.MaxTurns)
	return nil
}

func loadGuide(cfg config.GuideConfig) *persona.Guide {
	if cfg.ProfileFile == "" {
		return persona.Default(cfg.City)
	}
	g, err := persona.LoadFromFile(cfg.ProfileFile)
	if err != nil {
		slog.Warn("load guide profile failed, using default", "error", err)
		return persona.Default(cfg.City)
	}
	if g.City == "" {
		g.City = cfg.City
	}
	return g
}

// RunSweeper 定期清理内存会话并落盘，ctx 结束时返回
func (a *App) RunSweeper(ctx context.Context, interval time.Duration) {
	if a.memory == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.memory.Sweep(); n > 0 {
				slog.Debug("expired sessions removed", "count", n)
			}
			if err := a.memory.Save(); err != nil {
				slog.Error("save sessions failed", "error", err)
			}
		}
	}
}

// Close 保存内存会话并关闭连接
func (a *App) Close() {
	if a.memory != nil {
		if err := a.memory.Save(); err != nil {
			slog.Error("save sessions failed", "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("close resource failed", "error", err)
		}
	}
}
