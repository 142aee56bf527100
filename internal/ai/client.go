package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	gobreaker "github.com/sony/gobreaker/v2"
	"google.golang.org/genai"

	"github.com/liao/guide-bot/internal/config"
	"github.com/liao/guide-bot/internal/metrics"
)

// TaskType 嵌入任务类型，查询端和文档端使用不同的编码
type TaskType string

const (
	TaskQuery    TaskType = "RETRIEVAL_QUERY"
	TaskDocument TaskType = "RETRIEVAL_DOCUMENT"
)

// ErrUpstream Gemini 调用失败（网络、鉴权、限额、超时、熔断、空响应）
var ErrUpstream = errors.New("gemini upstream failure")

// modelsAPI genai.Models 中用到的部分
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

type Client struct {
	models      modelsAPI
	chatModels  []string // 多模型轮换
	modelIdx    atomic.Int64
	embedModel  string
	embedDim    int32
	temp        float32
	maxTokens   int32
	callTimeout time.Duration
	retry       RetryPolicy
	breaker     *gobreaker.CircuitBreaker[struct{}]

	// 限流
	rpmLimit int
	mu       sync.Mutex
	tokens   int
	lastTick time.Time
}

func NewClient(ctx context.Context, cfg config.GeminiConfig) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newClient(client.Models, cfg), nil
}

func newClient(models modelsAPI, cfg config.GeminiConfig) *Client {
	c := &Client{
		models:      models,
		chatModels:  cfg.ChatModels,
		embedModel:  cfg.EmbeddingModel,
		embedDim:    cfg.EmbeddingDim,
		temp:        cfg.Temperature,
		maxTokens:   cfg.MaxOutputTokens,
		callTimeout: cfg.CallTimeout,
		retry:       ExponentialRetry(cfg.MaxRetries, cfg.RetryBaseDelay, cfg.RetryMaxDelay),
		rpmLimit:    cfg.RPMLimit,
		tokens:      cfg.RPMLimit,
		lastTick:    time.Now(),
	}
	c.breaker = newBreaker("gemini", cfg.BreakerFailures, cfg.BreakerTimeout)
	return c
}

// SetRetryPolicy 替换重试策略
func (c *Client) SetRetryPolicy(p RetryPolicy) {
	c.retry = p
}

// currentModel 获取当前模型
func (c *Client) currentModel() string {
	idx := c.modelIdx.Load() % int64(len(c.chatModels))
	return c.chatModels[idx]
}

// rotateModel 切换到下一个模型
func (c *Client) rotateModel() string {
	newIdx := c.modelIdx.Add(1) % int64(len(c.chatModels))
	model := c.chatModels[newIdx]
	slog.Info("rotating to next model", "model", model)
	return model
}

// Generate 单轮生成，429 时切换模型
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.temp),
	}
	if c.maxTokens > 0 {
		cfg.MaxOutputTokens = c.maxTokens
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}

	var text string
	err := c.call(ctx, "generate", func(ctx context.Context) error {
		model := c.currentModel()
		resp, err := c.models.GenerateContent(ctx, model, contents, cfg)
		if err != nil {
			if isQuotaError(err) {
				slog.Warn("model quota exceeded, switching", "model", model)
				c.rotateModel()
			}
			return err
		}
		text = strings.TrimSpace(resp.Text())
		if text == "" {
			return errors.New("empty response")
		}
		slog.Debug("generated text", "model", model, "chars", len(text))
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// Embed 生成文本嵌入向量
func (c *Client) Embed(ctx context.Context, text string, task TaskType) ([]float32, error) {
	cfg := &genai.EmbedContentConfig{TaskType: string(task)}
	if c.embedDim > 0 {
		cfg.OutputDimensionality = genai.Ptr(c.embedDim)
	}
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}

	var values []float32
	err := c.call(ctx, "embed", func(ctx context.Context) error {
		resp, err := c.models.EmbedContent(ctx, c.embedModel, contents, cfg)
		if err != nil {
			return err
		}
		if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
			return errors.New("empty embedding response")
		}
		values = resp.Embeddings[0].Values
		if c.embedDim > 0 && len(values) != int(c.embedDim) {
			return backoff.Permanent(fmt.Errorf("embedding has %d dimensions, want %d", len(values), c.embedDim))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

// call 限流 + 单次超时 + 熔断 + 重试策略
func (c *Client) call(ctx context.Context, kind string, fn func(context.Context) error) error {
	op := func() error {
		if err := c.waitForToken(ctx); err != nil {
			return backoff.Permanent(err)
		}
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.callTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
		}
		defer cancel()

		_, err := c.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, fn(callCtx)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		slog.Warn("gemini call failed, retrying", "kind", kind, "wait", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(c.retry(), ctx), notify); err != nil {
		metrics.UpstreamCalls.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("%w: %s: %v", ErrUpstream, kind, err)
	}
	metrics.UpstreamCalls.WithLabelValues(kind, "ok").Inc()
	return nil
}

func isQuotaError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "RESOURCE_EXHAUSTED")
}

// waitForToken 简单令牌桶限流
func (c *Client) waitForToken(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rpmLimit <= 0 {
		return nil
	}

	now := time.Now()
	elapsed := now.Sub(c.lastTick)
	if elapsed >= time.Minute {
		c.tokens = c.rpmLimit
		c.lastTick = now
	}

	if c.tokens > 0 {
		c.tokens--
		return nil
	}

	wait := time.Minute - elapsed
	c.mu.Unlock()
	slog.Info("rate limit reached, waiting", "duration", wait)
	select {
	case <-ctx.Done():
		c.mu.Lock()
		return ctx.Err()
	case <-time.After(wait):
	}
	c.mu.Lock()
	c.tokens = c.rpmLimit - 1
	c.lastTick = time.Now()
	return nil
}
