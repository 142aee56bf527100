package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	zero "github.com/wdvxdr1123/ZeroBot"
	"github.com/wdvxdr1123/ZeroBot/driver"
	"github.com/wdvxdr1123/ZeroBot/message"

	"github.com/liao/guide-bot/internal/config"
	"github.com/liao/guide-bot/internal/rag"
	"github.com/liao/guide-bot/internal/store"
)

const unavailableReply = "Sorry, I can't reach my recommendation database right now. Please try again later."

// Answerer 由 *rag.Pipeline 实现
type Answerer interface {
	Answer(ctx context.Context, sessionID, query string) (*rag.Answer, error)
	Reset(ctx context.Context, sessionID string) error
}

// Counter 用于 /status
type Counter interface {
	Count(ctx context.Context) (int, error)
}

type Bot struct {
	cfg      config.BotConfig
	napcat   config.NapCatConfig
	pipeline Answerer
	store    Counter
	cancel   context.CancelFunc
}

func New(cfg config.BotConfig, napcat config.NapCatConfig, pipeline Answerer, s Counter) *Bot {
	return &Bot{
		cfg:      cfg,
		napcat:   napcat,
		pipeline: pipeline,
		store:    s,
	}
}

func (b *Bot) Run(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)

	ws := driver.NewWebSocketClient(
		b.napcat.WSURL,
		b.napcat.AccessToken,
	)

	// 私聊消息进入问答流水线，命令单独处理
	zero.OnMessage(zero.OnlyPrivate, b.allowFilter()).Handle(func(zctx *zero.Ctx) {
		text := strings.TrimSpace(zctx.ExtractPlainText())
		if text == "" || strings.HasPrefix(text, "/") {
			return
		}
		reply := b.Reply(ctx, zctx.Event.UserID, text)
		zctx.Send(message.Text(reply))
	})

	zero.OnCommand("reset", zero.OnlyPrivate, b.allowFilter()).Handle(func(zctx *zero.Ctx) {
		zctx.Send(message.Text(b.Reset(ctx, zctx.Event.UserID)))
	})

	// owner 发 /status 查看状态
	zero.OnCommand("status", zero.OnlyPrivate, b.ownerFilter()).Handle(func(zctx *zero.Ctx) {
		zctx.Send(message.Text(b.Status(ctx)))
	})

	slog.Info("bot starting",
		"allowed_qq", b.cfg.AllowedQQ,
		"ws_url", b.napcat.WSURL,
	)

	zero.RunAndBlock(&zero.Config{
		NickName:      []string{b.cfg.NickName},
		CommandPrefix: "/",
		SuperUsers:    []int64{b.cfg.OwnerQQ},
		Driver:        []zero.Driver{ws},
	}, nil)
}

func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
}

// SessionID 每个 QQ 用户一个会话
func SessionID(userID int64) string {
	return fmt.Sprintf("qq:%d", userID)
}

// Reply 回答一条私聊消息，错误转成给用户看的文本
func (b *Bot) Reply(ctx context.Context, userID int64, text string) string {
	slog.Info("received message", "from", userID, "text", text)

	ans, err := b.pipeline.Answer(ctx, SessionID(userID), text)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			slog.Error("store unavailable", "from", userID, "error", err)
			return unavailableReply
		}
		slog.Error("answer failed", "from", userID, "error", err)
		return rag.ApologyMessage
	}
	return FormatReply(ans, b.cfg.MaxSources)
}

func (b *Bot) Reset(ctx context.Context, userID int64) string {
	if err := b.pipeline.Reset(ctx, SessionID(userID)); err != nil {
		slog.Error("reset session failed", "from", userID, "error", err)
		return "Could not reset the session."
	}
	return "Chat session reset successfully."
}

func (b *Bot) Status(ctx context.Context) string {
	n, err := b.store.Count(ctx)
	if err != nil {
		return fmt.Sprintf("%s running, store error: %v", b.cfg.NickName, err)
	}
	return fmt.Sprintf("%s running, %d recommendations indexed", b.cfg.NickName, n)
}

// FormatReply 回答正文后附上来源链接，最多 maxSources 条
func FormatReply(ans *rag.Answer, maxSources int) string {
	var sb strings.Builder
	sb.WriteString(ans.Response)

	sources := ans.Sources
	if maxSources > 0 && len(sources) > maxSources {
		sources = sources[:maxSources]
	}
	if len(sources) > 0 {
		sb.WriteString("\n\nSources:")
		for i, s := range sources {
			fmt.Fprintf(&sb, "\n%d. %s - %s", i+1, s.Name, s.URL)
		}
	}
	return sb.String()
}

func (b *Bot) allowFilter() zero.Rule {
	return func(ctx *zero.Ctx) bool {
		return b.allowed(ctx.Event.UserID)
	}
}

// allowed 未配置白名单时回复所有人
func (b *Bot) allowed(userID int64) bool {
	if len(b.cfg.AllowedQQ) == 0 || userID == b.cfg.OwnerQQ {
		return true
	}
	return slices.Contains(b.cfg.AllowedQQ, userID)
}

func (b *Bot) ownerFilter() zero.Rule {
	return func(ctx *zero.Ctx) bool {
		return ctx.Event.UserID == b.cfg.OwnerQQ
	}
}
