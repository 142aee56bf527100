package chat

import (
	"context"
	"time"
)

// DefaultMaxTurns 每个会话保留的最大轮数
const DefaultMaxTurns = 10

// Turn 一轮对话：用户提问 + AI 回复
type Turn struct {
	UserQuery  string    `json:"user"`
	AIResponse string    `json:"ai"`
	At         time.Time `json:"at"`
}

// SessionStore 按 session_id 保存对话历史
// Append 后长度不超过上限，超出时丢弃最早的轮次；Reset 对不存在的会话无副作用
type SessionStore interface {
	Append(ctx context.Context, sessionID, userQuery, aiResponse string) error
	Get(ctx context.Context, sessionID string) ([]Turn, error)
	Reset(ctx context.Context, sessionID string) error
}

// trimTurns 保留最近 max 轮
func trimTurns(turns []Turn, max int) []Turn {
	if max > 0 && len(turns) > max {
		return turns[len(turns)-max:]
	}
	return turns
}
