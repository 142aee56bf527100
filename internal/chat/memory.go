package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type session struct {
	mu         sync.Mutex
	Turns      []Turn    `json:"turns"`
	LastActive time.Time `json:"last_active"`
}

// MemoryStore 进程内会话存储，可选持久化到 dir/sessions.json
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*session
	maxTurns int
	ttl      time.Duration
	file     string
	now      func() time.Time
}

// NewMemoryStore dir 为空时不持久化；ttl 为 0 时会话不过期
func NewMemoryStore(maxTurns int, ttl time.Duration, dir string) (*MemoryStore, error) {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	m := &MemoryStore{
		sessions: make(map[string]*session),
		maxTurns: maxTurns,
		ttl:      ttl,
		now:      time.Now,
	}
	if dir == "" {
		return m, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	m.file = filepath.Join(dir, "sessions.json")

	// 尝试从文件恢复
	if data, err := os.ReadFile(m.file); err == nil {
		var saved map[string]*session
		if err := json.Unmarshal(data, &saved); err != nil {
			slog.Warn("ignore corrupt session file", "file", m.file, "error", err)
		} else {
			for id, s := range saved {
				if s != nil {
					s.Turns = trimTurns(s.Turns, maxTurns)
					m.sessions[id] = s
				}
			}
			slog.Info("sessions restored", "count", len(m.sessions))
		}
	}
	return m, nil
}

// get 取会话，不存在时按 create 决定是否创建；过期会话视为空
func (m *MemoryStore) get(id string, create bool) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(id, create)
}

// getLocked 调用方持有 m.mu
func (m *MemoryStore) getLocked(id string, create bool) *session {
	s, ok := m.sessions[id]
	if ok && m.expired(s) {
		delete(m.sessions, id)
		ok = false
	}
	if !ok && create {
		s = &session{LastActive: m.now()}
		m.sessions[id] = s
		ok = true
	}
	if !ok {
		return nil
	}
	return s
}

func (m *MemoryStore) expired(s *session) bool {
	if m.ttl <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.now().Sub(s.LastActive) > m.ttl
}

// Append 查找和写入都在 m.mu 内完成，并发的 Reset 不会让这一轮写进已删除的会话
func (m *MemoryStore) Append(_ context.Context, sessionID, userQuery, aiResponse string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getLocked(sessionID, true)

	s.mu.Lock()
	defer s.mu.Unlock()
	now := m.now()
	turns := append(s.Turns, Turn{UserQuery: userQuery, AIResponse: aiResponse, At: now})
	if len(turns) > m.maxTurns {
		turns = append([]Turn(nil), trimTurns(turns, m.maxTurns)...)
	}
	s.Turns = turns
	s.LastActive = now
	return nil
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) ([]Turn, error) {
	s := m.get(sessionID, false)
	if s == nil {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.Turns...), nil
}

func (m *MemoryStore) Reset(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// Sweep 删除过期会话，返回删除数量
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, s := range m.sessions {
		if m.expired(s) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// Save 持久化到文件
func (m *MemoryStore) Save() error {
	if m.file == "" {
		return nil
	}

	m.mu.Lock()
	snapshot := make(map[string]*session, len(m.sessions))
	for id, s := range m.sessions {
		s.mu.Lock()
		snapshot[id] = &session{Turns: append([]Turn(nil), s.Turns...), LastActive: s.LastActive}
		s.mu.Unlock()
	}
	m.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}
	return os.WriteFile(m.file, data, 0644)
}
