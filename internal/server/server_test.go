package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liao/guide-bot/internal/config"
	"github.com/liao/guide-bot/internal/rag"
	"github.com/liao/guide-bot/internal/store"
)

type fakePipeline struct {
	mu       sync.Mutex
	err      error
	sessions []string
	resets   []string
}

func (f *fakePipeline) Answer(_ context.Context, sessionID, query string) (*rag.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions = append(f.sessions, sessionID)
	if f.err != nil {
		return nil, f.err
	}
	return &rag.Answer{
		Response: "Try Razza for " + query,
		Sources:  []rag.Source{{Name: "Razza", URL: "u/razza"}, {Name: "Porta", URL: "u/porta"}},
	}, nil
}

func (f *fakePipeline) Reset(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, sessionID)
	return nil
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func newTestServer(p *fakePipeline, ping error) http.Handler {
	cfg := config.ServerConfig{CORSOrigins: []string{"*"}, RequestTimeout: time.Minute}
	return New(cfg, p, fakePinger{err: ping}).Router()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChat(t *testing.T) {
	p := &fakePipeline{}
	rec := do(t, newTestServer(p, nil), http.MethodPost, "/chat", `{"query": "pizza", "session_id": "abc"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Try Razza for pizza", resp.Response)
	assert.Equal(t, "abc", resp.SessionID)
	assert.Equal(t, []rag.Source{{Name: "Razza", URL: "u/razza"}, {Name: "Porta", URL: "u/porta"}}, resp.Sources)
}

func TestChatAssignsSessionID(t *testing.T) {
	p := &fakePipeline{}
	rec := do(t, newTestServer(p, nil), http.MethodPost, "/chat", `{"query": "parks"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, []string{resp.SessionID}, p.sessions)
}

func TestChatBadRequest(t *testing.T) {
	for _, body := range []string{`{}`, `{"query": ""}`, `not json`} {
		p := &fakePipeline{}
		rec := do(t, newTestServer(p, nil), http.MethodPost, "/chat", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), "Missing 'query'")
		assert.Empty(t, p.sessions)
	}
}

func TestChatStoreUnavailable(t *testing.T) {
	p := &fakePipeline{err: fmt.Errorf("%w: dial tcp", store.ErrUnavailable)}
	rec := do(t, newTestServer(p, nil), http.MethodPost, "/chat", `{"query": "pizza"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Could not connect to the database")
}

func TestChatInternalError(t *testing.T) {
	p := &fakePipeline{err: errors.New("boom")}
	rec := do(t, newTestServer(p, nil), http.MethodPost, "/chat", `{"query": "pizza"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestReset(t *testing.T) {
	p := &fakePipeline{}
	h := newTestServer(p, nil)

	rec := do(t, h, http.MethodPost, "/reset", `{"session_id": "abc"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"abc"}, p.resets)

	rec = do(t, h, http.MethodPost, "/reset", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(&fakePipeline{}, nil), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status": "healthy"}`, rec.Body.String())

	rec = do(t, newTestServer(&fakePipeline{}, store.ErrUnavailable), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(t, newTestServer(&fakePipeline{}, nil), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := config.ServerConfig{RateLimitRequests: 2, RateLimitWindow: time.Minute}
	h := New(cfg, &fakePipeline{}, fakePinger{}).Router()

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, h, http.MethodPost, "/chat", `{"query": "pizza"}`).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
