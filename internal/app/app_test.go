package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liao/guide-bot/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}

func TestLoadGuide(t *testing.T) {
	g := loadGuide(config.GuideConfig{City: "Jersey City"})
	assert.Equal(t, "Jersey City", g.City)

	g = loadGuide(config.GuideConfig{City: "Jersey City", ProfileFile: filepath.Join(t.TempDir(), "missing.json")})
	assert.Equal(t, "helpful local guide", g.Role)

	path := filepath.Join(t.TempDir(), "guide.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"role": "food critic"}`), 0o644))
	g = loadGuide(config.GuideConfig{City: "Jersey City", ProfileFile: path})
	assert.Equal(t, "food critic", g.Role)
	assert.Equal(t, "Jersey City", g.City)
}
