package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	RAG      RAGConfig      `mapstructure:"rag"`
	Store    StoreConfig    `mapstructure:"store"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Chromem  ChromemConfig  `mapstructure:"chromem"`
	Qdrant   QdrantConfig   `mapstructure:"qdrant"`
	Session  SessionConfig  `mapstructure:"session"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Server   ServerConfig   `mapstructure:"server"`
	NapCat   NapCatConfig   `mapstructure:"napcat"`
	Bot      BotConfig      `mapstructure:"bot"`
	Guide    GuideConfig    `mapstructure:"guide"`
	Log      LogConfig      `mapstructure:"log"`
}

type GeminiConfig struct {
	APIKey          string        `mapstructure:"api_key" validate:"required"`
	ChatModels      []string      `mapstructure:"chat_models" validate:"min=1,dive,required"`
	EmbeddingModel  string        `mapstructure:"embedding_model" validate:"required"`
	EmbeddingDim    int32         `mapstructure:"embedding_dim" validate:"gt=0"`
	Temperature     float32       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxOutputTokens int32         `mapstructure:"max_output_tokens" validate:"gte=0"`
	RPMLimit        int           `mapstructure:"rpm_limit" validate:"gt=0"`
	CallTimeout     time.Duration `mapstructure:"call_timeout" validate:"gt=0"`
	MaxRetries      uint64        `mapstructure:"max_retries"`
	RetryBaseDelay  time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay   time.Duration `mapstructure:"retry_max_delay"`
	// 熔断：连续失败次数达到阈值后打开，BreakerTimeout 后半开
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

type RAGConfig struct {
	TopK        int `mapstructure:"top_k" validate:"gt=0"`
	Concurrency int `mapstructure:"concurrency" validate:"gt=0"`
	MaxExpanded int `mapstructure:"max_expanded" validate:"gt=0"`
}

// StoreConfig 选择向量存储后端
type StoreConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=postgres chromem qdrant"`
}

type PostgresConfig struct {
	URL            string `mapstructure:"url"`
	PoolerURL      string `mapstructure:"pooler_url"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Database       string `mapstructure:"database"`
	SSLMode        string `mapstructure:"sslmode"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
}

// GetDSN 优先 pooler URL，其次 URL，最后拼接字段
func (c PostgresConfig) GetDSN() string {
	if c.PoolerURL != "" {
		return c.PoolerURL
	}
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

type ChromemConfig struct {
	VectorsDir string `mapstructure:"vectors_dir"`
	Collection string `mapstructure:"collection"`
	Compress   bool   `mapstructure:"compress"`
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
	Collection string `mapstructure:"collection"`
}

type SessionConfig struct {
	Backend  string        `mapstructure:"backend" validate:"oneof=memory redis"`
	MaxTurns int           `mapstructure:"max_turns" validate:"gt=0"`
	TTL      time.Duration `mapstructure:"ttl"`
	Dir      string        `mapstructure:"dir"`
}

type RedisConfig struct {
	URL       string `mapstructure:"url"`
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	CORSOrigins       []string      `mapstructure:"cors_origins"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

type NapCatConfig struct {
	WSURL       string `mapstructure:"ws_url"`
	AccessToken string `mapstructure:"access_token"`
}

type BotConfig struct {
	OwnerQQ    int64   `mapstructure:"owner_qq"`
	AllowedQQ  []int64 `mapstructure:"allowed_qq"`
	NickName   string  `mapstructure:"nickname"`
	MaxSources int     `mapstructure:"max_sources"`
}

// GuideConfig 回答时使用的本地向导设定
type GuideConfig struct {
	ProfileFile   string `mapstructure:"profile_file"`
	City          string `mapstructure:"city"`
	DefaultLocale string `mapstructure:"default_locale" validate:"required"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gemini.chat_models", []string{"gemini-2.5-flash"})
	v.SetDefault("gemini.embedding_model", "gemini-embedding-001")
	v.SetDefault("gemini.embedding_dim", 1536)
	v.SetDefault("gemini.temperature", 0.7)
	v.SetDefault("gemini.max_output_tokens", 2048)
	v.SetDefault("gemini.rpm_limit", 60)
	v.SetDefault("gemini.call_timeout", 30*time.Second)
	v.SetDefault("gemini.max_retries", 0)
	v.SetDefault("gemini.retry_base_delay", 500*time.Millisecond)
	v.SetDefault("gemini.retry_max_delay", 5*time.Second)
	v.SetDefault("gemini.breaker_failures", 5)
	v.SetDefault("gemini.breaker_timeout", time.Minute)

	v.SetDefault("rag.top_k", 3)
	v.SetDefault("rag.concurrency", 4)
	v.SetDefault("rag.max_expanded", 5)

	v.SetDefault("store.backend", "postgres")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.max_connections", 10)
	v.SetDefault("postgres.max_idle", 5)
	v.SetDefault("chromem.vectors_dir", "./data/vectors")
	v.SetDefault("chromem.collection", "recommendations")
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "recommendations")

	v.SetDefault("session.backend", "memory")
	v.SetDefault("session.max_turns", 10)
	v.SetDefault("session.ttl", 24*time.Hour)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.key_prefix", "guide:session:")

	v.SetDefault("server.addr", ":5001")
	v.SetDefault("server.rate_limit_requests", 30)
	v.SetDefault("server.rate_limit_window", time.Minute)
	v.SetDefault("server.request_timeout", 2*time.Minute)

	v.SetDefault("bot.nickname", "guide-bot")
	v.SetDefault("bot.max_sources", 5)

	v.SetDefault("guide.city", "Jersey City")
	v.SetDefault("guide.default_locale", "Jersey City, NJ")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load 读取配置文件；path 为空时只使用默认值和环境变量
func Load(path string) (*Config, error) {
	// .env 不存在时继续使用系统环境变量
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	// 环境变量覆盖
	for _, name := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		if key := os.Getenv(name); key != "" {
			v.Set("gemini.api_key", key)
			break
		}
	}
	if u := os.Getenv("DATABASE_POOLER_URL"); u != "" {
		v.Set("postgres.pooler_url", u)
	}
	if u := os.Getenv("DATABASE_URL"); u != "" {
		v.Set("postgres.url", u)
	}
	if u := os.Getenv("REDIS_URL"); u != "" {
		v.Set("redis.url", u)
	}
	if token := os.Getenv("NAPCAT_ACCESS_TOKEN"); token != "" {
		v.Set("napcat.access_token", token)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
