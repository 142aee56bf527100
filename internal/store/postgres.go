package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/liao/guide-bot/internal/config"
)

const nearestSQL = `SELECT id::text, name, location, neighborhood, summary, quote, source_url,
       1 - (embedding <=> $1) AS similarity
FROM recommendations
WHERE embedding IS NOT NULL
ORDER BY embedding <=> $1
LIMIT $2`

const insertSQL = `INSERT INTO recommendations (name, location, neighborhood, summary, quote, source_url, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (source_url) DO UPDATE
SET embedding = COALESCE(recommendations.embedding, EXCLUDED.embedding)
RETURNING id::text, (xmax = 0) AS inserted`

const countSQL = `SELECT count(*) FROM recommendations`

// 标签表和 hashtag 表结构相同，多对多关联
type labelTable struct {
	table     string
	joinTable string
	joinCol   string
}

var (
	tagTable     = labelTable{table: "tags", joinTable: "recommendation_tags", joinCol: "tag_id"}
	hashtagTable = labelTable{table: "hashtags", joinTable: "recommendation_hashtags", joinCol: "hashtag_id"}
)

func (t labelTable) upsertSQL() string {
	return fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id`, t.table)
}

func (t labelTable) linkSQL() string {
	return fmt.Sprintf(`INSERT INTO %s (recommendation_id, %s) VALUES ($1::bigint, $2)
ON CONFLICT DO NOTHING`, t.joinTable, t.joinCol)
}

// Postgres 基于 pgvector 的存储
type Postgres struct {
	db *sql.DB
}

func NewPostgres(cfg config.PostgresConfig) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return &Postgres{db: db}, nil
}

// NewPostgresFromDB 包装已有连接（测试用 sqlmock）
func NewPostgresFromDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Nearest(ctx context.Context, embedding []float32, topK int) ([]Candidate, error) {
	rows, err := p.db.QueryContext(ctx, nearestSQL, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("%w: nearest query: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ID, &c.Name, &c.Location, &c.Neighborhood, &c.Summary,
			&c.Quote, &c.SourceURL, &c.Similarity); err != nil {
			return nil, fmt.Errorf("%w: scan candidate: %v", ErrUnavailable, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate candidates: %v", ErrUnavailable, err)
	}
	return out, nil
}

func (p *Postgres) Upsert(ctx context.Context, rec Record) (bool, error) {
	if err := validateRecord(rec); err != nil {
		return false, err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var embedding any
	if len(rec.Embedding) > 0 {
		embedding = pgvector.NewVector(rec.Embedding)
	}

	// 已存在的记录只补齐缺失的向量和标签关联，其余字段不变
	var (
		id       string
		inserted bool
	)
	err = tx.QueryRowContext(ctx, insertSQL, rec.Name, rec.Location, rec.Neighborhood,
		rec.Summary, rec.Quote, rec.SourceURL, embedding).Scan(&id, &inserted)
	if err != nil {
		return false, fmt.Errorf("upsert recommendation %s: %w", rec.SourceURL, err)
	}

	if err := linkLabels(ctx, tx, tagTable, id, rec.Tags); err != nil {
		return false, err
	}
	if err := linkLabels(ctx, tx, hashtagTable, id, rec.Hashtags); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit recommendation %s: %w", rec.SourceURL, err)
	}
	return inserted, nil
}

func linkLabels(ctx context.Context, tx *sql.Tx, t labelTable, recID string, labels []string) error {
	for _, l := range labels {
		var labelID int64
		if err := tx.QueryRowContext(ctx, t.upsertSQL(), l).Scan(&labelID); err != nil {
			return fmt.Errorf("upsert %s %q: %w", t.table, l, err)
		}
		if _, err := tx.ExecContext(ctx, t.linkSQL(), recID, labelID); err != nil {
			return fmt.Errorf("link %s %q: %w", t.table, l, err)
		}
	}
	return nil
}

func (p *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, countSQL).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrUnavailable, err)
	}
	return n, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}
