package store

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/liao/guide-bot/internal/config"
)

// qdrantAPI *qdrant.Client 中用到的部分
type qdrantAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Get(ctx context.Context, request *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	SetPayload(ctx context.Context, request *qdrant.SetPayloadPoints) (*qdrant.UpdateResult, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// Qdrant 远程向量库后端，payload 存放记录字段
type Qdrant struct {
	client     qdrantAPI
	collection string
}

func NewQdrant(ctx context.Context, cfg config.QdrantConfig, vectorSize int) (*Qdrant, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	s := &Qdrant{client: client, collection: cfg.Collection}
	if err := s.ensureCollection(ctx, vectorSize); err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

func (s *Qdrant) ensureCollection(ctx context.Context, vectorSize int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("%w: collection exists: %v", ErrUnavailable, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(vectorSize),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

func (s *Qdrant) Nearest(ctx context.Context, embedding []float32, topK int) ([]Candidate, error) {
	limit := uint64(topK)
	resp, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query points: %v", ErrUnavailable, err)
	}

	out := make([]Candidate, 0, len(resp))
	for _, p := range resp {
		out = append(out, Candidate{
			Record:     recordFromPayload(pointID(p.GetId()), p.GetPayload()),
			Similarity: float64(p.GetScore()),
		})
	}
	return out, nil
}

func (s *Qdrant) Upsert(ctx context.Context, rec Record) (bool, error) {
	if err := validateRecord(rec); err != nil {
		return false, err
	}
	id := recordID(rec.SourceURL)

	existing, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return false, fmt.Errorf("%w: get point: %v", ErrUnavailable, err)
	}

	if len(existing) > 0 {
		old := recordFromPayload(id, existing[0].GetPayload())
		tags := mergeLabels(old.Tags, rec.Tags)
		hashtags := mergeLabels(old.Hashtags, rec.Hashtags)
		if len(tags) == len(old.Tags) && len(hashtags) == len(old.Hashtags) {
			return false, nil
		}
		_, err = s.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
			CollectionName: s.collection,
			Payload: qdrant.NewValueMap(map[string]any{
				"tags":     toAny(tags),
				"hashtags": toAny(hashtags),
			}),
			PointsSelector: qdrant.NewPointsSelector(qdrant.NewIDUUID(id)),
		})
		if err != nil {
			return false, fmt.Errorf("set payload %s: %w", rec.SourceURL, err)
		}
		return false, nil
	}

	if len(rec.Embedding) == 0 {
		return false, ErrMissingEmbedding
	}
	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(id),
			Vectors: qdrant.NewVectors(rec.Embedding...),
			Payload: qdrant.NewValueMap(recordPayload(rec)),
		}},
	})
	if err != nil {
		return false, fmt.Errorf("upsert %s: %w", rec.SourceURL, err)
	}
	return true, nil
}

func (s *Qdrant) Count(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{CollectionName: s.collection})
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", ErrUnavailable, err)
	}
	return int(n), nil
}

func (s *Qdrant) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Qdrant) Close() error {
	return s.client.Close()
}

func recordPayload(r Record) map[string]any {
	return map[string]any{
		"name":         r.Name,
		"location":     r.Location,
		"neighborhood": r.Neighborhood,
		"summary":      r.Summary,
		"quote":        r.Quote,
		"source_url":   r.SourceURL,
		"tags":         toAny(r.Tags),
		"hashtags":     toAny(r.Hashtags),
	}
}

func recordFromPayload(id string, payload map[string]*qdrant.Value) Record {
	str := func(k string) string { return payload[k].GetStringValue() }
	return Record{
		ID:           id,
		Name:         str("name"),
		Location:     str("location"),
		Neighborhood: str("neighborhood"),
		Summary:      str("summary"),
		Quote:        str("quote"),
		SourceURL:    str("source_url"),
		Tags:         stringList(payload["tags"]),
		Hashtags:     stringList(payload["hashtags"]),
	}
}

func stringList(v *qdrant.Value) []string {
	var out []string
	for _, item := range v.GetListValue().GetValues() {
		if s := item.GetStringValue(); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func pointID(id *qdrant.PointId) string {
	switch x := id.GetPointIdOptions().(type) {
	case *qdrant.PointId_Uuid:
		return x.Uuid
	case *qdrant.PointId_Num:
		return fmt.Sprintf("%d", x.Num)
	}
	return ""
}
