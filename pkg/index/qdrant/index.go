// Package qdrant provides a vector index backed by a Qdrant server.
//
// All scopes share one collection; each point carries its scope key as an
// indexed keyword payload and queries filter on it.
package qdrant

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/oceanbase/memstore/pkg/index"
	"github.com/oceanbase/memstore/pkg/model"
)

const scopeField = "scope"

// Config configures the Qdrant index.
type Config struct {
	Host           string
	Port           int
	APIKey         string
	UseTLS         bool
	CollectionName string

	// Dimensions is the vector size. Required: the collection is created
	// with it.
	Dimensions int

	// Metric selects the collection distance (default: cosine).
	Metric index.Metric

	// HnswEf is the search-time candidate list size (0 = server default).
	HnswEf uint64
}

// Index implements index.Index on a Qdrant collection.
type Index struct {
	client     *qdrant.Client
	collection string
	dims       int
	ef         uint64
}

var _ index.Index = (*Index)(nil)
var _ index.Lister = (*Index)(nil)

// New connects to Qdrant and makes sure the collection exists.
func New(ctx context.Context, cfg *Config) (*Index, error) {
	if cfg == nil || cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("NewQdrantIndex: %w: dimensions are required", model.ErrInvalidConfig)
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.CollectionName == "" {
		cfg.CollectionName = "memories"
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("NewQdrantIndex: %w", err)
	}

	x := &Index{
		client:     client,
		collection: cfg.CollectionName,
		dims:       cfg.Dimensions,
		ef:         cfg.HnswEf,
	}

	if err := x.initCollection(ctx, cfg.Metric); err != nil {
		_ = client.Close()
		return nil, err
	}

	return x, nil
}

// initCollection creates the collection and its scope payload index.
func (x *Index) initCollection(ctx context.Context, metric index.Metric) error {
	exists, err := x.client.CollectionExists(ctx, x.collection)
	if err != nil {
		return fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return nil
	}

	distance := qdrant.Distance_Cosine
	if metric == index.MetricIP {
		distance = qdrant.Distance_Dot
	}

	err = x.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(x.dims),
			Distance: distance,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}

	_, err = x.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: x.collection,
		FieldName:      scopeField,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("create scope index: %w", err)
	}
	return nil
}

// Insert upserts the point for id. An upsert replaces the payload, so a
// scope change moves the point.
func (x *Index) Insert(ctx context.Context, id int64, scope model.Scope, embedding []float64) error {
	if err := index.CheckDimensions(x.dims, embedding); err != nil {
		return err
	}

	wait := true
	_, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: x.collection,
		Wait:           &wait,
		Points: []*qdrant.PointStruct{
			{
				Id:      qdrant.NewIDNum(uint64(id)),
				Vectors: qdrant.NewVectors(index.ToFloat32(embedding)...),
				Payload: qdrant.NewValueMap(map[string]any{scopeField: scope.Key()}),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("Insert: %w", err)
	}
	return nil
}

// Remove deletes the point for id.
func (x *Index) Remove(ctx context.Context, id int64) error {
	wait := true
	_, err := x.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: x.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDNum(uint64(id))),
	})
	if err != nil {
		return fmt.Errorf("Remove: %w", err)
	}
	return nil
}

// Query runs a nearest-neighbour query, filtered to one scope when the
// filter names one.
func (x *Index) Query(ctx context.Context, vector []float64, k int, filter *index.Filter) ([]index.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := index.CheckDimensions(x.dims, vector); err != nil {
		return nil, err
	}

	limit := uint64(k)
	req := &qdrant.QueryPoints{
		CollectionName: x.collection,
		Query:          qdrant.NewQuery(index.ToFloat32(vector)...),
		Limit:          &limit,
	}
	if filter != nil && filter.Scope != nil {
		req.Filter = &qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch(scopeField, filter.Scope.Key())},
		}
	}
	if x.ef > 0 {
		ef := x.ef
		req.Params = &qdrant.SearchParams{HnswEf: &ef}
	}

	points, err := x.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	hits := make([]index.Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, index.Hit{ID: int64(p.GetId().GetNum()), Score: float64(p.GetScore())})
	}
	return hits, nil
}

// Contains reports whether a point exists for id.
func (x *Index) Contains(ctx context.Context, id int64) (bool, error) {
	points, err := x.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: x.collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDNum(uint64(id))},
	})
	if err != nil {
		return false, fmt.Errorf("Contains: %w", err)
	}
	return len(points) > 0, nil
}

// IDs scrolls the whole collection.
func (x *Index) IDs(ctx context.Context) ([]int64, error) {
	var (
		ids    []int64
		offset *qdrant.PointId
		limit  uint32 = 256
	)
	for {
		points, err := x.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: x.collection,
			Offset:         offset,
			Limit:          &limit,
		})
		if err != nil {
			return nil, fmt.Errorf("IDs: %w", err)
		}
		for _, p := range points {
			ids = append(ids, int64(p.GetId().GetNum()))
		}
		if len(points) < int(limit) {
			return ids, nil
		}
		offset = qdrant.NewIDNum(points[len(points)-1].GetId().GetNum() + 1)
	}
}

// Close closes the gRPC connection.
func (x *Index) Close() error {
	return x.client.Close()
}
