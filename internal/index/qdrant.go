package index

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

// Qdrant ports. Operators usually copy the REST URL from the Qdrant console;
// the client speaks gRPC.
const (
	qdrantRESTPort = 6333
	qdrantGRPCPort = 6334
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// URL is the Qdrant endpoint, e.g. "https://xyz.cloud.qdrant.io:6333"
	// or "http://localhost:6334". The REST port 6333 is mapped to the gRPC
	// port 6334; an https scheme enables TLS.
	URL string

	// APIKey is the Qdrant API key for authenticated clusters.
	APIKey string
}

// QdrantStore implements Store backed by a Qdrant instance over gRPC.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client
}

// NewQdrantStore creates a client for cfg. No RPC is made until first use.
func NewQdrantStore(cfg *QdrantConfig) (*QdrantStore, error) {
	clientCfg, err := qdrantClientConfig(cfg)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}
	return &QdrantStore{client: client}, nil
}

// qdrantClientConfig resolves cfg.URL into host, gRPC port and TLS.
func qdrantClientConfig(cfg *QdrantConfig) (*qdrant.Config, error) {
	raw := cfg.URL
	if raw == "" {
		raw = "http://localhost:6334"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("qdrant: invalid URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("qdrant: invalid URL %q: scheme must be http or https", raw)
	}

	host := u.Hostname()
	if host == "" {
		host = "localhost"
	}

	port := qdrantGRPCPort
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("qdrant: invalid port in %q: %w", raw, err)
		}
		if n != qdrantRESTPort {
			port = n
		}
	}

	return &qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	}, nil
}

// CollectionExists implements Store.
func (s *QdrantStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	return exists, nil
}

// CreateCollection implements Store.
func (s *QdrantStore) CreateCollection(ctx context.Context, name string, dim uint64) error {
	err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", name, err)
	}
	return nil
}

// DeleteCollection implements Store.
func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	if err := s.client.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("qdrant: failed to delete collection %q: %w", name, err)
	}
	return nil
}

// CollectionVectorSize implements Store.
func (s *QdrantStore) CollectionVectorSize(ctx context.Context, name string) (uint64, error) {
	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("qdrant: failed to get collection info: %w", err)
	}
	size := vectorSize(info)
	if size == 0 {
		return 0, fmt.Errorf("qdrant: could not determine vector size of %q", name)
	}
	return size, nil
}

// Upsert implements Store. It waits for the write to be applied so that
// Stats and Search observe it immediately.
func (s *QdrantStore) Upsert(ctx context.Context, name string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(p.Payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points:         qpoints,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}
	return nil
}

// Stats implements Store.
func (s *QdrantStore) Stats(ctx context.Context, name string) (Stats, error) {
	info, err := s.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return Stats{}, fmt.Errorf("qdrant: failed to get collection info: %w", err)
	}
	return Stats{
		Collection:     name,
		PointCount:     info.GetPointsCount(),
		IndexedVectors: info.GetIndexedVectorsCount(),
		VectorSize:     vectorSize(info),
	}, nil
}

// Search implements Store.
func (s *QdrantStore) Search(ctx context.Context, name string, vector []float32, k int) ([]ScoredPoint, error) {
	if k <= 0 {
		return nil, fmt.Errorf("qdrant: k must be greater than 0")
	}
	limit := uint64(k)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	hits := make([]ScoredPoint, 0, len(results))
	for _, r := range results {
		hits = append(hits, ScoredPoint{
			ID:      r.GetId().GetNum(),
			Score:   r.GetScore(),
			Payload: convertPayload(r.GetPayload()),
		})
	}
	return hits, nil
}

// Ping checks that the Qdrant server is reachable.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// vectorSize extracts the single unnamed vector size from info.
func vectorSize(info *qdrant.CollectionInfo) uint64 {
	return info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
}

// convertPayload converts a Qdrant payload to plain Go values.
func convertPayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if v == nil {
			continue
		}
		out[k] = convertValue(v)
	}
	return out
}

// convertValue converts a Qdrant Value to a Go value.
func convertValue(v *qdrant.Value) any {
	switch val := v.GetKind().(type) {
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_ListValue:
		list := make([]any, len(val.ListValue.GetValues()))
		for i, item := range val.ListValue.GetValues() {
			list[i] = convertValue(item)
		}
		return list
	case *qdrant.Value_StructValue:
		return convertPayload(val.StructValue.GetFields())
	default:
		return nil
	}
}
