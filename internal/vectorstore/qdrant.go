package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/docingest/internal/models"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// QdrantOptions locates a Qdrant gRPC endpoint.
type QdrantOptions struct {
	Host    string
	Port    int
	APIKey  string
	UseTLS  bool
	Timeout time.Duration
}

// QdrantStore keeps each namespace in its own Qdrant collection.
type QdrantStore struct {
	collections qdrant.CollectionsClient
	points      qdrant.PointsClient
	timeout     time.Duration
	closeFn     func() error
}

var _ Sink = (*QdrantStore)(nil)

// NewQdrantStore dials lazily; connection errors surface on the first call.
func NewQdrantStore(opts QdrantOptions) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant client %s:%d: %w", opts.Host, opts.Port, err)
	}
	q := newQdrantStore(client.GetCollectionsClient(), client.GetPointsClient(), opts.Timeout)
	q.closeFn = client.Close
	return q, nil
}

func newQdrantStore(collections qdrant.CollectionsClient, points qdrant.PointsClient, timeout time.Duration) *QdrantStore {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &QdrantStore{collections: collections, points: points, timeout: timeout}
}

func (q *QdrantStore) Close() error {
	if q.closeFn == nil {
		return nil
	}
	return q.closeFn()
}

func (q *QdrantStore) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, q.timeout)
}

func isNotFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (q *QdrantStore) EnsureNamespace(ctx context.Context, namespace string, dimension int) error {
	ctx, cancel := q.call(ctx)
	defer cancel()

	resp, err := q.collections.CollectionExists(ctx, &qdrant.CollectionExistsRequest{CollectionName: namespace})
	if err != nil {
		return fmt.Errorf("check collection %s: %w", namespace, err)
	}
	if resp.GetResult().GetExists() {
		return nil
	}
	return q.createCollection(ctx, namespace, dimension)
}

func (q *QdrantStore) createCollection(ctx context.Context, namespace string, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("create collection %s: vector dimension unknown", namespace)
	}
	_, err := q.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: namespace,
		VectorsConfig: &qdrant.VectorsConfig{Config: &qdrant.VectorsConfig_Params{
			Params: &qdrant.VectorParams{Size: uint64(dimension), Distance: qdrant.Distance_Cosine},
		}},
	})
	// A concurrent ingestion may have created it first.
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("create collection %s: %w", namespace, err)
	}
	return nil
}

// Upsert writes points and waits for Qdrant to apply them. A missing
// collection is created with the vectors' dimension.
func (q *QdrantStore) Upsert(ctx context.Context, namespace string, points []Point) error {
	dim, err := ValidatePoints(points)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		return nil
	}

	ctx, cancel := q.call(ctx)
	defer cancel()

	wait := true
	req := &qdrant.UpsertPoints{
		CollectionName: namespace,
		Wait:           &wait,
		Points:         make([]*qdrant.PointStruct, len(points)),
	}
	for i, p := range points {
		req.Points[i] = &qdrant.PointStruct{
			Id:      &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: p.ID.String()}},
			Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: p.Vector}}},
			Payload: payloadValues(p.Payload),
		}
	}

	_, err = q.points.Upsert(ctx, req)
	if isNotFound(err) {
		if err := q.createCollection(ctx, namespace, dim); err != nil {
			return err
		}
		_, err = q.points.Upsert(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("upsert %d points into %s: %w", len(points), namespace, err)
	}
	return nil
}

func (q *QdrantStore) Scroll(ctx context.Context, namespace, offset string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := q.call(ctx)
	defer cancel()

	n := uint32(limit)
	resp, err := q.points.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: namespace,
		Offset:         parsePointID(offset),
		Limit:          &n,
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &qdrant.WithVectorsSelector{SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: false}},
	})
	if isNotFound(err) {
		return nil, ErrNamespaceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scroll %s: %w", namespace, err)
	}

	page := &Page{Points: make([]StoredPoint, 0, len(resp.GetResult()))}
	for _, p := range resp.GetResult() {
		id, err := uuid.Parse(pointIDToken(p.GetId()))
		if err != nil {
			// Points written by other tools may carry integer ids.
			id = uuid.Nil
		}
		page.Points = append(page.Points, StoredPoint{ID: id, Payload: payloadFromValues(p.GetPayload())})
	}
	page.Next = pointIDToken(resp.GetNextPageOffset())
	return page, nil
}

func (q *QdrantStore) HasSource(ctx context.Context, namespace, sourceName string) (bool, error) {
	ctx, cancel := q.call(ctx)
	defer cancel()

	exact := true
	resp, err := q.points.Count(ctx, &qdrant.CountPoints{
		CollectionName: namespace,
		Exact:          &exact,
		Filter: &qdrant.Filter{Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{Field: &qdrant.FieldCondition{
				Key:   payloadSourceName,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: sourceName}},
			}},
		}}},
	})
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("count %s in %s: %w", sourceName, namespace, err)
	}
	return resp.GetResult().GetCount() > 0, nil
}

func (q *QdrantStore) DeleteNamespace(ctx context.Context, namespace string) error {
	ctx, cancel := q.call(ctx)
	defer cancel()

	_, err := q.collections.Delete(ctx, &qdrant.DeleteCollection{CollectionName: namespace})
	if err == nil || isNotFound(err) {
		return nil
	}
	return fmt.Errorf("delete collection %s: %w", namespace, err)
}

// pointIDToken renders a point id as a scroll token; nil means no more pages.
func pointIDToken(id *qdrant.PointId) string {
	switch v := id.GetPointIdOptions().(type) {
	case *qdrant.PointId_Uuid:
		return v.Uuid
	case *qdrant.PointId_Num:
		return strconv.FormatUint(v.Num, 10)
	}
	return ""
}

func parsePointID(token string) *qdrant.PointId {
	if token == "" {
		return nil
	}
	if n, err := strconv.ParseUint(token, 10, 64); err == nil {
		return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Num{Num: n}}
	}
	return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: token}}
}

// Payload keys match the JSON names of models.ChunkPayload so points stay
// readable by REST clients.
const (
	payloadTenantID    = "tenant_id"
	payloadSourceName  = "source_name"
	payloadText        = "text"
	payloadChunkIndex  = "chunk_index"
	payloadChunkTotal  = "chunk_total"
	payloadDescription = "description"
	payloadSizeBytes   = "size_bytes"
	payloadKind        = "kind"
)

func payloadValues(p models.ChunkPayload) map[string]*qdrant.Value {
	str := func(s string) *qdrant.Value {
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
	}
	num := func(n int64) *qdrant.Value {
		return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: n}}
	}
	return map[string]*qdrant.Value{
		payloadTenantID:    str(p.TenantID),
		payloadSourceName:  str(p.SourceName),
		payloadText:        str(p.Text),
		payloadChunkIndex:  num(int64(p.ChunkIndex)),
		payloadChunkTotal:  num(int64(p.ChunkTotal)),
		payloadDescription: str(p.Description),
		payloadSizeBytes:   num(p.SizeBytes),
		payloadKind:        str(p.Kind),
	}
}

func payloadFromValues(v map[string]*qdrant.Value) models.ChunkPayload {
	return models.ChunkPayload{
		TenantID:    v[payloadTenantID].GetStringValue(),
		SourceName:  v[payloadSourceName].GetStringValue(),
		Text:        v[payloadText].GetStringValue(),
		ChunkIndex:  int(intValue(v[payloadChunkIndex])),
		ChunkTotal:  int(intValue(v[payloadChunkTotal])),
		Description: v[payloadDescription].GetStringValue(),
		SizeBytes:   intValue(v[payloadSizeBytes]),
		Kind:        v[payloadKind].GetStringValue(),
	}
}

// intValue also accepts doubles, which JSON clients write for every number.
func intValue(v *qdrant.Value) int64 {
	if d, ok := v.GetKind().(*qdrant.Value_DoubleValue); ok {
		return int64(d.DoubleValue)
	}
	return v.GetIntegerValue()
}
