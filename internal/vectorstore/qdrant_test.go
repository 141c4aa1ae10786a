package vectorstore

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeQdrant backs in-process Collections and Points clients with maps.
// Embedded interfaces leave unused RPCs nil.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]*fakeCollection
	creates     int
	// failWith is returned by every RPC when set.
	failWith error
}

type fakeCollection struct {
	size   uint64
	points map[string]*qdrant.PointStruct
}

type fakeCollections struct {
	qdrant.CollectionsClient
	f *fakeQdrant
}

type fakePoints struct {
	qdrant.PointsClient
	f *fakeQdrant
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *QdrantStore) {
	t.Helper()
	f := &fakeQdrant{collections: map[string]*fakeCollection{}}
	return f, newQdrantStore(fakeCollections{f: f}, fakePoints{f: f}, time.Second)
}

func missing(name string) error {
	return status.Errorf(codes.NotFound, "Not found: Collection `%s` doesn't exist!", name)
}

func (c fakeCollections) CollectionExists(_ context.Context, in *qdrant.CollectionExistsRequest, _ ...grpc.CallOption) (*qdrant.CollectionExistsResponse, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if c.f.failWith != nil {
		return nil, c.f.failWith
	}
	_, ok := c.f.collections[in.GetCollectionName()]
	return &qdrant.CollectionExistsResponse{Result: &qdrant.CollectionExists{Exists: ok}}, nil
}

func (c fakeCollections) Create(_ context.Context, in *qdrant.CreateCollection, _ ...grpc.CallOption) (*qdrant.CollectionOperationResponse, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if c.f.failWith != nil {
		return nil, c.f.failWith
	}
	name := in.GetCollectionName()
	if _, ok := c.f.collections[name]; ok {
		return nil, status.Errorf(codes.AlreadyExists, "Collection `%s` already exists!", name)
	}
	params := in.GetVectorsConfig().GetParams()
	if params.GetDistance() != qdrant.Distance_Cosine {
		return nil, status.Error(codes.InvalidArgument, "unexpected distance")
	}
	c.f.creates++
	c.f.collections[name] = &fakeCollection{size: params.GetSize(), points: map[string]*qdrant.PointStruct{}}
	return &qdrant.CollectionOperationResponse{Result: true}, nil
}

func (c fakeCollections) Delete(_ context.Context, in *qdrant.DeleteCollection, _ ...grpc.CallOption) (*qdrant.CollectionOperationResponse, error) {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if _, ok := c.f.collections[in.GetCollectionName()]; !ok {
		return nil, missing(in.GetCollectionName())
	}
	delete(c.f.collections, in.GetCollectionName())
	return &qdrant.CollectionOperationResponse{Result: true}, nil
}

func (p fakePoints) Upsert(_ context.Context, in *qdrant.UpsertPoints, _ ...grpc.CallOption) (*qdrant.PointsOperationResponse, error) {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	if p.f.failWith != nil {
		return nil, p.f.failWith
	}
	col, ok := p.f.collections[in.GetCollectionName()]
	if !ok {
		return nil, missing(in.GetCollectionName())
	}
	if !in.GetWait() {
		return nil, status.Error(codes.InvalidArgument, "expected wait=true")
	}
	for _, pt := range in.GetPoints() {
		if uint64(len(pt.GetVectors().GetVector().GetData())) != col.size {
			return nil, status.Error(codes.InvalidArgument, "Wrong input: Vector dimension error")
		}
	}
	for _, pt := range in.GetPoints() {
		col.points[pt.GetId().GetUuid()] = pt
	}
	return &qdrant.PointsOperationResponse{}, nil
}

func (p fakePoints) Scroll(_ context.Context, in *qdrant.ScrollPoints, _ ...grpc.CallOption) (*qdrant.ScrollResponse, error) {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	if p.f.failWith != nil {
		return nil, p.f.failWith
	}
	col, ok := p.f.collections[in.GetCollectionName()]
	if !ok {
		return nil, missing(in.GetCollectionName())
	}
	if !in.GetWithPayload().GetEnable() || in.GetWithVectors().GetEnable() {
		return nil, status.Error(codes.InvalidArgument, "expected payload without vectors")
	}

	ids := make([]string, 0, len(col.points))
	for id := range col.points {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	start := 0
	if off := in.GetOffset().GetUuid(); off != "" {
		start = sort.SearchStrings(ids, off)
	}
	end := min(start+int(in.GetLimit()), len(ids))

	resp := &qdrant.ScrollResponse{}
	for _, id := range ids[start:end] {
		resp.Result = append(resp.Result, &qdrant.RetrievedPoint{Id: col.points[id].GetId(), Payload: col.points[id].GetPayload()})
	}
	if end < len(ids) {
		resp.NextPageOffset = col.points[ids[end]].GetId()
	}
	return resp, nil
}

func (p fakePoints) Count(_ context.Context, in *qdrant.CountPoints, _ ...grpc.CallOption) (*qdrant.CountResponse, error) {
	p.f.mu.Lock()
	defer p.f.mu.Unlock()
	if p.f.failWith != nil {
		return nil, p.f.failWith
	}
	col, ok := p.f.collections[in.GetCollectionName()]
	if !ok {
		return nil, missing(in.GetCollectionName())
	}
	must := in.GetFilter().GetMust()
	if len(must) != 1 || must[0].GetField().GetKey() != "source_name" {
		return nil, status.Error(codes.InvalidArgument, "expected one source_name condition")
	}
	want := must[0].GetField().GetMatch().GetKeyword()
	var n uint64
	for _, pt := range col.points {
		if pt.GetPayload()["source_name"].GetStringValue() == want {
			n++
		}
	}
	return &qdrant.CountResponse{Result: &qdrant.CountResult{Count: n}}, nil
}

func TestQdrantStoreContract(t *testing.T) {
	runSinkContract(t, func(t *testing.T) Sink {
		_, s := newFakeQdrant(t)
		return s
	})
}

func TestQdrantStore_EnsureNamespaceCreatesOnce(t *testing.T) {
	f, s := newFakeQdrant(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureNamespace(ctx, "tenant_a", 384))
	require.NoError(t, s.EnsureNamespace(ctx, "tenant_a", 384))

	assert.Equal(t, uint64(384), f.collections["tenant_a"].size)
	assert.Equal(t, 1, f.creates)
}

func TestQdrantStore_EnsureNamespaceNeedsDimension(t *testing.T) {
	_, s := newFakeQdrant(t)
	err := s.EnsureNamespace(context.Background(), "tenant_a", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension unknown")
}

func TestQdrantStore_UpsertCreatesCollectionSizedToVectors(t *testing.T) {
	f, s := newFakeQdrant(t)
	require.NoError(t, s.Upsert(context.Background(), "tenant_a", makePoints("a", "doc.pdf", 2, 6)))
	assert.Equal(t, uint64(6), f.collections["tenant_a"].size)
	assert.Len(t, f.collections["tenant_a"].points, 2)
}

func TestQdrantStore_SurfacesServerError(t *testing.T) {
	f, s := newFakeQdrant(t)
	ctx := context.Background()
	require.NoError(t, s.EnsureNamespace(ctx, "tenant_a", 4))

	err := s.Upsert(ctx, "tenant_a", makePoints("a", "doc.pdf", 1, 8))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Vector dimension error")

	f.failWith = status.Error(codes.Unavailable, "connection refused")
	_, err = s.Scroll(ctx, "tenant_a", "", 10)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNamespaceNotFound)
	assert.Equal(t, codes.Unavailable, status.Code(err))

	_, err = s.HasSource(ctx, "tenant_a", "doc.pdf")
	assert.Equal(t, codes.Unavailable, status.Code(err))
}

func TestPointIDToken(t *testing.T) {
	assert.Equal(t, "", pointIDToken(nil))
	assert.Equal(t, "42", pointIDToken(parsePointID("42")))
	id := "5c56c793-69f3-4fbf-87e6-c4bf54c28c26"
	assert.Equal(t, id, pointIDToken(parsePointID(id)))
	assert.Nil(t, parsePointID(""))
}

func TestPayloadFromValues_AcceptsDoubles(t *testing.T) {
	values := payloadValues(makePoints("a", "doc.pdf", 1, 2)[0].Payload)
	assert.Equal(t, "doc.pdf", values["source_name"].GetStringValue())

	values["chunk_total"] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: 3}}
	p := payloadFromValues(values)
	assert.Equal(t, 3, p.ChunkTotal)
	assert.Equal(t, int64(1234), p.SizeBytes)
	assert.Equal(t, "a", p.TenantID)
}
