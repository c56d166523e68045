package qdrant

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/waypoint/core"
	"github.com/poiesic/waypoint/index"
	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
)

type mockPoints struct {
	upserts    []*pb.UpsertPoints
	upsertErr  error
	lastSearch *pb.SearchPoints
	searchResp *pb.SearchResponse
	searchErr  error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upserts = append(m.upserts, in)
	return &pb.PointsOperationResponse{}, m.upsertErr
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.lastSearch = in
	return m.searchResp, m.searchErr
}

type mockCollections struct {
	existing []string
	info     *pb.CollectionInfo
	created  *pb.CreateCollection
	deleted  []string
	listErr  error
	getErr   error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	resp := &pb.ListCollectionsResponse{}
	for _, name := range m.existing {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: name})
	}
	return resp, nil
}

func (m *mockCollections) Get(_ context.Context, in *pb.GetCollectionInfoRequest, _ ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return &pb.GetCollectionInfoResponse{Result: m.info}, nil
}

func (m *mockCollections) Delete(_ context.Context, in *pb.DeleteCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.deleted = append(m.deleted, in.GetCollectionName())
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func collectionInfo(size uint64, distance pb.Distance, points uint64) *pb.CollectionInfo {
	return &pb.CollectionInfo{
		PointsCount: &points,
		Config: &pb.CollectionConfig{
			Params: &pb.CollectionParams{
				VectorsConfig: &pb.VectorsConfig{
					Config: &pb.VectorsConfig_Params{
						Params: &pb.VectorParams{Size: size, Distance: distance},
					},
				},
			},
		},
	}
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = in
	return &pb.CollectionOperationResponse{Result: true}, nil
}

func matrix(t *testing.T, rows, dim int) *index.Matrix {
	t.Helper()
	data := make([]float32, rows*dim)
	for i := range data {
		data[i] = float32(i%dim + 1)
	}
	return &index.Matrix{Rows: rows, Dim: dim, Data: data}
}

func TestSync_CreatesCollectionAndBatches(t *testing.T) {
	points := &mockPoints{}
	cols := &mockCollections{}
	idx := newWithClients(points, cols, "poi", core.MetricEuclidean)

	require.NoError(t, idx.Sync(context.Background(), matrix(t, 600, 4)))

	require.NotNil(t, cols.created)
	want := &pb.CreateCollection{
		CollectionName: "poi",
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: 4, Distance: pb.Distance_Euclid},
			},
		},
	}
	assert.True(t, proto.Equal(want, cols.created), "create request: %v", cols.created)

	require.Len(t, points.upserts, 3)
	assert.Len(t, points.upserts[0].GetPoints(), UpsertBatchSize)
	assert.Len(t, points.upserts[2].GetPoints(), 600-2*UpsertBatchSize)
	last := points.upserts[2].GetPoints()
	assert.Equal(t, uint64(599), last[len(last)-1].GetId().GetNum())

	assert.Equal(t, 600, idx.Len())
	assert.Equal(t, 4, idx.Dim())
	assert.NoError(t, idx.Close())
}

func TestSync_ExistingCollection(t *testing.T) {
	tests := []struct {
		name     string
		info     *pb.CollectionInfo
		recreate bool
	}{
		{name: "matching collection is reused", info: collectionInfo(3, pb.Distance_Cosine, 2)},
		{name: "fewer points than rows is reused", info: collectionInfo(3, pb.Distance_Cosine, 0)},
		{name: "leftover points from a larger catalog", info: collectionInfo(3, pb.Distance_Cosine, 10), recreate: true},
		{name: "different vector size", info: collectionInfo(384, pb.Distance_Cosine, 2), recreate: true},
		{name: "different distance", info: collectionInfo(3, pb.Distance_Euclid, 2), recreate: true},
		{name: "named vectors", info: &pb.CollectionInfo{}, recreate: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cols := &mockCollections{existing: []string{"other", "poi"}, info: tt.info}
			points := &mockPoints{}
			idx := newWithClients(points, cols, "poi", core.MetricCosine)

			require.NoError(t, idx.Sync(context.Background(), matrix(t, 2, 3)))
			require.Len(t, points.upserts, 1)
			if !tt.recreate {
				assert.Nil(t, cols.created)
				assert.Empty(t, cols.deleted)
				return
			}
			assert.Equal(t, []string{"poi"}, cols.deleted)
			require.NotNil(t, cols.created)
			params := cols.created.GetVectorsConfig().GetParams()
			assert.Equal(t, uint64(3), params.GetSize())
			assert.Equal(t, pb.Distance_Cosine, params.GetDistance())
		})
	}

	t.Run("describe failure", func(t *testing.T) {
		cols := &mockCollections{existing: []string{"poi"}, getErr: errors.New("rpc fail")}
		idx := newWithClients(&mockPoints{}, cols, "poi", core.MetricCosine)
		assert.Error(t, idx.Sync(context.Background(), matrix(t, 2, 3)))
		assert.Zero(t, idx.Len())
	})
}

func TestSync_Errors(t *testing.T) {
	idx := newWithClients(&mockPoints{}, &mockCollections{listErr: errors.New("rpc fail")}, "poi", core.MetricCosine)
	assert.Error(t, idx.Sync(context.Background(), matrix(t, 2, 3)))

	idx = newWithClients(&mockPoints{upsertErr: errors.New("full")}, &mockCollections{}, "poi", core.MetricCosine)
	assert.Error(t, idx.Sync(context.Background(), matrix(t, 2, 3)))
	assert.Zero(t, idx.Dim())
}

func TestSearch(t *testing.T) {
	points := &mockPoints{searchResp: &pb.SearchResponse{Result: []*pb.ScoredPoint{
		{Id: &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: 4}}, Score: 1.5},
		{Id: &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: 9}}, Score: 2},
		{Id: &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: 1}}, Score: 2.5},
	}}}
	idx := newWithClients(points, &mockCollections{}, "poi", core.MetricEuclidean)

	_, err := idx.Search(context.Background(), []float32{1, 2, 3}, 2)
	assert.ErrorIs(t, err, errNotSynced)

	require.NoError(t, idx.Sync(context.Background(), matrix(t, 5, 3)))

	got, err := idx.Search(context.Background(), []float32{1, 2, 3}, 2)
	require.NoError(t, err)
	assert.Equal(t, []core.Match{{Position: 4, Score: -2.25}, {Position: 1, Score: -6.25}}, got,
		"distances are squared and negated; ids past the synced rows are dropped")
	assert.True(t, points.lastSearch.GetParams().GetExact())
	assert.Equal(t, uint64(2), points.lastSearch.GetLimit())

	_, err = idx.Search(context.Background(), []float32{1, 2}, 2)
	assert.ErrorIs(t, err, core.ErrDimension)

	empty, err := idx.Search(context.Background(), []float32{1, 2, 3}, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	points.searchErr = errors.New("unavailable")
	_, err = idx.Search(context.Background(), []float32{1, 2, 3}, 2)
	assert.Error(t, err)
}
