// Package qdrant implements index.Searcher on a Qdrant collection.
//
// Every catalog row is stored as a point whose numeric id is its position,
// and searches request exact (brute force) scoring so results match the
// in-memory flat index.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/waypoint/core"
	"github.com/poiesic/waypoint/index"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// UpsertBatchSize bounds the number of points per upsert request.
const UpsertBatchSize = 256

var errNotSynced = errors.New("qdrant: collection not synced")

// pointsAPI is the subset of pb.PointsClient used by Index.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient used by Index.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Index searches catalog embeddings stored in Qdrant.
type Index struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	metric      core.Metric
	rows        int
	dim         int
	logger      *slog.Logger
}

var _ index.Searcher = (*Index)(nil)

// New creates an Index connected to Qdrant at the given gRPC address.
func New(addr, collection string, metric core.Metric) (*Index, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant: dial %s: %w", addr, err)
	}
	idx := newWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, metric)
	idx.conn = conn
	return idx, nil
}

func newWithClients(points pointsAPI, collections collectionsAPI, collection string, metric core.Metric) *Index {
	return &Index{
		points:      points,
		collections: collections,
		collection:  collection,
		metric:      metric,
		logger:      slog.Default().With("component", "qdrant-index", "collection", collection),
	}
}

// Close closes the underlying gRPC connection.
func (x *Index) Close() error {
	if x.conn == nil {
		return nil
	}
	return x.conn.Close()
}

func (x *Index) distance() pb.Distance {
	if x.metric == core.MetricEuclidean {
		return pb.Distance_Euclid
	}
	return pb.Distance_Cosine
}

// Sync creates the collection if needed and upserts every matrix row as a
// point with id equal to its position. An existing collection is dropped and
// recreated when its vector size or distance differs from the matrix and
// metric, or when it holds more points than the matrix has rows.
func (x *Index) Sync(ctx context.Context, matrix *index.Matrix) error {
	if err := matrix.Validate(); err != nil {
		return err
	}
	if err := x.ensureCollection(ctx, matrix.Rows, matrix.Dim); err != nil {
		return err
	}

	wait := true
	for start := 0; start < matrix.Rows; start += UpsertBatchSize {
		end := min(start+UpsertBatchSize, matrix.Rows)
		points := make([]*pb.PointStruct, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, &pb.PointStruct{
				Id: &pb.PointId{
					PointIdOptions: &pb.PointId_Num{Num: uint64(i)},
				},
				Vectors: &pb.Vectors{
					VectorsOptions: &pb.Vectors_Vector{
						Vector: &pb.Vector{Data: matrix.Row(i)},
					},
				},
			})
		}
		if _, err := x.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: x.collection,
			Wait:           &wait,
			Points:         points,
		}); err != nil {
			return fmt.Errorf("qdrant: upsert rows %d-%d: %w", start, end-1, err)
		}
	}

	x.rows = matrix.Rows
	x.dim = matrix.Dim
	x.logger.Info("synced catalog embeddings", "rows", matrix.Rows, "dim", matrix.Dim)
	return nil
}

func (x *Index) ensureCollection(ctx context.Context, rows, dims int) error {
	list, err := x.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("qdrant: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() != x.collection {
			continue
		}
		reusable, err := x.reusable(ctx, rows, dims)
		if err != nil {
			return err
		}
		if reusable {
			return nil
		}
		if _, err := x.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: x.collection}); err != nil {
			return fmt.Errorf("qdrant: drop stale collection %s: %w", x.collection, err)
		}
		break
	}

	_, err = x.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: x.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: x.distance(),
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant: create collection %s: %w", x.collection, err)
	}
	return nil
}

// reusable reports whether the existing collection matches the matrix shape
// and metric and holds no points beyond the last row.
func (x *Index) reusable(ctx context.Context, rows, dims int) (bool, error) {
	resp, err := x.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: x.collection})
	if err != nil {
		return false, fmt.Errorf("qdrant: describe collection %s: %w", x.collection, err)
	}
	info := resp.GetResult()
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	switch {
	case params == nil:
		x.logger.Warn("existing collection has no single vector config, recreating")
	case params.GetSize() != uint64(dims) || params.GetDistance() != x.distance():
		x.logger.Warn("existing collection does not match index, recreating",
			"size", params.GetSize(), "want_size", dims,
			"distance", params.GetDistance().String(), "want_distance", x.distance().String())
	case info.GetPointsCount() > uint64(rows):
		x.logger.Warn("existing collection holds stale points, recreating",
			"points", info.GetPointsCount(), "rows", rows)
	default:
		return true, nil
	}
	return false, nil
}

// Dim returns the dimension of the synced matrix.
func (x *Index) Dim() int {
	return x.dim
}

// Len returns the number of synced rows.
func (x *Index) Len() int {
	return x.rows
}

// Search performs an exact k-NN search. Euclidean distances are squared and
// negated so scores match index.Flat. Points with ids outside the synced rows
// are skipped.
func (x *Index) Search(ctx context.Context, vector []float32, k int) ([]core.Match, error) {
	if x.dim == 0 {
		return nil, errNotSynced
	}
	if len(vector) != x.dim {
		return nil, fmt.Errorf("%w: query has %d values, index has %d", core.ErrDimension, len(vector), x.dim)
	}
	if k <= 0 {
		return []core.Match{}, nil
	}

	exact := true
	resp, err := x.points.Search(ctx, &pb.SearchPoints{
		CollectionName: x.collection,
		Vector:         vector,
		Limit:          uint64(k),
		Params:         &pb.SearchParams{Exact: &exact},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search: %w", err)
	}

	matches := make([]core.Match, 0, len(resp.GetResult()))
	for _, r := range resp.GetResult() {
		id := r.GetId().GetNum()
		if id >= uint64(x.rows) {
			continue
		}
		score := r.GetScore()
		if x.metric == core.MetricEuclidean {
			score = -score * score
		}
		matches = append(matches, core.Match{
			Position: core.Position(id),
			Score:    score,
		})
	}
	return matches, nil
}
