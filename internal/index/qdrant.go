package index

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/okabe/omokage/internal/models"
	"github.com/okabe/omokage/internal/store"
)

// qdrantIDNamespace derives deterministic point UUIDs from record IDs, so
// re-ingesting the same record upserts the same point.
var qdrantIDNamespace = uuid.MustParse("9e0d2a4c-7c1f-4a7b-8f3e-2b6c5d4e1a90")

// Qdrant delegates nearest-neighbor search to a Qdrant server while the
// local store stays the canonical record holder: writes go to both, hits
// are hydrated from the store so payloads never diverge from the catalog.
type Qdrant struct {
	store      store.Store
	conn       *grpc.ClientConn
	points     pb.PointsClient
	collection string
}

// NewQdrant connects to a Qdrant server and returns an index writing
// through the given record store.
func NewQdrant(recordStore store.Store, opts QdrantOptions) (*Qdrant, error) {
	addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &Qdrant{
		store:      recordStore,
		conn:       conn,
		points:     pb.NewPointsClient(conn),
		collection: opts.Collection,
	}, nil
}

// Upsert writes records to the store and mirrors them into the collection.
func (q *Qdrant) Upsert(ctx context.Context, records []*models.Record) error {
	points := make([]*pb.PointStruct, 0, len(records))
	for _, record := range records {
		if err := q.store.Put(ctx, record); err != nil {
			return err
		}
		payload := map[string]*pb.Value{
			"record_id": {Kind: &pb.Value_StringValue{StringValue: record.ID}},
		}
		if category := record.Payload.Category(); category != "" {
			payload[models.FieldCategory] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: category}}
		}
		points = append(points, &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(record.ID)}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: record.Vector}}},
			Payload: payload,
		})
	}
	if _, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	}); err != nil {
		return qdrantError("upsert", err)
	}
	return nil
}

// Remove deletes records from the store and the collection. Missing IDs
// are ignored.
func (q *Qdrant) Remove(ctx context.Context, ids []string) error {
	pointIDs := make([]*pb.PointId, 0, len(ids))
	for _, id := range ids {
		if err := q.store.Delete(ctx, id); err != nil && !isNotFound(err) {
			return err
		}
		pointIDs = append(pointIDs, &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: pointID(id)}})
	}
	if _, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs},
			},
		},
	}); err != nil {
		return qdrantError("delete", err)
	}
	return nil
}

// Query runs the search server-side with the category condition and score
// threshold pushed down, then hydrates hits from the store and re-applies
// the deterministic ordering (score descending, ID ascending on ties) so
// the contract holds regardless of backend ordering.
func (q *Qdrant) Query(ctx context.Context, vector []float32, k int, minSimilarity float64, filter *models.RecordFilter) ([]*Hit, error) {
	if err := validateQuery(vector, q.store.Dimensions(), k, minSimilarity); err != nil {
		return nil, err
	}
	req := &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	}
	if minSimilarity > 0 {
		threshold := float32(minSimilarity)
		req.ScoreThreshold = &threshold
	}
	if filter != nil && filter.Category != "" {
		req.Filter = &pb.Filter{
			Must: []*pb.Condition{{
				ConditionOneOf: &pb.Condition_Field{
					Field: &pb.FieldCondition{
						Key:   models.FieldCategory,
						Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: filter.Category}},
					},
				},
			}},
		}
	}
	resp, err := q.points.Search(ctx, req)
	if err != nil {
		return nil, qdrantError("search", err)
	}

	hits := make([]*Hit, 0, len(resp.Result))
	for _, pt := range resp.Result {
		recordID := pt.Payload["record_id"].GetStringValue()
		record, err := q.store.Get(ctx, recordID)
		if err != nil {
			// Point exists remotely but not locally; skip rather than fail.
			continue
		}
		score := float64(pt.Score)
		if score < minSimilarity {
			continue
		}
		if score > 1 {
			score = 1
		}
		hits = append(hits, &Hit{Record: record, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Record.ID < hits[j].Record.ID
	})
	return hits, nil
}

// Size returns the store record count.
func (q *Qdrant) Size(ctx context.Context) (int, error) {
	return q.store.Size(ctx)
}

// Close closes the gRPC connection; the store is owned by the caller.
func (q *Qdrant) Close() error {
	return q.conn.Close()
}

func pointID(recordID string) string {
	return uuid.NewSHA1(qdrantIDNamespace, []byte(recordID)).String()
}

func qdrantError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || status.Code(err) == codes.DeadlineExceeded {
		return fmt.Errorf("qdrant %s: %v: %w", op, err, models.ErrTimeout)
	}
	return fmt.Errorf("qdrant %s: %v: %w", op, err, models.ErrIndexFailure)
}
