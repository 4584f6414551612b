package store

import (
	"context"

	"github.com/qdrant/go-client/qdrant"

	apperrors "github.com/memsearch/mem-search/internal/pkg/errors"
)

// UpsertPoints inserts or updates points in a collection as one call. The
// store treats the batch as all-or-nothing; partial writes are not observed.
func (c *Client) UpsertPoints(ctx context.Context, collection string, points []Point) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return apperrors.New(apperrors.CodeUnavailable, "store client is closed")
	}

	if len(points) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		point, err := pointToQdrant(p)
		if err != nil {
			return err
		}
		qdrantPoints = append(qdrantPoints, point)
	}

	_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.collectionName(collection),
		Points:         qdrantPoints,
		Wait:           qdrant.PtrOf(true), // Wait for indexing
	})
	if err != nil {
		return storeErr("failed to upsert points", err)
	}

	return nil
}

// DeletePoints deletes points by id.
func (c *Client) DeletePoints(ctx context.Context, collection string, ids []string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return apperrors.New(apperrors.CodeUnavailable, "store client is closed")
	}

	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = qdrant.NewIDUUID(id)
	}

	_, err := c.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.collectionName(collection),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: pointIDs,
				},
			},
		},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return storeErr("failed to delete points", err)
	}

	return nil
}

// pointToQdrant converts a Point to a Qdrant PointStruct. The point must
// carry a vector for every name the target collection declares.
func pointToQdrant(p Point) (*qdrant.PointStruct, error) {
	if p.Payload.OrgID == "" {
		return nil, apperrors.TenantMissingError()
	}

	payload := map[string]any{
		"content": p.Payload.Content,
		"org_id":  p.Payload.OrgID,
	}
	if p.Payload.SessionID != "" {
		payload["session_id"] = p.Payload.SessionID
	}
	if p.Payload.Type != "" {
		payload["type"] = p.Payload.Type
	}
	if p.Payload.CreatedAtMs != 0 {
		payload["created_at_ms"] = p.Payload.CreatedAtMs
	}
	if p.Payload.VTEndMs != 0 {
		payload["vt_end_ms"] = p.Payload.VTEndMs
	}
	if p.Payload.Summary != "" {
		payload["summary"] = p.Payload.Summary
	}
	for k, v := range p.Payload.Metadata {
		payload[k] = v
	}

	vectors := map[string]*qdrant.Vector{
		VectorSparse: {
			Data:    p.Sparse.Values,
			Indices: &qdrant.SparseIndices{Data: p.Sparse.Indices},
		},
	}
	if len(p.TextDense) > 0 {
		vectors[VectorTextDense] = &qdrant.Vector{Data: p.TextDense}
	}
	if len(p.CodeDense) > 0 {
		vectors[VectorCodeDense] = &qdrant.Vector{Data: p.CodeDense}
	}
	if len(p.Colbert) > 0 {
		// Multi-vectors travel flattened with an explicit row count.
		dim := len(p.Colbert[0])
		flat := make([]float32, 0, len(p.Colbert)*dim)
		for _, row := range p.Colbert {
			flat = append(flat, row...)
		}
		vectors[VectorColbert] = &qdrant.Vector{
			Data:         flat,
			VectorsCount: qdrant.PtrOf(uint32(len(p.Colbert))),
		}
	}

	return &qdrant.PointStruct{
		Id: qdrant.NewIDUUID(p.ID),
		Vectors: &qdrant.Vectors{
			VectorsOptions: &qdrant.Vectors_Vectors{
				Vectors: &qdrant.NamedVectors{Vectors: vectors},
			},
		},
		Payload: qdrant.NewValueMap(payload),
	}, nil
}
