package store

import (
	"context"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	apperrors "github.com/memsearch/mem-search/internal/pkg/errors"
)

// CreateCollection creates a collection with the named dense vectors, the
// sparse vector, and optionally the colbert multi-vector declared by cfg.
// Creating an already-existing collection is a no-op.
func (c *Client) CreateCollection(ctx context.Context, cfg CollectionConfig) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return apperrors.New(apperrors.CodeUnavailable, "store client is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	name := c.collectionName(cfg.Name)

	exists, err := c.collectionExists(ctx, name)
	if err != nil {
		return storeErr("failed to check collection existence", err)
	}
	if exists {
		return nil
	}

	denseParams := make(map[string]*qdrant.VectorParams)
	if cfg.TextDenseSize > 0 {
		denseParams[VectorTextDense] = &qdrant.VectorParams{
			Size:     cfg.TextDenseSize,
			Distance: qdrant.Distance_Cosine,
		}
	}
	if cfg.CodeDenseSize > 0 {
		denseParams[VectorCodeDense] = &qdrant.VectorParams{
			Size:     cfg.CodeDenseSize,
			Distance: qdrant.Distance_Cosine,
		}
	}
	if cfg.ColbertSize > 0 {
		denseParams[VectorColbert] = &qdrant.VectorParams{
			Size:     cfg.ColbertSize,
			Distance: qdrant.Distance_Cosine,
			MultivectorConfig: &qdrant.MultiVectorConfig{
				Comparator: qdrant.MultiVectorComparator_MaxSim,
			},
		}
	}

	err = c.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig:  qdrant.NewVectorsConfigMap(denseParams),
		SparseVectorsConfig: &qdrant.SparseVectorConfig{
			Map: map[string]*qdrant.SparseVectorParams{
				VectorSparse: {
					Index: &qdrant.SparseIndexConfig{
						OnDisk: qdrant.PtrOf(false),
					},
				},
			},
		},
		OnDiskPayload: qdrant.PtrOf(cfg.OnDiskPayload),
	})
	if err != nil {
		return storeErr("failed to create collection "+cfg.Name, err)
	}

	if err := c.createPayloadIndexes(ctx, name); err != nil {
		return err
	}

	return nil
}

// createPayloadIndexes creates indexes on payload fields used by filters.
func (c *Client) createPayloadIndexes(ctx context.Context, collectionName string) error {
	indexes := []struct {
		field  string
		schema qdrant.FieldType
	}{
		{"org_id", qdrant.FieldType_FieldTypeKeyword},
		{"session_id", qdrant.FieldType_FieldTypeKeyword},
		{"type", qdrant.FieldType_FieldTypeKeyword},
		{"created_at_ms", qdrant.FieldType_FieldTypeInteger},
		{"vt_end_ms", qdrant.FieldType_FieldTypeInteger},
	}

	for _, idx := range indexes {
		_, err := c.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collectionName,
			FieldName:      idx.field,
			FieldType:      qdrant.PtrOf(idx.schema),
		})
		if err != nil {
			// Index might already exist, which is fine
			if !strings.Contains(err.Error(), "already exists") {
				return storeErr("failed to create index on "+idx.field, err)
			}
		}
	}

	return nil
}

// DeleteCollection deletes a collection.
func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return apperrors.New(apperrors.CodeUnavailable, "store client is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if err := c.client.DeleteCollection(ctx, c.collectionName(name)); err != nil {
		return storeErr("failed to delete collection "+name, err)
	}

	return nil
}

// ListCollections returns all collections owned by this service (without prefix).
func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, apperrors.New(apperrors.CodeUnavailable, "store client is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	collections, err := c.client.ListCollections(ctx)
	if err != nil {
		return nil, storeErr("failed to list collections", err)
	}

	var result []string
	for _, col := range collections {
		if strings.HasPrefix(col, c.config.Prefix) {
			result = append(result, strings.TrimPrefix(col, c.config.Prefix))
		}
	}

	return result, nil
}

// GetCollectionInfo returns information about a collection.
func (c *Client) GetCollectionInfo(ctx context.Context, name string) (*CollectionInfo, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, apperrors.New(apperrors.CodeUnavailable, "store client is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	info, err := c.client.GetCollectionInfo(ctx, c.collectionName(name))
	if err != nil {
		return nil, storeErr("failed to get collection info for "+name, err)
	}

	statusStr := "unknown"
	switch info.Status {
	case qdrant.CollectionStatus_Green:
		statusStr = "green"
	case qdrant.CollectionStatus_Yellow:
		statusStr = "yellow"
	case qdrant.CollectionStatus_Red:
		statusStr = "red"
	}

	var pointsCount uint64
	if info.PointsCount != nil {
		pointsCount = *info.PointsCount
	}

	return &CollectionInfo{
		Name:        name,
		PointsCount: pointsCount,
		Status:      statusStr,
	}, nil
}

// CollectionExists checks if a collection exists.
func (c *Client) CollectionExists(ctx context.Context, name string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false, apperrors.New(apperrors.CodeUnavailable, "store client is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	return c.collectionExists(ctx, c.collectionName(name))
}

// collectionExists is the internal helper (expects full collection name).
func (c *Client) collectionExists(ctx context.Context, fullName string) (bool, error) {
	collections, err := c.client.ListCollections(ctx)
	if err != nil {
		return false, err
	}

	for _, col := range collections {
		if col == fullName {
			return true, nil
		}
	}

	return false, nil
}
