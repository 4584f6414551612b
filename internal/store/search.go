package store

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	apperrors "github.com/memsearch/mem-search/internal/pkg/errors"
)

// Searcher is the query-side capability consumed by the retrievers. The
// concrete Client implements it; tests substitute fakes.
type Searcher interface {
	DenseSearch(ctx context.Context, collection string, req SearchRequest) ([]SearchResult, error)
	SparseSearch(ctx context.Context, collection string, req SearchRequest) ([]SearchResult, error)
}

// DenseSearch executes a search against one named dense vector.
func (c *Client) DenseSearch(ctx context.Context, collection string, req SearchRequest) ([]SearchResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, apperrors.New(apperrors.CodeUnavailable, "store client is closed")
	}

	if len(req.Dense) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidRequest, "dense vector is required")
	}

	using := req.Using
	if using == "" {
		using = VectorTextDense
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	queryPoints := &qdrant.QueryPoints{
		CollectionName: c.collectionName(collection),
		Query:          qdrant.NewQueryDense(req.Dense),
		Using:          qdrant.PtrOf(using),
		Limit:          qdrant.PtrOf(searchLimit(req.Limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	if req.Filter != nil {
		queryPoints.Filter = buildFilter(req.Filter)
	}
	if req.ScoreThreshold != nil {
		queryPoints.ScoreThreshold = req.ScoreThreshold
	}

	results, err := c.client.Query(ctx, queryPoints)
	if err != nil {
		return nil, storeErr("dense search failed", err)
	}

	return scoredPointsToResults(results), nil
}

// SparseSearch executes a search against the sparse vector.
func (c *Client) SparseSearch(ctx context.Context, collection string, req SearchRequest) ([]SearchResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, apperrors.New(apperrors.CodeUnavailable, "store client is closed")
	}

	if req.Sparse == nil || len(req.Sparse.Indices) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidRequest, "sparse vector is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	queryPoints := &qdrant.QueryPoints{
		CollectionName: c.collectionName(collection),
		Query:          qdrant.NewQuerySparse(req.Sparse.Indices, req.Sparse.Values),
		Using:          qdrant.PtrOf(VectorSparse),
		Limit:          qdrant.PtrOf(searchLimit(req.Limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	}

	if req.Filter != nil {
		queryPoints.Filter = buildFilter(req.Filter)
	}
	if req.ScoreThreshold != nil {
		queryPoints.ScoreThreshold = req.ScoreThreshold
	}

	results, err := c.client.Query(ctx, queryPoints)
	if err != nil {
		return nil, storeErr("sparse search failed", err)
	}

	return scoredPointsToResults(results), nil
}

func searchLimit(limit uint64) uint64 {
	if limit == 0 {
		return 20
	}
	return limit
}

// buildFilter builds a Qdrant filter from Filter.
func buildFilter(f *Filter) *qdrant.Filter {
	if f == nil {
		return nil
	}

	var conditions []*qdrant.Condition

	if f.OrgID != "" {
		conditions = append(conditions, keywordCondition("org_id", f.OrgID))
	}
	if f.SessionID != "" {
		conditions = append(conditions, keywordCondition("session_id", f.SessionID))
	}
	if f.Type != "" {
		conditions = append(conditions, keywordCondition("type", f.Type))
	}

	if f.TimeStartMs != 0 || f.TimeEndMs != 0 {
		r := &qdrant.Range{}
		if f.TimeStartMs != 0 {
			r.Gte = qdrant.PtrOf(float64(f.TimeStartMs))
		}
		if f.TimeEndMs != 0 {
			r.Lte = qdrant.PtrOf(float64(f.TimeEndMs))
		}
		conditions = append(conditions, rangeCondition("created_at_ms", r))
	}

	if f.VTEndAfterMs != 0 {
		conditions = append(conditions, rangeCondition("vt_end_ms", &qdrant.Range{
			Gte: qdrant.PtrOf(float64(f.VTEndAfterMs)),
		}))
	}

	if len(conditions) == 0 {
		return nil
	}

	return &qdrant.Filter{
		Must: conditions,
	}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: key,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{
						Keyword: value,
					},
				},
			},
		},
	}
}

func rangeCondition(key string, r *qdrant.Range) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Range: r,
			},
		},
	}
}

// scoredPointsToResults converts Qdrant scored points to SearchResults.
func scoredPointsToResults(points []*qdrant.ScoredPoint) []SearchResult {
	results := make([]SearchResult, 0, len(points))

	for _, p := range points {
		var id string
		switch v := p.Id.PointIdOptions.(type) {
		case *qdrant.PointId_Uuid:
			id = v.Uuid
		case *qdrant.PointId_Num:
			id = fmt.Sprintf("%d", v.Num)
		}

		results = append(results, SearchResult{
			ID:      id,
			Score:   p.Score,
			Payload: extractPayload(p.Payload),
		})
	}

	return results
}

// extractPayload extracts Payload from a Qdrant payload map.
func extractPayload(payload map[string]*qdrant.Value) Payload {
	result := Payload{}

	if v := getStringValue(payload, "content"); v != "" {
		result.Content = v
	}
	if v := getStringValue(payload, "org_id"); v != "" {
		result.OrgID = v
	}
	if v := getStringValue(payload, "session_id"); v != "" {
		result.SessionID = v
	}
	if v := getStringValue(payload, "type"); v != "" {
		result.Type = v
	}
	if v := getStringValue(payload, "summary"); v != "" {
		result.Summary = v
	}
	if v := getIntValue(payload, "created_at_ms"); v != 0 {
		result.CreatedAtMs = v
	}
	if v := getIntValue(payload, "vt_end_ms"); v != 0 {
		result.VTEndMs = v
	}
	if v := getStringSliceValue(payload, "topics"); len(v) > 0 {
		result.Topics = v
	}
	if v := getStringSliceValue(payload, "entities"); len(v) > 0 {
		result.Entities = v
	}

	known := map[string]bool{
		"content": true, "org_id": true, "session_id": true, "type": true,
		"summary": true, "created_at_ms": true, "vt_end_ms": true,
		"topics": true, "entities": true,
	}
	for key, val := range payload {
		if known[key] {
			continue
		}
		if result.Metadata == nil {
			result.Metadata = make(map[string]any)
		}
		result.Metadata[key] = anyValue(val)
	}

	return result
}

// Helper functions to extract values from a Qdrant payload.

func getStringValue(payload map[string]*qdrant.Value, key string) string {
	if v, ok := payload[key]; ok {
		if sv, ok := v.Kind.(*qdrant.Value_StringValue); ok {
			return sv.StringValue
		}
	}
	return ""
}

func getIntValue(payload map[string]*qdrant.Value, key string) int64 {
	if v, ok := payload[key]; ok {
		if iv, ok := v.Kind.(*qdrant.Value_IntegerValue); ok {
			return iv.IntegerValue
		}
	}
	return 0
}

func getStringSliceValue(payload map[string]*qdrant.Value, key string) []string {
	if v, ok := payload[key]; ok {
		if lv, ok := v.Kind.(*qdrant.Value_ListValue); ok {
			result := make([]string, 0, len(lv.ListValue.Values))
			for _, item := range lv.ListValue.Values {
				if sv, ok := item.Kind.(*qdrant.Value_StringValue); ok {
					result = append(result, sv.StringValue)
				}
			}
			return result
		}
	}
	return nil
}

func anyValue(v *qdrant.Value) any {
	switch kind := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	default:
		return nil
	}
}
