package weaviate

import (
	"context"
	"fmt"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"regsearch/internal/index"
	"regsearch/internal/retrieval"
	"regsearch/internal/vector"
)

type Store struct {
	client *weaviate.Client
}

func NewStore(client *weaviate.Client) *Store {
	return &Store{client: client}
}

// chunkID derives a stable object ID from the chunk identity
// (source id + sequence index), so re-upserting an unchanged or re-embedded
// chunk overwrites in place instead of duplicating.
func chunkID(sourceID string, chunkIndex int) strfmt.UUID {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s#%d", sourceID, chunkIndex)))
	return strfmt.UUID(id.String())
}

func (s *Store) UpsertChunks(ctx context.Context, chunks []index.IndexedChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	objects := make([]*models.Object, 0, len(chunks))
	for _, c := range chunks {
		objects = append(objects, &models.Object{
			Class: vector.ClassName,
			ID:    chunkID(c.SourceID, c.ChunkIndex),
			Properties: map[string]interface{}{
				"content":     c.Content,
				"sourceId":    c.SourceID,
				"chunkIndex":  c.ChunkIndex,
				"contentHash": c.ContentHash,
				"startOffset": c.StartOffset,
				"endOffset":   c.EndOffset,
				"displayName": c.DisplayName,
				"provenance":  c.Provenance,
			},
			Vector: models.C11yVector(c.Vector),
		})
	}

	res, err := s.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return err
	}
	for _, r := range res {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("batch upsert: %s", r.Result.Errors.Error[0].Message)
		}
	}
	return nil
}

// DeleteSource removes every vector belonging to a source. Used when a
// source is disabled or dropped from the registry.
func (s *Store) DeleteSource(ctx context.Context, sourceID string) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassName).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithPath([]string{"sourceId"}).
			WithOperator(filters.Equal).
			WithValueString(sourceID)).
		Do(ctx)
	return err
}

// DeleteFromIndex removes a source's vectors with chunkIndex >= fromIndex.
// A rebuild calls this with the new chunk count so a document that shrank
// leaves no stale tail behind.
func (s *Store) DeleteFromIndex(ctx context.Context, sourceID string, fromIndex int) error {
	_, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(vector.ClassName).
		WithOutput("minimal").
		WithWhere(filters.Where().
			WithOperator(filters.And).
			WithOperands([]*filters.WhereBuilder{
				filters.Where().
					WithPath([]string{"sourceId"}).
					WithOperator(filters.Equal).
					WithValueString(sourceID),
				filters.Where().
					WithPath([]string{"chunkIndex"}).
					WithOperator(filters.GreaterThanEqual).
					WithValueInt(int64(fromIndex)),
			})).
		Do(ctx)
	return err
}

// Query runs a nearVector search restricted to the given source IDs.
// Results below minCertainty are excluded by the store itself.
func (s *Store) Query(ctx context.Context, vec []float32, limit int, sourceIDs []string, minCertainty float32) ([]retrieval.ScoredChunk, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vec).
		WithCertainty(minCertainty)

	where := filters.Where().
		WithPath([]string{"sourceId"}).
		WithOperator(filters.ContainsAny).
		WithValueText(sourceIDs...)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "sourceId"},
		{Name: "chunkIndex"},
		{Name: "startOffset"},
		{Name: "endOffset"},
		{Name: "displayName"},
		{Name: "provenance"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	res, err := s.client.GraphQL().Get().
		WithClassName(vector.ClassName).
		WithNearVector(nearVector).
		WithWhere(where).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	if len(res.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	var results []retrieval.ScoredChunk
	data, ok := res.Data["Get"].(map[string]interface{})
	if !ok {
		return results, nil
	}
	rows, ok := data[vector.ClassName].([]interface{})
	if !ok {
		return results, nil
	}

	for _, row := range rows {
		props, ok := row.(map[string]interface{})
		if !ok {
			continue
		}

		var sc retrieval.ScoredChunk
		if content, ok := props["content"].(string); ok {
			sc.Content = content
		}
		if sourceID, ok := props["sourceId"].(string); ok {
			sc.SourceID = sourceID
		}
		if idx, ok := props["chunkIndex"].(float64); ok {
			sc.ChunkIndex = int(idx)
		}
		if off, ok := props["startOffset"].(float64); ok {
			sc.StartOffset = int(off)
		}
		if off, ok := props["endOffset"].(float64); ok {
			sc.EndOffset = int(off)
		}
		if name, ok := props["displayName"].(string); ok {
			sc.DisplayName = name
		}
		if prov, ok := props["provenance"].(string); ok {
			sc.Provenance = prov
		}
		if additional, ok := props["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				sc.Certainty = float32(certainty)
			}
		}

		results = append(results, sc)
	}

	return results, nil
}

// CountChunks reports the total number of indexed vectors.
func (s *Store) CountChunks(ctx context.Context) (int, error) {
	res, err := s.client.GraphQL().Aggregate().
		WithClassName(vector.ClassName).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(res.Errors) > 0 {
		return 0, fmt.Errorf("graphql error: %v", res.Errors[0].Message)
	}

	agg, ok := res.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("unexpected aggregate response")
	}
	rows, ok := agg[vector.ClassName].([]interface{})
	if !ok || len(rows) == 0 {
		return 0, nil
	}
	meta, ok := rows[0].(map[string]interface{})["meta"].(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("unexpected aggregate response")
	}
	count, _ := meta["count"].(float64)
	return int(count), nil
}
