// Copyright 2026 The Mila Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"github.com/mila-ai/mila/pkg/config"
	milaerrors "github.com/mila-ai/mila/pkg/errors"
)

// QdrantProvider implements Provider against a Qdrant collection.
type QdrantProvider struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantProvider creates a Qdrant-backed provider from config.
func NewQdrantProvider(cfg config.VectorConfig) (*QdrantProvider, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return &QdrantProvider{
		client:     client,
		collection: cfg.Collection,
	}, nil
}

// EnsureCollection creates the cosine collection if it does not exist.
func (p *QdrantProvider) EnsureCollection(ctx context.Context, dimension int) error {
	exists, err := p.client.CollectionExists(ctx, p.collection)
	if err != nil {
		return wrapQdrantErr("ensure_collection", err)
	}
	if exists {
		return nil
	}

	err = p.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: p.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return wrapQdrantErr("ensure_collection", err)
	}
	return nil
}

// Upsert writes one point keyed by entry id.
func (p *QdrantProvider) Upsert(ctx context.Context, id string, vec []float32, payload Payload) error {
	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(id),
		Vectors: qdrant.NewVectors(vec...),
		Payload: encodePayload(payload),
	}

	_, err := p.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: p.collection,
		Points:         []*qdrant.PointStruct{point},
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return wrapQdrantErr("upsert", err)
	}
	return nil
}

// Search runs a filtered cosine query.
func (p *QdrantProvider) Search(ctx context.Context, vec []float32, filter Filter, limit int) ([]SearchResult, error) {
	points, err := p.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: p.collection,
		Query:          qdrant.NewQuery(vec...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, wrapQdrantErr("search", err)
	}

	results := make([]SearchResult, 0, len(points))
	for _, point := range points {
		result := SearchResult{
			Score:   point.Score,
			Payload: decodePayload(point.Payload),
		}
		if point.Id != nil {
			if id := point.Id.GetUuid(); id != "" {
				result.ID = id
			} else {
				result.ID = fmt.Sprintf("%d", point.Id.GetNum())
			}
		}
		results = append(results, result)
	}
	return results, nil
}

// Delete removes one point by id.
func (p *QdrantProvider) Delete(ctx context.Context, id string) error {
	_, err := p.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: p.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: []*qdrant.PointId{qdrant.NewID(id)},
				},
			},
		},
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return wrapQdrantErr("delete", err)
	}
	return nil
}

// Close closes the underlying gRPC connection.
func (p *QdrantProvider) Close() error {
	return p.client.Close()
}

// buildFilter builds the must-conditions for tenant and optional category.
func buildFilter(filter Filter) *qdrant.Filter {
	conditions := []*qdrant.Condition{
		qdrant.NewMatch("tenant_id", filter.TenantID),
	}
	if filter.Category != "" {
		conditions = append(conditions, qdrant.NewMatch("category", filter.Category))
	}
	return &qdrant.Filter{Must: conditions}
}

func encodePayload(payload Payload) map[string]*qdrant.Value {
	keywords := make([]any, len(payload.Keywords))
	for i, k := range payload.Keywords {
		keywords[i] = k
	}
	metadata := make(map[string]any, len(payload.Metadata))
	for k, v := range payload.Metadata {
		metadata[k] = v
	}

	return qdrant.NewValueMap(map[string]any{
		"entry_id":  payload.EntryID,
		"tenant_id": payload.TenantID,
		"title":     payload.Title,
		"category":  payload.Category,
		"content":   payload.Content,
		"keywords":  keywords,
		"metadata":  metadata,
	})
}

func decodePayload(values map[string]*qdrant.Value) Payload {
	payload := Payload{
		EntryID:  values["entry_id"].GetStringValue(),
		TenantID: values["tenant_id"].GetStringValue(),
		Title:    values["title"].GetStringValue(),
		Category: values["category"].GetStringValue(),
		Content:  values["content"].GetStringValue(),
	}

	if list := values["keywords"].GetListValue(); list != nil {
		for _, item := range list.Values {
			if s := item.GetStringValue(); s != "" {
				payload.Keywords = append(payload.Keywords, s)
			}
		}
	}
	if obj := values["metadata"].GetStructValue(); obj != nil {
		payload.Metadata = make(map[string]string, len(obj.Fields))
		for k, v := range obj.Fields {
			payload.Metadata[k] = v.GetStringValue()
		}
	}
	return payload
}

func wrapQdrantErr(op string, err error) error {
	retryable := true
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "dimension") || strings.Contains(msg, "schema") {
		retryable = false
	}
	return &milaerrors.VectorStoreError{Op: op, Retryable: retryable, Err: err}
}

var _ Provider = (*QdrantProvider)(nil)
