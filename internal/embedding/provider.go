// Package embedding implements the EmbeddingProvider component of
// spec.md §4.C: a bounded-concurrency, circuit-broken, rate-limited,
// retrying, cache-aware client to a remote embedding service.
package embedding

import "context"

// Provider is the remote embedding backend contract: embed(texts,
// model_id) -> vectors, same length and order as input. Modeled on
// the teacher's pkg/embedding/providers.Provider, trimmed to the
// single batch operation this spec actually drives (the indexer never
// needs GetSupportedModels/HealthCheck as a public surface — those
// become provider-internal concerns here).
type Provider interface {
	Name() string
	EmbedBatch(ctx context.Context, texts []string, modelID string) ([][]float32, error)
	Dimensions(modelID string) int
	Close() error
}
