package embedding

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/vosbek/repoindex/internal/apperrors"
)

// MockProvider is an in-memory Provider for tests, grounded on the
// teacher's pkg/embedding/providers.MockProvider (failure-rate and
// fail-after-N-calls knobs), trimmed to this package's narrower
// Provider contract.
type MockProvider struct {
	mu         sync.Mutex
	name       string
	dims       int
	calls      int64
	failEvery  int // fail once every N calls, 0 disables
	failClass  apperrors.Class
	embedFn    func(texts []string) [][]float32
}

func NewMockProvider(name string, dims int) *MockProvider {
	return &MockProvider{name: name, dims: dims}
}

// FailEveryNCalls makes the Nth, 2Nth, ... call return a classified
// error instead of embeddings.
func (m *MockProvider) FailEveryNCalls(n int, class apperrors.Class) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failEvery = n
	m.failClass = class
	return m
}

func (m *MockProvider) Name() string         { return m.name }
func (m *MockProvider) Dimensions(string) int { return m.dims }
func (m *MockProvider) Close() error          { return nil }

func (m *MockProvider) EmbedBatch(ctx context.Context, texts []string, modelID string) ([][]float32, error) {
	call := atomic.AddInt64(&m.calls, 1)

	m.mu.Lock()
	failEvery := m.failEvery
	failClass := m.failClass
	fn := m.embedFn
	m.mu.Unlock()

	if failEvery > 0 && call%int64(failEvery) == 0 {
		return nil, apperrors.New(failClass, m.name, "mock provider injected failure", nil)
	}

	if fn != nil {
		return fn(texts), nil
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, m.dims)
		for d := 0; d < m.dims; d++ {
			vec[d] = float32(len(t)%7) + float32(d)*0.01
		}
		out[i] = vec
	}
	return out, nil
}
