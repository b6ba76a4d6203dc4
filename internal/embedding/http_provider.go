package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vosbek/repoindex/internal/apperrors"
)

// HTTPProviderConfig configures an HTTPProvider, ported from the
// teacher's providers.ProviderConfig (pkg/embedding/providers/provider_interface.go)
// trimmed to the fields a generic OpenAI-shaped embeddings endpoint needs.
type HTTPProviderConfig struct {
	Name           string
	Endpoint       string // e.g. https://api.openai.com/v1/embeddings
	APIKey         string
	RequestTimeout time.Duration
	ModelDimensions map[string]int
}

// HTTPProvider is a generic HTTP JSON embeddings client, grounded on
// the teacher's OpenAIProvider request/response shape
// (pkg/embedding/providers/openai_provider.go) but stripped of retry
// and model-catalog bookkeeping — those concerns belong to
// internal/resilience and to the caller (Service), which wraps every
// Provider uniformly instead of duplicating retry logic per provider.
type HTTPProvider struct {
	cfg        HTTPProviderConfig
	httpClient *http.Client
}

func NewHTTPProvider(cfg HTTPProviderConfig) *HTTPProvider {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &HTTPProvider{cfg: cfg, httpClient: &http.Client{Timeout: cfg.RequestTimeout}}
}

func (p *HTTPProvider) Name() string { return p.cfg.Name }

func (p *HTTPProvider) Dimensions(modelID string) int {
	if p.cfg.ModelDimensions == nil {
		return 0
	}
	return p.cfg.ModelDimensions[modelID]
}

func (p *HTTPProvider) Close() error { return nil }

type embedRequest struct {
	Input interface{} `json:"input"`
	Model string      `json:"model"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

type embedErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// EmbedBatch performs one HTTP round trip for the whole batch. The
// caller (Service) owns retry, circuit breaking and rate limiting;
// this method's only job is to classify the HTTP outcome into the
// apperrors taxonomy so Service can decide what to do with it.
func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string, modelID string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Input: texts, Model: modelID})
	if err != nil {
		return nil, apperrors.New(apperrors.ClassInvalidInput, p.cfg.Name, "encoding embed request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.New(apperrors.ClassInvalidInput, p.cfg.Name, "building embed request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.New(apperrors.ClassTransientTransport, p.cfg.Name, "embed request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.New(apperrors.ClassTransientTransport, p.cfg.Name, "reading embed response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperrors.New(apperrors.ClassTransientThrottled, p.cfg.Name, "provider throttled the request", parseProviderError(raw))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperrors.New(apperrors.ClassPermanentAuthorization, p.cfg.Name, "provider rejected credentials", parseProviderError(raw))
	case resp.StatusCode >= 500:
		return nil, apperrors.New(apperrors.ClassTransientTransport, p.cfg.Name, "provider returned server error", parseProviderError(raw))
	case resp.StatusCode >= 400:
		return nil, apperrors.New(apperrors.ClassInvalidInput, p.cfg.Name, "provider rejected request", parseProviderError(raw))
	}

	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apperrors.New(apperrors.ClassTransientTransport, p.cfg.Name, "decoding embed response", err)
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func parseProviderError(raw []byte) error {
	var e embedErrorResponse
	if err := json.Unmarshal(raw, &e); err != nil || e.Error.Message == "" {
		return fmt.Errorf("provider error: %s", string(raw))
	}
	return fmt.Errorf("%s: %s", e.Error.Type, e.Error.Message)
}
