package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Provider configuration
const (
	ProviderJina   = "jina"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderLocal  = "local"

	// Default models
	DefaultJinaModel   = "jina-embeddings-v3"
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultOllamaModel = "nomic-embed-text"

	// Default endpoints
	DefaultJinaURL   = "https://api.jina.ai/v1/embeddings"
	DefaultOpenAIURL = "https://api.openai.com/v1/embeddings"
	DefaultOllamaURL = "http://localhost:11434"

	// Native dimensions, used when none is configured
	JinaDimension   = 1024
	OpenAIDimension = 1536
	OllamaDimension = 768

	// Batch limits
	DefaultBatchSize = 50
	MaxBatchSize     = 100

	// Retry configuration
	MaxRetries        = 3
	InitialBackoffMs  = 100
	MaxBackoffMs      = 5000
	BackoffMultiplier = 2.0

	defaultHTTPTimeout = 30 * time.Second
)

// RemoteOptions configures an HTTP embedding provider
type RemoteOptions struct {
	APIKey    string
	BaseURL   string // Full endpoint for OpenAI/Jina, server root for Ollama
	Model     string
	Dimension int
	Timeout   time.Duration
	Retry     *RetryConfig
}

// remoteProvider speaks the OpenAI embeddings wire format, which Jina also accepts
type remoteProvider struct {
	name       string
	endpoint   string
	apiKey     string
	model      string
	dimension  int
	httpClient *http.Client
	cache      *Cache
	retry      RetryConfig
}

func newRemoteProvider(name, defaultURL, defaultModel string, defaultDim int, opts RemoteOptions, cache *Cache) *remoteProvider {
	p := &remoteProvider{
		name:       name,
		endpoint:   opts.BaseURL,
		apiKey:     opts.APIKey,
		model:      opts.Model,
		dimension:  opts.Dimension,
		httpClient: &http.Client{Timeout: opts.Timeout},
		cache:      cache,
		retry:      DefaultRetryConfig(),
	}
	if p.endpoint == "" {
		p.endpoint = defaultURL
	}
	if p.model == "" {
		p.model = defaultModel
	}
	if p.dimension <= 0 {
		p.dimension = defaultDim
	}
	if p.httpClient.Timeout <= 0 {
		p.httpClient.Timeout = defaultHTTPTimeout
	}
	if opts.Retry != nil {
		p.retry = *opts.Retry
	}
	return p
}

// OpenAIProvider implements Embedder using the OpenAI embeddings API.
// The configured dimension is requested through the "dimensions" parameter.
type OpenAIProvider struct {
	*remoteProvider
}

// NewOpenAIProvider creates an OpenAI embedder
func NewOpenAIProvider(opts RemoteOptions, cache *Cache) (*OpenAIProvider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY not set", ErrNoProviderEnabled)
	}
	return &OpenAIProvider{
		remoteProvider: newRemoteProvider(ProviderOpenAI, DefaultOpenAIURL, DefaultOpenAIModel, OpenAIDimension, opts, cache),
	}, nil
}

// JinaProvider implements Embedder using the Jina AI embeddings API
type JinaProvider struct {
	*remoteProvider
}

// NewJinaProvider creates a Jina AI embedder. Jina v3 supports up to 1024 dimensions.
func NewJinaProvider(opts RemoteOptions, cache *Cache) (*JinaProvider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: JINA_API_KEY not set", ErrNoProviderEnabled)
	}
	if opts.Dimension > JinaDimension {
		return nil, fmt.Errorf("%w: %s supports at most %d dimensions, %d configured",
			ErrUnsupportedModel, DefaultJinaModel, JinaDimension, opts.Dimension)
	}
	return &JinaProvider{
		remoteProvider: newRemoteProvider(ProviderJina, DefaultJinaURL, DefaultJinaModel, JinaDimension, opts, cache),
	}, nil
}

func (r *remoteProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	model := r.modelFor(req.Model)
	if emb, ok := r.cache.Get(ComputeHash(model, req.Text)); ok {
		return emb, nil
	}

	resp, err := r.GenerateBatch(ctx, BatchEmbeddingRequest{
		Texts: []string{req.Text},
		Model: req.Model,
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}

	return resp.Embeddings[0], nil
}

func (r *remoteProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	if len(req.Texts) > MaxBatchSize {
		return nil, fmt.Errorf("%w: max %d texts allowed", ErrBatchTooLarge, MaxBatchSize)
	}

	model := r.modelFor(req.Model)

	embeddings, err := retryWithBackoff(ctx, r.retry, func() ([]*Embedding, error) {
		return r.callAPI(ctx, req.Texts, model)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProviderFailed, r.name, err)
	}
	if len(embeddings) != len(req.Texts) {
		return nil, fmt.Errorf("%w: %s returned %d embeddings for %d texts", ErrProviderFailed, r.name, len(embeddings), len(req.Texts))
	}

	for i, emb := range embeddings {
		emb.Hash = ComputeHash(model, req.Texts[i])
		r.cache.Set(emb.Hash, emb)
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   r.name,
		Model:      model,
	}, nil
}

func (r *remoteProvider) callAPI(ctx context.Context, texts []string, model string) ([]*Embedding, error) {
	reqBody := map[string]interface{}{
		"input":      texts,
		"model":      model,
		"dimensions": r.dimension,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, permanent(fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, permanent(fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError(resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Model string `json:"model"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// The API may answer out of order; index is authoritative
	sort.Slice(apiResp.Data, func(i, j int) bool {
		return apiResp.Data[i].Index < apiResp.Data[j].Index
	})

	respModel := apiResp.Model
	if respModel == "" {
		respModel = model
	}

	embeddings := make([]*Embedding, len(apiResp.Data))
	for i, data := range apiResp.Data {
		embeddings[i] = &Embedding{
			Vector:    data.Embedding,
			Dimension: len(data.Embedding),
			Provider:  r.name,
			Model:     respModel,
		}
	}

	return embeddings, nil
}

func (r *remoteProvider) modelFor(override string) string {
	if override != "" {
		return override
	}
	return r.model
}

func (r *remoteProvider) Dimension() int {
	return r.dimension
}

func (r *remoteProvider) Provider() string {
	return r.name
}

func (r *remoteProvider) Model() string {
	return r.model
}

func (r *remoteProvider) Close() error {
	r.httpClient.CloseIdleConnections()
	return nil
}

// OllamaProvider implements Embedder against a local Ollama server.
// Ollama has no dimension parameter, so the configured dimension is a
// declaration that the service checks against every returned vector.
type OllamaProvider struct {
	baseURL    string
	model      string
	dimension  int
	httpClient *http.Client
	cache      *Cache
	retry      RetryConfig
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaProvider creates an Ollama embedder
func NewOllamaProvider(opts RemoteOptions, cache *Cache) *OllamaProvider {
	p := &OllamaProvider{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		dimension:  opts.Dimension,
		httpClient: &http.Client{Timeout: opts.Timeout},
		cache:      cache,
		retry:      DefaultRetryConfig(),
	}
	if p.baseURL == "" {
		p.baseURL = DefaultOllamaURL
	}
	if p.model == "" {
		p.model = DefaultOllamaModel
	}
	if p.dimension <= 0 {
		p.dimension = OllamaDimension
	}
	if p.httpClient.Timeout <= 0 {
		p.httpClient.Timeout = defaultHTTPTimeout
	}
	if opts.Retry != nil {
		p.retry = *opts.Retry
	}
	return p
}

func (o *OllamaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	model := o.model
	if req.Model != "" {
		model = req.Model
	}

	hash := ComputeHash(model, req.Text)
	if emb, ok := o.cache.Get(hash); ok {
		return emb, nil
	}

	vector, err := retryWithBackoff(ctx, o.retry, func() ([]float32, error) {
		return o.callAPI(ctx, req.Text, model)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrProviderFailed, ProviderOllama, err)
	}

	emb := &Embedding{
		Vector:    vector,
		Dimension: len(vector),
		Provider:  ProviderOllama,
		Model:     model,
		Hash:      hash,
	}
	o.cache.Set(hash, emb)
	return emb, nil
}

func (o *OllamaProvider) callAPI(ctx context.Context, text, model string) ([]float32, error) {
	body, err := json.Marshal(ollamaRequest{Model: model, Prompt: text})
	if err != nil {
		return nil, permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api call: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError(resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding for model %s", model)
	}
	return out.Embedding, nil
}

// GenerateBatch embeds texts one by one; the endpoint takes a single prompt
func (o *OllamaProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := o.GenerateEmbedding(ctx, EmbeddingRequest{Text: text, Model: req.Model})
		if err != nil {
			return nil, fmt.Errorf("embedding text %d: %w", i, err)
		}
		embeddings[i] = emb
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderOllama,
		Model:      o.model,
	}, nil
}

func (o *OllamaProvider) Dimension() int {
	return o.dimension
}

func (o *OllamaProvider) Provider() string {
	return ProviderOllama
}

func (o *OllamaProvider) Model() string {
	return o.model
}

func (o *OllamaProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}
