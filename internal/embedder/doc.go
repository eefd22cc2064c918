// Package embedder turns context text into fixed-length vectors.
//
// Four providers implement the Embedder interface:
//
//   - openai: OpenAI embeddings API, dimension requested explicitly
//   - jina: Jina AI embeddings API (same wire format, up to 1024 dimensions)
//   - ollama: a local Ollama server over HTTP
//   - local: offline signed feature hashing, deterministic, used in tests
//
// Remote providers retry transient failures (network, 429, 5xx) with
// exponential backoff and cache results in an LRU keyed by the SHA-256 of
// model and text.
//
// # Service
//
// Callers go through Service, which pins the deployment dimension:
//
//	svc, err := embedder.NewServiceFromConfig(cfg)
//	if err != nil {
//	    return err
//	}
//	vec, err := svc.GenerateEmbedding(ctx, content)
//
// Text longer than the configured cap is truncated before embedding. A
// provider whose declared dimension differs from the deployment's is rejected
// by NewService, and any vector of the wrong length returns
// types.ErrDimensionMismatch. Vectors are never padded or truncated.
//
// # Provider selection
//
// DetectProvider picks, in order: DEVMEMORY_EMBEDDING_PROVIDER, OpenAI when
// OPENAI_API_KEY is set, Jina when JINA_API_KEY is set, then local.
package embedder
