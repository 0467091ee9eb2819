package rag

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/medical-decision-assistant/internal/domain"
)

// OpenEngine wires the OpenAI-compatible client, the embedding cache and the
// on-disk index at indexPath into a QueryEngine.
func OpenEngine(llm domain.LLMConfig, indexPath string, embeddingCache int, opts EngineOptions, logger *logrus.Logger) (*QueryEngine, error) {
	client, err := NewOpenAIClient(llm, logger)
	if err != nil {
		return nil, err
	}

	index, err := LoadIndex(indexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load index %s: %w", indexPath, err)
	}

	var embedder Embedder = client
	if embeddingCache > 0 {
		cached, err := NewCachedEmbedder(client, embeddingCache)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding cache: %w", err)
		}
		embedder = cached
	}

	return NewQueryEngine(NewVectorRetriever(embedder, index), client, nil, opts, logger)
}
