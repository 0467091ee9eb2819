package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/medical-decision-assistant/internal/domain"
)

// Defaults for the DashScope OpenAI-compatible endpoint.
const (
	DefaultBaseURL        = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	DefaultChatModel      = "qwen-plus-2025-07-28"
	DefaultEmbeddingModel = "text-embedding-v2"

	defaultRateLimit      = 5
	defaultRateBurst      = 10
	defaultBreakerFails   = 5
	defaultBreakerTimeout = 30 * time.Second
)

// ErrUpstreamUnavailable is returned while a circuit breaker is open.
var ErrUpstreamUnavailable = errors.New("model service unavailable (circuit breaker open)")

// OpenAIClient talks to an OpenAI-compatible API for embeddings and chat.
// It implements both Embedder and ChatModel.
type OpenAIClient struct {
	client       *openai.Client
	config       domain.LLMConfig
	limiter      *rate.Limiter
	chatBreaker  *gobreaker.CircuitBreaker
	embedBreaker *gobreaker.CircuitBreaker
	logger       *logrus.Logger
}

// NewOpenAIClient creates a client from config. The API key is required.
func NewOpenAIClient(config domain.LLMConfig, logger *logrus.Logger) (*OpenAIClient, error) {
	if config.APIKey == "" {
		return nil, errors.New("LLM API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = config.BaseURL
	if config.Timeout > 0 {
		clientConfig.HTTPClient = &http.Client{Timeout: config.Timeout}
	}

	return NewOpenAIClientWithClient(openai.NewClientWithConfig(clientConfig), config, logger), nil
}

// NewOpenAIClientWithClient wraps an existing go-openai client.
func NewOpenAIClientWithClient(client *openai.Client, config domain.LLMConfig, logger *logrus.Logger) *OpenAIClient {
	if logger == nil {
		logger = logrus.New()
	}
	if config.Model == "" {
		config.Model = DefaultChatModel
	}
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = DefaultEmbeddingModel
	}
	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.RateBurst <= 0 {
		config.RateBurst = defaultRateBurst
	}
	if config.BreakerFails == 0 {
		config.BreakerFails = defaultBreakerFails
	}
	if config.BreakerTimeout <= 0 {
		config.BreakerTimeout = defaultBreakerTimeout
	}

	return &OpenAIClient{
		client:       client,
		config:       config,
		limiter:      rate.NewLimiter(rate.Limit(config.RateLimit), config.RateBurst),
		chatBreaker:  newBreaker("chat", config, logger),
		embedBreaker: newBreaker("embeddings", config, logger),
		logger:       logger,
	}
}

func newBreaker(name string, config domain.LLMConfig, logger *logrus.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerFails
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
}

// breakerRejected reports whether err means the breaker refused the call.
func breakerRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Embed implements Embedder.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	result, err := c.embedBreaker.Execute(func() (interface{}, error) {
		return c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(c.config.EmbeddingModel),
		})
	})
	if err != nil {
		if breakerRejected(err) {
			return nil, ErrUpstreamUnavailable
		}
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}

	resp := result.(openai.EmbeddingResponse)
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding response contained no data")
	}

	raw := resp.Data[0].Embedding
	vec := make([]float64, len(raw))
	for i, v := range raw {
		vec[i] = float64(v)
	}
	return vec, nil
}

// Stream implements ChatModel.
func (c *OpenAIClient) Stream(ctx context.Context, messages []Message) (TokenStream, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	chat := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		chat = append(chat, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	result, err := c.chatBreaker.Execute(func() (interface{}, error) {
		return c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
			Model:       c.config.Model,
			Messages:    chat,
			Temperature: c.config.Temperature,
			MaxTokens:   c.config.MaxTokens,
			Stream:      true,
		})
	})
	if err != nil {
		if breakerRejected(err) {
			return nil, ErrUpstreamUnavailable
		}
		return nil, fmt.Errorf("chat completion request failed: %w", err)
	}

	return &openAIStream{stream: result.(*openai.ChatCompletionStream)}, nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Next(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("chat stream failed: %w", err)
		}

		// usage and keep-alive chunks carry no text
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (s *openAIStream) Close() error {
	s.stream.Close()
	return nil
}
