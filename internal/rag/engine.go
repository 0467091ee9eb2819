package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medical-decision-assistant/internal/domain"
)

const (
	// DefaultTopK is the number of passages retrieved per question.
	DefaultTopK = 5

	// RoleUser is the chat role used for rendered prompts.
	RoleUser = "user"
)

// Passage is a retrieved guideline chunk.
type Passage struct {
	ID     string  `json:"id"`
	Text   string  `json:"text"`
	Source string  `json:"source"`
	Page   string  `json:"page,omitempty"`
	Score  float64 `json:"score"`
}

// Message is a single chat message sent to the model.
type Message struct {
	Role    string
	Content string
}

// KV is an ordered context entry for QueryWithContext.
type KV struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Retriever returns the passages most relevant to a question.
type Retriever interface {
	Retrieve(ctx context.Context, question string, topK int) ([]Passage, error)
}

// TokenStream iterates over generated text. Next returns io.EOF once the
// stream is exhausted.
type TokenStream interface {
	Next(ctx context.Context) (string, error)
	Close() error
}

// ChatModel opens a streamed completion.
type ChatModel interface {
	Stream(ctx context.Context, messages []Message) (TokenStream, error)
}

// AnswerCache stores complete answers. A nil cache disables caching.
type AnswerCache interface {
	Get(ctx context.Context, template, question string) (string, bool, error)
	Set(ctx context.Context, template, question, answer string, ttl time.Duration) error
}

// QueryError is surfaced by Stream.Next when retrieval or generation fails.
type QueryError struct {
	Err error
}

func (e *QueryError) Error() string {
	return "查询出错: " + e.Err.Error()
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// EngineOptions tunes a QueryEngine.
type EngineOptions struct {
	TopK     int
	Template string
	Cache    AnswerCache
	CacheTTL time.Duration
}

// QueryEngine answers questions from retrieved guideline passages.
type QueryEngine struct {
	retriever Retriever
	model     ChatModel
	prompts   *PromptSet
	cache     AnswerCache
	cacheTTL  time.Duration
	topK      int
	logger    *logrus.Logger

	mu       sync.RWMutex
	template string
}

// NewQueryEngine creates a query engine. A nil prompt set loads the embedded templates.
func NewQueryEngine(retriever Retriever, model ChatModel, prompts *PromptSet, opts EngineOptions, logger *logrus.Logger) (*QueryEngine, error) {
	if retriever == nil || model == nil {
		return nil, errors.New("retriever and chat model are required")
	}
	if prompts == nil {
		var err error
		if prompts, err = LoadPrompts(); err != nil {
			return nil, err
		}
	}
	if logger == nil {
		logger = logrus.New()
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}

	return &QueryEngine{
		retriever: retriever,
		model:     model,
		prompts:   prompts,
		cache:     opts.Cache,
		cacheTTL:  opts.CacheTTL,
		topK:      opts.TopK,
		logger:    logger,
		template:  prompts.Resolve(opts.Template),
	}, nil
}

// SetTemplate selects the prompt template. Unknown names select medical_qa.
func (e *QueryEngine) SetTemplate(name string) {
	resolved := e.prompts.Resolve(name)
	if resolved != name {
		e.logger.WithField("template", name).Warn("Unknown prompt template, using default")
	}

	e.mu.Lock()
	e.template = resolved
	e.mu.Unlock()
}

// Template returns the active prompt template name.
func (e *QueryEngine) Template() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.template
}

// Templates lists the available prompt templates.
func (e *QueryEngine) Templates() []string {
	return e.prompts.Names()
}

// QueryStream retrieves passages and opens a streamed answer. Retrieval and
// model failures are reported by the first call to Stream.Next.
func (e *QueryEngine) QueryStream(ctx context.Context, question string) (*Stream, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.ErrEmptyQuestion
	}

	template := e.Template()
	logger := e.logger.WithFields(logrus.Fields{
		"template":        template,
		"question_length": len([]rune(question)),
	})

	passages, err := e.retriever.Retrieve(ctx, question, e.topK)
	if err != nil {
		logger.WithError(err).Error("Passage retrieval failed")
		return failedStream(fmt.Errorf("failed to retrieve passages: %w", err)), nil
	}

	prompt, err := e.prompts.Render(template, PromptData{
		Context: joinPassages(passages),
		Query:   question,
	})
	if err != nil {
		return failedStream(err), nil
	}

	tokens, err := e.model.Stream(ctx, []Message{{Role: RoleUser, Content: prompt}})
	if err != nil {
		logger.WithError(err).Error("Chat model stream failed to open")
		return failedStream(fmt.Errorf("failed to open chat stream: %w", err)), nil
	}

	logger.WithField("passages", len(passages)).Debug("Query stream opened")
	return &Stream{tokens: tokens, passages: passages}, nil
}

// Query answers a question and returns the full text. Complete answers are
// cached per template and question.
func (e *QueryEngine) Query(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", domain.ErrEmptyQuestion
	}

	template := e.Template()
	if e.cache != nil {
		if answer, found, err := e.cache.Get(ctx, template, question); err != nil {
			e.logger.WithError(err).Warn("Answer cache lookup failed")
		} else if found {
			return answer, nil
		}
	}

	stream, err := e.QueryStream(ctx, question)
	if err != nil {
		return "", err
	}

	answer, err := stream.Collect(ctx)
	if err != nil {
		return "", err
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, template, question, answer, e.cacheTTL); err != nil {
			e.logger.WithError(err).Warn("Failed to cache answer")
		}
	}
	return answer, nil
}

// QueryWithContext prefixes the question with "key: value" lines.
func (e *QueryEngine) QueryWithContext(ctx context.Context, question string, entries []KV) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", domain.ErrEmptyQuestion
	}
	return e.Query(ctx, WithContext(question, entries))
}

// WithContext builds the question text used by QueryWithContext.
func WithContext(question string, entries []KV) string {
	if len(entries) == 0 {
		return question
	}

	lines := make([]string, 0, len(entries))
	for _, kv := range entries {
		lines = append(lines, kv.Key+": "+kv.Value)
	}
	return strings.Join(lines, "\n") + "\n\n问题: " + question
}

func joinPassages(passages []Passage) string {
	texts := make([]string, 0, len(passages))
	for _, p := range passages {
		texts = append(texts, p.Text)
	}
	return strings.Join(texts, "\n\n")
}

// Stream is a streamed answer. It is not safe for concurrent use.
type Stream struct {
	tokens   TokenStream
	passages []Passage
	err      error
	closed   bool
}

func failedStream(err error) *Stream {
	return &Stream{err: &QueryError{Err: err}}
}

// Next returns the next chunk, io.EOF at the end of the answer, or a *QueryError.
func (s *Stream) Next(ctx context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.closed {
		return "", io.EOF
	}
	if err := ctx.Err(); err != nil {
		s.fail(err)
		return "", s.err
	}

	chunk, err := s.tokens.Next(ctx)
	if errors.Is(err, io.EOF) {
		s.Close()
		return "", io.EOF
	}
	if err != nil {
		s.fail(err)
		return "", s.err
	}
	return chunk, nil
}

// Collect drains the stream into a single string.
func (s *Stream) Collect(ctx context.Context) (string, error) {
	defer s.Close()

	var sb strings.Builder
	for {
		chunk, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return "", err
		}
		sb.WriteString(chunk)
	}
}

// Sources returns the passages the answer was grounded on.
func (s *Stream) Sources() []Passage {
	return s.passages
}

// Close releases the underlying model stream.
func (s *Stream) Close() error {
	if s.closed || s.tokens == nil {
		s.closed = true
		return nil
	}
	s.closed = true
	return s.tokens.Close()
}

func (s *Stream) fail(err error) {
	s.err = &QueryError{Err: err}
	if s.tokens != nil && !s.closed {
		s.closed = true
		_ = s.tokens.Close()
	}
}
