// Package pipeline orchestrates a question from credential check to
// recorded answer.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/docsage/docsage/internal/completion"
	"github.com/docsage/docsage/internal/history"
	"github.com/docsage/docsage/internal/index"
	"github.com/docsage/docsage/internal/log"
	"github.com/docsage/docsage/internal/token"
	"github.com/docsage/docsage/internal/user"
)

// Error taxonomy surfaced to the HTTP layer. Every Query failure maps
// to exactly one of these.
var (
	// ErrUnauthorized indicates a missing, expired, or invalid
	// credential, or a credential whose subject no longer exists.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBadRequest indicates an invalid namespace or empty question.
	ErrBadRequest = errors.New("bad request")

	// ErrUpstream indicates the completion call failed.
	ErrUpstream = errors.New("upstream failure")

	// ErrPersistence indicates retrieval or history storage failed.
	ErrPersistence = errors.New("persistence failure")
)

// TopK is the number of documents retrieved per question.
const TopK = 5

// ContextSeparator joins retrieved chunks into the completion context.
const ContextSeparator = "\n---\n"

// Verifier validates a session credential and returns its subject.
type Verifier interface {
	Verify(credential string) (string, error)
}

// Directory looks up accounts by ID.
type Directory interface {
	ByID(ctx context.Context, id string) (*user.User, error)
}

// Searcher retrieves documents for one namespace.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]index.Document, error)
}

// Resolver maps namespace names to searchers.
type Resolver interface {
	Resolve(name string) (Searcher, error)
}

// Answerer generates an answer from retrieved context.
type Answerer interface {
	Answer(ctx context.Context, req completion.Request) (string, error)
}

// Recorder persists and lists answered questions.
type Recorder interface {
	Append(ctx context.Context, userID, namespace, question, answer string) error
	List(ctx context.Context, userID, namespace string, limit int) ([]history.Record, error)
}

// Result is a completed question with its retrieval trace.
type Result struct {
	Answer    string           `json:"answer"`
	Namespace string           `json:"namespace"`
	Sources   []index.Document `json:"sources"`
}

// Pipeline runs questions through credential verification, retrieval,
// completion, and history recording.
type Pipeline struct {
	verifier Verifier
	users    Directory
	resolver Resolver
	answerer Answerer
	recorder Recorder
	logger   log.Logger
}

// Config collects the pipeline's collaborators.
type Config struct {
	Verifier Verifier
	Users    Directory
	Resolver Resolver
	Answerer Answerer
	Recorder Recorder
	Logger   log.Logger
}

func (c Config) validate() error {
	switch {
	case c.Verifier == nil:
		return errors.New("nil verifier")
	case c.Users == nil:
		return errors.New("nil user directory")
	case c.Resolver == nil:
		return errors.New("nil resolver")
	case c.Answerer == nil:
		return errors.New("nil answerer")
	case c.Recorder == nil:
		return errors.New("nil recorder")
	}
	return nil
}

// New creates a pipeline. A nil Logger falls back to slog.Default().
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		verifier: cfg.Verifier,
		users:    cfg.Users,
		resolver: cfg.Resolver,
		answerer: cfg.Answerer,
		recorder: cfg.Recorder,
		logger:   logger,
	}, nil
}

// Query answers question against namespace on behalf of the
// credential's subject. Steps run in fixed order; the first failure
// aborts with its sentinel and later steps never run.
func (p *Pipeline) Query(ctx context.Context, credential, namespace, question string) (*Result, error) {
	start := time.Now()

	subject, err := p.verifier.Verify(credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	u, err := p.users.ByID(ctx, subject)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, fmt.Errorf("%w: subject no longer exists", ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: empty question", ErrBadRequest)
	}

	ns, err := index.ParseNamespace(namespace)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	searcher, err := p.resolver.Resolve(string(ns))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	docs, err := searcher.Search(ctx, question, TopK)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieval: %w", ErrPersistence, err)
	}

	answer, err := p.answerer.Answer(ctx, completion.Request{
		Namespace: ns,
		Context:   joinContext(docs),
		Question:  question,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	if err := p.recorder.Append(ctx, u.ID, string(ns), question, answer); err != nil {
		// The answer exists but the ledger is the record of account
		// activity; surface the failure rather than silently dropping it.
		return nil, fmt.Errorf("%w: recording history: %w", ErrPersistence, err)
	}

	p.logger.InfoContext(ctx, "query answered",
		"user_id", u.ID,
		"namespace", ns,
		"sources", len(docs),
		"duration", time.Since(start),
	)

	return &Result{
		Answer:    answer,
		Namespace: string(ns),
		Sources:   docs,
	}, nil
}

// History lists the credential subject's answered questions for a
// namespace, newest first.
func (p *Pipeline) History(ctx context.Context, credential, namespace string, limit int) ([]history.Record, error) {
	subject, err := p.verifier.Verify(credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	u, err := p.users.ByID(ctx, subject)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, fmt.Errorf("%w: subject no longer exists", ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	ns, err := index.ParseNamespace(namespace)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	records, err := p.recorder.List(ctx, u.ID, string(ns), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return records, nil
}

// joinContext concatenates retrieved chunks with a separator the
// model can treat as a chunk boundary.
func joinContext(docs []index.Document) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Content)
	}
	return strings.Join(parts, ContextSeparator)
}

// RegistryResolver adapts an index.Registry to the Resolver
// interface.
type RegistryResolver struct {
	Registry *index.Registry
}

// Resolve returns the namespace's index as a Searcher.
func (r RegistryResolver) Resolve(name string) (Searcher, error) {
	ix, err := r.Registry.Resolve(name)
	if err != nil {
		return nil, err
	}
	return ix, nil
}

// Interface conformance for the concrete collaborators.
var (
	_ Verifier  = (*token.Service)(nil)
	_ Directory = (*user.Store)(nil)
	_ Answerer  = (*completion.Client)(nil)
	_ Recorder  = (*history.Ledger)(nil)
	_ Searcher  = (*index.Index)(nil)
	_ Resolver  = RegistryResolver{}
)
