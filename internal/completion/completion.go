// Package completion generates grounded answers through a Genkit
// model.
package completion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/docsage/docsage/internal/index"
	"github.com/docsage/docsage/internal/log"
)

// ErrUpstream indicates the model call failed or returned an empty
// answer.
var ErrUpstream = errors.New("completion upstream failure")

const (
	// MaxOutputTokens caps answer length.
	MaxOutputTokens = 1000

	// Temperature is the fixed sampling temperature for answers.
	Temperature = 0.7

	// generateTimeout bounds a single model call.
	generateTimeout = 60 * time.Second
)

// Request carries everything needed to generate one answer.
type Request struct {
	Namespace index.Namespace
	// Context is retrieved documentation joined by the pipeline.
	Context  string
	Question string
}

// Client generates answers with a configured Genkit model.
type Client struct {
	genkit    *genkit.Genkit
	modelName string
	logger    log.Logger
}

// New creates a completion client bound to modelName, a
// provider-qualified Genkit model name such as
// "googleai/gemini-2.5-flash". A nil logger falls back to
// slog.Default().
func New(g *genkit.Genkit, modelName string, logger log.Logger) (*Client, error) {
	if g == nil {
		return nil, errors.New("nil genkit")
	}
	if modelName == "" {
		return nil, errors.New("empty model name")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		genkit:    g,
		modelName: modelName,
		logger:    logger,
	}, nil
}

// Answer generates an answer to req.Question grounded in req.Context.
// Model failures and empty answers map to ErrUpstream.
func (c *Client) Answer(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Question) == "" {
		return "", errors.New("empty question")
	}

	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	start := time.Now()
	resp, err := genkit.Generate(ctx, c.genkit,
		ai.WithModelName(c.modelName),
		ai.WithSystem(systemPrompt(req.Namespace)),
		ai.WithMessages(ai.NewModelTextMessage(contextMessage(req.Context))),
		ai.WithPrompt(req.Question),
		ai.WithConfig(&ai.GenerationCommonConfig{
			Temperature:     Temperature,
			MaxOutputTokens: MaxOutputTokens,
		}),
	)
	if err != nil {
		c.logger.ErrorContext(ctx, "model call failed",
			"model", c.modelName,
			"namespace", req.Namespace,
			"error", err,
		)
		return "", fmt.Errorf("%w: %w", ErrUpstream, err)
	}

	answer := strings.TrimSpace(resp.Text())
	if answer == "" {
		return "", fmt.Errorf("%w: empty answer", ErrUpstream)
	}

	c.logger.DebugContext(ctx, "answer generated",
		"model", c.modelName,
		"namespace", req.Namespace,
		"duration", time.Since(start),
	)
	return answer, nil
}

// systemPrompt names the framework so the model scopes its expertise.
func systemPrompt(ns index.Namespace) string {
	return fmt.Sprintf(
		"You are a documentation assistant for %s. "+
			"Answer questions using the provided documentation excerpts. "+
			"If the excerpts do not cover the question, say so rather than guessing.",
		ns.DisplayName(),
	)
}

// contextMessage wraps the retrieved excerpts as an assistant turn
// preceding the user's question.
func contextMessage(docContext string) string {
	if strings.TrimSpace(docContext) == "" {
		return "No relevant documentation excerpts were found."
	}
	return "Relevant documentation excerpts:\n\n" + docContext
}
