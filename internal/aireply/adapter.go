// Package aireply turns a conversation into a prompt for an external text
// generator and reports every failure as ErrGeneration.
package aireply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/autoreply/internal/sessions"
	"github.com/nextlevelbuilder/autoreply/internal/tracing"
)

var (
	// ErrGeneration wraps every adapter failure: timeout, transport, empty output.
	ErrGeneration = errors.New("ai reply generation failed")
	// ErrNotConfigured means no usable provider was set up.
	ErrNotConfigured = errors.New("ai reply not configured")
)

const (
	// DefaultTimeout bounds a single generation call.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxTokens is used when the config leaves max_tokens unset.
	DefaultMaxTokens = 500

	contextTurns = 3
	instruction  = "Please reply in a friendly and professional manner."
)

// Options are passed through to the generator on every call.
type Options struct {
	Model        string
	MaxTokens    int
	SystemPrompt string
}

// TextGenerator is the external text-generation capability.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
}

// Adapter builds prompts from session history and calls a TextGenerator.
// It never retries; the caller decides what to do on failure.
type Adapter struct {
	gen     TextGenerator
	opts    Options
	timeout time.Duration
}

// New creates an adapter. timeout <= 0 selects DefaultTimeout.
func New(gen TextGenerator, opts Options, timeout time.Duration) *Adapter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	return &Adapter{gen: gen, opts: opts, timeout: timeout}
}

// BuildContext renders the prompt: the current message, up to the last three
// turns of history, then a fixed instruction.
func BuildContext(text string, history []sessions.Entry) string {
	var sb strings.Builder
	sb.WriteString("User message: ")
	sb.WriteString(text)

	if n := len(history); n > 0 {
		recent := history[max(0, n-2*contextTurns):]
		sb.WriteString("\n\nRecent conversation:\n")
		for _, e := range recent {
			if e.Role == sessions.RoleAssistant {
				sb.WriteString("Assistant: ")
			} else {
				sb.WriteString("User: ")
			}
			sb.WriteString(e.Content)
			sb.WriteString("\n")
		}
	} else {
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(instruction)
	return sb.String()
}

// Generate produces a reply for text. Every failure, including the timeout,
// is returned wrapped in ErrGeneration.
func (a *Adapter) Generate(ctx context.Context, text string, history []sessions.Entry) (reply string, err error) {
	if a == nil || a.gen == nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, ErrNotConfigured)
	}

	ctx, span := tracing.Start(ctx, tracing.SpanAIGenerate, attribute.String(tracing.AttrModel, a.opts.Model))
	defer func() { tracing.End(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	out, err := a.gen.Generate(ctx, BuildContext(text, history), a.opts)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%w: empty response", ErrGeneration)
	}
	return out, nil
}
