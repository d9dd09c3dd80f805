// Package oracle talks to the external command synthesis oracle.
//
// A Client turns one Request into candidate source text and nothing more. It
// does not retry, validate, or fall back; the Synthesizer wraps a Client with
// that policy. Callers must not invoke a Client concurrently: the kernel's
// task lock guarantees a single in-flight call per process.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ruapotato/hamnix/internal/config"
)

// ErrEmptyOutput is returned when the oracle answered with no usable text.
var ErrEmptyOutput = errors.New("oracle returned empty output")

// ErrUnavailable is returned by the "none" provider.
var ErrUnavailable = errors.New("no synthesis oracle configured")

// Request describes one synthesis or extension request.
type Request struct {
	Command string
	Args    []string
	// Prompt is the full instruction text built by SynthesisPrompt or
	// ExtensionPrompt.
	Prompt string
	// History holds earlier prompts of the same context, oldest first.
	History []string
	// Source is the artifact being extended, empty for fresh synthesis.
	Source string
}

// Client produces candidate source text for a Request.
type Client interface {
	Synthesize(ctx context.Context, req Request) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (string, error)

// Synthesize calls f.
func (f ClientFunc) Synthesize(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

type unavailable struct{}

func (unavailable) Synthesize(context.Context, Request) (string, error) {
	return "", ErrUnavailable
}

// New builds the Client selected by cfg.Provider.
func New(ctx context.Context, cfg config.OracleConfig, timeout time.Duration, log *zap.Logger) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     timeout,
		}), nil
	case "gemini":
		c, err := NewGenAIClient(ctx, cfg.APIKey, cfg.Model, float32(cfg.Temperature), cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "exec":
		return NewExecClient(cfg.Command, log), nil
	case "none":
		return unavailable{}, nil
	default:
		return nil, fmt.Errorf("unknown oracle provider: %s", cfg.Provider)
	}
}
