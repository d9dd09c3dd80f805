package oracle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// ErrExhausted is returned once every attempt has failed.
var ErrExhausted = errors.New("synthesis attempts exhausted")

// SynthesizerConfig holds the retry and validation policy.
type SynthesizerConfig struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	Interpreter    string
	ValidateSyntax bool
}

// DefaultSynthesizerConfig returns the policy used when nothing is configured.
func DefaultSynthesizerConfig() SynthesizerConfig {
	return SynthesizerConfig{
		MaxAttempts:    3,
		MaxDelay:       30 * time.Second,
		BackoffFactor:  2.0,
		Interpreter:    "/usr/bin/env python3",
		ValidateSyntax: true,
	}
}

// Synthesizer applies the bounded retry policy around a Client and returns
// only validated, directly executable source.
type Synthesizer struct {
	client Client
	cfg    SynthesizerConfig
	log    *zap.Logger
}

// NewSynthesizer wraps client.
func NewSynthesizer(client Client, cfg SynthesizerConfig, log *zap.Logger) *Synthesizer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}
	if cfg.Interpreter == "" {
		cfg.Interpreter = DefaultSynthesizerConfig().Interpreter
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Synthesizer{client: client, cfg: cfg, log: log}
}

// Synthesize asks the client for source up to MaxAttempts times. Each answer
// is extracted, given an interpreter directive and validated before it is
// accepted.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := s.backoff(attempt)
			if delay > 0 {
				s.log.Debug("retrying synthesis",
					zap.String("command", req.Command),
					zap.Int("attempt", attempt),
					zap.Duration("delay", delay))
				select {
				case <-ctx.Done():
					return "", ctx.Err()
				case <-time.After(delay):
				}
			}
		}

		source, err := s.attempt(ctx, req)
		if err == nil {
			if attempt > 1 {
				s.log.Info("synthesis succeeded after retry",
					zap.String("command", req.Command),
					zap.Int("attempts", attempt))
			}
			return source, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		lastErr = err
		s.log.Warn("synthesis attempt failed",
			zap.String("command", req.Command),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return "", fmt.Errorf("%w after %d attempts: %w", ErrExhausted, s.cfg.MaxAttempts, lastErr)
}

func (s *Synthesizer) attempt(ctx context.Context, req Request) (string, error) {
	raw, err := s.client.Synthesize(ctx, req)
	if err != nil {
		return "", err
	}
	code := ExtractCode(raw)
	if code == "" {
		return "", ErrEmptyOutput
	}
	source := EnsureShebang(code, s.cfg.Interpreter)
	if !hasTrailingNewline(source) {
		source += "\n"
	}
	if err := ValidateSource(ctx, source, s.cfg.ValidateSyntax); err != nil {
		return "", err
	}
	return source, nil
}

func (s *Synthesizer) backoff(attempt int) time.Duration {
	delay := time.Duration(float64(s.cfg.BaseDelay) * math.Pow(s.cfg.BackoffFactor, float64(attempt-2)))
	if s.cfg.MaxDelay > 0 && delay > s.cfg.MaxDelay {
		delay = s.cfg.MaxDelay
	}
	return delay
}

func hasTrailingNewline(s string) bool {
	return len(s) > 0 && s[len(s)-1] == '\n'
}

// StubSource is the deterministic body used when synthesis is exhausted: a
// POSIX sh program reporting that the command is not implemented.
func StubSource(command string) string {
	return fmt.Sprintf("#!/bin/sh\necho 'Command not implemented: %s' >&2\nexit 1\n", shellQuoteInner(command))
}

// shellQuoteInner escapes s for use inside single quotes.
func shellQuoteInner(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, []byte(`'\''`)...)
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
