package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func scripted(answers ...string) (Client, *int) {
	calls := 0
	return ClientFunc(func(ctx context.Context, req Request) (string, error) {
		i := calls
		calls++
		if i >= len(answers) {
			return "", errors.New("no more answers")
		}
		if answers[i] == "" {
			return "", ErrEmptyOutput
		}
		return answers[i], nil
	}), &calls
}

func TestSynthesizerAcceptsFirstValidAnswer(t *testing.T) {
	client, calls := scripted("```python\nprint('hi')\n```")
	s := NewSynthesizer(client, DefaultSynthesizerConfig(), zaptest.NewLogger(t))

	src, err := s.Synthesize(context.Background(), Request{Command: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "#!/usr/bin/env python3\nprint('hi')\n", src)
	assert.Equal(t, 1, *calls)
}

func TestSynthesizerRetriesInvalidAnswers(t *testing.T) {
	client, calls := scripted("", "```python\ndef broken(:\n```", "```python\nimport sys\nsys.exit(0)\n```")
	s := NewSynthesizer(client, DefaultSynthesizerConfig(), zaptest.NewLogger(t))

	src, err := s.Synthesize(context.Background(), Request{Command: "ok"})
	require.NoError(t, err)
	assert.Contains(t, src, "sys.exit(0)")
	assert.Equal(t, 3, *calls)
}

func TestSynthesizerStopsAfterMaxAttempts(t *testing.T) {
	client, calls := scripted()
	cfg := DefaultSynthesizerConfig()
	cfg.MaxAttempts = 3
	s := NewSynthesizer(client, cfg, zaptest.NewLogger(t))

	_, err := s.Synthesize(context.Background(), Request{Command: "nope"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, 3, *calls)
}

func TestSynthesizerHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := ClientFunc(func(ctx context.Context, req Request) (string, error) {
		cancel()
		return "", ctx.Err()
	})
	s := NewSynthesizer(client, DefaultSynthesizerConfig(), zaptest.NewLogger(t))

	_, err := s.Synthesize(ctx, Request{Command: "slow"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSynthesizerKeepsExistingShebang(t *testing.T) {
	client, _ := scripted("```sh\n#!/bin/sh\necho hello\n```")
	s := NewSynthesizer(client, DefaultSynthesizerConfig(), zaptest.NewLogger(t))

	src, err := s.Synthesize(context.Background(), Request{Command: "hello"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(src, "#!/bin/sh\n"))
}

func TestStubSource(t *testing.T) {
	src := StubSource("frob")
	assert.True(t, strings.HasPrefix(src, "#!/bin/sh\n"))
	assert.Contains(t, src, "Command not implemented: frob")
	assert.Contains(t, src, "exit 1")
	require.NoError(t, ValidateSource(context.Background(), src, true))

	assert.Contains(t, StubSource("it's"), `it'\''s`)
}
