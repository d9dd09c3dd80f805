package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ruapotato/hamnix/internal/config"
)

func TestOpenAIClientSynthesize(t *testing.T) {
	var got chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"` + "```python\\nprint(1)\\n```" + `"}}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL, Model: "test-model", Timeout: 5 * time.Second})
	out, err := c.Synthesize(context.Background(), Request{
		Command: "one",
		Prompt:  "make one",
		History: []string{"earlier"},
	})
	require.NoError(t, err)
	assert.Equal(t, "```python\nprint(1)\n```", out)

	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "earlier", got.Messages[1].Content)
	assert.Equal(t, "make one", got.Messages[2].Content)

	stats := c.Stats()
	assert.Equal(t, 1, stats.RequestCount)
	assert.Equal(t, 10, stats.PromptTokens)
	assert.Equal(t, 5, stats.CompletionTokens)
}

func TestOpenAIClientAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_exceeded"}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL})
	_, err := c.Synthesize(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow down")
	assert.Equal(t, 1, c.Stats().ErrorCount)
}

func TestOpenAIClientEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{BaseURL: srv.URL})
	_, err := c.Synthesize(context.Background(), Request{Prompt: "x"})
	assert.True(t, errors.Is(err, ErrEmptyOutput))
}

func TestExecClient(t *testing.T) {
	c := NewExecClient(`cat >/dev/null; printf '#!/bin/sh\necho generated\n'`, zaptest.NewLogger(t))
	out, err := c.Synthesize(context.Background(), Request{Command: "gen", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho generated\n", out)

	failing := NewExecClient(`echo boom >&2; exit 3`, zaptest.NewLogger(t))
	_, err = failing.Synthesize(context.Background(), Request{Command: "gen"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	silent := NewExecClient(`cat >/dev/null`, zaptest.NewLogger(t))
	_, err = silent.Synthesize(context.Background(), Request{Command: "gen"})
	assert.ErrorIs(t, err, ErrEmptyOutput)
}

func TestNewSelectsProvider(t *testing.T) {
	log := zaptest.NewLogger(t)
	ctx := context.Background()

	c, err := New(ctx, config.OracleConfig{Provider: "none"}, time.Second, log)
	require.NoError(t, err)
	_, err = c.Synthesize(ctx, Request{})
	assert.ErrorIs(t, err, ErrUnavailable)

	c, err = New(ctx, config.OracleConfig{Provider: "exec", Command: "true"}, time.Second, log)
	require.NoError(t, err)
	assert.IsType(t, &ExecClient{}, c)

	c, err = New(ctx, config.OracleConfig{Provider: "OpenAI"}, time.Second, log)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)

	_, err = New(ctx, config.OracleConfig{Provider: "gemini"}, time.Second, log)
	assert.Error(t, err, "gemini without a key must fail")

	_, err = New(ctx, config.OracleConfig{Provider: "carrier-pigeon"}, time.Second, log)
	assert.Error(t, err)
}
