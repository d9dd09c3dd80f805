package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// ExecClient delegates synthesis to an external program. The request is
// written to the program's stdin as one JSON object and the program's stdout
// is taken as the candidate source.
type ExecClient struct {
	command string
	log     *zap.Logger
}

type execRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Prompt  string   `json:"prompt"`
	History []string `json:"history,omitempty"`
	Source  string   `json:"source,omitempty"`
}

// NewExecClient returns a client running command through /bin/sh -c.
func NewExecClient(command string, log *zap.Logger) *ExecClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &ExecClient{command: command, log: log}
}

// Synthesize runs the configured program once.
func (c *ExecClient) Synthesize(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(c.command) == "" {
		return "", fmt.Errorf("exec oracle: no command configured")
	}

	payload, err := json.Marshal(execRequest{
		Command: req.Command,
		Args:    req.Args,
		Prompt:  req.Prompt,
		History: req.History,
		Source:  req.Source,
	})
	if err != nil {
		return "", fmt.Errorf("exec oracle: marshal request: %w", err)
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", c.command)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.log.Debug("running exec oracle", zap.String("command", req.Command))
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return "", fmt.Errorf("exec oracle: %w: %s", err, msg)
		}
		return "", fmt.Errorf("exec oracle: %w", err)
	}

	out := stdout.String()
	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyOutput
	}
	return out, nil
}
