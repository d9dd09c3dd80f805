package kernel

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ErrKernelUnavailable is returned once every connection attempt failed.
var ErrKernelUnavailable = errors.New("kernel unavailable")

// ClientConfig holds connection settings.
type ClientConfig struct {
	SocketPath string
	Timeout    time.Duration
	Retries    int
	Backoff    time.Duration
}

// Client talks to a kernel. Every request uses a fresh connection, so a
// Client is safe for concurrent use.
type Client struct {
	cfg ClientConfig
	log *zap.Logger
}

// NewClient creates a client.
func NewClient(cfg ClientConfig, log *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{cfg: cfg, log: log}
}

// Call sends req and returns the raw result. Task failures come back as
// *Error.
func (c *Client) Call(ctx context.Context, req Request) (json.RawMessage, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	line, err := c.CallRaw(ctx, payload)
	if err != nil {
		return nil, err
	}
	return DecodeResponse(line)
}

// CallRaw sends one raw request line and returns the raw response line
// without its trailing newline. Refused or reset connections are retried
// with a fixed backoff.
func (c *Client) CallRaw(ctx context.Context, payload []byte) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.cfg.Backoff):
			}
		}

		line, err := c.roundTrip(ctx, payload)
		if err == nil {
			return line, nil
		}
		if !isTransient(err) {
			return nil, err
		}
		lastErr = err
		c.log.Debug("kernel connection failed",
			zap.Int("attempt", attempt),
			zap.Int("retries", c.cfg.Retries),
			zap.Error(err))
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrKernelUnavailable, c.cfg.Retries, lastErr)
}

func (c *Client) roundTrip(ctx context.Context, payload []byte) ([]byte, error) {
	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "unix", c.cfg.SocketPath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return nil, err
	}

	reader := bufio.NewReaderSize(conn, 64*1024)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read kernel response: %w", err)
	}
	return line[:len(line)-1], nil
}

func isTransient(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, os.ErrNotExist)
}

func (c *Client) callString(ctx context.Context, req Request) (string, error) {
	raw, err := c.Call(ctx, req)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("unexpected %s result: %w", req.Type, err)
	}
	return s, nil
}

// GenerateCommand resolves command to an artifact path, synthesizing it on
// a cache miss or when force is set.
func (c *Client) GenerateCommand(ctx context.Context, command string, args []string, contextID string, force bool) (string, error) {
	return c.callString(ctx, Request{
		Type:            TaskGenerateCommand,
		Command:         command,
		Args:            args,
		ContextID:       contextID,
		ForceRegenerate: force,
	})
}

// ExtendCommand asks the kernel to extend command for args. source may be
// empty, in which case the kernel reads the current artifact.
func (c *Client) ExtendCommand(ctx context.Context, command string, args []string, contextID, source string) (string, error) {
	return c.callString(ctx, Request{
		Type:      TaskExtendCommand,
		Command:   command,
		Args:      args,
		ContextID: contextID,
		Source:    source,
	})
}

// SwitchContext creates contextID if needed.
func (c *Client) SwitchContext(ctx context.Context, contextID string) (string, error) {
	return c.callString(ctx, Request{Type: TaskSwitchContext, ContextID: contextID})
}

// GetPrompt returns the newline-joined prompt log of contextID.
func (c *Client) GetPrompt(ctx context.Context, contextID string) (string, error) {
	return c.callString(ctx, Request{Type: TaskGetPrompt, ContextID: contextID})
}

// UpdateEnv merges updates into the shared environment.
func (c *Client) UpdateEnv(ctx context.Context, updates map[string]string) error {
	_, err := c.Call(ctx, Request{Type: TaskUpdateEnv, EnvUpdates: updates})
	return err
}

// GetEnv returns a snapshot of the shared environment.
func (c *Client) GetEnv(ctx context.Context) (map[string]string, error) {
	raw, err := c.Call(ctx, Request{Type: TaskGetEnv})
	if err != nil {
		return nil, err
	}
	env := map[string]string{}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unexpected get_env result: %w", err)
	}
	return env, nil
}
