package hamsh

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ruapotato/hamnix/internal/kernel"
)

// fakeKernel serves /bin/sh artifacts from a temp directory and records
// every request the engine makes.
type fakeKernel struct {
	mu  sync.Mutex
	dir string

	scripts  map[string]string // generated source per command
	extended map[string]string // source written on extension
	vanish   map[string]bool   // first unforced generation returns a missing path

	generates  map[string]int
	forced     map[string]int
	extends    map[string]int
	extendSrc  map[string]string
	contextIDs []string

	env     map[string]string
	updates []map[string]string

	switched []string
	prompts  map[string]string
	fail     error
}

func newFakeKernel(t *testing.T) *fakeKernel {
	t.Helper()
	return &fakeKernel{
		dir:       t.TempDir(),
		scripts:   make(map[string]string),
		extended:  make(map[string]string),
		vanish:    make(map[string]bool),
		generates: make(map[string]int),
		forced:    make(map[string]int),
		extends:   make(map[string]int),
		extendSrc: make(map[string]string),
		env:       map[string]string{"PATH": os.Getenv("PATH")},
		prompts:   make(map[string]string),
	}
}

// script registers body as the generated source of command.
func (k *fakeKernel) script(command, body string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.scripts[command] = "#!/bin/sh\n" + body + "\n"
}

func (k *fakeKernel) extension(command, body string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.extended[command] = "#!/bin/sh\n" + body + "\n"
}

func (k *fakeKernel) write(command, source string) (string, error) {
	path := filepath.Join(k.dir, command)
	if err := os.WriteFile(path, []byte(source), 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func (k *fakeKernel) GenerateCommand(ctx context.Context, command string, args []string, contextID string, force bool) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.fail != nil {
		return "", k.fail
	}
	k.generates[command]++
	k.contextIDs = append(k.contextIDs, contextID)
	if force {
		k.forced[command]++
	}

	if !force && k.vanish[command] {
		delete(k.vanish, command)
		return filepath.Join(k.dir, command+".gone"), nil
	}

	path := filepath.Join(k.dir, command)
	if _, err := os.Stat(path); err == nil && !force {
		return path, nil
	}
	source, ok := k.scripts[command]
	if !ok {
		return "", &kernel.Error{Code: kernel.CodeGenerationFailed, Message: "no script for " + command}
	}
	return k.write(command, source)
}

func (k *fakeKernel) ExtendCommand(ctx context.Context, command string, args []string, contextID, source string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.extends[command]++
	k.extendSrc[command] = source
	body, ok := k.extended[command]
	if !ok {
		return "", errors.New("no extension for " + command)
	}
	return k.write(command, body)
}

func (k *fakeKernel) SwitchContext(ctx context.Context, contextID string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.switched = append(k.switched, contextID)
	if _, ok := k.prompts[contextID]; !ok {
		k.prompts[contextID] = ""
	}
	return fmt.Sprintf("Switched to context %s", contextID), nil
}

func (k *fakeKernel) GetPrompt(ctx context.Context, contextID string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.prompts[contextID]
	if !ok {
		return "", &kernel.Error{Code: kernel.CodeContextNotFound, Message: "context not found: " + contextID}
	}
	return p, nil
}

func (k *fakeKernel) UpdateEnv(ctx context.Context, updates map[string]string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	copied := make(map[string]string, len(updates))
	for key, v := range updates {
		k.env[key] = v
		copied[key] = v
	}
	k.updates = append(k.updates, copied)
	return nil
}

func (k *fakeKernel) GetEnv(ctx context.Context) (map[string]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.fail != nil {
		return nil, k.fail
	}
	out := make(map[string]string, len(k.env))
	for key, v := range k.env {
		out[key] = v
	}
	return out, nil
}

func (k *fakeKernel) count(m map[string]int, command string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return m[command]
}

// testEngine wires an engine to k with captured output in a temp directory.
type testEngine struct {
	*Engine
	stdout *syncBuffer
	stderr *syncBuffer
}

func newTestEngine(t *testing.T, k Kernel, mutate ...func(*EngineConfig)) *testEngine {
	t.Helper()
	stdout, stderr := &syncBuffer{}, &syncBuffer{}
	cfg := EngineConfig{
		ContextID: "test",
		EnvFile:   filepath.Join(t.TempDir(), "env_update.json"),
		Dir:       t.TempDir(),
		Stdin:     strings.NewReader(""),
		Stdout:    stdout,
		Stderr:    stderr,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := NewEngine(k, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return &testEngine{Engine: e, stdout: stdout, stderr: stderr}
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes made by
// background jobs.
type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
