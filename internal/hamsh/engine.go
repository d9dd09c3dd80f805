// Package hamsh is the hamnix shell: a pipeline engine that resolves every
// command through the kernel and runs the resulting artifacts as ordinary
// subprocesses, plus the interactive front end around it.
package hamsh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/ruapotato/hamnix/internal/hamsh/parser"
)

// ErrArtifactMissing is returned when a resolved artifact is absent even
// after a forced regeneration.
var ErrArtifactMissing = errors.New("artifact missing")

// Kernel is the part of the kernel client the shell needs.
type Kernel interface {
	GenerateCommand(ctx context.Context, command string, args []string, contextID string, force bool) (string, error)
	ExtendCommand(ctx context.Context, command string, args []string, contextID, source string) (string, error)
	SwitchContext(ctx context.Context, contextID string) (string, error)
	GetPrompt(ctx context.Context, contextID string) (string, error)
	UpdateEnv(ctx context.Context, updates map[string]string) error
	GetEnv(ctx context.Context) (map[string]string, error)
}

// StageError reports a stage that exited non-zero.
type StageError struct {
	Command  string
	ExitCode int
	// Escalated is set when the stage asked for extension twice.
	Escalated bool
}

func (e *StageError) Error() string {
	return fmt.Sprintf("Command '%s' failed with exit code %d", e.Command, e.ExitCode)
}

// EngineConfig configures an Engine.
type EngineConfig struct {
	ContextID      string
	EscalationCode int
	// EnvFile is the template for per-stage environment handoff files; each
	// stage gets a unique file next to it.
	EnvFile string
	// Dir is the initial working directory. Empty means the process's.
	Dir     string
	MaxJobs int

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Engine runs parsed pipelines.
type Engine struct {
	kernel Kernel
	cfg    EngineConfig
	log    *zap.Logger
	jobs   *JobTable

	stdout io.Writer
	stderr io.Writer

	mu        sync.Mutex
	dir       string
	contextID string
}

// NewEngine creates an engine talking to k.
func NewEngine(k Kernel, cfg EngineConfig, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.EscalationCode <= 0 {
		cfg.EscalationCode = 2
	}
	if cfg.EnvFile == "" {
		cfg.EnvFile = filepath.Join(os.TempDir(), "hamnix_env_update.json")
	}
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	dir := cfg.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to determine working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &Engine{
		kernel:    k,
		cfg:       cfg,
		log:       log,
		jobs:      NewJobTable(cfg.MaxJobs),
		stdout:    syncWriter(cfg.Stdout),
		stderr:    syncWriter(cfg.Stderr),
		dir:       abs,
		contextID: cfg.ContextID,
	}, nil
}

// Dir returns the engine's working directory.
func (e *Engine) Dir() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dir
}

func (e *Engine) setDir(dir string) {
	e.mu.Lock()
	e.dir = dir
	e.mu.Unlock()
}

// ContextID returns the kernel context used for synthesis.
func (e *Engine) ContextID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.contextID
}

// SetContextID switches the context used for later synthesis requests.
func (e *Engine) SetContextID(id string) {
	e.mu.Lock()
	e.contextID = id
	e.mu.Unlock()
}

// Jobs returns the background job table.
func (e *Engine) Jobs() *JobTable {
	return e.jobs
}

// Run executes p. A background pipeline is registered as a job and Run
// returns at once after printing "[id] line". Otherwise Run blocks and
// returns the pipeline's exit code; a failing stage yields a *StageError.
func (e *Engine) Run(ctx context.Context, p *parser.Pipeline) (int, error) {
	if len(p.Stages) == 0 {
		return 0, nil
	}
	if !p.Background {
		return e.execute(ctx, p, e.cfg.Stdin, false)
	}

	job := e.jobs.Add(p.String())
	fmt.Fprintf(e.stdout, "[%d] %s\n", job.ID, job.Line)
	e.log.Info("background job started", zap.Int("job", job.ID), zap.String("line", job.Line))
	go func() {
		code, err := e.execute(ctx, p, nil, true)
		e.log.Info("background job finished", zap.Int("job", job.ID), zap.Int("code", code), zap.Error(err))
		job.finish(code, err)
	}()
	return 0, nil
}

// Wait blocks until job id completes and returns its result.
func (e *Engine) Wait(ctx context.Context, id int) (int, error) {
	job, ok := e.jobs.Get(id)
	if !ok {
		return 1, fmt.Errorf("fg: %d: no such job", id)
	}
	return job.Wait(ctx)
}

// stageIO describes where one attempt of a stage reads and writes.
type stageIO struct {
	stdin   *replayReader // used when the stage is first and has no input file
	piped   []byte        // output of the previous stage
	hasPipe bool          // piped is meaningful
	capture *bytes.Buffer // non-nil unless the stage is last
	hold    *bytes.Buffer // set while a last stage's output waits on its exit code
}

// replayReader records what a stage consumed from inherited stdin so an
// escalated retry reads the same input again. Terminals are passed through.
type replayReader struct {
	src  io.Reader
	seen bytes.Buffer
	tty  bool
}

func newReplayReader(r io.Reader) *replayReader {
	if r == nil {
		return nil
	}
	rr := &replayReader{src: r}
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		rr.tty = true
	}
	return rr
}

// attempt returns the reader for the next run of the stage.
func (r *replayReader) attempt() io.Reader {
	if r.tty {
		return r.src
	}
	consumed := bytes.Clone(r.seen.Bytes())
	return io.MultiReader(bytes.NewReader(consumed), io.TeeReader(r.src, &r.seen))
}

// execute runs stages in order. Each stage's stdout is captured and replayed
// as the next stage's stdin, so a stage can be re-run after escalation and a
// failure stops the pipeline before later stages start.
func (e *Engine) execute(ctx context.Context, p *parser.Pipeline, stdin io.Reader, background bool) (int, error) {
	var piped []byte
	for i, st := range p.Stages {
		sio := stageIO{piped: piped, hasPipe: i > 0}
		if i == 0 {
			sio.stdin = newReplayReader(stdin)
		}
		if i < len(p.Stages)-1 {
			sio.capture = &bytes.Buffer{}
		}

		code, err := e.runStage(ctx, st, p.Force, sio, background)
		if err != nil {
			return code, err
		}
		if sio.capture != nil {
			piped = sio.capture.Bytes()
		}
	}
	return 0, nil
}

// runStage resolves and runs one stage, handling escalation.
func (e *Engine) runStage(ctx context.Context, st parser.Stage, force bool, sio stageIO, background bool) (int, error) {
	log := e.log.With(zap.String("command", st.Command))

	path, err := e.resolve(ctx, st, force)
	if err != nil {
		return 1, err
	}

	// Output that cannot be taken back is held until the first attempt
	// proves it is not asking for extension.
	first := sio
	if sio.capture == nil && (st.OutputFile == "" || st.AppendOutput) {
		first.hold = &bytes.Buffer{}
	}
	dir := e.Dir()
	code, err := e.spawn(ctx, path, st, first, background)
	if err != nil {
		return code, err
	}
	if first.hold != nil && code != e.cfg.EscalationCode {
		if err := e.release(dir, st, first.hold.Bytes()); err != nil {
			return 1, err
		}
	}

	if code == e.cfg.EscalationCode {
		log.Info("stage requested extension", zap.Strings("args", st.Args), zap.Int("discarded", heldLen(first.hold)))
		source, rerr := os.ReadFile(path)
		if rerr != nil {
			log.Debug("artifact source unavailable for extension", zap.Error(rerr))
		}
		if _, err := e.kernel.ExtendCommand(ctx, st.Command, st.Args, e.ContextID(), string(source)); err != nil {
			return 1, fmt.Errorf("failed to extend %s: %w", st.Command, err)
		}
		if path, err = e.resolve(ctx, st, false); err != nil {
			return 1, err
		}
		if code, err = e.spawn(ctx, path, st, sio, background); err != nil {
			return code, err
		}
		if code == e.cfg.EscalationCode {
			return code, &StageError{Command: st.Command, ExitCode: code, Escalated: true}
		}
	}

	if code != 0 {
		return code, &StageError{Command: st.Command, ExitCode: code}
	}
	return 0, nil
}

// resolve asks the kernel for the stage's artifact. An artifact that
// vanished before execution is regenerated once.
func (e *Engine) resolve(ctx context.Context, st parser.Stage, force bool) (string, error) {
	path, err := e.kernel.GenerateCommand(ctx, st.Command, st.Args, e.ContextID(), force)
	if err != nil {
		return "", err
	}
	if isFile(path) {
		return path, nil
	}

	e.log.Warn("artifact missing, regenerating", zap.String("command", st.Command), zap.String("path", path))
	path, err = e.kernel.GenerateCommand(ctx, st.Command, st.Args, e.ContextID(), true)
	if err != nil {
		return "", err
	}
	if !isFile(path) {
		return "", fmt.Errorf("%w: %s", ErrArtifactMissing, path)
	}
	return path, nil
}

// spawn runs one attempt of a stage and synchronizes the environment it
// reports back.
func (e *Engine) spawn(ctx context.Context, path string, st parser.Stage, sio stageIO, background bool) (int, error) {
	dir := e.Dir()

	env, err := e.kernel.GetEnv(ctx)
	if err != nil {
		return 1, err
	}
	handoff, err := newHandoffFile(e.cfg.EnvFile)
	if err != nil {
		return 1, err
	}
	defer os.Remove(handoff)
	env[envFileVar] = handoff
	env["PWD"] = dir

	cmd := exec.CommandContext(ctx, path, st.Args...)
	cmd.Dir = dir
	cmd.Env = environList(env)

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()

	switch {
	case st.InputFile != "":
		f, err := openRedirect(dir, st.InputFile, modeRead)
		if err != nil {
			return 1, err
		}
		closers = append(closers, f)
		cmd.Stdin = f
	case sio.hasPipe:
		cmd.Stdin = bytes.NewReader(sio.piped)
	case !background && sio.stdin != nil:
		cmd.Stdin = sio.stdin.attempt()
	}

	switch {
	case sio.hold != nil:
		cmd.Stdout = sio.hold
	case st.OutputFile != "":
		mode := modeWrite
		if st.AppendOutput {
			mode = modeAppend
		}
		f, err := openRedirect(dir, st.OutputFile, mode)
		if err != nil {
			return 1, err
		}
		closers = append(closers, f)
		cmd.Stdout = f
	case sio.capture != nil:
		sio.capture.Reset()
		cmd.Stdout = sio.capture
	default:
		cmd.Stdout = e.stdout
	}

	if st.ErrorFile != "" {
		f, err := openRedirect(dir, st.ErrorFile, modeWrite)
		if err != nil {
			return 1, err
		}
		closers = append(closers, f)
		cmd.Stderr = f
	} else {
		cmd.Stderr = e.stderr
	}

	if background {
		setProcessGroup(cmd)
	}

	e.log.Debug("spawning stage", zap.String("path", path), zap.Strings("args", st.Args), zap.String("dir", dir))
	runErr := cmd.Run()
	code, ok := exitStatus(runErr)
	if !ok {
		return 126, fmt.Errorf("failed to run %s: %w", st.Command, runErr)
	}

	if err := e.syncEnv(ctx, env, handoff); err != nil {
		e.log.Warn("environment sync failed", zap.String("command", st.Command), zap.Error(err))
	}
	return code, nil
}

// release writes a held first-attempt output to where the stage sends its
// stdout.
func (e *Engine) release(dir string, st parser.Stage, out []byte) error {
	if st.OutputFile == "" {
		_, err := e.stdout.Write(out)
		return err
	}
	f, err := openRedirect(dir, st.OutputFile, modeAppend)
	if err != nil {
		return err
	}
	if _, err := f.Write(out); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func heldLen(b *bytes.Buffer) int {
	if b == nil {
		return 0
	}
	return b.Len()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func resolvePath(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// syncWriter serializes writes from concurrent jobs. Files are left alone
// so child processes can write to them directly.
func syncWriter(w io.Writer) io.Writer {
	if _, ok := w.(*os.File); ok {
		return w
	}
	return &lockedWriter{w: w}
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
