package hamsh

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ruapotato/hamnix/internal/hamsh/parser"
)

// Version information
var (
	Version     = "0.3.0"   // overridden by build-time ldflags
	BuildCommit = "unknown" // overridden by build-time ldflags
	Name        = "hamsh"
	Description = "Shell whose commands are synthesized on demand"
)

// NewContextID returns a fresh per-session context id.
func NewContextID() string {
	return "hamsh-" + uuid.NewString()[:8]
}

// ShellConfig configures a Shell.
type ShellConfig struct {
	HistoryFile string
	// Names lists known artifact names for completion. May be nil.
	Names func() []string

	Stdout io.Writer
	Stderr io.Writer
}

type shellStyles struct {
	dir     lipgloss.Style
	jobID   lipgloss.Style
	running lipgloss.Style
	done    lipgloss.Style
	failed  lipgloss.Style
	heading lipgloss.Style
}

func defaultStyles() shellStyles {
	return shellStyles{
		dir:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#01cdfe")),
		jobID:   lipgloss.NewStyle().Bold(true),
		running: lipgloss.NewStyle().Foreground(lipgloss.Color("#ffb86c")),
		done:    lipgloss.NewStyle().Foreground(lipgloss.Color("#05ffa1")),
		failed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#ff5555")),
		heading: lipgloss.NewStyle().Bold(true).Underline(true),
	}
}

// Shell is the hamsh front end: builtins, error reporting and the readline
// loop around an Engine.
type Shell struct {
	engine *Engine
	kernel Kernel
	cfg    ShellConfig
	log    *zap.Logger
	out    io.Writer
	errOut io.Writer
	styles shellStyles
}

// NewShell creates a shell around engine.
func NewShell(engine *Engine, k Kernel, cfg ShellConfig, log *zap.Logger) *Shell {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	return &Shell{
		engine: engine,
		kernel: k,
		cfg:    cfg,
		log:    log,
		out:    cfg.Stdout,
		errOut: cfg.Stderr,
		styles: defaultStyles(),
	}
}

// Banner prints the welcome message.
func (s *Shell) Banner() {
	fmt.Fprintln(s.out, "Welcome to Hamsh - The Hamnix Shell!")
	fmt.Fprintln(s.out, "Commands that don't exist yet are written for you the first time you run them.")
	fmt.Fprintln(s.out, "Press Tab to complete commands and paths.")
	fmt.Fprintln(s.out, "Start a command with '!' to force regeneration.")
	fmt.Fprintln(s.out, "Type 'help' for builtins, 'exit' to leave.")
}

func (s *Shell) prompt() string {
	return s.styles.dir.Render(s.engine.Dir()) + "$ "
}

// Start registers the session's context with the kernel so its prompt log
// exists before the first synthesis.
func (s *Shell) Start(ctx context.Context) error {
	id := s.engine.ContextID()
	if _, err := s.kernel.SwitchContext(ctx, id); err != nil {
		return fmt.Errorf("failed to open context %s: %w", id, err)
	}
	s.log.Debug("context opened", zap.String("context", id))
	return nil
}

// Interactive runs the readline loop until exit or EOF.
func (s *Shell) Interactive(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            s.prompt(),
		HistoryFile:       s.cfg.HistoryFile,
		HistoryLimit:      1000,
		HistorySearchFold: true,
		AutoComplete:      NewCompleter(s.cfg.Names, s.engine.Dir),
		InterruptPrompt:   "^C",
		EOFPrompt:         "",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	s.Banner()
	for {
		rl.SetPrompt(s.prompt())
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(s.out, "Goodbye!")
				return nil
			}
			return err
		}

		if _, exit := s.Execute(ctx, line); exit {
			fmt.Fprintln(s.out, "Goodbye!")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// RunScript executes r line by line and returns the last exit code. An
// explicit exit stops the script.
func (s *Shell) RunScript(ctx context.Context, r io.Reader) int {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	code := 0
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		var exit bool
		code, exit = s.Execute(ctx, line)
		if exit || ctx.Err() != nil {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(s.errOut, "An error occurred: %v\n", err)
		return 1
	}
	return code
}

// Execute runs one command line and returns its exit code. exit reports
// whether the line asked the shell to terminate.
func (s *Shell) Execute(ctx context.Context, line string) (code int, exit bool) {
	p, err := parser.Parse(line)
	if err != nil {
		if errors.Is(err, parser.ErrEmpty) {
			return 0, false
		}
		fmt.Fprintf(s.errOut, "hamsh: %v\n", err)
		return 2, false
	}

	if st, ok := builtinStage(p); ok {
		return s.runBuiltin(ctx, st.Command, st.Args)
	}

	code, err = s.engine.Run(ctx, p)
	if err != nil {
		s.report(err)
		if code == 0 {
			code = 1
		}
	}
	return code, false
}

func (s *Shell) report(err error) {
	s.log.Debug("command line failed", zap.Error(err))
	var se *StageError
	if errors.As(err, &se) {
		fmt.Fprintln(s.errOut, se.Error())
		return
	}
	fmt.Fprintf(s.errOut, "An error occurred: %v\n", err)
}

// builtinStage returns the single plain stage of p when it names a builtin.
// Builtins take no redirects and never run in the background.
func builtinStage(p *parser.Pipeline) (parser.Stage, bool) {
	if len(p.Stages) != 1 || p.Background || p.Force {
		return parser.Stage{}, false
	}
	st := p.Stages[0]
	if st.InputFile != "" || st.OutputFile != "" || st.ErrorFile != "" {
		return parser.Stage{}, false
	}
	if _, ok := builtins[st.Command]; !ok {
		return parser.Stage{}, false
	}
	return st, true
}

var builtins = map[string]string{
	"exit":    "exit [code]       leave the shell",
	"quit":    "quit              leave the shell",
	"help":    "help              show this help",
	"jobs":    "jobs              list background jobs",
	"fg":      "fg [id]           wait for a background job",
	"context": "context [id]      show or switch the synthesis context",
	"history": "history           show the synthesis prompts of this context",
	"env":     "env               show the shared environment",
}

func builtinNames() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	return names
}

func (s *Shell) runBuiltin(ctx context.Context, name string, args []string) (int, bool) {
	switch name {
	case "exit", "quit":
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				fmt.Fprintf(s.errOut, "%s: %s: numeric argument required\n", name, args[0])
				return 2, true
			}
			return n, true
		}
		return 0, true
	case "help":
		s.help()
		return 0, false
	case "jobs":
		s.listJobs()
		return 0, false
	case "fg":
		return s.foreground(ctx, args), false
	case "context":
		return s.switchContext(ctx, args), false
	case "history":
		return s.history(ctx), false
	case "env":
		return s.env(ctx), false
	}
	return 1, false
}

func (s *Shell) help() {
	fmt.Fprintln(s.out, s.styles.heading.Render("Builtins"))
	for _, n := range []string{"help", "jobs", "fg", "context", "history", "env", "exit", "quit"} {
		fmt.Fprintln(s.out, "  "+builtins[n])
	}
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, s.styles.heading.Render("Syntax"))
	fmt.Fprintln(s.out, "  cmd args | cmd2 < in > out 2> err >> log &")
	fmt.Fprintln(s.out, "  !cmd args         regenerate every command on the line")
}

func (s *Shell) listJobs() {
	for _, job := range s.engine.Jobs().List() {
		state := s.styles.running.Render(job.State().String())
		if job.State() == JobDone {
			if code, err := job.Result(); code != 0 || err != nil {
				state = s.styles.failed.Render(fmt.Sprintf("done (%d)", code))
			} else {
				state = s.styles.done.Render(job.State().String())
			}
		}
		fmt.Fprintf(s.out, "%s %s\t%s\n", s.styles.jobID.Render(fmt.Sprintf("[%d]", job.ID)), state, job.Line)
	}
}

func (s *Shell) foreground(ctx context.Context, args []string) int {
	var id int
	switch len(args) {
	case 0:
		jobs := s.engine.Jobs().List()
		if len(jobs) == 0 {
			fmt.Fprintln(s.errOut, "fg: no current job")
			return 1
		}
		id = jobs[len(jobs)-1].ID
	default:
		n, err := strconv.Atoi(strings.TrimPrefix(args[0], "%"))
		if err != nil {
			fmt.Fprintf(s.errOut, "fg: %s: no such job\n", args[0])
			return 1
		}
		id = n
	}

	code, err := s.engine.Wait(ctx, id)
	if err != nil {
		s.report(err)
		if code == 0 {
			code = 1
		}
	}
	return code
}

func (s *Shell) switchContext(ctx context.Context, args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(s.out, s.engine.ContextID())
		return 0
	}
	msg, err := s.kernel.SwitchContext(ctx, args[0])
	if err != nil {
		s.report(err)
		return 1
	}
	s.engine.SetContextID(args[0])
	fmt.Fprintln(s.out, msg)
	return 0
}

func (s *Shell) history(ctx context.Context) int {
	prompts, err := s.kernel.GetPrompt(ctx, s.engine.ContextID())
	if err != nil {
		s.report(err)
		return 1
	}
	if prompts != "" {
		fmt.Fprintln(s.out, prompts)
	}
	return 0
}

func (s *Shell) env(ctx context.Context) int {
	env, err := s.kernel.GetEnv(ctx)
	if err != nil {
		s.report(err)
		return 1
	}
	for _, kv := range environList(env) {
		fmt.Fprintln(s.out, kv)
	}
	return 0
}
