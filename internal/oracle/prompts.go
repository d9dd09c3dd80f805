package oracle

import (
	"fmt"
	"strings"
)

// EnvFileVar names the environment variable through which an artifact
// learns where to report environment changes.
const EnvFileVar = "HAMNIX_ENV_FILE"

const systemPrompt = `You write small, self-contained command line programs for a Unix-like shell.
Reply with the complete program only, inside a single fenced code block.`

// PromptOptions carries the artifact contract shared by every prompt.
type PromptOptions struct {
	Interpreter    string
	EscalationCode int
}

func (o PromptOptions) language() string {
	interp := strings.ToLower(o.Interpreter)
	switch {
	case strings.Contains(interp, "python"):
		return "Python"
	case strings.Contains(interp, "bash"):
		return "bash"
	case strings.HasSuffix(interp, "sh"):
		return "POSIX sh"
	default:
		return "script"
	}
}

func (o PromptOptions) contract() string {
	var b strings.Builder
	fmt.Fprintf(&b, "- The first line must be the interpreter directive: #!%s\n", o.Interpreter)
	if o.language() == "Python" {
		b.WriteString("- Use only Python standard library modules.\n")
	}
	b.WriteString("- Only read from stdin if the command needs it.\n")
	b.WriteString("- Only write the command's actual output to stdout. Write errors to stderr.\n")
	b.WriteString("- Support pipes and redirection where the command would naturally use them.\n")
	fmt.Fprintf(&b, "- Exit 0 on success and non-zero on errors, but never exit %d for usage or argument errors (use 1 instead).\n", o.EscalationCode)
	fmt.Fprintf(&b, "- Exit %d only if you were asked to handle an argument or option you do not implement; the shell will then ask for an extended version.\n", o.EscalationCode)
	fmt.Fprintf(&b, "- If the command changes the working directory or environment, write the full resulting environment as one JSON object (including PWD) to the file named by $%s before exiting.\n", EnvFileVar)
	return b.String()
}

// SynthesisPrompt builds the instruction for a fresh artifact.
func SynthesisPrompt(command string, args []string, opts PromptOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: implement a %s program that behaves like the '%s' command in a Unix-like terminal.\n\n", opts.language(), command)
	fmt.Fprintf(&b, "Program name: %s\n", command)
	fmt.Fprintf(&b, "Arguments it must handle: %s\n\n", formatArgs(args))
	b.WriteString("Requirements:\n")
	b.WriteString(opts.contract())
	fmt.Fprintf(&b, "\nExample usage:\n$ %s\n", strings.TrimSpace(command+" "+strings.Join(args, " ")))
	b.WriteString("\nProvide only the program, no explanations.\n")
	return b.String()
}

// ExtensionPrompt builds the instruction for extending an existing artifact
// to cover new arguments.
func ExtensionPrompt(command string, args []string, source string, opts PromptOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Extend the existing %s program for the '%s' command to handle new arguments: %s\n\n", opts.language(), command, formatArgs(args))
	b.WriteString("Existing code:\n")
	b.WriteString(source)
	if !strings.HasSuffix(source, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("\nRequirements:\n")
	b.WriteString("- Keep all existing functionality.\n")
	fmt.Fprintf(&b, "- Add support for: %s\n", formatArgs(args))
	b.WriteString(opts.contract())
	b.WriteString("\nProvide only the complete, updated program, no explanations.\n")
	return b.String()
}

func formatArgs(args []string) string {
	if len(args) == 0 {
		return "(none)"
	}
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = fmt.Sprintf("%q", a)
	}
	return strings.Join(quoted, ", ")
}
