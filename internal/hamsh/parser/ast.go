package parser

import "strings"

// Stage is one command of a pipeline with its own redirections.
type Stage struct {
	Command    string
	Args       []string
	InputFile  string
	OutputFile string
	// AppendOutput is set for ">>".
	AppendOutput bool
	ErrorFile    string
	// Passthrough means stdout goes straight to the terminal: the stage is
	// last and has no output file.
	Passthrough bool
}

func (s Stage) String() string {
	var b strings.Builder
	b.WriteString(quote(s.Command))
	for _, a := range s.Args {
		b.WriteByte(' ')
		b.WriteString(quote(a))
	}
	if s.InputFile != "" {
		b.WriteString(" < " + quote(s.InputFile))
	}
	if s.OutputFile != "" {
		if s.AppendOutput {
			b.WriteString(" >> ")
		} else {
			b.WriteString(" > ")
		}
		b.WriteString(quote(s.OutputFile))
	}
	if s.ErrorFile != "" {
		b.WriteString(" 2> " + quote(s.ErrorFile))
	}
	return b.String()
}

// Pipeline is one parsed command line.
type Pipeline struct {
	Stages     []Stage
	Background bool
	// Force requests regeneration of every stage's artifact ("!" prefix).
	Force bool
}

func (p *Pipeline) String() string {
	parts := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		parts[i] = s.String()
	}
	out := strings.Join(parts, " | ")
	if p.Force {
		out = "!" + out
	}
	if p.Background {
		out += " &"
	}
	return out
}

func quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\|<>&;#$`") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
