// Package parser turns a hamsh command line into a Pipeline.
//
// Grammar:
//
//	line     := ["!"] pipeline ["&"]
//	pipeline := stage { "|" stage }
//	stage    := word { word | redirect }
//	redirect := ("<" | ">" | ">>" | "2>") word
package parser

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmpty is returned for lines with no command.
var ErrEmpty = errors.New("empty command line")

// Parser parses command lines into pipelines
type Parser struct {
	tokenizer *Tokenizer
	current   Token
}

// NewParser creates a new parser
func NewParser() *Parser {
	return &Parser{}
}

// Parse parses one command line.
func Parse(input string) (*Pipeline, error) {
	return NewParser().Parse(input)
}

// Parse parses the input string and returns its pipeline.
func (p *Parser) Parse(input string) (*Pipeline, error) {
	line := strings.TrimSpace(input)
	pipeline := &Pipeline{}
	if strings.HasPrefix(line, "!") {
		pipeline.Force = true
		line = strings.TrimSpace(line[1:])
	}

	p.tokenizer = NewTokenizer(line)
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.current.Type == EOF {
		return nil, ErrEmpty
	}

	for {
		stage, err := p.parseStage()
		if err != nil {
			return nil, err
		}
		pipeline.Stages = append(pipeline.Stages, stage)

		switch p.current.Type {
		case PIPE:
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.current.Type != WORD {
				return nil, fmt.Errorf("expected command after pipe at position %d", p.current.Position)
			}
			continue
		case BACKGROUND:
			pipeline.Background = true
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.current.Type != EOF {
				return nil, fmt.Errorf("'&' must end the command line (position %d)", p.current.Position)
			}
		}
		break
	}

	if p.current.Type != EOF {
		return nil, fmt.Errorf("unexpected %v at position %d", p.current.Type, p.current.Position)
	}

	last := &pipeline.Stages[len(pipeline.Stages)-1]
	last.Passthrough = last.OutputFile == ""
	return pipeline, nil
}

func (p *Parser) advance() error {
	token, err := p.tokenizer.NextToken()
	if err != nil {
		return err
	}
	p.current = token
	return nil
}

// parseStage parses a command, its arguments and its redirections, which
// may appear anywhere after the command name.
func (p *Parser) parseStage() (Stage, error) {
	if p.current.Type != WORD {
		return Stage{}, fmt.Errorf("expected command at position %d, got %v", p.current.Position, p.current.Type)
	}
	stage := Stage{Command: p.current.Value}
	if err := p.advance(); err != nil {
		return Stage{}, err
	}

	for {
		switch p.current.Type {
		case WORD:
			stage.Args = append(stage.Args, p.current.Value)
			if err := p.advance(); err != nil {
				return Stage{}, err
			}
		case REDIRECT_IN, REDIRECT_OUT, REDIRECT_APPEND, REDIRECT_ERR:
			if err := p.parseRedirection(&stage); err != nil {
				return Stage{}, err
			}
		default:
			return stage, nil
		}
	}
}

func (p *Parser) parseRedirection(stage *Stage) error {
	op := p.current
	if err := p.advance(); err != nil {
		return err
	}
	if p.current.Type != WORD {
		return fmt.Errorf("expected filename after %s at position %d", op.Value, op.Position)
	}
	target := p.current.Value

	switch op.Type {
	case REDIRECT_IN:
		stage.InputFile = target
	case REDIRECT_OUT:
		stage.OutputFile = target
		stage.AppendOutput = false
	case REDIRECT_APPEND:
		stage.OutputFile = target
		stage.AppendOutput = true
	case REDIRECT_ERR:
		stage.ErrorFile = target
	}
	return p.advance()
}
