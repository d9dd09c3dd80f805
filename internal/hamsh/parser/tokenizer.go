package parser

import (
	"fmt"
	"strings"
)

// TokenType represents the type of a token
type TokenType int

const (
	WORD            TokenType = iota
	PIPE                      // |
	REDIRECT_IN               // <
	REDIRECT_OUT              // >
	REDIRECT_APPEND           // >>
	REDIRECT_ERR              // 2>
	BACKGROUND                // &
	EOF
)

func (t TokenType) String() string {
	switch t {
	case WORD:
		return "WORD"
	case PIPE:
		return "|"
	case REDIRECT_IN:
		return "<"
	case REDIRECT_OUT:
		return ">"
	case REDIRECT_APPEND:
		return ">>"
	case REDIRECT_ERR:
		return "2>"
	case BACKGROUND:
		return "&"
	case EOF:
		return "EOF"
	default:
		return fmt.Sprintf("TokenType(%d)", int(t))
	}
}

// Token represents a single token
type Token struct {
	Type     TokenType
	Value    string
	Position int
}

// Tokenizer splits a command line into tokens using POSIX shell quoting:
// single quotes are literal, double quotes honor backslash escapes of
// " \ $ and `, and an unquoted backslash escapes the next character.
// Adjacent quoted and unquoted segments form one word.
type Tokenizer struct {
	input    string
	position int
}

// NewTokenizer creates a new tokenizer
func NewTokenizer(input string) *Tokenizer {
	return &Tokenizer{input: input}
}

func (t *Tokenizer) current() byte {
	if t.position >= len(t.input) {
		return 0
	}
	return t.input[t.position]
}

func (t *Tokenizer) peek() byte {
	if t.position+1 >= len(t.input) {
		return 0
	}
	return t.input[t.position+1]
}

func isBlank(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isOperator(c byte) bool {
	switch c {
	case '|', '<', '>', '&', ';':
		return true
	}
	return false
}

// NextToken returns the next token
func (t *Tokenizer) NextToken() (Token, error) {
	for isBlank(t.current()) {
		t.position++
	}

	position := t.position
	c := t.current()
	switch {
	case t.position >= len(t.input):
		return Token{Type: EOF, Position: position}, nil

	case c == '#':
		// Comment to end of line.
		t.position = len(t.input)
		return Token{Type: EOF, Position: position}, nil

	case c == '|':
		if t.peek() == '|' {
			return Token{}, fmt.Errorf("'||' is not supported at position %d", position)
		}
		t.position++
		return Token{Type: PIPE, Value: "|", Position: position}, nil

	case c == '<':
		t.position++
		return Token{Type: REDIRECT_IN, Value: "<", Position: position}, nil

	case c == '>':
		if t.peek() == '>' {
			t.position += 2
			return Token{Type: REDIRECT_APPEND, Value: ">>", Position: position}, nil
		}
		t.position++
		return Token{Type: REDIRECT_OUT, Value: ">", Position: position}, nil

	case c == '&':
		if t.peek() == '&' {
			return Token{}, fmt.Errorf("'&&' is not supported at position %d", position)
		}
		t.position++
		return Token{Type: BACKGROUND, Value: "&", Position: position}, nil

	case c == ';':
		return Token{}, fmt.Errorf("';' is not supported at position %d", position)

	case c == '2' && t.peek() == '>':
		t.position += 2
		return Token{Type: REDIRECT_ERR, Value: "2>", Position: position}, nil
	}

	word, err := t.readWord()
	if err != nil {
		return Token{}, err
	}
	return Token{Type: WORD, Value: word, Position: position}, nil
}

// readWord reads one word, resolving quotes and escapes.
func (t *Tokenizer) readWord() (string, error) {
	var b strings.Builder
	for t.position < len(t.input) {
		c := t.current()
		switch {
		case isBlank(c) || isOperator(c):
			return b.String(), nil

		case c == '\\':
			t.position++
			if t.position >= len(t.input) {
				return "", fmt.Errorf("trailing backslash at position %d", t.position-1)
			}
			b.WriteByte(t.current())
			t.position++

		case c == '\'':
			start := t.position
			end := strings.IndexByte(t.input[start+1:], '\'')
			if end < 0 {
				return "", fmt.Errorf("unterminated quoted string at position %d", start)
			}
			b.WriteString(t.input[start+1 : start+1+end])
			t.position = start + end + 2

		case c == '"':
			if err := t.readDoubleQuoted(&b); err != nil {
				return "", err
			}

		default:
			b.WriteByte(c)
			t.position++
		}
	}
	return b.String(), nil
}

func (t *Tokenizer) readDoubleQuoted(b *strings.Builder) error {
	start := t.position
	t.position++ // opening quote
	for t.position < len(t.input) {
		c := t.current()
		switch c {
		case '"':
			t.position++
			return nil
		case '\\':
			next := t.peek()
			switch next {
			case '"', '\\', '$', '`':
				b.WriteByte(next)
				t.position += 2
				continue
			case '\n':
				t.position += 2
				continue
			}
			b.WriteByte(c)
			t.position++
		default:
			b.WriteByte(c)
			t.position++
		}
	}
	return fmt.Errorf("unterminated quoted string at position %d", start)
}

// TokenizeAll returns all tokens from the input
func (t *Tokenizer) TokenizeAll() ([]Token, error) {
	var tokens []Token
	for {
		token, err := t.NextToken()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
		if token.Type == EOF {
			return tokens, nil
		}
	}
}
