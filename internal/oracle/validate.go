package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// ErrInvalidSource reports candidate text that cannot become an artifact.
var ErrInvalidSource = errors.New("invalid source")

// ValidateSource checks that source is minimally well-formed executable
// text. Python sources are additionally parsed when checkSyntax is set.
func ValidateSource(ctx context.Context, source string, checkSyntax bool) error {
	if strings.TrimSpace(source) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSource)
	}
	firstLine, _, _ := strings.Cut(source, "\n")
	if !strings.HasPrefix(firstLine, "#!") {
		return fmt.Errorf("%w: missing interpreter directive", ErrInvalidSource)
	}
	if strings.TrimSpace(strings.TrimPrefix(firstLine, "#!")) == "" {
		return fmt.Errorf("%w: empty interpreter directive", ErrInvalidSource)
	}
	if checkSyntax && strings.Contains(firstLine, "python") {
		return checkPython(ctx, source)
	}
	return nil
}

func checkPython(ctx context.Context, source string) error {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, []byte(source))
	if err != nil {
		return fmt.Errorf("python parse: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return fmt.Errorf("%w: python syntax error near line %d", ErrInvalidSource, firstErrorLine(root)+1)
	}
	return nil
}

func firstErrorLine(n *sitter.Node) uint32 {
	if n.IsError() || n.IsMissing() {
		return n.StartPoint().Row
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c != nil && c.HasError() {
			return firstErrorLine(c)
		}
	}
	return n.StartPoint().Row
}
