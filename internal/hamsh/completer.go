package hamsh

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Completer implements readline.AutoCompleter. The first word of a stage
// completes against known artifacts and builtins; later words complete
// paths relative to the engine's working directory.
type Completer struct {
	names    func() []string
	dir      func() string
	builtins []string
}

// NewCompleter creates a completer. names lists the known artifact names and
// dir reports the directory paths are completed in.
func NewCompleter(names func() []string, dir func() string) *Completer {
	return &Completer{names: names, dir: dir, builtins: builtinNames()}
}

// Do returns the suffixes that complete the word ending at pos, and the
// length of that word.
func (c *Completer) Do(line []rune, pos int) ([][]rune, int) {
	if pos > len(line) {
		pos = len(line)
	}
	text := string(line[:pos])
	start := strings.LastIndexAny(text, " \t|<>&") + 1
	word := text[start:]
	before := strings.TrimSpace(text[:start])

	commandPosition := before == "" || strings.HasSuffix(before, "|")
	if commandPosition && strings.HasPrefix(word, "!") {
		word = word[1:]
	}
	if before == "!" {
		commandPosition = true
	}

	var candidates []string
	if commandPosition {
		candidates = c.commands(word)
	} else {
		candidates = c.paths(word)
	}

	out := make([][]rune, 0, len(candidates))
	for _, cand := range candidates {
		out = append(out, []rune(cand[len(word):]))
	}
	return out, len([]rune(word))
}

func (c *Completer) commands(prefix string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if strings.HasPrefix(name, prefix) && !seen[name] {
			seen[name] = true
			out = append(out, name+" ")
		}
	}
	for _, b := range c.builtins {
		add(b)
	}
	if c.names != nil {
		for _, n := range c.names() {
			add(n)
		}
	}
	sort.Strings(out)
	return out
}

func (c *Completer) paths(word string) []string {
	dirPart, filePart := filepath.Split(word)
	base := "."
	if c.dir != nil {
		base = c.dir()
	}
	search := base
	if dirPart != "" {
		search = resolvePath(base, dirPart)
	}

	entries, err := os.ReadDir(search)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, filePart) {
			continue
		}
		if strings.HasPrefix(name, ".") && !strings.HasPrefix(filePart, ".") {
			continue
		}
		if e.IsDir() {
			out = append(out, dirPart+name+"/")
		} else {
			out = append(out, dirPart+name+" ")
		}
	}
	sort.Strings(out)
	return out
}
