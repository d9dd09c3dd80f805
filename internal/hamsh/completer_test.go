package hamsh

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func completions(c *Completer, line string) ([]string, int) {
	out, n := c.Do([]rune(line), len([]rune(line)))
	got := make([]string, len(out))
	for i, r := range out {
		got[i] = string(r)
	}
	return got, n
}

func TestCompleter(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".hidden"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "sub", "deep"), 0o755); err != nil {
		t.Fatal(err)
	}

	c := NewCompleter(
		func() []string { return []string{"greet", "grep2", "weather"} },
		func() string { return dir },
	)

	tests := []struct {
		name string
		line string
		want []string
		n    int
	}{
		{"command prefix", "gr", []string{"eet ", "ep2 "}, 2},
		{"builtin", "hel", []string{"p "}, 3},
		{"force prefix", "!wea", []string{"ther "}, 3},
		{"after pipe", "cat x | gre", []string{"et ", "p2 "}, 3},
		{"file argument", "greet no", []string{"tes.txt "}, 2},
		{"directory argument", "greet s", []string{"ub/"}, 1},
		{"nested directory", "greet sub/d", []string{"eep/"}, 5},
		{"redirect target", "greet > no", []string{"tes.txt "}, 2},
		{"hidden only when asked", "greet .h", []string{"idden "}, 2},
		{"no match", "zzz", []string{}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, n := completions(c, tt.line)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("completions(%q) mismatch (-want +got):\n%s", tt.line, diff)
			}
			if n != tt.n {
				t.Errorf("completions(%q) length = %d, want %d", tt.line, n, tt.n)
			}
		})
	}
}

func TestCompleterSkipsHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".secret"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	c := NewCompleter(nil, func() string { return dir })

	got, _ := completions(c, "cat ")
	if len(got) != 0 {
		t.Errorf("expected no completions, got %q", got)
	}
}
