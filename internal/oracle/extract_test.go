package oracle

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestExtractCode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "python fence",
			in:   "Here you go:\n```python\nprint(1)\n```\nEnjoy.",
			want: "print(1)",
		},
		{
			name: "bare fence",
			in:   "```\necho hi\n```",
			want: "echo hi",
		},
		{
			name: "first fence wins",
			in:   "```sh\necho a\n```\n```sh\necho b\n```",
			want: "echo a",
		},
		{
			name: "no fence",
			in:   "  #!/bin/sh\necho raw\n",
			want: "#!/bin/sh\necho raw",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractCode(tt.in); got != tt.want {
				t.Errorf("ExtractCode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEnsureShebang(t *testing.T) {
	if got := EnsureShebang("print(1)", "/usr/bin/python3"); got != "#!/usr/bin/python3\nprint(1)" {
		t.Errorf("unexpected result %q", got)
	}
	if got := EnsureShebang("#!/bin/sh\ntrue", "/usr/bin/python3"); got != "#!/bin/sh\ntrue" {
		t.Errorf("existing directive was replaced: %q", got)
	}
}

func TestValidateSource(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		src     string
		syntax  bool
		wantErr bool
	}{
		{"empty", "   ", true, true},
		{"no directive", "print(1)\n", true, true},
		{"blank directive", "#!\nprint(1)\n", true, true},
		{"valid python", "#!/usr/bin/env python3\nimport sys\nprint(sys.argv)\n", true, false},
		{"broken python", "#!/usr/bin/env python3\ndef f(:\n  pass\n", true, true},
		{"broken python unchecked", "#!/usr/bin/env python3\ndef f(:\n  pass\n", false, false},
		{"shell is not parsed", "#!/bin/sh\nif then fi\n", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSource(ctx, tt.src, tt.syntax)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateSource() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidSource) {
				t.Errorf("error %v does not wrap ErrInvalidSource", err)
			}
		})
	}
}

func TestPromptsCarryArtifactContract(t *testing.T) {
	opts := PromptOptions{Interpreter: "/usr/bin/env python3", EscalationCode: 2}

	p := SynthesisPrompt("wc", []string{"-l", "file name"}, opts)
	for _, want := range []string{"'wc'", `"-l", "file name"`, "#!/usr/bin/env python3", "never exit 2", EnvFileVar, "standard library"} {
		if !strings.Contains(p, want) {
			t.Errorf("synthesis prompt missing %q", want)
		}
	}

	e := ExtensionPrompt("wc", []string{"-w"}, "#!/bin/sh\nwc\n", PromptOptions{Interpreter: "/bin/sh", EscalationCode: 42})
	for _, want := range []string{"Existing code:", "#!/bin/sh\nwc\n", `"-w"`, "never exit 42", "Keep all existing functionality"} {
		if !strings.Contains(e, want) {
			t.Errorf("extension prompt missing %q", want)
		}
	}
	if strings.Contains(e, "standard library") {
		t.Error("shell prompt should not mention the Python standard library")
	}
}
