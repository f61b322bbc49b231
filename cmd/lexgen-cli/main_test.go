package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleConfig = `
providers:
  - name: gemini
    type: gemini
    credentials_env: [GEMINI_API_KEY]
    models: [gemini-2.5-flash]
  - name: openai
    type: openai
    credentials_env: [OPENAI_API_KEY]
    models: [gpt-4o-mini]
profiles:
  - name: explicacao
    kind: text
    providers: [gemini, openai]
    format_legal_text: true
  - name: locais
    kind: structured
    providers: [gemini]
    ttl: 168h
`

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidateCommand(t *testing.T) {
	out, err := execute(t, "", "validate", writeConfig(t, "lexgen.yaml", sampleConfig))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "Config is valid") || !strings.Contains(out, "Profiles:  2") {
		t.Errorf("output = %q", out)
	}

	bad := writeConfig(t, "bad.yaml", "profiles: []\n")
	if _, err := execute(t, "", "validate", bad); err == nil {
		t.Error("expected validation error")
	}
}

func TestProfilesCommand(t *testing.T) {
	out, err := execute(t, "", "profiles", writeConfig(t, "lexgen.yaml", sampleConfig))
	if err != nil {
		t.Fatalf("profiles: %v", err)
	}
	for _, want := range []string{"explicacao", "gemini → openai", "legal-text", "locais", "168h0m0s", "720h0m0s"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatCommand(t *testing.T) {
	out, err := execute(t, "Art. 1º Texto\nquebrado.\n", "format")
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if out != "Art. 1º Texto quebrado.\n" {
		t.Errorf("output = %q", out)
	}

	path := writeConfig(t, "artigo.txt", "Art. 2º Pronto.")
	if _, err := execute(t, "", "format", "--check", path); err != nil {
		t.Errorf("check on formatted file: %v", err)
	}
	if _, err := execute(t, "Art. 3º Um\ndois.", "format", "--check", "-"); !errors.Is(err, errNeedsFormatting) {
		t.Errorf("check on messy input: err = %v", err)
	}
	if _, err := execute(t, "Art. 4º Pronto.\n", "format", "--check", "-"); err != nil {
		t.Errorf("check with final newline: %v", err)
	}
	if _, err := execute(t, "Art. 5º Domicílio de\nJaneiro.\n", "format", "--check", "-"); !errors.Is(err, errNeedsFormatting) {
		t.Errorf("check on dangling preposition: err = %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "lexgen-cli dev") {
		t.Errorf("output = %q", out)
	}
}
