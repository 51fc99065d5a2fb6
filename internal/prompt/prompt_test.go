package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestComposeEmbedsFeedbackVerbatim(t *testing.T) {
	c := Default()

	feedback := "type 2 diabetes with neuropathy {feedback} <b>&</b>"
	p := c.Compose(feedback)

	if !strings.Contains(p.User, "Please provide specific and detailed ICD-10 codes for: "+feedback) {
		t.Errorf("user turn missing feedback: %q", p.User)
	}
	if strings.Contains(p.System, feedback) {
		t.Error("system turn should not contain feedback")
	}
}

func TestComposeIsDeterministic(t *testing.T) {
	c := Default()

	a := c.Compose("acute bronchitis")
	b := c.Compose("acute bronchitis")
	if a != b {
		t.Errorf("got different prompts for the same input:\n%+v\n%+v", a, b)
	}
}

func TestDefaultTemplatesDescribeOutputContract(t *testing.T) {
	p := Default().Compose("x")

	tests := []struct {
		name string
		text string
		want string
	}{
		{"role", p.System, "medical coding expert"},
		{"icd-10", p.System, "ICD-10"},
		{"description", p.System, "official description"},
		{"notes", p.System, "inclusion or exclusion notes"},
		{"guidelines", p.System, "coding guidelines"},
		{"html fragment", p.User, "fragment of HTML"},
		{"no document tags", p.User, "without <html>, <head>, or <body> tags"},
		{"no fences", p.User, "Do not wrap the response in any code blocks"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(tt.text, tt.want) {
				t.Errorf("missing %q", tt.want)
			}
		})
	}
}

func TestNewRejectsInvalidTemplates(t *testing.T) {
	if _, err := New("", "codes for {feedback}"); err == nil {
		t.Error("expected error for empty system template")
	}
	if _, err := New("system", "no placeholder here"); err == nil {
		t.Error("expected error for user template without placeholder")
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	userPath := filepath.Join(dir, "user.txt")
	if err := os.WriteFile(userPath, []byte("Codes please: {feedback}\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := Load("", userPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	p := c.Compose("otitis media")
	if p.User != "Codes please: otitis media" {
		t.Errorf("user: got %q, want %q", p.User, "Codes please: otitis media")
	}
	if p.System != Default().Compose("").System {
		t.Error("system turn should fall back to the embedded template")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/system.txt", ""); err == nil {
		t.Error("expected error for missing file, got nil")
	}
}
