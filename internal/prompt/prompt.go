// Package prompt builds the two-turn ICD-10 coding prompt sent to the model.
package prompt

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

// Placeholder marks where the submitted feedback goes in the user template.
const Placeholder = "{feedback}"

//go:embed templates/system.txt
var defaultSystem string

//go:embed templates/user.txt
var defaultUser string

// Prompt is a system instruction followed by one human turn.
type Prompt struct {
	System string
	User   string
}

// Composer fills the user template with feedback text.
type Composer struct {
	system string
	user   string
}

// New returns a Composer for the given templates. The user template must
// contain Placeholder.
func New(system, user string) (*Composer, error) {
	system = strings.TrimSpace(system)
	user = strings.TrimSpace(user)
	if system == "" {
		return nil, fmt.Errorf("prompt: empty system template")
	}
	if !strings.Contains(user, Placeholder) {
		return nil, fmt.Errorf("prompt: user template missing %s placeholder", Placeholder)
	}
	return &Composer{system: system, user: user}, nil
}

// Default returns the Composer built from the embedded templates.
func Default() *Composer {
	c, err := New(defaultSystem, defaultUser)
	if err != nil {
		panic(err)
	}
	return c
}

// Load reads template overrides from disk. An empty path keeps the
// embedded template for that turn.
func Load(systemPath, userPath string) (*Composer, error) {
	system, user := defaultSystem, defaultUser
	if systemPath != "" {
		data, err := os.ReadFile(systemPath)
		if err != nil {
			return nil, fmt.Errorf("prompt: read %s: %w", systemPath, err)
		}
		system = string(data)
	}
	if userPath != "" {
		data, err := os.ReadFile(userPath)
		if err != nil {
			return nil, fmt.Errorf("prompt: read %s: %w", userPath, err)
		}
		user = string(data)
	}
	return New(system, user)
}

// Compose embeds feedback verbatim into the user turn.
func (c *Composer) Compose(feedback string) Prompt {
	return Prompt{
		System: c.system,
		User:   strings.ReplaceAll(c.user, Placeholder, feedback),
	}
}
