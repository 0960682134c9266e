// Package prompt holds the versioned system prompt sent with every chat turn.
package prompt

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed qualification.yaml
var qualificationYAML []byte

type Section struct {
	Name  string `yaml:"name"`
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
}

type Template struct {
	Version  string    `yaml:"version"`
	Preamble string    `yaml:"preamble"`
	Sections []Section `yaml:"sections"`
}

// Parse decodes a template document and checks it has a version and
// uniquely named sections.
func Parse(data []byte) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode prompt template: %w", err)
	}
	if t.Version == "" {
		return nil, fmt.Errorf("prompt template has no version")
	}
	seen := make(map[string]bool, len(t.Sections))
	for _, s := range t.Sections {
		if s.Name == "" {
			return nil, fmt.Errorf("prompt section %q has no name", s.Title)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate prompt section %q", s.Name)
		}
		seen[s.Name] = true
	}
	return &t, nil
}

// Default returns the embedded qualification template. It panics if the
// embedded document is invalid, which is a build defect.
func Default() *Template {
	t, err := Parse(qualificationYAML)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Template) Section(name string) (Section, bool) {
	for _, s := range t.Sections {
		if s.Name == name {
			return s, true
		}
	}
	return Section{}, false
}

// Render returns the base system prompt: the preamble followed by each
// section as a level-2 markdown heading.
func (t *Template) Render() string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(t.Preamble))
	for _, s := range t.Sections {
		b.WriteString("\n\n## ")
		b.WriteString(s.Title)
		b.WriteString("\n\n")
		b.WriteString(strings.TrimSpace(s.Body))
	}
	return b.String()
}

// Compose appends an enrichment addendum to the rendered base prompt.
// An empty addendum yields the base prompt unchanged.
func (t *Template) Compose(addendum string) string {
	base := t.Render()
	addendum = strings.TrimSpace(addendum)
	if addendum == "" {
		return base
	}
	return base + "\n\n" + addendum
}
