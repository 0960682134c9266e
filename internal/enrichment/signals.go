package enrichment

import (
	_ "embed"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed keywords.yaml
var keywordsYAML []byte

// Signals are the category labels detected in a conversation, in dictionary
// order. Empty slices mean nothing was detected on that axis.
type Signals struct {
	Sectors []string `json:"sectors"`
	Needs   []string `json:"needs"`
	Roles   []string `json:"roles"`
}

// Empty reports whether no sector or need was detected. Roles alone do not
// move a conversation out of the cold start.
func (s Signals) Empty() bool {
	return len(s.Sectors) == 0 && len(s.Needs) == 0
}

// SignalExtractor classifies conversation text. Implementations must be
// deterministic for a given input.
type SignalExtractor interface {
	Extract(text string) Signals
}

type category struct {
	Label string   `yaml:"label"`
	Terms []string `yaml:"terms"`
}

type dictionary struct {
	Sectors []category `yaml:"sectors"`
	Needs   []category `yaml:"needs"`
	Roles   []category `yaml:"roles"`
}

// KeywordExtractor matches fixed term lists per category. Terms of three
// runes or fewer must match a whole word so that "it" does not fire inside
// "petit"; longer terms match as substrings.
type KeywordExtractor struct {
	dict dictionary
}

func ParseKeywords(data []byte) (*KeywordExtractor, error) {
	var d dictionary
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode keywords: %w", err)
	}
	for _, axis := range [][]category{d.Sectors, d.Needs, d.Roles} {
		for i := range axis {
			for j, term := range axis[i].Terms {
				axis[i].Terms[j] = strings.ToLower(term)
			}
		}
	}
	return &KeywordExtractor{dict: d}, nil
}

// DefaultKeywords returns the embedded French/English dictionaries.
func DefaultKeywords() *KeywordExtractor {
	k, err := ParseKeywords(keywordsYAML)
	if err != nil {
		panic(err)
	}
	return k
}

func (k *KeywordExtractor) Extract(text string) Signals {
	text = strings.ToLower(text)
	return Signals{
		Sectors: match(text, k.dict.Sectors),
		Needs:   match(text, k.dict.Needs),
		Roles:   match(text, k.dict.Roles),
	}
}

func match(text string, cats []category) []string {
	var out []string
	for _, c := range cats {
		for _, term := range c.Terms {
			if containsTerm(text, term) {
				out = append(out, c.Label)
				break
			}
		}
	}
	return out
}

func containsTerm(text, term string) bool {
	if term == "" {
		return false
	}
	if utf8.RuneCountInString(term) > 3 {
		return strings.Contains(text, term)
	}
	for offset := 0; offset < len(text); {
		i := strings.Index(text[offset:], term)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(term)
		if isBoundary(text, start, end) {
			return true
		}
		offset = start + 1
	}
	return false
}

func isBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
