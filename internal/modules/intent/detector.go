// README: Deterministic pattern-based intent detector (Layer 2 of extraction).
package intent

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed patterns.yaml
var defaultPatterns []byte

// PatternSet is the phrase table for one intent.
type PatternSet struct {
	Patterns  []string `yaml:"patterns"`
	Negations []string `yaml:"negations"`
}

// Patterns maps each intent to its phrase table.
type Patterns map[Intent]PatternSet

// LoadPatterns decodes a YAML phrase table.
func LoadPatterns(r io.Reader) (Patterns, error) {
	var p Patterns
	if err := yaml.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode intent patterns: %w", err)
	}
	return p, nil
}

// DefaultPatterns returns the embedded phrase table.
func DefaultPatterns() Patterns {
	p, err := LoadPatterns(bytes.NewReader(defaultPatterns))
	if err != nil {
		panic(err)
	}
	return p
}

type rule struct {
	intent    Intent
	patterns  []*regexp.Regexp
	negations []*regexp.Regexp
}

// Detector holds compiled phrase tables. It is safe for concurrent use.
type Detector struct {
	rules []rule
}

// NewDetector compiles p once. Unknown intent keys are rejected.
func NewDetector(p Patterns) (*Detector, error) {
	d := &Detector{}
	for _, in := range All {
		set, ok := p[in]
		if !ok {
			continue
		}
		r := rule{intent: in}
		for _, src := range set.Patterns {
			re, err := regexp.Compile("(?i)" + src)
			if err != nil {
				return nil, fmt.Errorf("intent %s: pattern %q: %w", in, src, err)
			}
			r.patterns = append(r.patterns, re)
		}
		for _, src := range set.Negations {
			re, err := regexp.Compile("(?i)" + src)
			if err != nil {
				return nil, fmt.Errorf("intent %s: negation %q: %w", in, src, err)
			}
			r.negations = append(r.negations, re)
		}
		d.rules = append(d.rules, r)
	}
	for key := range p {
		if !known(key) {
			return nil, fmt.Errorf("unknown intent %q in pattern table", key)
		}
	}
	return d, nil
}

// MustDefault returns a detector over the embedded tables.
func MustDefault() *Detector {
	d, err := NewDetector(DefaultPatterns())
	if err != nil {
		panic(err)
	}
	return d
}

// Detect scans text for every intent independently.
func (d *Detector) Detect(text string) DetectedIntents {
	var out DetectedIntents
	for _, r := range d.rules {
		if anyMatch(r.negations, text) {
			continue
		}
		if anyMatch(r.patterns, text) {
			out.set(r.intent)
		}
	}
	return out
}

func anyMatch(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func known(i Intent) bool {
	for _, k := range All {
		if k == i {
			return true
		}
	}
	return false
}
