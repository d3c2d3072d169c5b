// README: Persona and behavioural rules for the concierge, loaded from YAML.
package prompt

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed persona.yaml
var defaultPersona []byte

type Example struct {
	User   string `yaml:"user"`
	Output string `yaml:"output"`
}

type Persona struct {
	Name         string    `yaml:"name"`
	Voice        string    `yaml:"voice"`
	Locale       string    `yaml:"locale"`
	Rules        []string  `yaml:"rules"`
	Guardrails   []string  `yaml:"guardrails"`
	Examples     []Example `yaml:"examples"`
	OutputSchema string    `yaml:"output_schema"`
}

func LoadPersona(r io.Reader) (Persona, error) {
	var p Persona
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Persona{}, fmt.Errorf("decode persona: %w", err)
	}
	if strings.TrimSpace(p.Name) == "" {
		return Persona{}, fmt.Errorf("persona: name is required")
	}
	if len(p.Guardrails) == 0 {
		return Persona{}, fmt.Errorf("persona %s: at least one guardrail is required", p.Name)
	}
	if strings.TrimSpace(p.OutputSchema) == "" {
		return Persona{}, fmt.Errorf("persona %s: output_schema is required", p.Name)
	}
	return p, nil
}

// LoadPersonaFile loads path, or the embedded persona when path is empty.
func LoadPersonaFile(path string) (Persona, error) {
	if path == "" {
		return DefaultPersona()
	}
	f, err := os.Open(path)
	if err != nil {
		return Persona{}, err
	}
	defer f.Close()
	return LoadPersona(f)
}

func DefaultPersona() (Persona, error) {
	return LoadPersona(bytes.NewReader(defaultPersona))
}

func MustDefaultPersona() Persona {
	p, err := DefaultPersona()
	if err != nil {
		panic(err)
	}
	return p
}
