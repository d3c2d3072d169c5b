// README: Declarative lookup tables (locations, metros, manufacturers, categories) loaded from YAML.
package query

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed tables.yaml
var defaultTables []byte

// MatchMode combines the parts of a category rule.
type MatchMode string

const (
	MatchAll MatchMode = "all"
	MatchAny MatchMode = "any"
)

// CategoryRule maps a natural-language category to inventory attributes.
// A zero MinPrice or MaxPrice means no price threshold.
type CategoryRule struct {
	Name       string    `yaml:"name"`
	Label      string    `yaml:"label"`
	Aliases    []string  `yaml:"aliases"`
	BodyStyles []string  `yaml:"body_styles"`
	FuelTypes  []string  `yaml:"fuel_types"`
	Makes      []string  `yaml:"makes"`
	MinPrice   float64   `yaml:"min_price"`
	MaxPrice   float64   `yaml:"max_price"`
	Match      MatchMode `yaml:"match"`
}

type LocationEntry struct {
	City    string   `yaml:"city"`
	Lat     float64  `yaml:"lat"`
	Lng     float64  `yaml:"lng"`
	Aliases []string `yaml:"aliases"`
}

type tableFile struct {
	Regions       map[string]string   `yaml:"regions"`
	Metros        map[string][]string `yaml:"metros"`
	Locations     []LocationEntry     `yaml:"locations"`
	Manufacturers map[string][]string `yaml:"manufacturers"`
	Categories    []CategoryRule      `yaml:"categories"`
}

// Tables is the compiled, read-only form of the lookup tables. Safe for concurrent use.
type Tables struct {
	locIndex   map[string]string
	centers    map[string]LocationEntry
	metroOf    map[string][]string
	makeIndex  map[string]string
	catIndex   map[string]int
	categories []CategoryRule
}

// LoadTables decodes and compiles tables from YAML.
func LoadTables(r io.Reader) (*Tables, error) {
	var raw tableFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode tables: %w", err)
	}
	return compile(raw)
}

// LoadTablesFile loads tables from path, or the embedded defaults when path is empty.
func LoadTablesFile(path string) (*Tables, error) {
	if path == "" {
		return DefaultTables()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tables: %w", err)
	}
	defer f.Close()
	return LoadTables(f)
}

func DefaultTables() (*Tables, error) {
	return LoadTables(bytes.NewReader(defaultTables))
}

// MustDefaultTables panics if the embedded tables are broken.
func MustDefaultTables() *Tables {
	t, err := DefaultTables()
	if err != nil {
		panic(err)
	}
	return t
}

func compile(raw tableFile) (*Tables, error) {
	t := &Tables{
		locIndex:  map[string]string{},
		centers:   map[string]LocationEntry{},
		metroOf:   map[string][]string{},
		makeIndex: map[string]string{},
		catIndex:  map[string]int{},
	}

	for _, loc := range raw.Locations {
		city, region, ok := splitCanonical(loc.City)
		if !ok {
			return nil, fmt.Errorf("location %q is not \"City, ST\"", loc.City)
		}
		if _, dup := t.centers[loc.City]; dup {
			return nil, fmt.Errorf("location %q listed twice", loc.City)
		}
		t.centers[loc.City] = loc

		keys := []string{loc.City, city}
		if name, ok := raw.Regions[region]; ok {
			keys = append(keys, city+" "+name)
		}
		keys = append(keys, loc.Aliases...)
		for _, k := range keys {
			if err := addKey(t.locIndex, normKey(k), loc.City, "location"); err != nil {
				return nil, err
			}
		}
	}

	for name, members := range raw.Metros {
		for _, m := range members {
			if _, ok := t.centers[m]; !ok {
				return nil, fmt.Errorf("metro %q: unknown location %q", name, m)
			}
			if _, dup := t.metroOf[m]; dup {
				return nil, fmt.Errorf("location %q belongs to two metros", m)
			}
			t.metroOf[m] = members
		}
	}

	for canonical, aliases := range raw.Manufacturers {
		keys := append([]string{canonical}, aliases...)
		for _, k := range keys {
			if err := addKey(t.makeIndex, normKey(k), canonical, "manufacturer"); err != nil {
				return nil, err
			}
		}
	}

	for i, c := range raw.Categories {
		if c.Name == "" {
			return nil, fmt.Errorf("category %d has no name", i)
		}
		switch c.Match {
		case "":
			raw.Categories[i].Match = MatchAll
		case MatchAll, MatchAny:
		default:
			return nil, fmt.Errorf("category %q: unknown match %q", c.Name, c.Match)
		}
		if c.Label == "" {
			raw.Categories[i].Label = c.Name
		}
		keys := append([]string{c.Name}, c.Aliases...)
		for _, k := range keys {
			key := normKey(k)
			if prev, dup := t.catIndex[key]; dup && prev != i {
				return nil, fmt.Errorf("category alias %q maps to %q and %q", k, raw.Categories[prev].Name, c.Name)
			}
			t.catIndex[key] = i
		}
	}
	t.categories = raw.Categories
	return t, nil
}

func addKey(index map[string]string, key, canonical, kind string) error {
	if key == "" {
		return nil
	}
	if prev, ok := index[key]; ok && prev != canonical {
		return fmt.Errorf("%s alias %q maps to %q and %q", kind, key, prev, canonical)
	}
	index[key] = canonical
	return nil
}

func splitCanonical(s string) (city, region string, ok bool) {
	city, region, ok = strings.Cut(s, ", ")
	if !ok || city == "" || len(region) != 2 {
		return "", "", false
	}
	return city, region, true
}

// normKey lower-cases, maps punctuation to spaces and collapses runs of spaces.
func normKey(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// Category returns the rule for a category name or alias.
func (t *Tables) Category(raw string) (CategoryRule, bool) {
	i, ok := t.catIndex[normKey(raw)]
	if !ok {
		return CategoryRule{}, false
	}
	return t.categories[i], true
}

// Categories returns the configured category names in table order.
func (t *Tables) Categories() []string {
	out := make([]string, 0, len(t.categories))
	for _, c := range t.categories {
		out = append(out, c.Name)
	}
	return out
}
