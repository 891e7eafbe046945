package security

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/lexgraph/logger"
)

//go:embed pii_patterns.yaml
var defaultPatterns []byte

// PIIResult is the outcome of a PII scan.
type PIIResult struct {
	HasPII      bool     `json:"has_pii"`
	Redacted    string   `json:"redacted"`
	EntityTypes []string `json:"entity_types"`
}

// PIIScanner detects personal data and returns a redacted copy of the text.
type PIIScanner interface {
	Scan(ctx context.Context, text string) PIIResult
}

// Recognizer is one entry of the pattern catalogue.
type Recognizer struct {
	Entity  string  `yaml:"entity"`
	Name    string  `yaml:"name"`
	Pattern string  `yaml:"pattern"`
	Score   float64 `yaml:"score"`

	re *regexp.Regexp
}

type catalogue struct {
	Recognizers []Recognizer `yaml:"recognizers"`
}

// PatternScanner finds PII with regular-expression recognizers and replaces
// each match with its entity type in angle brackets.
type PatternScanner struct {
	recognizers []Recognizer
	log         logger.Logger
}

// NewPatternScanner loads the built-in recognizer catalogue.
func NewPatternScanner(log logger.Logger) (*PatternScanner, error) {
	return NewPatternScannerFromYAML(defaultPatterns, log)
}

// NewPatternScannerFromFile loads a recognizer catalogue from path.
func NewPatternScannerFromFile(path string, log logger.Logger) (*PatternScanner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read PII patterns: %w", err)
	}
	return NewPatternScannerFromYAML(data, log)
}

// NewPatternScannerFromYAML parses and compiles a recognizer catalogue.
func NewPatternScannerFromYAML(data []byte, log logger.Logger) (*PatternScanner, error) {
	var cat catalogue
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("parse PII patterns: %w", err)
	}
	if len(cat.Recognizers) == 0 {
		return nil, fmt.Errorf("parse PII patterns: no recognizers")
	}

	for i := range cat.Recognizers {
		r := &cat.Recognizers[i]
		if r.Entity == "" {
			return nil, fmt.Errorf("recognizer %d: entity is required", i)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("recognizer %s: %w", r.Entity, err)
		}
		r.re = re
	}

	if log == nil {
		log = logger.NewNop()
	}
	return &PatternScanner{recognizers: cat.Recognizers, log: log}, nil
}

type span struct {
	start, end int
	entity     string
}

// Scan implements PIIScanner. A cancelled context yields the fail-closed
// result.
func (s *PatternScanner) Scan(ctx context.Context, text string) PIIResult {
	if err := ctx.Err(); err != nil {
		s.log.Warn("pii", "PII scan failed", map[string]interface{}{"error": err.Error()})
		return PIIResult{}
	}

	var spans []span
	for _, r := range s.recognizers {
		for _, loc := range r.re.FindAllStringIndex(text, -1) {
			spans = append(spans, span{start: loc[0], end: loc[1], entity: r.Entity})
		}
	}
	if len(spans) == 0 {
		return PIIResult{Redacted: text, EntityTypes: []string{}}
	}

	// Stable sort keeps catalogue order for matches starting at the same offset.
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var (
		b        strings.Builder
		cursor   int
		entities = map[string]bool{}
	)
	for _, sp := range spans {
		if sp.start < cursor {
			continue
		}
		b.WriteString(text[cursor:sp.start])
		b.WriteString("<" + sp.entity + ">")
		cursor = sp.end
		entities[sp.entity] = true
	}
	b.WriteString(text[cursor:])

	types := make([]string, 0, len(entities))
	for e := range entities {
		types = append(types, e)
	}
	sort.Strings(types)

	return PIIResult{HasPII: true, Redacted: b.String(), EntityTypes: types}
}
