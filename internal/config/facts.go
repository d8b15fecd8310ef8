package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/example/go-graphbridge/internal/fact"
)

// ParseFacts turns the model.facts map ("index" -> fact) into input facts.
// Each fact may use the compact form or JSON.
func ParseFacts(raw map[string]string) (map[int]fact.ShapeFact, error) {
	out := make(map[int]fact.ShapeFact, len(raw))
	for key, value := range raw {
		idx, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil || idx < 0 {
			return nil, fmt.Errorf("fact key %q: expected a non-negative input index", key)
		}
		f, err := fact.Parse(value)
		if err != nil {
			return nil, fmt.Errorf("fact %d: %w", idx, err)
		}
		out[idx] = f
	}
	return out, nil
}

// factFlagValues collects repeated --fact index=fact entries. Facts contain
// commas, so the flag is a string array rather than a key=value map.
func factFlagValues(entries []string) (map[string]string, error) {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		key, value, ok := strings.Cut(e, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("--fact %q: expected index=fact", e)
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out, nil
}
