// Package filter decides which relations and closed ways become area
// candidates.
package filter

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Filter selects area candidates by their tags.
type Filter interface {
	// IsAreaRelation reports whether a relation describes an area.
	IsAreaRelation(tags map[string]string) (bool, error)
	// IsAreaWay reports whether a closed way describes an area.
	IsAreaWay(tags map[string]string) (bool, error)
}

// Config holds the tag rules for relations and ways
type Config struct {
	Relations RelationRules `yaml:"relations"`
	Ways      WayRules      `yaml:"ways"`
}

// RelationRules select area relations by their type tag
type RelationRules struct {
	// Types lists accepted values of the relation "type" tag
	Types []string `yaml:"types,omitempty"`
	Rules `yaml:",inline"`
}

// WayRules select closed ways that form areas
type WayRules struct {
	// AreaKeys maps tag keys to whether they imply an area.
	// The first key found on a way decides.
	AreaKeys map[string]bool `yaml:"area_keys,omitempty"`
	// Order fixes the key precedence for AreaKeys; keys missing from
	// Order are checked afterwards in sorted order.
	Order []string `yaml:"order,omitempty"`
	Rules `yaml:",inline"`
}

// Rules are include/exclude tag rules
type Rules struct {
	// Include specifies which tag keys/values to include
	// If empty, all tags are included (no filtering)
	Include map[string][]string `yaml:"include,omitempty"`
	// Exclude specifies which tag keys/values to exclude
	// Applied after include rules
	Exclude map[string][]string `yaml:"exclude,omitempty"`
	// RequireAny specifies that at least one of these tags must be present
	RequireAny []string `yaml:"require_any,omitempty"`
}

// DefaultConfig returns the built-in rules: multipolygon and boundary
// relations, and closed ways carrying an area-implying key.
func DefaultConfig() *Config {
	return &Config{
		Relations: RelationRules{Types: []string{"multipolygon", "boundary"}},
		Ways: WayRules{
			AreaKeys: map[string]bool{
				"building": true,
				"landuse":  true,
				"natural":  true,
				"leisure":  true,
				"amenity":  true,
				"shop":     true,
				"tourism":  true,
				"man_made": true,
				"waterway": false, // rivers are lines even if closed
				"highway":  false, // roundabouts are lines
				"barrier":  false,
				"railway":  false,
			},
		},
	}
}

// LoadConfig loads filter rules from a YAML file. Sections left out of the
// file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read filter file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses filter rules from YAML.
func ParseConfig(data []byte) (*Config, error) {
	var raw Config
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse filter YAML: %w", err)
	}
	cfg := DefaultConfig()
	if len(raw.Relations.Types) > 0 {
		cfg.Relations.Types = raw.Relations.Types
	}
	cfg.Relations.Rules = raw.Relations.Rules
	if len(raw.Ways.AreaKeys) > 0 {
		cfg.Ways.AreaKeys = raw.Ways.AreaKeys
	}
	cfg.Ways.Order = raw.Ways.Order
	cfg.Ways.Rules = raw.Ways.Rules
	return cfg, nil
}

// Match checks if the given tags pass the rules
func (r *Rules) Match(tags map[string]string) bool {
	// Check require_any - at least one tag must be present
	if len(r.RequireAny) > 0 {
		found := false
		for _, key := range r.RequireAny {
			if _, ok := tags[key]; ok {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(r.Include) > 0 {
		matched := false
		for key, values := range r.Include {
			if v, ok := tags[key]; ok && valueMatches(values, v) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for key, values := range r.Exclude {
		if v, ok := tags[key]; ok && valueMatches(values, v) {
			return false
		}
	}
	return true
}

// valueMatches treats an empty list and "*" as any value.
func valueMatches(values []string, v string) bool {
	return len(values) == 0 || slices.Contains(values, v) || slices.Contains(values, "*")
}

// TagFilter applies a Config.
type TagFilter struct {
	cfg  *Config
	keys []string
}

// NewTagFilter creates a filter from configuration
func NewTagFilter(cfg *Config) *TagFilter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	keys := slices.Clone(cfg.Ways.Order)
	var rest []string
	for k := range cfg.Ways.AreaKeys {
		if !slices.Contains(keys, k) {
			rest = append(rest, k)
		}
	}
	slices.Sort(rest)
	return &TagFilter{cfg: cfg, keys: append(keys, rest...)}
}

func (f *TagFilter) IsAreaRelation(tags map[string]string) (bool, error) {
	if !slices.Contains(f.cfg.Relations.Types, tags["type"]) {
		return false, nil
	}
	return f.cfg.Relations.Match(tags), nil
}

func (f *TagFilter) IsAreaWay(tags map[string]string) (bool, error) {
	if v, ok := tags["area"]; ok {
		if v != "yes" {
			return false, nil
		}
		return f.cfg.Ways.Match(tags), nil
	}
	for _, k := range f.keys {
		if _, ok := tags[k]; ok {
			if !f.cfg.Ways.AreaKeys[k] {
				return false, nil
			}
			return f.cfg.Ways.Match(tags), nil
		}
	}
	return false, nil
}
