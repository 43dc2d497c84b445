// Package taxonomy loads and serves the two-level topic taxonomy the
// Hierarchical Classifier (C7) validates its LLM responses against: a
// closed Level 1 enumeration, and an L1-topic-scoped Level 2 enumeration.
package taxonomy

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

//go:embed registry.json
var defaultRegistry []byte

// Registry is the versioned document: an ordered list of L1 topics, each
// carrying its own closed list of L2 fine topics.
type Registry struct {
	Version string     `json:"version"`
	Topics  []L1Topic  `json:"topics"`
}

// L1Topic is one coarse topic and its fine-topic enumeration.
type L1Topic struct {
	Name       string   `json:"name"`
	FineTopics []string `json:"fine_topics"`
}

// Taxonomy is the validated, queryable form of a Registry.
type Taxonomy struct {
	version string
	l1      []string
	l2      map[string][]string
}

// Load reads path if non-empty, otherwise falls back to the registry
// embedded at build time.
func Load(path string) (*Taxonomy, error) {
	data := defaultRegistry
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("taxonomy: read registry %s: %w", path, err)
		}
		data = raw
	}

	var reg Registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("taxonomy: parse registry: %w", err)
	}
	if len(reg.Topics) == 0 {
		return nil, fmt.Errorf("taxonomy: registry has no topics")
	}

	t := &Taxonomy{version: reg.Version, l2: map[string][]string{}}
	for _, topic := range reg.Topics {
		t.l1 = append(t.l1, topic.Name)
		t.l2[topic.Name] = topic.FineTopics
	}
	return t, nil
}

// Version is the loaded registry's version string.
func (t *Taxonomy) Version() string { return t.version }

// L1Topics returns the closed enumeration of coarse topics.
func (t *Taxonomy) L1Topics() []string { return t.l1 }

// IsValidL1 reports whether topic is a member of the L1 enumeration.
func (t *Taxonomy) IsValidL1(topic string) bool {
	for _, c := range t.l1 {
		if c == topic {
			return true
		}
	}
	return false
}

// L2Topics returns l1Topic's fine-topic enumeration, or nil if l1Topic
// isn't a known L1 topic.
func (t *Taxonomy) L2Topics(l1Topic string) []string {
	return t.l2[l1Topic]
}

// FilterValidL2 returns the subset of candidates present in l1Topic's
// fine-topic enumeration, preserving order (spec.md §4.7 step 4).
func (t *Taxonomy) FilterValidL2(l1Topic string, candidates []string) []string {
	valid := t.l2[l1Topic]
	var out []string
	for _, c := range candidates {
		for _, v := range valid {
			if c == v {
				out = append(out, c)
				break
			}
		}
	}
	return out
}
