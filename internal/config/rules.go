package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nextlevelbuilder/autoreply/internal/keyword"
)

// fileRule is the on-disk rule shape. enabled defaults to true so that a
// rules file can list plain keyword/response pairs.
type fileRule struct {
	Keywords []string `yaml:"keywords"`
	Response string   `yaml:"response"`
	Enabled  *bool    `yaml:"enabled"`
}

// LoadRulesFile reads keyword rules from a YAML file. The file is either a
// bare list of rules or a mapping with a "rules" key:
//
//	rules:
//	  - keywords: [price, cost]
//	    response: "Our price list is at https://example.com/prices"
//	  - keywords: [hours]
//	    response: "We are open 9:00-18:00."
//	    enabled: false
func LoadRulesFile(path string) ([]keyword.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	var raw []fileRule
	root := doc.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		err = root.Decode(&raw)
	case yaml.MappingNode:
		var wrapped struct {
			Rules []fileRule `yaml:"rules"`
		}
		err = root.Decode(&wrapped)
		raw = wrapped.Rules
	default:
		err = fmt.Errorf("expected a list of rules")
	}
	if err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}

	rules := make([]keyword.Rule, 0, len(raw))
	for _, r := range raw {
		rules = append(rules, keyword.Rule{
			Keywords: r.Keywords,
			Response: r.Response,
			Enabled:  BoolOr(r.Enabled, true),
		})
	}
	return rules, nil
}
