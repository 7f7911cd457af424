package admission

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ruleFile is the YAML shape operators use to extend the kind registry
// without recompiling:
//
//	kinds:
//	  - kind: 30402
//	    rules:
//	      - name: listing-currency
//	        cel: 'tags.exists(t, t[0] == "currency" && t[1] in ["sat", "usd"])'
//	  - kind: 0
//	    rules:
//	      - name: profile-shape
//	        schema: |
//	          {"type": "object", "required": ["name"]}
type ruleFile struct {
	Kinds []struct {
		Kind  int `yaml:"kind"`
		Rules []struct {
			Name   string `yaml:"name"`
			CEL    string `yaml:"cel,omitempty"`
			Schema string `yaml:"schema,omitempty"`
		} `yaml:"rules"`
	} `yaml:"kinds"`
}

// LoadRuleFile reads a YAML rule file and registers its rules.
func LoadRuleFile(registry *Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read rule file: %w", err)
	}
	return LoadRules(registry, data)
}

// LoadRules parses YAML rule definitions and registers them. Each rule is
// either a CEL expression or a JSON Schema for the content field.
func LoadRules(registry *Registry, data []byte) error {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse rule file: %w", err)
	}
	for _, entry := range file.Kinds {
		for _, def := range entry.Rules {
			if def.Name == "" {
				return fmt.Errorf("kind %d: rule without a name", entry.Kind)
			}
			switch {
			case def.CEL != "" && def.Schema != "":
				return fmt.Errorf("rule %s: cel and schema are mutually exclusive", def.Name)
			case def.CEL != "":
				rule, err := NewCELRule(def.Name, def.CEL)
				if err != nil {
					return err
				}
				registry.Register(entry.Kind, rule)
			case def.Schema != "":
				rule, err := NewSchemaRule(def.Name, def.Schema)
				if err != nil {
					return err
				}
				registry.Register(entry.Kind, rule)
			default:
				return fmt.Errorf("rule %s: needs either cel or schema", def.Name)
			}
		}
	}
	return nil
}
