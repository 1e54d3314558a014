package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Property value types an entry schema may declare.
const (
	PropertyString = "string"
	PropertyNumber = "number"
	PropertyBool   = "bool"
	PropertyEnum   = "enum"
)

// Schema declares the simulation properties each entry type is expected
// to carry.
type Schema struct {
	Version    int         `yaml:"version" json:"version"`
	EntryTypes []EntryType `yaml:"entry_types" json:"entryTypes"`

	entryIndex map[string]*EntryType
}

type EntryType struct {
	Name       string     `yaml:"name" json:"name"`
	Properties []Property `yaml:"properties" json:"properties"`
}

type Property struct {
	Name     string   `yaml:"name" json:"name"`
	Type     string   `yaml:"type" json:"type"`
	Values   []string `yaml:"values,omitempty" json:"values,omitempty"`
	Required bool     `yaml:"required,omitempty" json:"required,omitempty"`
}

// PropertyProblem is one mismatch between an entry's properties and its
// declared schema. Missing required properties are warnings, the rest
// errors.
type PropertyProblem struct {
	Property string
	Missing  bool
	Message  string
}

func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}
	return ParseSchema(data)
}

func ParseSchema(data []byte) (*Schema, error) {
	var schema Schema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}

	if err := validateSchema(&schema); err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}

	schema.entryIndex = make(map[string]*EntryType)
	for i := range schema.EntryTypes {
		entry := &schema.EntryTypes[i]
		schema.entryIndex[strings.ToLower(entry.Name)] = entry
	}

	return &schema, nil
}

func validateSchema(s *Schema) error {
	if s.Version != 1 {
		return fmt.Errorf("unsupported version: %d", s.Version)
	}
	if len(s.EntryTypes) == 0 {
		return fmt.Errorf("at least one entry type is required")
	}

	entryNames := make(map[string]struct{})
	for i, entry := range s.EntryTypes {
		if strings.TrimSpace(entry.Name) == "" {
			return fmt.Errorf("entry type %d name is required", i)
		}
		key := strings.ToLower(entry.Name)
		if _, exists := entryNames[key]; exists {
			return fmt.Errorf("duplicate entry type name: %s", entry.Name)
		}
		entryNames[key] = struct{}{}

		propNames := make(map[string]struct{})
		for _, prop := range entry.Properties {
			name := strings.ToLower(strings.TrimSpace(prop.Name))
			if name == "" {
				return fmt.Errorf("entry type %s has property with empty name", entry.Name)
			}
			if _, exists := propNames[name]; exists {
				return fmt.Errorf("entry type %s has duplicate property: %s", entry.Name, prop.Name)
			}
			propNames[name] = struct{}{}

			switch strings.ToLower(prop.Type) {
			case PropertyString, PropertyNumber, PropertyBool:
			case PropertyEnum:
				if len(prop.Values) == 0 {
					return fmt.Errorf("entry type %s property %s enum has no values", entry.Name, prop.Name)
				}
			default:
				return fmt.Errorf("entry type %s property %s has unknown type: %s", entry.Name, prop.Name, prop.Type)
			}
		}
	}

	return nil
}

func (s *Schema) EntryTypeByName(name string) (*EntryType, bool) {
	if s == nil {
		return nil, false
	}
	entry, ok := s.entryIndex[strings.ToLower(name)]
	return entry, ok
}

func (s *Schema) IsValidEntryType(name string) bool {
	_, ok := s.EntryTypeByName(name)
	return ok
}

// Check compares props against the declared properties. Undeclared
// properties are allowed.
func (t *EntryType) Check(props map[string]any) []PropertyProblem {
	var problems []PropertyProblem
	for _, prop := range t.Properties {
		v, ok := props[prop.Name]
		if !ok || v == nil {
			if prop.Required {
				problems = append(problems, PropertyProblem{
					Property: prop.Name,
					Missing:  true,
					Message:  fmt.Sprintf("required property %s is missing", prop.Name),
				})
			}
			continue
		}
		if msg := checkValue(prop, v); msg != "" {
			problems = append(problems, PropertyProblem{Property: prop.Name, Message: msg})
		}
	}
	sort.Slice(problems, func(i, j int) bool { return problems[i].Property < problems[j].Property })
	return problems
}

func checkValue(prop Property, v any) string {
	switch strings.ToLower(prop.Type) {
	case PropertyString:
		if _, ok := v.(string); !ok {
			return fmt.Sprintf("property %s must be a string (got %T)", prop.Name, v)
		}
	case PropertyNumber:
		if !isNumber(v) {
			return fmt.Sprintf("property %s must be a number (got %T)", prop.Name, v)
		}
	case PropertyBool:
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("property %s must be a bool (got %T)", prop.Name, v)
		}
	case PropertyEnum:
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf("property %s must be one of %s (got %T)", prop.Name, strings.Join(prop.Values, ", "), v)
		}
		for _, allowed := range prop.Values {
			if s == allowed {
				return ""
			}
		}
		return fmt.Sprintf("property %s must be one of %s (got %q)", prop.Name, strings.Join(prop.Values, ", "), s)
	}
	return ""
}

func isNumber(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

// DefaultSchema is the schema airsync init writes.
const DefaultSchema = `version: 1
entry_types:
  - name: window
    properties:
      - { name: state, type: enum, values: [open, closed], required: true }
      - { name: temperature, type: number }
  - name: door
    properties:
      - { name: state, type: enum, values: [open, closed], required: true }
      - { name: temperature, type: number }
  - name: vent
    properties:
      - { name: flowRate, type: number, required: true }
      - { name: airOrientation, type: enum, values: [inflow, outflow] }
      - { name: enabled, type: bool }
`
