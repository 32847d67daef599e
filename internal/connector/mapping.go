package connector

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Transform converts a field value before it is written.
type Transform string

const (
	TransformRaw            Transform = "raw"
	TransformNumber         Transform = "number"
	TransformBoolean        Transform = "boolean"
	TransformMarkdownToText Transform = "markdownToText"
)

// FieldMapping copies one list field into one target field.
type FieldMapping struct {
	SourceFieldID string    `yaml:"sourceFieldId" json:"sourceFieldId"`
	TargetField   string    `yaml:"targetField" json:"targetField"`
	Transform     Transform `yaml:"transform,omitempty" json:"transform,omitempty"`
}

func (m FieldMapping) validate() error {
	if m.SourceFieldID == "" {
		return eris.New("connector: mapping source field is required")
	}
	if m.TargetField == "" {
		return eris.New("connector: mapping target field is required")
	}
	switch m.Transform {
	case "", TransformRaw, TransformNumber, TransformBoolean, TransformMarkdownToText:
		return nil
	}
	return eris.Errorf("connector: unknown transform %q", m.Transform)
}

// DecodeConfig converts a stored action configuration into out using its
// yaml tags.
func DecodeConfig(cfg map[string]any, out any) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return eris.Wrap(err, "connector: encode action config")
	}
	return ParseActionConfig(raw, out)
}

// ParseActionConfig decodes a YAML or JSON action configuration document.
func ParseActionConfig(data []byte, out any) error {
	if err := yaml.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "connector: parse action config")
	}
	return nil
}

// ActionConfigMap decodes a YAML or JSON document into the generic form
// stored on an automation.
func ActionConfigMap(data []byte) (map[string]any, error) {
	var m map[string]any
	if err := ParseActionConfig(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

type mappingsOnly struct {
	FieldMappings []FieldMapping `yaml:"fieldMappings"`
}

// MappedSourceFields returns the list field ids an action configuration
// reads through its fieldMappings. Configurations without mappings yield nil.
func MappedSourceFields(cfg map[string]any) []string {
	var m mappingsOnly
	if err := DecodeConfig(cfg, &m); err != nil {
		return nil
	}
	ids := make([]string, 0, len(m.FieldMappings))
	for _, fm := range m.FieldMappings {
		if fm.SourceFieldID != "" {
			ids = append(ids, fm.SourceFieldID)
		}
	}
	return ids
}

// ApplyMappings builds the target payload. Missing source values are left out.
func ApplyMappings(mappings []FieldMapping, values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(mappings))
	for _, m := range mappings {
		v, ok := values[m.SourceFieldID]
		if !ok || v == nil {
			continue
		}
		tv, err := TransformValue(v, m.Transform)
		if err != nil {
			return nil, eris.Wrapf(err, "connector: field %s", m.TargetField)
		}
		out[m.TargetField] = tv
	}
	return out, nil
}

// TransformValue applies t to v.
func TransformValue(v any, t Transform) (any, error) {
	v = isoValue(v)
	switch t {
	case "", TransformRaw:
		return v, nil
	case TransformNumber:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case bool:
			if n {
				return 1.0, nil
			}
			return 0.0, nil
		}
		s := strings.NewReplacer(",", "", " ", "").Replace(fmt.Sprint(v))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, eris.Errorf("cannot convert %q to a number", fmt.Sprint(v))
		}
		return f, nil
	case TransformBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
		switch strings.ToLower(strings.TrimSpace(fmt.Sprint(v))) {
		case "true", "yes", "1":
			return true, nil
		case "false", "no", "0", "":
			return false, nil
		}
		return nil, eris.Errorf("cannot convert %q to a boolean", fmt.Sprint(v))
	case TransformMarkdownToText:
		return MarkdownToText(fmt.Sprint(v)), nil
	}
	return nil, eris.Errorf("unknown transform %q", t)
}

var (
	mdFence    = regexp.MustCompile("(?s)```[a-zA-Z0-9]*\n?(.*?)```")
	mdImage    = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink     = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	mdHeading  = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdQuote    = regexp.MustCompile(`(?m)^>\s?`)
	mdBullet   = regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+`)
	mdEmphasis = regexp.MustCompile("(\\*\\*|\\*|~~|`)([^*~`\n]+)(\\*\\*|\\*|~~|`)")
	mdRule     = regexp.MustCompile(`(?m)^[ \t]*([-*_][ \t]*){3,}$`)
	mdBlank    = regexp.MustCompile(`\n{3,}`)
)

// MarkdownToText strips markdown syntax and keeps the readable text.
func MarkdownToText(md string) string {
	s := mdFence.ReplaceAllString(md, "$1")
	s = mdImage.ReplaceAllString(s, "$1")
	s = mdLink.ReplaceAllString(s, "$1")
	s = mdRule.ReplaceAllString(s, "")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdQuote.ReplaceAllString(s, "")
	s = mdBullet.ReplaceAllString(s, "- ")
	s = mdEmphasis.ReplaceAllString(s, "$2")
	s = mdBlank.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
