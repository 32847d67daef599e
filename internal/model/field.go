package model

import (
	"strings"
)

// FieldType is the declared value type of a list field.
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeText     FieldType = "text"
	FieldTypeMarkdown FieldType = "markdown"
	FieldTypeNumber   FieldType = "number"
	FieldTypeDate     FieldType = "date"
	FieldTypeDatetime FieldType = "datetime"
	FieldTypeBoolean  FieldType = "boolean"
)

// IsTextual reports whether values of this type live in the string slot.
func (t FieldType) IsTextual() bool {
	switch t {
	case FieldTypeString, FieldTypeText, FieldTypeMarkdown:
		return true
	}
	return false
}

// IsTemporal reports whether values of this type live in the date slot.
func (t FieldType) IsTemporal() bool {
	return t == FieldTypeDate || t == FieldTypeDatetime
}

// Valid reports whether t is one of the known field types.
func (t FieldType) Valid() bool {
	return t.IsTextual() || t.IsTemporal() || t == FieldTypeNumber || t == FieldTypeBoolean
}

// SourceType determines where a field's value comes from.
type SourceType string

const (
	SourceFileProperty SourceType = "file_property"
	SourceLLMComputed  SourceType = "llm_computed"
)

// FileProperty selects a piece of file metadata exposed as a field.
type FileProperty string

const (
	FilePropertyName                   FileProperty = "name"
	FilePropertyOriginURI              FileProperty = "originUri"
	FilePropertyMimeType               FileProperty = "mimeType"
	FilePropertySize                   FileProperty = "size"
	FilePropertySource                 FileProperty = "source"
	FilePropertyCrawlerURL             FileProperty = "crawlerUrl"
	FilePropertyItemName               FileProperty = "itemName"
	FilePropertyProcessedAt            FileProperty = "processedAt"
	FilePropertyOriginModificationDate FileProperty = "originModificationDate"
)

// ContextType enumerates the kinds of context a computed field can pull in.
type ContextType string

const (
	ContextFieldReference ContextType = "fieldReference"
	ContextVectorSearch   ContextType = "vectorSearch"
	ContextWebFetch       ContextType = "webFetch"
	ContextFullContent    ContextType = "fullContent"
)

// ContextSource is one piece of context fed to the model when computing a field.
type ContextSource struct {
	ID               string      `json:"id"`
	Type             ContextType `json:"context_type"`
	ContextField     *Field      `json:"context_field,omitempty"`
	QueryTemplate    string      `json:"query_template,omitempty"`
	URLTemplate      string      `json:"url_template,omitempty"`
	MaxChunks        int         `json:"max_chunks,omitempty"`
	MaxDistance      float64     `json:"max_distance,omitempty"`
	MaxContentTokens int         `json:"max_content_tokens,omitempty"`
}

// Field is a named column of a list. Exactly one of FileProperty and Prompt is
// meaningful, selected by SourceType.
type Field struct {
	ID               string          `json:"id"`
	ListID           string          `json:"list_id"`
	Name             string          `json:"name"`
	Type             FieldType       `json:"type"`
	SourceType       SourceType      `json:"source_type"`
	FileProperty     FileProperty    `json:"file_property,omitempty"`
	Prompt           string          `json:"prompt,omitempty"`
	LanguageModel    string          `json:"language_model,omitempty"`
	LanguageProvider string          `json:"language_provider,omitempty"`
	FailureTerms     string          `json:"failure_terms,omitempty"`
	UseMarkdown      bool            `json:"use_markdown"`
	Order            int             `json:"order"`
	Context          []ContextSource `json:"context,omitempty"`
}

// IsComputed reports whether the field's values come from the enrichment cache.
func (f *Field) IsComputed() bool {
	return f.SourceType == SourceLLMComputed
}

// FailureTermList splits the comma or newline separated failure terms into
// trimmed, lower-cased entries.
func (f *Field) FailureTermList() []string {
	if f.FailureTerms == "" {
		return nil
	}
	parts := strings.FieldsFunc(f.FailureTerms, func(r rune) bool {
		return r == ',' || r == '\n' || r == ';'
	})
	terms := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.ToLower(strings.TrimSpace(p)); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

// FieldIndex is a lookup of fields by id.
type FieldIndex map[string]*Field

// NewFieldIndex indexes fields by id.
func NewFieldIndex(fields []Field) FieldIndex {
	idx := make(FieldIndex, len(fields))
	for i := range fields {
		idx[fields[i].ID] = &fields[i]
	}
	return idx
}

// Name returns the field's display name, falling back to the id.
func (idx FieldIndex) Name(id string) string {
	if f, ok := idx[id]; ok && f.Name != "" {
		return f.Name
	}
	return id
}
