package notion

import (
	"strconv"
	"strings"
	"time"

	"github.com/jomei/notionapi"
)

// Property kinds accepted by BuildProperties.
const (
	KindTitle    = "title"
	KindRichText = "rich_text"
	KindNumber   = "number"
	KindCheckbox = "checkbox"
	KindDate     = "date"
	KindURL      = "url"
	KindSelect   = "select"
)

// PropertyValue is one value destined for a named database property.
type PropertyValue struct {
	Name  string
	Kind  string
	Value string
}

// BuildProperties converts string values into typed Notion properties.
// Values that do not parse for their kind fall back to rich text.
func BuildProperties(values []PropertyValue) notionapi.Properties {
	props := make(notionapi.Properties, len(values))
	for _, v := range values {
		props[v.Name] = property(v)
	}
	return props
}

func property(v PropertyValue) notionapi.Property {
	switch v.Kind {
	case KindTitle:
		return notionapi.TitleProperty{Title: richText(v.Value)}
	case KindNumber:
		if n, err := strconv.ParseFloat(strings.TrimSpace(v.Value), 64); err == nil {
			return notionapi.NumberProperty{Number: n}
		}
	case KindCheckbox:
		if b, err := strconv.ParseBool(strings.TrimSpace(v.Value)); err == nil {
			return notionapi.CheckboxProperty{Checkbox: b}
		}
	case KindDate:
		if t, err := time.Parse(time.RFC3339, v.Value); err == nil {
			d := notionapi.Date(t)
			return notionapi.DateProperty{Date: &notionapi.DateObject{Start: &d}}
		}
	case KindURL:
		return notionapi.URLProperty{URL: v.Value}
	case KindSelect:
		return notionapi.SelectProperty{Select: notionapi.Option{Name: v.Value}}
	}
	return notionapi.RichTextProperty{RichText: richText(v.Value)}
}

// Notion caps a single rich text object at 2000 characters.
const maxTextLen = 2000

func richText(s string) []notionapi.RichText {
	var out []notionapi.RichText
	runes := []rune(s)
	for len(runes) > maxTextLen {
		out = append(out, notionapi.RichText{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: string(runes[:maxTextLen])}})
		runes = runes[maxTextLen:]
	}
	return append(out, notionapi.RichText{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: string(runes)}})
}
