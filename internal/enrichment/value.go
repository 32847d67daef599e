package enrichment

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/rotisserie/eris"

	"github.com/sells-group/list-enricher/internal/model"
)

// noValue is what the model answers when the context does not contain the
// value.
const noValue = "unknown"

// Place puts a raw model answer into the cache slot matching fieldType.
// Values that hit a failure term or do not parse leave every slot empty and
// record the raw answer with an error message instead.
func Place(entry *model.CacheEntry, fieldType model.FieldType, raw string, failureTerms []string) {
	entry.ValueString, entry.ValueNumber, entry.ValueBoolean, entry.ValueDate = nil, nil, nil, nil
	entry.FailedEnrichmentValue, entry.EnrichmentErrorMessage = nil, nil

	raw = strings.TrimSpace(raw)
	if msg := rejection(raw, failureTerms); msg != "" {
		reject(entry, raw, msg)
		return
	}

	switch model.SlotFor(fieldType) {
	case model.SlotString:
		entry.ValueString = &raw
	case model.SlotNumber:
		n, err := ParseNumber(raw)
		if err != nil {
			reject(entry, raw, fmt.Sprintf("Cannot parse %q as a number", raw))
			return
		}
		entry.ValueNumber = &n
	case model.SlotBoolean:
		b, err := ParseBoolean(raw)
		if err != nil {
			reject(entry, raw, fmt.Sprintf("Cannot parse %q as a boolean", raw))
			return
		}
		entry.ValueBoolean = &b
	case model.SlotDate:
		d, err := ParseDate(raw)
		if err != nil {
			reject(entry, raw, fmt.Sprintf("Cannot parse %q as a date", raw))
			return
		}
		entry.ValueDate = &d
	default:
		reject(entry, raw, fmt.Sprintf("Unsupported field type %q", fieldType))
	}
}

func rejection(raw string, failureTerms []string) string {
	lower := strings.ToLower(raw)
	if lower == noValue {
		return "No value could be determined"
	}
	for _, term := range failureTerms {
		if strings.Contains(lower, term) {
			return fmt.Sprintf("Value matches failure term %q", term)
		}
	}
	return ""
}

func reject(entry *model.CacheEntry, raw, msg string) {
	entry.FailedEnrichmentValue = &raw
	entry.EnrichmentErrorMessage = &msg
}

// thousandsGrouped matches a number whose commas separate groups of three
// digits.
var thousandsGrouped = regexp.MustCompile(`^[+-]?\d{1,3}(,\d{3})+(\.\d*)?$`)

// ParseNumber accepts plain numbers with optional thousands separators and
// surrounding currency or percent signs. A comma anywhere other than between
// groups of three digits is rejected, so "1,5" is not read as 15.
func ParseNumber(s string) (float64, error) {
	raw := s
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "$€£%")
	s = strings.ReplaceAll(s, " ", "")
	if strings.Contains(s, ",") {
		if !thousandsGrouped.MatchString(s) {
			return 0, eris.Errorf("enrichment: ambiguous number %q", raw)
		}
		s = strings.ReplaceAll(s, ",", "")
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "enrichment: invalid number %q", raw)
	}
	return n, nil
}

// ParseBoolean accepts true/false and yes/no in any case.
func ParseBoolean(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes":
		return true, nil
	case "false", "no":
		return false, nil
	}
	return false, eris.Errorf("enrichment: invalid boolean %q", s)
}

// ParseDate accepts ISO 8601 and the common written layouts. Dates without
// a zone are read as UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, eris.New("enrichment: empty date")
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "enrichment: invalid date %q", s)
	}
	return t.UTC(), nil
}
