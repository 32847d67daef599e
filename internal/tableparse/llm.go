package tableparse

import "strings"

// LLMItem is one named fragment of a structured model response.
type LLMItem struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// ExtractLLMItems splits a response on lines beginning with "## ". Each
// section's heading is the item name and the remainder its content. Text
// before the first heading is ignored. Sections without a body get the
// synthesized content "## <name>".
func ExtractLLMItems(response string) []LLMItem {
	var items []LLMItem
	var name string
	var body []string
	open := false

	flush := func() {
		if !open {
			return
		}
		n := strings.TrimSpace(name)
		if n == "" {
			return
		}
		content := strings.TrimSpace(strings.Join(body, "\n"))
		if content == "" {
			content = "## " + n
		}
		items = append(items, LLMItem{Name: n, Content: content})
	}

	for _, line := range strings.Split(strings.ReplaceAll(response, "\r\n", "\n"), "\n") {
		if strings.HasPrefix(line, "## ") {
			flush()
			name = strings.TrimPrefix(line, "## ")
			body = body[:0]
			open = true
			continue
		}
		if open {
			body = append(body, line)
		}
	}
	flush()
	return items
}
