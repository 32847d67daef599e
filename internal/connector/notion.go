package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/list-enricher/pkg/notion"
)

// NotionDialer creates a Notion client for an integration token.
type NotionDialer func(token string) notion.Client

// DialNotion creates rate limited clients.
func DialNotion(rps float64) NotionDialer {
	return func(token string) notion.Client {
		return notion.NewClient(token, notion.WithRateLimit(rps))
	}
}

type notionUpsertConfig struct {
	DatabaseID    string `yaml:"databaseId"`
	TitleProperty string `yaml:"titleProperty"`
	// TitleField selects the list field used as page title; the item name
	// is used when empty.
	TitleField    string         `yaml:"titleField"`
	PageIDField   string         `yaml:"pageIdField"`
	FieldMappings []FieldMapping `yaml:"fieldMappings"`
}

func parseNotionUpsert(cfg map[string]any) (*notionUpsertConfig, error) {
	var c notionUpsertConfig
	if err := DecodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	if c.DatabaseID == "" {
		return nil, eris.New("connector: databaseId is required")
	}
	if c.TitleProperty == "" {
		c.TitleProperty = "Name"
	}
	if len(c.FieldMappings) == 0 {
		return nil, eris.New("connector: at least one field mapping is required")
	}
	for _, m := range c.FieldMappings {
		if err := m.validate(); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func notionKind(t Transform) string {
	switch t {
	case TransformNumber:
		return notion.KindNumber
	case TransformBoolean:
		return notion.KindCheckbox
	}
	return notion.KindRichText
}

// NotionType is the Notion connector. Pages live in one database per action.
func NotionType(dial NotionDialer) *Type {
	upsert := &Action{
		ID:          "upsertPage",
		Name:        "Upsert page",
		Description: "Creates or updates a page in a Notion database.",
		DefaultConfig: map[string]any{
			"databaseId":    "",
			"titleProperty": "Name",
			"fieldMappings": []any{},
		},
		Validate: func(cfg map[string]any) error {
			_, err := parseNotionUpsert(cfg)
			return err
		},
	}
	upsert.Execute = func(ctx context.Context, cfg Config, in Input) (Result, error) {
		c, err := parseNotionUpsert(in.ActionConfig)
		if err != nil {
			return Result{}, err
		}

		payload, err := ApplyMappings(c.FieldMappings, in.Item.FieldValues)
		if err != nil {
			return Result{Status: StatusFailed, Message: "Could not convert field values", Error: err.Error()}, nil
		}
		if len(payload) == 0 {
			return Result{Status: StatusSkipped, Message: "No field values to write"}, nil
		}

		title := in.Item.Name
		if c.TitleField != "" {
			title = strings.TrimSpace(stringValue(isoValue(in.Item.FieldValues[c.TitleField])))
		}
		pageID := ""
		if c.PageIDField != "" {
			pageID = strings.TrimSpace(stringValue(in.Item.FieldValues[c.PageIDField]))
		}
		if title == "" && pageID == "" {
			return Result{Status: StatusSkipped, Message: "No page title or page id available"}, nil
		}

		values := make([]notion.PropertyValue, 0, len(payload)+1)
		for _, m := range c.FieldMappings {
			v, ok := payload[m.TargetField]
			if !ok {
				continue
			}
			values = append(values, notion.PropertyValue{Name: m.TargetField, Kind: notionKind(m.Transform), Value: stringValue(v)})
		}
		if title != "" {
			values = append(values, notion.PropertyValue{Name: c.TitleProperty, Kind: notion.KindTitle, Value: title})
		}

		client := dial(cfg.Credentials["apiKey"])
		page, created, err := notion.UpsertPage(ctx, client, c.DatabaseID, pageID, c.TitleProperty, title, notion.BuildProperties(values))
		if err != nil {
			return Result{Status: StatusFailed, Message: "Failed to upsert page", Error: err.Error()}, nil
		}
		op := "updated"
		if created {
			op = "created"
		}
		data := map[string]any{"operation": op, "fields": sortedKeys(payload)}
		if page != nil {
			data["pageId"] = string(page.ID)
		}
		return Result{
			Status:  StatusSuccess,
			Message: fmt.Sprintf("Page %s %s", title, op),
			Data:    data,
		}, nil
	}

	return &Type{
		ID:              "notion",
		Name:            "Notion",
		Description:     "Writes list items as pages of a Notion database.",
		SensitiveFields: []string{"apiKey"},
		RequiredFields:  []string{"apiKey"},
		Actions:         []*Action{upsert},
	}
}
