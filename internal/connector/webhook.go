package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/list-enricher/internal/resilience"
)

type webhookPostConfig struct {
	Path    string            `yaml:"path"`
	Headers map[string]string `yaml:"headers"`
	// FieldMappings is optional; without it every field value is sent
	// under its field id.
	FieldMappings []FieldMapping `yaml:"fieldMappings"`
}

func parseWebhookPost(cfg map[string]any) (*webhookPostConfig, error) {
	var c webhookPostConfig
	if err := DecodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	for _, m := range c.FieldMappings {
		if err := m.validate(); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

type webhookPayload struct {
	ItemID   string         `json:"itemId"`
	ItemName string         `json:"itemName"`
	Fields   map[string]any `json:"fields"`
	SentAt   time.Time      `json:"sentAt"`
}

// WebhookType posts item values as JSON to BaseURL. A bearer token is sent
// when the connector has one.
func WebhookType(hc *http.Client, retry resilience.RetryConfig) *Type {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger("webhook", "post")
	}

	post := &Action{
		ID:            "post",
		Name:          "POST item",
		Description:   "Sends the item's field values to an HTTP endpoint.",
		DefaultConfig: map[string]any{"path": ""},
		Validate: func(cfg map[string]any) error {
			_, err := parseWebhookPost(cfg)
			return err
		},
	}
	post.Execute = func(ctx context.Context, cfg Config, in Input) (Result, error) {
		c, err := parseWebhookPost(in.ActionConfig)
		if err != nil {
			return Result{}, err
		}
		if cfg.BaseURL == "" {
			return Result{}, eris.New("connector: webhook base url is required")
		}

		fields := make(map[string]any, len(in.Item.FieldValues))
		if len(c.FieldMappings) > 0 {
			if fields, err = ApplyMappings(c.FieldMappings, in.Item.FieldValues); err != nil {
				return Result{Status: StatusFailed, Message: "Could not convert field values", Error: err.Error()}, nil
			}
		} else {
			for k, v := range in.Item.FieldValues {
				fields[k] = isoValue(v)
			}
		}
		if len(fields) == 0 {
			return Result{Status: StatusSkipped, Message: "No field values to send"}, nil
		}

		body, err := json.Marshal(webhookPayload{
			ItemID:   in.Item.ID,
			ItemName: in.Item.Name,
			Fields:   fields,
			SentAt:   time.Now().UTC(),
		})
		if err != nil {
			return Result{}, eris.Wrap(err, "connector: marshal webhook payload")
		}

		url := strings.TrimRight(cfg.BaseURL, "/")
		if c.Path != "" {
			url += "/" + strings.TrimLeft(c.Path, "/")
		}
		status, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (int, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return 0, eris.Wrap(err, "webhook: create request")
			}
			req.Header.Set("Content-Type", "application/json")
			for k, v := range c.Headers {
				req.Header.Set(k, v)
			}
			if tok := cfg.Credentials["token"]; tok != "" {
				req.Header.Set("Authorization", "Bearer "+tok)
			}
			resp, err := hc.Do(req)
			if err != nil {
				return 0, eris.Wrap(err, "webhook: request")
			}
			defer resp.Body.Close() //nolint:errcheck
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return resp.StatusCode, resilience.HTTPStatusError("webhook", resp.StatusCode, string(data))
			}
			return resp.StatusCode, nil
		})
		if err != nil {
			return Result{Status: StatusFailed, Message: fmt.Sprintf("POST %s failed", url), Error: err.Error()}, nil
		}
		return Result{
			Status:  StatusSuccess,
			Message: fmt.Sprintf("POST %s returned %d", url, status),
			Data:    map[string]any{"statusCode": status, "fields": sortedKeys(fields)},
		}, nil
	}

	return &Type{
		ID:              "webhook",
		Name:            "Webhook",
		Description:     "Posts item values to an HTTP endpoint.",
		SensitiveFields: []string{"token"},
		Actions:         []*Action{post},
	}
}

func sortedKeys(m map[string]any) []string {
	return slices.Sorted(maps.Keys(m))
}
