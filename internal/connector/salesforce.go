package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/list-enricher/pkg/salesforce"
)

// SalesforceDialer opens a Salesforce client for a connector's credentials.
type SalesforceDialer func(ctx context.Context, creds salesforce.Creds) (salesforce.Client, error)

// DialSalesforce connects with the JWT bearer flow or a static access token.
func DialSalesforce(rps float64) SalesforceDialer {
	return func(_ context.Context, creds salesforce.Creds) (salesforce.Client, error) {
		return salesforce.Connect(creds, salesforce.WithRateLimit(rps))
	}
}

type salesforceUpdateConfig struct {
	SObject string `yaml:"sObject"`
	// RecordIDField is the list field holding the Salesforce record id.
	RecordIDField string `yaml:"recordIdField"`
	// MatchField and MatchValueField look the record up instead:
	// SELECT Id FROM SObject WHERE MatchField = <value of MatchValueField>.
	MatchField      string         `yaml:"matchField"`
	MatchValueField string         `yaml:"matchValueField"`
	FieldMappings   []FieldMapping `yaml:"fieldMappings"`
}

func parseSalesforceUpdate(cfg map[string]any) (*salesforceUpdateConfig, error) {
	var c salesforceUpdateConfig
	if err := DecodeConfig(cfg, &c); err != nil {
		return nil, err
	}
	if c.SObject == "" {
		return nil, eris.New("connector: sObject is required")
	}
	if c.RecordIDField == "" && (c.MatchField == "" || c.MatchValueField == "") {
		return nil, eris.New("connector: recordIdField or matchField with matchValueField is required")
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

// SalesforceType is the Salesforce connector. BaseURL is the instance domain.
func SalesforceType(dial SalesforceDialer) *Type {
	credsOf := func(cfg Config) salesforce.Creds {
		return salesforce.Creds{
			Domain:        cfg.BaseURL,
			AccessToken:   cfg.Credentials["accessToken"],
			Username:      cfg.Credentials["username"],
			ConsumerKey:   cfg.Credentials["consumerKey"],
			PrivateKeyPEM: cfg.Credentials["privateKey"],
		}
	}

	update := &Action{
		ID:          "updateRecord",
		Name:        "Update record",
		Description: "Writes mapped field values to an existing Salesforce record.",
		DefaultConfig: map[string]any{
			"sObject":       "Account",
			"matchField":    "Website",
			"fieldMappings": []any{},
		},
		Validate: func(cfg map[string]any) error {
			_, err := parseSalesforceUpdate(cfg)
			return err
		},
	}
	update.Execute = func(ctx context.Context, cfg Config, in Input) (Result, error) {
		c, err := parseSalesforceUpdate(in.ActionConfig)
		if err != nil {
			return Result{}, err
		}

		fields, err := ApplyMappings(c.FieldMappings, in.Item.FieldValues)
		if err != nil {
			return Result{Status: StatusFailed, Message: "Could not convert field values", Error: err.Error()}, nil
		}
		if len(fields) == 0 {
			return Result{Status: StatusSkipped, Message: "No field values to update"}, nil
		}

		client, err := dial(ctx, credsOf(cfg))
		if err != nil {
			return Result{Status: StatusFailed, Message: "Failed to connect to Salesforce", Error: err.Error()}, nil
		}

		recordID := strings.TrimSpace(stringValue(in.Item.FieldValues[c.RecordIDField]))
		if c.RecordIDField == "" {
			match := strings.TrimSpace(stringValue(isoValue(in.Item.FieldValues[c.MatchValueField])))
			if match == "" {
				return Result{Status: StatusSkipped, Message: fmt.Sprintf("No value found in match field %q", c.MatchValueField)}, nil
			}
			recordID, err = salesforce.FindRecordID(ctx, client, c.SObject, c.MatchField, match)
			if err != nil {
				return Result{Status: StatusFailed, Message: "Failed to look up record", Error: err.Error()}, nil
			}
			if recordID == "" {
				return Result{Status: StatusSkipped, Message: fmt.Sprintf("No %s found with %s = %q", c.SObject, c.MatchField, match)}, nil
			}
		}
		if recordID == "" {
			return Result{Status: StatusSkipped, Message: fmt.Sprintf("No record id found in field %q", c.RecordIDField)}, nil
		}

		if err := salesforce.UpdateRecord(ctx, client, c.SObject, recordID, fields); err != nil {
			return Result{Status: StatusFailed, Message: fmt.Sprintf("Failed to update %s %s", c.SObject, recordID), Error: err.Error()}, nil
		}
		return Result{
			Status:  StatusSuccess,
			Message: fmt.Sprintf("Updated %s %s", c.SObject, recordID),
			Data: map[string]any{
				"recordId":      recordID,
				"sObject":       c.SObject,
				"updatedFields": sortedKeys(fields),
			},
		}, nil
	}

	return &Type{
		ID:              "salesforce",
		Name:            "Salesforce",
		Description:     "Updates Salesforce records through the REST API.",
		SensitiveFields: []string{"accessToken", "privateKey"},
		Actions:         []*Action{update},
		TestConnection: func(ctx context.Context, cfg Config) error {
			client, err := dial(ctx, credsOf(cfg))
			if err != nil {
				return err
			}
			_, err = client.DescribeSObject(ctx, "Account")
			return err
		},
	}
}
