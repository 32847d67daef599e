package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

type recordID struct {
	ID string `json:"Id" salesforce:"Id"`
}

// FindRecordID returns the id of the first sObject record whose field
// equals value, or "" when none matches.
func FindRecordID(ctx context.Context, c Client, sObject, field, value string) (string, error) {
	if !validName(sObject) || !validName(field) {
		return "", eris.Errorf("sf: invalid lookup %s.%s", sObject, field)
	}
	soql := fmt.Sprintf("SELECT Id FROM %s WHERE %s = '%s' LIMIT 1", sObject, field, escapeSoql(value))

	var records []recordID
	if err := c.Query(ctx, soql, &records); err != nil {
		return "", eris.Wrap(err, fmt.Sprintf("sf: find %s by %s", sObject, field))
	}
	if len(records) == 0 {
		return "", nil
	}
	return records[0].ID, nil
}

// UpdateRecord writes fields to one record.
func UpdateRecord(ctx context.Context, c Client, sObject, id string, fields map[string]any) error {
	if id == "" {
		return eris.New("sf: record id is required")
	}
	if len(fields) == 0 {
		return eris.New("sf: no fields to update")
	}
	return c.UpdateOne(ctx, sObject, id, fields)
}

// NonUpdateableFields returns the names in fields that the sObject does not
// allow writing, including unknown names.
func NonUpdateableFields(ctx context.Context, c Client, sObject string, fields []string) ([]string, error) {
	desc, err := c.DescribeSObject(ctx, sObject)
	if err != nil {
		return nil, err
	}
	writable := make(map[string]bool, len(desc.Fields))
	for _, f := range desc.Fields {
		writable[strings.ToLower(f.Name)] = f.Updateable
	}
	var bad []string
	for _, name := range fields {
		if !writable[strings.ToLower(name)] {
			bad = append(bad, name)
		}
	}
	return bad, nil
}

// validName accepts API names: letters, digits and underscores.
func validName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// escapeSoql escapes backslashes and single quotes in SOQL string literals.
func escapeSoql(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}
