package salesforce

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClient implements Client for testing.
type mockClient struct {
	queryFn     func(ctx context.Context, soql string, out any) error
	updateOneFn func(ctx context.Context, sObjectName string, id string, fields map[string]any) error
	describeFn  func(ctx context.Context, name string) (*SObjectDescription, error)
}

func (m *mockClient) Query(ctx context.Context, soql string, out any) error {
	if m.queryFn != nil {
		return m.queryFn(ctx, soql, out)
	}
	return nil
}

func (m *mockClient) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	if m.updateOneFn != nil {
		return m.updateOneFn(ctx, sObjectName, id, fields)
	}
	return nil
}

func (m *mockClient) DescribeSObject(ctx context.Context, name string) (*SObjectDescription, error) {
	if m.describeFn != nil {
		return m.describeFn(ctx, name)
	}
	return &SObjectDescription{Name: name}, nil
}

func TestFindRecordID_EscapesValue(t *testing.T) {
	var soql string
	mc := &mockClient{queryFn: func(_ context.Context, q string, out any) error {
		soql = q
		*(out.(*[]recordID)) = []recordID{{ID: "001A"}}
		return nil
	}}

	id, err := FindRecordID(context.Background(), mc, "Account", "Name", `O'Brien\Co`)
	require.NoError(t, err)
	assert.Equal(t, "001A", id)
	assert.Equal(t, `SELECT Id FROM Account WHERE Name = 'O\'Brien\\Co' LIMIT 1`, soql)
}

func TestFindRecordID_NotFound(t *testing.T) {
	id, err := FindRecordID(context.Background(), &mockClient{}, "Account", "Website", "none.test")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestFindRecordID_RejectsInvalidNames(t *testing.T) {
	_, err := FindRecordID(context.Background(), &mockClient{}, "Account; DELETE", "Name", "x")
	assert.Error(t, err)

	_, err = FindRecordID(context.Background(), &mockClient{}, "Account", "", "x")
	assert.Error(t, err)
}

func TestFindRecordID_QueryError(t *testing.T) {
	mc := &mockClient{queryFn: func(context.Context, string, any) error { return errors.New("expired session") }}

	_, err := FindRecordID(context.Background(), mc, "Contact", "Email", "a@b.test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sf: find Contact by Email")
}

func TestUpdateRecord(t *testing.T) {
	var gotID string
	mc := &mockClient{updateOneFn: func(_ context.Context, _ string, id string, _ map[string]any) error {
		gotID = id
		return nil
	}}
	ctx := context.Background()

	assert.Error(t, UpdateRecord(ctx, mc, "Account", "", map[string]any{"A": 1}))
	assert.Error(t, UpdateRecord(ctx, mc, "Account", "001", nil))
	require.NoError(t, UpdateRecord(ctx, mc, "Account", "001", map[string]any{"A": 1}))
	assert.Equal(t, "001", gotID)
}
