package connector

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testType() *Type {
	return &Type{
		ID:              "acme",
		Name:            "Acme",
		SensitiveFields: []string{"secret"},
		RequiredFields:  []string{"secret"},
		Actions: []*Action{{
			ID:            "push",
			DefaultConfig: map[string]any{"mode": "default"},
			Validate: func(cfg map[string]any) error {
				if cfg["mode"] == "bad" {
					return errors.New("bad mode")
				}
				return nil
			},
		}},
	}
}

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	c, err := NewCipher("test-secret")
	require.NoError(t, err)
	r := NewRegistry(c)
	r.Register(testType())
	return r
}

func TestRegistry_Action(t *testing.T) {
	r := testRegistry(t)

	a, err := r.Action("acme", "push")
	require.NoError(t, err)
	assert.Equal(t, "push", a.ID)

	_, err = r.Action("acme", "pull")
	assert.ErrorIs(t, err, ErrUnknownAction)

	_, err = r.Action("nope", "push")
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestRegistry_PrepareConfigForStorage_EncryptsSensitiveFields(t *testing.T) {
	r := testRegistry(t)

	stored, err := r.PrepareConfigForStorage("acme", map[string]any{"secret": "s3cret", "region": "eu"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "eu", stored["region"])
	assert.True(t, IsEncrypted(stored["secret"].(string)))
	assert.NotContains(t, stored["secret"], "s3cret")

	creds, err := r.PrepareConfigForUse("acme", stored)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"secret": "s3cret", "region": "eu"}, creds)
}

func TestRegistry_PrepareConfigForStorage_KeepsExistingSecret(t *testing.T) {
	r := testRegistry(t)

	first, err := r.PrepareConfigForStorage("acme", map[string]any{"secret": "original"}, nil)
	require.NoError(t, err)

	second, err := r.PrepareConfigForStorage("acme", map[string]any{"secret": "", "region": "us"}, first)
	require.NoError(t, err)
	assert.Equal(t, first["secret"], second["secret"], "encrypted value is not encrypted twice")

	creds, err := r.PrepareConfigForUse("acme", second)
	require.NoError(t, err)
	assert.Equal(t, "original", creds["secret"])
}

func TestRegistry_PrepareConfigForStorage_RequiredField(t *testing.T) {
	r := testRegistry(t)

	_, err := r.PrepareConfigForStorage("acme", map[string]any{"region": "eu"}, nil)
	assert.ErrorContains(t, err, "secret is required")
}

func TestRegistry_NoCipher(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(testType())

	_, err := r.PrepareConfigForStorage("acme", map[string]any{"secret": "x"}, nil)
	assert.ErrorIs(t, err, ErrNoEncryptionKey)

	creds, err := r.PrepareConfigForUse("acme", map[string]any{"secret": "plain"})
	require.NoError(t, err)
	assert.Equal(t, "plain", creds["secret"])
}

func TestRegistry_ConfigForDisplay(t *testing.T) {
	r := testRegistry(t)

	out := r.ConfigForDisplay("acme", map[string]any{"secret": "enc:v1:xyz", "region": "eu"})
	assert.Equal(t, map[string]any{"region": "eu"}, out)
	assert.Empty(t, r.ConfigForDisplay("nope", map[string]any{"a": 1}))
}

func TestRegistry_ValidateActionConfig(t *testing.T) {
	r := testRegistry(t)

	cfg, err := r.ValidateActionConfig("acme", "push", nil)
	require.NoError(t, err)
	assert.Equal(t, "default", cfg["mode"])

	_, err = r.ValidateActionConfig("acme", "push", map[string]any{"mode": "bad"})
	assert.ErrorContains(t, err, "bad mode")
}

func TestRegistry_TestConnection(t *testing.T) {
	r := testRegistry(t)
	var got Config
	tp := testType()
	tp.TestConnection = func(_ context.Context, cfg Config) error {
		got = cfg
		return nil
	}
	r.Register(tp)

	stored, err := r.PrepareConfigForStorage("acme", map[string]any{"secret": "abc"}, nil)
	require.NoError(t, err)
	require.NoError(t, r.TestConnection(context.Background(), "acme", "https://acme.test", stored))
	assert.Equal(t, "https://acme.test", got.BaseURL)
	assert.Equal(t, "abc", got.Credentials["secret"])
}

func TestNewDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry(nil, Options{})
	assert.Equal(t, []string{"notion", "salesforce", "webhook"}, r.TypeIDs())

	for typ, action := range map[string]string{"salesforce": "updateRecord", "notion": "upsertPage", "webhook": "post"} {
		_, err := r.Action(typ, action)
		assert.NoError(t, err, typ)
	}
}
