package connector

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var (
	// ErrUnknownType is returned for an unregistered connector type.
	ErrUnknownType = eris.New("connector: unknown connector type")
	// ErrUnknownAction is returned when a type has no action with the given id.
	ErrUnknownAction = eris.New("connector: unknown action")
)

// Registry maps connector type ids to their definitions.
type Registry struct {
	mu     sync.RWMutex
	types  map[string]*Type
	cipher *Cipher
}

// NewRegistry creates an empty registry. cipher may be nil when no
// registered type declares sensitive fields.
func NewRegistry(cipher *Cipher) *Registry {
	return &Registry{types: make(map[string]*Type), cipher: cipher}
}

// Register adds t, replacing any type with the same id.
func (r *Registry) Register(t *Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[t.ID]; ok {
		zap.L().Warn("connector: type already registered, overwriting", zap.String("connector_type", t.ID))
	}
	r.types[t.ID] = t
}

// Type returns the registered type with id.
func (r *Registry) Type(id string) (*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[id]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownType, "type %q", id)
	}
	return t, nil
}

// TypeIDs lists registered type ids in sorted order.
func (r *Registry) TypeIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.types))
}

// Action resolves the action implementation for a connector type.
func (r *Registry) Action(typeID, actionID string) (*Action, error) {
	t, err := r.Type(typeID)
	if err != nil {
		return nil, err
	}
	a := t.action(actionID)
	if a == nil {
		return nil, eris.Wrapf(ErrUnknownAction, "action %q for connector type %q", actionID, typeID)
	}
	return a, nil
}

// PrepareConfigForStorage checks required settings and encrypts sensitive
// ones. Sensitive fields left empty in config keep their value from existing,
// so a form can be saved without re-entering secrets.
func (r *Registry) PrepareConfigForStorage(typeID string, config, existing map[string]any) (map[string]any, error) {
	t, err := r.Type(typeID)
	if err != nil {
		return nil, err
	}
	merged := maps.Clone(config)
	if merged == nil {
		merged = make(map[string]any)
	}
	for _, f := range t.SensitiveFields {
		if stringValue(merged[f]) == "" && stringValue(existing[f]) != "" {
			merged[f] = existing[f]
		}
	}
	for _, f := range t.RequiredFields {
		if stringValue(merged[f]) == "" {
			return nil, eris.Errorf("connector: %s: %s is required", typeID, f)
		}
	}

	for _, f := range t.SensitiveFields {
		v := stringValue(merged[f])
		if v == "" {
			continue
		}
		if r.cipher == nil {
			return nil, ErrNoEncryptionKey
		}
		enc, err := r.cipher.Encrypt(v)
		if err != nil {
			return nil, eris.Wrapf(err, "connector: encrypt %s", f)
		}
		merged[f] = enc
	}
	return merged, nil
}

// PrepareConfigForUse decrypts stored settings into string credentials.
func (r *Registry) PrepareConfigForUse(typeID string, stored map[string]any) (map[string]string, error) {
	t, err := r.Type(typeID)
	if err != nil {
		return nil, err
	}
	creds := make(map[string]string, len(stored))
	for k, v := range stored {
		s := stringValue(v)
		if t.sensitive(k) && IsEncrypted(s) {
			if r.cipher == nil {
				return nil, ErrNoEncryptionKey
			}
			if s, err = r.cipher.Decrypt(s); err != nil {
				return nil, eris.Wrapf(err, "connector: decrypt %s", k)
			}
		}
		creds[k] = s
	}
	return creds, nil
}

// ConfigForDisplay returns stored settings without sensitive fields.
func (r *Registry) ConfigForDisplay(typeID string, stored map[string]any) map[string]any {
	t, err := r.Type(typeID)
	if err != nil {
		return map[string]any{}
	}
	out := maps.Clone(stored)
	for _, f := range t.SensitiveFields {
		delete(out, f)
	}
	return out
}

// ValidateActionConfig checks an automation's action configuration. An empty
// configuration is replaced by the action's default.
func (r *Registry) ValidateActionConfig(typeID, actionID string, cfg map[string]any) (map[string]any, error) {
	a, err := r.Action(typeID, actionID)
	if err != nil {
		return nil, err
	}
	if len(cfg) == 0 {
		return maps.Clone(a.DefaultConfig), nil
	}
	if a.Validate != nil {
		if err := a.Validate(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// TestConnection decrypts stored settings and asks the type to reach the
// remote system.
func (r *Registry) TestConnection(ctx context.Context, typeID, baseURL string, stored map[string]any) error {
	t, err := r.Type(typeID)
	if err != nil {
		return err
	}
	if t.TestConnection == nil {
		return nil
	}
	creds, err := r.PrepareConfigForUse(typeID, stored)
	if err != nil {
		return err
	}
	return t.TestConnection(ctx, Config{BaseURL: baseURL, Credentials: creds})
}

func stringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
