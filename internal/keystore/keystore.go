package keystore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/nurpe/sealed-bids/internal/cipher"
)

var ErrKeyNotFound = errors.New("encryption key not found")

// Provider hands out short-lived key handles. Callers destroy the handle as
// soon as the operation that needed it is finished.
type Provider interface {
	EncryptionKey(ctx context.Context, keyID string) (*cipher.Key, error)
}

// ConfigProvider serves keys configured as base64 secrets, e.g. injected into
// the environment by the deployment's secret manager.
type ConfigProvider struct {
	encoded map[string]string
}

func NewConfigProvider(encoded map[string]string) (*ConfigProvider, error) {
	keys := make(map[string]string, len(encoded))
	for id, value := range encoded {
		material, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("key %q: invalid base64", id)
		}
		if len(material) != cipher.KeySize {
			return nil, fmt.Errorf("key %q: expected %d bytes, got %d", id, cipher.KeySize, len(material))
		}
		keys[id] = value
	}
	return &ConfigProvider{encoded: keys}, nil
}

func (p *ConfigProvider) EncryptionKey(ctx context.Context, keyID string) (*cipher.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, ok := p.encoded[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	material, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("key %q: invalid base64", keyID)
	}
	defer func() {
		for i := range material {
			material[i] = 0
		}
	}()
	return cipher.NewKey(keyID, material)
}

func (p *ConfigProvider) Has(keyID string) bool {
	_, ok := p.encoded[keyID]
	return ok
}

// ParseKeyList parses "id:base64,id:base64".
func ParseKeyList(raw string) (map[string]string, error) {
	result := make(map[string]string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return result, nil
	}
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, value, ok := strings.Cut(item, ":")
		id = strings.TrimSpace(id)
		value = strings.TrimSpace(value)
		if !ok || id == "" || value == "" {
			return nil, fmt.Errorf("malformed key entry %q", redact(item))
		}
		if _, dup := result[id]; dup {
			return nil, fmt.Errorf("duplicate key id %q", id)
		}
		result[id] = value
	}
	return result, nil
}

func redact(item string) string {
	id, _, _ := strings.Cut(item, ":")
	return id + ":***"
}
