package cipher

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const KeySize = 32

var ErrInvalidKey = errors.New("invalid key")

// Key is a handle to secret key material obtained from the secret store.
// It never prints its material and should be destroyed after use.
type Key struct {
	id       string
	material []byte
}

func NewKey(id string, material []byte) (*Key, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: key id is required", ErrInvalidKey)
	}
	if len(material) != KeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, KeySize, len(material))
	}
	buf := make([]byte, KeySize)
	copy(buf, material)
	return &Key{id: id, material: buf}, nil
}

func (k *Key) ID() string {
	if k == nil {
		return ""
	}
	return k.id
}

// Destroy zeroes the key material. The handle is unusable afterwards.
func (k *Key) Destroy() {
	if k == nil {
		return
	}
	wipe(k.material)
	k.material = nil
}

func (k *Key) String() string {
	return fmt.Sprintf("cipher.Key(%s)", k.ID())
}

func (k *Key) GoString() string {
	return k.String()
}

func (k *Key) bytes() ([]byte, error) {
	if k == nil || len(k.material) != KeySize {
		return nil, fmt.Errorf("%w: key handle is empty or destroyed", ErrInvalidKey)
	}
	return k.material, nil
}

// GenerateKeyMaterial returns fresh random material for a new sealing key.
func GenerateKeyMaterial() ([]byte, error) {
	material := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, material); err != nil {
		return nil, fmt.Errorf("failed to generate key material: %w", err)
	}
	return material, nil
}
