package cipher

import (
	"crypto/aes"
	gocipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/hkdf"

	"github.com/nurpe/sealed-bids/internal/model"
)

const (
	NonceSize = 12
	TagSize   = 16

	subkeyInfo = "sealed-bid/v1"
)

// ErrIntegrity is returned whenever a sealed payload cannot be authenticated:
// the ciphertext, nonce or tag were altered, or the wrong key was supplied.
var ErrIntegrity = errors.New("sealed payload failed integrity verification")

// Sealed is the at-rest form of a bid payload.
type Sealed struct {
	Ciphertext []byte
	Nonce      []byte
	AuthTag    []byte
}

// Digest returns SHA-256 over nonce, ciphertext and tag as hex.
func (s Sealed) Digest() string {
	h := sha256.New()
	h.Write(s.Nonce)
	h.Write(s.Ciphertext)
	h.Write(s.AuthTag)
	return hex.EncodeToString(h.Sum(nil))
}

// Engine encrypts and decrypts bid payloads with AES-256-GCM. It holds no
// key material; keys are passed in per call.
type Engine struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func NewEngine() (*Engine, error) {
	encOpts := cbor.CoreDetEncOptions()
	encOpts.Time = cbor.TimeRFC3339Nano
	enc, err := encOpts.EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to build cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("failed to build cbor decoder: %w", err)
	}
	return &Engine{enc: enc, dec: dec}, nil
}

// Seal encrypts payload under a subkey of key bound to binding. A fresh
// random nonce is drawn on every call.
func (e *Engine) Seal(payload model.BidPayload, key *Key, binding []byte) (*Sealed, error) {
	plaintext, err := e.enc.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	defer wipe(plaintext)

	aead, err := newAEAD(key, binding)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := aead.Seal(nil, nonce, plaintext, binding)
	split := len(out) - aead.Overhead()
	return &Sealed{
		Ciphertext: out[:split:split],
		Nonce:      nonce,
		AuthTag:    out[split:],
	}, nil
}

// Unseal authenticates and decrypts a sealed payload. Any authentication
// failure is reported as ErrIntegrity.
func (e *Engine) Unseal(sealed Sealed, key *Key, binding []byte) (model.BidPayload, error) {
	var payload model.BidPayload
	if len(sealed.Nonce) != NonceSize {
		return payload, fmt.Errorf("%w: nonce length %d", ErrIntegrity, len(sealed.Nonce))
	}
	if len(sealed.AuthTag) != TagSize {
		return payload, fmt.Errorf("%w: tag length %d", ErrIntegrity, len(sealed.AuthTag))
	}

	aead, err := newAEAD(key, binding)
	if err != nil {
		return payload, err
	}

	box := make([]byte, 0, len(sealed.Ciphertext)+len(sealed.AuthTag))
	box = append(box, sealed.Ciphertext...)
	box = append(box, sealed.AuthTag...)

	plaintext, err := aead.Open(nil, sealed.Nonce, box, binding)
	if err != nil {
		return payload, ErrIntegrity
	}
	defer wipe(plaintext)

	if err := e.dec.Unmarshal(plaintext, &payload); err != nil {
		return model.BidPayload{}, fmt.Errorf("%w: malformed payload", ErrIntegrity)
	}
	return payload, nil
}

func newAEAD(key *Key, binding []byte) (gocipher.AEAD, error) {
	material, err := key.bytes()
	if err != nil {
		return nil, err
	}

	subkey := make([]byte, KeySize)
	defer wipe(subkey)
	info := append([]byte(subkeyInfo+"|"), binding...)
	if _, err := io.ReadFull(hkdf.New(sha256.New, material, nil, info), subkey); err != nil {
		return nil, fmt.Errorf("failed to derive subkey: %w", err)
	}

	block, err := aes.NewCipher(subkey)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := gocipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
