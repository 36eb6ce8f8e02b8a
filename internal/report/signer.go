package report

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/veraison/go-cose"

	"github.com/nurpe/sealed-bids/internal/model"
)

const contentType = "application/vnd.sealed-bids.opening-report+cbor"

var (
	ErrInvalidSigningKey = errors.New("invalid report signing key")
	ErrSignatureInvalid  = errors.New("report signature is invalid")
)

// Signer wraps the canonical CBOR encoding of a report in a COSE_Sign1
// envelope signed with ES256.
type Signer struct {
	gen    *Generator
	key    *ecdsa.PrivateKey
	keyID  []byte
	signer cose.Signer
}

func NewSigner(gen *Generator, key *ecdsa.PrivateKey, keyID string) (*Signer, error) {
	if key == nil || key.Curve != elliptic.P256() {
		return nil, ErrInvalidSigningKey
	}
	signer, err := cose.NewSigner(cose.AlgorithmES256, key)
	if err != nil {
		return nil, fmt.Errorf("create signer: %w", err)
	}
	return &Signer{gen: gen, key: key, keyID: []byte(keyID), signer: signer}, nil
}

// ParsePrivateKeyPEM accepts SEC 1 ("EC PRIVATE KEY") and PKCS #8 blocks.
func ParsePrivateKeyPEM(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidSigningKey)
	}

	switch block.Type {
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSigningKey, err)
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSigningKey, err)
		}
		key, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: not an ECDSA key", ErrInvalidSigningKey)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: unexpected PEM type %q", ErrInvalidSigningKey, block.Type)
	}
}

func EncodePrivateKeyPEM(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), nil
}

func EncodePublicKeyPEM(key *ecdsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// ParseVerificationKeyPEM returns the public half of either a "PUBLIC KEY"
// block or any private key block ParsePrivateKeyPEM understands.
func ParseVerificationKeyPEM(data []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidSigningKey)
	}
	if block.Type != "PUBLIC KEY" {
		key, err := ParsePrivateKeyPEM(data)
		if err != nil {
			return nil, err
		}
		return &key.PublicKey, nil
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSigningKey, err)
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok || key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: not a P-256 public key", ErrInvalidSigningKey)
	}
	return key, nil
}

func (s *Signer) PublicKey() *ecdsa.PublicKey {
	return &s.key.PublicKey
}

func (s *Signer) Sign(report *model.OpeningReport) ([]byte, error) {
	payload, err := s.gen.Encode(report)
	if err != nil {
		return nil, err
	}

	headers := cose.Headers{
		Protected: cose.ProtectedHeader{
			cose.HeaderLabelAlgorithm:   cose.AlgorithmES256,
			cose.HeaderLabelContentType: contentType,
		},
	}
	if len(s.keyID) > 0 {
		headers.Unprotected = cose.UnprotectedHeader{cose.HeaderLabelKeyID: s.keyID}
	}

	signed, err := cose.Sign1(rand.Reader, s.signer, headers, payload, nil)
	if err != nil {
		return nil, fmt.Errorf("sign report: %w", err)
	}
	return signed, nil
}

// Verify checks a signed report and returns its CBOR payload.
func Verify(signed []byte, pub *ecdsa.PublicKey) ([]byte, error) {
	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(signed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	verifier, err := cose.NewVerifier(cose.AlgorithmES256, pub)
	if err != nil {
		return nil, fmt.Errorf("create verifier: %w", err)
	}
	if err := msg.Verify(nil, verifier); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return msg.Payload, nil
}
