// Package signature checks detached ed25519 signatures made by wallet keys.
//
// Keys and signatures travel base58-encoded, the way Solana wallets export
// them. The signed message is checked byte for byte as received.
package signature

import (
	"crypto/ed25519"
	"errors"
	"strings"

	"github.com/mr-tron/base58"
)

var (
	ErrMissingCredentials = errors.New("public key, message and signature are required")
	ErrMalformedKey       = errors.New("public key is not a base58 ed25519 key")
	ErrMalformedSignature = errors.New("signature is not a base58 ed25519 signature")
)

// Verifier validates that the holder of publicKey signed message.
type Verifier interface {
	Verify(message, signature, publicKey []byte) bool
}

type Ed25519Verifier struct{}

func NewVerifier() Ed25519Verifier { return Ed25519Verifier{} }

// Verify returns false for any malformed input. ed25519.Verify panics on a
// short key, so lengths are checked first.
func (Ed25519Verifier) Verify(message, signature, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

// Credentials is a signed message as presented by a caller.
type Credentials struct {
	PublicKey string `json:"public_key"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.PublicKey) == "" && c.Message == "" && strings.TrimSpace(c.Signature) == ""
}

// Decode returns the raw key and signature bytes.
func (c Credentials) Decode() (publicKey, sig []byte, err error) {
	if strings.TrimSpace(c.PublicKey) == "" || c.Message == "" || strings.TrimSpace(c.Signature) == "" {
		return nil, nil, ErrMissingCredentials
	}
	publicKey, err = DecodePublicKey(c.PublicKey)
	if err != nil {
		return nil, nil, err
	}
	sig, err = base58.Decode(strings.TrimSpace(c.Signature))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, nil, ErrMalformedSignature
	}
	return publicKey, sig, nil
}

// VerifyCredentials decodes c and checks it with v. Decoding failures are
// reported as a failed verification.
func VerifyCredentials(v Verifier, c Credentials) bool {
	if v == nil {
		return false
	}
	publicKey, sig, err := c.Decode()
	if err != nil {
		return false
	}
	return v.Verify([]byte(c.Message), sig, publicKey)
}

// DecodePublicKey parses a base58 wallet address into raw key bytes.
func DecodePublicKey(s string) ([]byte, error) {
	raw, err := base58.Decode(strings.TrimSpace(s))
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, ErrMalformedKey
	}
	return raw, nil
}

// CanonicalPublicKey returns the base58 encoding of the key s decodes to.
// Identities are stored and compared in this form only.
func CanonicalPublicKey(s string) (string, error) {
	raw, err := DecodePublicKey(s)
	if err != nil {
		return "", err
	}
	return base58.Encode(raw), nil
}

// NormalizePublicKey is CanonicalPublicKey for keys that have not been
// validated yet; undecodable input comes back trimmed.
func NormalizePublicKey(s string) string {
	if k, err := CanonicalPublicKey(s); err == nil {
		return k
	}
	return strings.TrimSpace(s)
}

// ValidPublicKey reports whether s is a well-formed base58 wallet address.
func ValidPublicKey(s string) bool {
	_, err := DecodePublicKey(s)
	return err == nil
}

func EncodePublicKey(key ed25519.PublicKey) string {
	return base58.Encode(key)
}

func EncodeSignature(sig []byte) string {
	return base58.Encode(sig)
}
