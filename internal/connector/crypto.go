package connector

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/crypto/chacha20poly1305"
)

// encPrefix marks values produced by Cipher.Encrypt.
const encPrefix = "enc:v1:"

// ErrNoEncryptionKey is returned when sensitive fields must be handled but
// no key is configured.
var ErrNoEncryptionKey = eris.New("connector: encryption key not configured")

// Cipher encrypts credential values with XChaCha20-Poly1305 under a key
// derived from a configured secret.
type Cipher struct {
	key [chacha20poly1305.KeySize]byte
}

// NewCipher derives a key from secret.
func NewCipher(secret string) (*Cipher, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrNoEncryptionKey
	}
	return &Cipher{key: sha256.Sum256([]byte(secret))}, nil
}

// IsEncrypted reports whether s was produced by Encrypt.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, encPrefix)
}

// Encrypt seals plain. Already encrypted values are returned unchanged.
func (c *Cipher) Encrypt(plain string) (string, error) {
	if IsEncrypted(plain) {
		return plain, nil
	}
	aead, err := chacha20poly1305.NewX(c.key[:])
	if err != nil {
		return "", eris.Wrap(err, "connector: init cipher")
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", eris.Wrap(err, "connector: nonce")
	}
	sealed := aead.Seal(nonce, nonce, []byte(plain), nil)
	return encPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Values without the marker are
// returned as stored.
func (c *Cipher) Decrypt(s string) (string, error) {
	if !IsEncrypted(s) {
		return s, nil
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(s, encPrefix))
	if err != nil {
		return "", eris.Wrap(err, "connector: decode secret")
	}
	aead, err := chacha20poly1305.NewX(c.key[:])
	if err != nil {
		return "", eris.Wrap(err, "connector: init cipher")
	}
	if len(raw) < aead.NonceSize() {
		return "", eris.New("connector: secret too short")
	}
	plain, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
	if err != nil {
		return "", eris.Wrap(err, "connector: decrypt secret")
	}
	return string(plain), nil
}
