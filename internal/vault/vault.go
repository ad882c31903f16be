package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrKeyInvalid is returned when the master key is absent or not 32 bytes.
	ErrKeyInvalid = errors.New("vault: master key must be 32 bytes")

	// ErrCrypto is returned when decryption fails authentication (tampered
	// ciphertext or wrong key). Callers must treat this as fatal for the
	// credential, never as "not connected".
	ErrCrypto = errors.New("vault: decrypt authentication failed")
)

// Vault encrypts and decrypts secrets with AES-256-GCM. It has no knowledge
// of what it encrypts; callers store the ciphertext/iv pair.
type Vault struct {
	key []byte
}

// New builds a vault from a master key encoded as hex or standard base64.
func New(masterKey string) (*Vault, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("%w: key is empty", ErrKeyInvalid)
	}
	key, err := decodeKey(masterKey)
	if err != nil {
		return nil, err
	}
	return &Vault{key: key}, nil
}

func decodeKey(encoded string) ([]byte, error) {
	if raw, err := hex.DecodeString(encoded); err == nil {
		if len(raw) != 32 {
			return nil, fmt.Errorf("%w: got %d", ErrKeyInvalid, len(raw))
		}
		return raw, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: not hex or base64", ErrKeyInvalid)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: got %d", ErrKeyInvalid, len(raw))
	}
	return raw, nil
}

// Encrypt seals plaintext and returns base64 ciphertext plus the base64
// nonce used. A fresh random nonce is drawn per call and never reused.
func (v *Vault) Encrypt(plaintext string) (ciphertext, iv string, err error) {
	gcm, err := v.aead()
	if err != nil {
		return "", "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", "", fmt.Errorf("vault: nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), base64.StdEncoding.EncodeToString(nonce), nil
}

// Decrypt opens a ciphertext/iv pair produced by Encrypt.
func (v *Vault) Decrypt(ciphertext, iv string) (string, error) {
	gcm, err := v.aead()
	if err != nil {
		return "", err
	}
	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext not base64", ErrCrypto)
	}
	nonce, err := base64.StdEncoding.DecodeString(iv)
	if err != nil {
		return "", fmt.Errorf("%w: iv not base64", ErrCrypto)
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("%w: iv length %d", ErrCrypto, len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrCrypto
	}
	return string(plaintext), nil
}

func (v *Vault) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyInvalid, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: gcm init: %w", err)
	}
	return gcm, nil
}
