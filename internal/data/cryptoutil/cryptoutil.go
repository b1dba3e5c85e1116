package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Encryptor defines an interface for encrypting/decrypting stored OAuth tokens.
type Encryptor interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(ciphertext string) ([]byte, error)
}

// AESGCMEncryptor implements Encryptor using AES-256-GCM.
//
// Ciphertext is stored as three colon-separated hex fields,
// "nonce:tag:ciphertext", matching the layout already present in
// social_accounts rows. Decrypt also accepts tokens written before
// the tag was split out ("nonce:ciphertext||tag").
type AESGCMEncryptor struct {
	key []byte // 32 bytes
}

const (
	gcmTagSize = 16

	noopPrefix = "noop:"
)

// NewAESGCMEncryptor constructs a new AESGCMEncryptor. Key must be 32 bytes (AES-256).
func NewAESGCMEncryptor(key []byte) (*AESGCMEncryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("aes-gcm key must be 32 bytes, got %d", len(key))
	}
	return &AESGCMEncryptor{key: append([]byte(nil), key...)}, nil
}

func (e *AESGCMEncryptor) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt encrypts plaintext with a random nonce and returns "nonce:tag:ciphertext" in hex.
func (e *AESGCMEncryptor) Encrypt(plaintext []byte) (string, error) {
	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, readErr := io.ReadFull(rand.Reader, nonce); readErr != nil {
		return "", readErr
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	if len(sealed) < gcmTagSize {
		return "", errors.New("sealed payload shorter than tag")
	}
	ct, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt decrypts a token written by Encrypt.
// Supports backward compatibility with noop-encrypted tokens (for test and migration scenarios).
func (e *AESGCMEncryptor) Decrypt(ciphertext string) ([]byte, error) {
	if strings.HasPrefix(ciphertext, noopPrefix) {
		decoded, err := hex.DecodeString(ciphertext[len(noopPrefix):])
		if err != nil {
			return nil, fmt.Errorf("decode noop ciphertext: %w", err)
		}
		return decoded, nil
	}

	parts := strings.Split(ciphertext, ":")
	var nonceHex, payloadHex string
	switch len(parts) {
	case 3:
		nonceHex, payloadHex = parts[0], parts[2]+parts[1]
	case 2:
		// Legacy layout with the tag appended to the ciphertext.
		nonceHex, payloadHex = parts[0], parts[1]
	default:
		return nil, fmt.Errorf("malformed ciphertext: expected 2 or 3 fields, got %d", len(parts))
	}

	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	payload, err := hex.DecodeString(payloadHex)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := e.gcm()
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", gcm.NonceSize(), len(nonce))
	}
	return gcm.Open(nil, nonce, payload, nil)
}

// NoopEncryptor is useful for tests; it stores plaintext with a prefix marker.
type NoopEncryptor struct{}

func (NoopEncryptor) Encrypt(plaintext []byte) (string, error) {
	return noopPrefix + hex.EncodeToString(plaintext), nil
}

func (NoopEncryptor) Decrypt(ciphertext string) ([]byte, error) {
	if !strings.HasPrefix(ciphertext, noopPrefix) {
		return nil, errors.New("invalid noop ciphertext")
	}
	return hex.DecodeString(ciphertext[len(noopPrefix):])
}
