package bootstrap

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"

	"github.com/socialsyncara/publish-worker/internal/data/cryptoutil"
)

// CreateEncryptor creates an AES-GCM encryptor from the provided key.
// A 64-char hex key is decoded directly; anything else is hashed to 32
// bytes. In development an empty key falls back to the noop encryptor; in
// production a usable key is required because stored tokens are ciphertext.
//
//nolint:ireturn // Returning interface is intentional for encryptor abstraction
func CreateEncryptor(key string, isDev bool, logger *slog.Logger) (cryptoutil.Encryptor, error) {
	if key == "" {
		if !isDev {
			return nil, errors.New("TOKEN_ENCRYPTION_KEY is required outside development")
		}
		if logger != nil {
			logger.Warn("encryption key is empty, using noop encryptor")
		}
		return cryptoutil.NoopEncryptor{}, nil
	}

	var keyBytes []byte
	if decoded, err := hex.DecodeString(key); err == nil && len(decoded) == 32 {
		keyBytes = decoded
	} else {
		hash := sha256.Sum256([]byte(key))
		keyBytes = hash[:]
	}
	return cryptoutil.NewAESGCMEncryptor(keyBytes)
}
