// Package crypto provides AES-256-GCM encryption for secrets held outside the
// process, such as access tokens shared through Redis.
//
// Each Encrypt call uses a fresh random nonce, so the same plaintext never
// produces the same ciphertext twice.
//
//	encryptor, err := crypto.NewConfigEncryptor(os.Getenv("TOKEN_ENCRYPTION_KEY"))
//	if err != nil {
//		return err
//	}
//	sealed, err := encryptor.EncryptJSON(token)
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"

	"golang.org/x/crypto/pbkdf2"
	"track-enricher/internal/common/errors"
)

const (
	keyDerivationSalt       = "track-enricher-token-salt"
	keyDerivationIterations = 10000
)

// ConfigEncryptor encrypts and decrypts strings with a key derived from a
// passphrase. It is safe for concurrent use.
type ConfigEncryptor struct {
	key []byte
}

// NewConfigEncryptor derives a 32-byte AES key from passphrase with PBKDF2.
func NewConfigEncryptor(passphrase string) (*ConfigEncryptor, error) {
	if passphrase == "" {
		return nil, errors.ValidationError("encryption key cannot be empty")
	}

	derivedKey := pbkdf2.Key([]byte(passphrase), []byte(keyDerivationSalt), keyDerivationIterations, 32, sha256.New)
	return &ConfigEncryptor{key: derivedKey}, nil
}

func (e *ConfigEncryptor) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, errors.InternalError("failed to create cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.InternalError("failed to create GCM", err)
	}
	return gcm, nil
}

// Encrypt returns base64(nonce || ciphertext). The empty string encrypts to
// the empty string.
func (e *ConfigEncryptor) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.InternalError("failed to create nonce", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Tampered input or a different key fails
// authentication and returns an error.
func (e *ConfigEncryptor) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errors.InternalError("failed to decode ciphertext", err)
	}

	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.ValidationError("ciphertext too short")
	}

	nonce, sealed := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.InternalError("failed to decrypt", err)
	}

	return string(plaintext), nil
}

// EncryptJSON marshals v and encrypts the result.
func (e *ConfigEncryptor) EncryptJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.InternalError("failed to marshal JSON", err)
	}
	return e.Encrypt(string(data))
}

// DecryptJSON decrypts ciphertext and unmarshals it into v.
func (e *ConfigEncryptor) DecryptJSON(ciphertext string, v interface{}) error {
	plaintext, err := e.Decrypt(ciphertext)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(plaintext), v); err != nil {
		return errors.InternalError("failed to unmarshal JSON", err)
	}
	return nil
}
