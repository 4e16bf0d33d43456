package middleware

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/remodel/pkg/domain"
	"github.com/aretw0/remodel/pkg/ports"
)

// encryptedPrefix marks attribute values sealed by the encryption middleware.
const encryptedPrefix = "enc:v1:"

// EncryptionConfig holds the keys for encryption and decryption.
type EncryptionConfig struct {
	// ActiveKey is the key used for encrypting new data.
	// Must be 32 bytes for AES-256.
	ActiveKey []byte

	// FallbackKeys is a list of old keys to try when decryption fails.
	// This enables zero-downtime key rotation.
	FallbackKeys [][]byte
}

type encryptionMiddleware struct {
	ports.Backend
	config EncryptionConfig
}

// NewEncryptionMiddleware seals attribute values with AES-GCM before they
// are committed and opens them again on read. Class names, ids and
// references stay in the clear so the store can still index them.
// Values stored before encryption was enabled are returned as they are.
func NewEncryptionMiddleware(config EncryptionConfig) Middleware {
	if len(config.ActiveKey) != 32 {
		panic("active key must be 32 bytes (AES-256)")
	}
	return func(next ports.Backend) ports.Backend {
		return &encryptionMiddleware{Backend: next, config: config}
	}
}

func (m *encryptionMiddleware) Revisions(ctx context.Context, ids []domain.ObjectID) ([]*domain.Revision, error) {
	revs, err := m.Backend.Revisions(ctx, ids)
	if err != nil {
		return nil, err
	}
	return m.openAll(revs)
}

func (m *encryptionMiddleware) Subtree(ctx context.Context, path string, depth int) ([]*domain.Revision, error) {
	revs, err := m.Backend.Subtree(ctx, path, depth)
	if err != nil {
		return nil, err
	}
	return m.openAll(revs)
}

func (m *encryptionMiddleware) Commit(ctx context.Context, cs *domain.ChangeSet) error {
	// Seal copies; the caller keeps its plain revisions.
	sealed := *cs
	var err error
	if sealed.New, err = m.sealAll(cs.New); err != nil {
		return err
	}
	if sealed.Dirty, err = m.sealAll(cs.Dirty); err != nil {
		return err
	}
	return m.Backend.Commit(ctx, &sealed)
}

func (m *encryptionMiddleware) sealAll(revs []*domain.Revision) ([]*domain.Revision, error) {
	out := make([]*domain.Revision, 0, len(revs))
	for _, rev := range revs {
		c := rev.Clone()
		for name, value := range c.Attributes {
			// 1. Serialize the value
			plainText, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal %s.%s: %w", rev.ID, name, err)
			}
			// 2. Encrypt
			ciphertext, err := encrypt(plainText, m.config.ActiveKey)
			if err != nil {
				return nil, fmt.Errorf("failed to encrypt %s.%s: %w", rev.ID, name, err)
			}
			// 3. Replace with the envelope
			c.Attributes[name] = encryptedPrefix + base64.StdEncoding.EncodeToString(ciphertext)
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *encryptionMiddleware) openAll(revs []*domain.Revision) ([]*domain.Revision, error) {
	for _, rev := range revs {
		for name, value := range rev.Attributes {
			envelope, ok := value.(string)
			if !ok || !strings.HasPrefix(envelope, encryptedPrefix) {
				continue
			}
			ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(envelope, encryptedPrefix))
			if err != nil {
				return nil, fmt.Errorf("failed to decode %s.%s: %w", rev.ID, name, err)
			}
			plainText, err := decryptWithRotation(ciphertext, m.config.ActiveKey, m.config.FallbackKeys)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt %s.%s: %w", rev.ID, name, err)
			}
			var v any
			if err := json.Unmarshal(plainText, &v); err != nil {
				return nil, fmt.Errorf("failed to unmarshal %s.%s: %w", rev.ID, name, err)
			}
			rev.Attributes[name] = v
		}
	}
	return revs, nil
}

// Helpers

func encrypt(plaintext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decryptWithRotation(ciphertext []byte, activeKey []byte, fallbackKeys [][]byte) ([]byte, error) {
	// Try active key first
	if plain, err := decrypt(ciphertext, activeKey); err == nil {
		return plain, nil
	}

	// Try fallbacks in order
	for _, key := range fallbackKeys {
		if plain, err := decrypt(ciphertext, key); err == nil {
			return plain, nil
		}
	}

	return nil, errors.New("decryption failed with all available keys")
}

func decrypt(ciphertext []byte, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}

	nonce := ciphertext[:gcm.NonceSize()]
	ciphertextBytes := ciphertext[gcm.NonceSize():]

	return gcm.Open(nil, nonce, ciphertextBytes, nil)
}
