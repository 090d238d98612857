package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hogarapp/finsync/core"
)

const envelopePrefix = "finsync.secret.v1:"

// Vault encrypts credential fields with AES-256-GCM under a process-wide
// key. Ciphertext is a prefixed JSON envelope carrying the key id and
// version, so stored credentials survive key rotation: a rotated vault
// still decrypts envelopes sealed under a retired key it knows about.
type Vault struct {
	key     []byte
	keyID   string
	version int
	retired map[string][]byte
}

type envelope struct {
	KeyID      string `json:"kid"`
	Version    int    `json:"ver"`
	Algorithm  string `json:"alg"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type Option func(*Vault)

func WithKeyID(id string) Option {
	return func(v *Vault) {
		trimmed := strings.TrimSpace(id)
		if trimmed != "" {
			v.keyID = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(v *Vault) {
		if version > 0 {
			v.version = version
		}
	}
}

// WithRetiredKey registers a previous key so envelopes sealed before a
// rotation remain readable. New ciphertext always uses the primary key.
func WithRetiredKey(id string, material []byte) Option {
	return func(v *Vault) {
		id = strings.TrimSpace(id)
		key := bytes.TrimSpace(material)
		if id == "" || len(key) == 0 {
			return
		}
		if v.retired == nil {
			v.retired = map[string][]byte{}
		}
		v.retired[id] = normalizeKey(key)
	}
}

func NewVault(keyMaterial []byte, opts ...Option) (*Vault, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	vault := &Vault{
		key:     normalizeKey(key),
		keyID:   "app-key",
		version: 1,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(vault)
	}
	return vault, nil
}

// NewVaultFromConfig builds the vault from resolved service configuration.
func NewVaultFromConfig(cfg core.VaultConfig, opts ...Option) (*Vault, error) {
	if strings.TrimSpace(cfg.KeyID) != "" {
		opts = append([]Option{WithKeyID(cfg.KeyID)}, opts...)
	}
	return NewVault([]byte(cfg.Key), opts...)
}

func (v *Vault) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("security: vault is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	gcm, err := newGCM(v.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	data, err := json.Marshal(envelope{
		KeyID:      v.keyID,
		Version:    v.version,
		Algorithm:  "aes-256-gcm",
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return nil, fmt.Errorf("security: encode envelope: %w", err)
	}
	return append([]byte(envelopePrefix), data...), nil
}

func (v *Vault) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("security: vault is nil")
	}
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("security: ciphertext is required")
	}

	payload := strings.TrimPrefix(string(ciphertext), envelopePrefix)

	var parsed envelope
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("security: decode envelope: %w", err)
	}

	key, err := v.keyFor(parsed.KeyID)
	if err != nil {
		return nil, err
	}

	nonce, err := base64.StdEncoding.DecodeString(parsed.Nonce)
	if err != nil {
		return nil, fmt.Errorf("security: decode nonce: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(parsed.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("security: decode ciphertext payload: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

func (v *Vault) keyFor(keyID string) ([]byte, error) {
	if keyID == "" || keyID == v.keyID {
		return v.key, nil
	}
	if retired, ok := v.retired[keyID]; ok {
		return retired, nil
	}
	return nil, fmt.Errorf("security: unknown key id %q", keyID)
}

func (v *Vault) KeyID() string {
	if v == nil {
		return ""
	}
	return v.keyID
}

func (v *Vault) Version() int {
	if v == nil {
		return 0
	}
	return v.version
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return gcm, nil
}

// Keys shorter or longer than the AES sizes are stretched through SHA-256.
func normalizeKey(value []byte) []byte {
	if len(value) == 16 || len(value) == 24 || len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return key
}

var _ core.SecretProvider = (*Vault)(nil)
