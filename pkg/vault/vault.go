// Package vault seals small secrets under key material bound to the
// deployment. The sealed envelope is a 3-byte magic, a 16-byte random nonce
// and the ciphertext, where the cipher is an XOR of the plaintext with an
// HKDF-SHA256 keystream expanded from (key, nonce). The raw key lives only
// in process memory; it is never written next to the ciphertext.
package vault

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const (
	nonceLen = 16
	keyLen   = 48

	keystreamInfo = "agentkeep-vault-keystream-v1"
)

// envelopeMagic marks a sealed blob. Anything without it is treated as
// legacy plaintext from before sealing existed.
var envelopeMagic = []byte{0x41, 0x4B, 0x01}

var (
	// ErrNotConfigured is returned when no secret has been stored yet.
	ErrNotConfigured = errors.New("secret not configured")

	// ErrCorrupt is returned when a blob carries the envelope magic but is
	// too short to contain a nonce. Nothing recoverable remains.
	ErrCorrupt = errors.New("sealed blob corrupt")
)

// KeyProvider yields the deployment-bound key material. Implementations
// must return the same bytes for the lifetime of a deployment.
type KeyProvider interface {
	Key(ctx context.Context) ([]byte, error)
}

// Vault seals and opens secret blobs. The provider is consulted once; the
// key is then cached for the life of the process.
type Vault struct {
	provider KeyProvider
	random   io.Reader

	mu  sync.Mutex
	key []byte
}

func New(provider KeyProvider) *Vault {
	return &Vault{provider: provider, random: rand.Reader}
}

func (v *Vault) keyMaterial(ctx context.Context) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.key != nil {
		return v.key, nil
	}
	key, err := v.provider.Key(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch vault key: %w", err)
	}
	if len(key) != keyLen {
		return nil, fmt.Errorf("vault key has %d bytes, want %d", len(key), keyLen)
	}
	v.key = key
	return v.key, nil
}

// Seal encrypts plaintext under a fresh random nonce.
func (v *Vault) Seal(ctx context.Context, plaintext string) ([]byte, error) {
	key, err := v.keyMaterial(ctx)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(v.random, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	stream, err := keystream(key, nonce, len(plaintext))
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(envelopeMagic)+nonceLen+len(plaintext))
	out = append(out, envelopeMagic...)
	out = append(out, nonce...)
	for i := 0; i < len(plaintext); i++ {
		out = append(out, plaintext[i]^stream[i])
	}
	return out, nil
}

// Open decrypts a sealed blob. A blob without the envelope magic is
// returned as-is: it predates sealing and the caller is expected to
// re-store it sealed.
func (v *Vault) Open(ctx context.Context, blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", ErrNotConfigured
	}
	if !bytes.HasPrefix(blob, envelopeMagic) {
		return string(blob), nil
	}
	if len(blob) < len(envelopeMagic)+nonceLen {
		return "", ErrCorrupt
	}
	key, err := v.keyMaterial(ctx)
	if err != nil {
		return "", err
	}
	nonce := blob[len(envelopeMagic) : len(envelopeMagic)+nonceLen]
	ciphertext := blob[len(envelopeMagic)+nonceLen:]
	stream, err := keystream(key, nonce, len(ciphertext))
	if err != nil {
		return "", err
	}
	plain := make([]byte, len(ciphertext))
	for i := range ciphertext {
		plain[i] = ciphertext[i] ^ stream[i]
	}
	return string(plain), nil
}

// Sealed reports whether a blob carries the envelope magic.
func Sealed(blob []byte) bool {
	return bytes.HasPrefix(blob, envelopeMagic)
}

func keystream(key, nonce []byte, n int) ([]byte, error) {
	stream := make([]byte, n)
	r := hkdf.New(sha256.New, key, nonce, []byte(keystreamInfo))
	if _, err := io.ReadFull(r, stream); err != nil {
		return nil, fmt.Errorf("derive keystream: %w", err)
	}
	return stream, nil
}

// SeedFileProvider derives the vault key from a random seed kept in a local
// file. The seed is created on first use with 0600 permissions; deleting it
// makes every sealed blob unreadable.
type SeedFileProvider struct {
	Path string
}

func (p *SeedFileProvider) Key(ctx context.Context) ([]byte, error) {
	seed, err := os.ReadFile(p.Path)
	if errors.Is(err, os.ErrNotExist) {
		seed = make([]byte, 32)
		if _, err := rand.Read(seed); err != nil {
			return nil, fmt.Errorf("generate vault seed: %w", err)
		}
		if err := os.WriteFile(p.Path, seed, 0o600); err != nil {
			return nil, fmt.Errorf("persist vault seed: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("read vault seed: %w", err)
	}
	if len(seed) < 32 {
		return nil, fmt.Errorf("vault seed has %d bytes, want at least 32", len(seed))
	}

	key := make([]byte, keyLen)
	r := hkdf.New(sha256.New, seed, nil, []byte("agentkeep-vault-key-v1"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}
	return key, nil
}
