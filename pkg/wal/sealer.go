package wal

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyProvider abstracts the signing key so the in-memory backend can be
// swapped for an HSM, Vault, or cloud KMS.
type KeyProvider interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() ed25519.PublicKey
	KeyID() string
}

// MemoryKeyProvider is an in-memory Ed25519 key for development and tests.
type MemoryKeyProvider struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

func NewMemoryKeyProvider() (*MemoryKeyProvider, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &MemoryKeyProvider{pub: pub, priv: priv}, nil
}

func (m *MemoryKeyProvider) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(m.priv, msg), nil
}

func (m *MemoryKeyProvider) PublicKey() ed25519.PublicKey {
	return m.pub
}

// KeyID is a stable fingerprint of the public key.
func (m *MemoryKeyProvider) KeyID() string {
	sum := sha256.Sum256(m.pub)
	return "ed25519:" + hex.EncodeToString(sum[:8])
}

// Sealer signs WAL entries over their chain hash using a KeyProvider.
type Sealer struct {
	provider KeyProvider
}

func NewSealer(p KeyProvider) *Sealer {
	if p == nil {
		p, _ = NewMemoryKeyProvider()
	}
	return &Sealer{provider: p}
}

// Seal signs the entry hash and records the signature and key id on the
// entry. The entry hash must already be assigned.
func (s *Sealer) Seal(e *Entry) error {
	if e.EntryHash == "" {
		return fmt.Errorf("wal: cannot seal an entry without a hash")
	}
	sig, err := s.provider.Sign([]byte(e.EntryHash))
	if err != nil {
		return fmt.Errorf("wal: sign entry: %w", err)
	}
	e.Signature = base64.StdEncoding.EncodeToString(sig)
	e.KeyID = s.provider.KeyID()
	return nil
}

func (s *Sealer) PublicKey() ed25519.PublicKey {
	return s.provider.PublicKey()
}

func (s *Sealer) KeyID() string {
	return s.provider.KeyID()
}

// VerifySeal checks an entry's signature against the given public key.
func VerifySeal(pub ed25519.PublicKey, e *Entry) error {
	if e.Signature == "" {
		return fmt.Errorf("wal: entry %s is not sealed", e.EntryID)
	}
	sig, err := base64.StdEncoding.DecodeString(e.Signature)
	if err != nil {
		return fmt.Errorf("wal: decode signature: %w", err)
	}
	if !ed25519.Verify(pub, []byte(e.EntryHash), sig) {
		return fmt.Errorf("wal: signature verification failed for entry %s", e.EntryID)
	}
	return nil
}

// DeriveForTenant derives a tenant-specific sealer using HKDF-SHA256.
// The master key seed is the IKM and the tenant id is the info string,
// so each tenant gets a unique deterministic Ed25519 keypair.
func (s *Sealer) DeriveForTenant(tenantID string) (*Sealer, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("wal: tenant id must not be empty")
	}
	master, ok := s.provider.(*MemoryKeyProvider)
	if !ok {
		return nil, fmt.Errorf("wal: tenant key derivation requires MemoryKeyProvider")
	}
	seed := master.priv.Seed()

	hkdfReader := hkdf.New(sha256.New, seed, []byte("gatehouse-tenant-kdf"), []byte(tenantID))
	tenantSeed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(hkdfReader, tenantSeed); err != nil {
		return nil, fmt.Errorf("wal: hkdf derivation failed: %w", err)
	}

	priv := ed25519.NewKeyFromSeed(tenantSeed)
	pub := priv.Public().(ed25519.PublicKey)
	return NewSealer(&MemoryKeyProvider{pub: pub, priv: priv}), nil
}
