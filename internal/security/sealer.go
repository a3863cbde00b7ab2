package security

import (
	"crypto/cipher"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Sealer encrypts small records with XChaCha20-Poly1305. The random nonce
// is stored in front of the ciphertext.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer returns a sealer keyed with a KeySize key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: sealer needs %d bytes, got %d", ErrInvalidKeySize, chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// NewSealerForLabel derives the labelled subkey of master and keys a sealer
// with it.
func NewSealerForLabel(master []byte, label string) (*Sealer, error) {
	key, err := DeriveKeyWithLabel(master, label)
	if err != nil {
		return nil, err
	}
	defer Wipe(key)
	return NewSealer(key)
}

// Overhead is the number of bytes Seal adds.
func (s *Sealer) Overhead() int {
	return s.aead.NonceSize() + s.aead.Overhead()
}

// Seal encrypts plaintext and binds it to ad.
func (s *Sealer) Seal(plaintext, ad []byte) ([]byte, error) {
	out := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if err := GenerateSecureRandom(out); err != nil {
		return nil, err
	}
	return s.aead.Seal(out, out, plaintext, ad), nil
}

// Open reverses Seal. Any tampering, wrong key or wrong ad yields ErrDecrypt.
func (s *Sealer) Open(sealed, ad []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < ns+s.aead.Overhead() {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrDecrypt, len(sealed))
	}
	pt, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], ad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}
