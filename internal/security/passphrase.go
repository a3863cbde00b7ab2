package security

import (
	"fmt"

	"golang.org/x/crypto/argon2"
)

// SaltSize is the size of a passphrase salt.
const SaltSize = 16

// KDFParams are the Argon2id cost parameters. They are stored next to the
// salt so a cache stays readable when the defaults change.
type KDFParams struct {
	Time    uint32 `json:"time" toml:"time" yaml:"time"`
	Memory  uint32 `json:"memory_kib" toml:"memory_kib" yaml:"memory_kib"`
	Threads uint8  `json:"threads" toml:"threads" yaml:"threads"`
}

// DefaultKDFParams follows the RFC 9106 second recommended option.
func DefaultKDFParams() KDFParams {
	return KDFParams{Time: 3, Memory: 64 * 1024, Threads: 4}
}

// Validate rejects parameters too weak to be worth stretching with.
func (p KDFParams) Validate() error {
	if p.Time < 1 || p.Threads < 1 || p.Memory < 8*uint32(p.Threads) {
		return fmt.Errorf("%w: argon2id time=%d memory=%d threads=%d", ErrWeakKey, p.Time, p.Memory, p.Threads)
	}
	return nil
}

// NewSalt returns a random salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if err := GenerateSecureRandom(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// PassphraseKey stretches a passphrase into a KeySize master key.
func PassphraseKey(passphrase, salt []byte, p KDFParams) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: empty passphrase", ErrWeakKey)
	}
	if len(salt) < SaltSize {
		return nil, fmt.Errorf("%w: salt is %d bytes", ErrInvalidKeySize, len(salt))
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return argon2.IDKey(passphrase, salt, p.Time, p.Memory, p.Threads, KeySize), nil
}
