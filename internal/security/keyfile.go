package security

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrWrongPassphrase is returned when a passphrase does not match the
// verifier stored in a salt file.
var ErrWrongPassphrase = errors.New("security: wrong passphrase")

const labelVerify = "verify"

// SaltFile is the small JSON document kept beside an encrypted cache. It
// holds what is needed to rederive the master key and check a passphrase
// before any entry is opened.
type SaltFile struct {
	Salt     []byte    `json:"salt"`
	KDF      KDFParams `json:"kdf"`
	Verifier []byte    `json:"verifier"`
}

// NewSaltFile creates a salt file for passphrase and returns it together
// with the master key.
func NewSaltFile(passphrase []byte, p KDFParams) (*SaltFile, []byte, error) {
	salt, err := NewSalt()
	if err != nil {
		return nil, nil, err
	}
	master, err := PassphraseKey(passphrase, salt, p)
	if err != nil {
		return nil, nil, err
	}
	verifier, err := DeriveKeyWithLabel(master, labelVerify)
	if err != nil {
		Wipe(master)
		return nil, nil, err
	}
	return &SaltFile{Salt: salt, KDF: p, Verifier: verifier}, master, nil
}

// Unlock derives the master key from passphrase and checks it against the
// verifier.
func (f *SaltFile) Unlock(passphrase []byte) ([]byte, error) {
	master, err := PassphraseKey(passphrase, f.Salt, f.KDF)
	if err != nil {
		return nil, err
	}
	verifier, err := DeriveKeyWithLabel(master, labelVerify)
	if err != nil {
		Wipe(master)
		return nil, err
	}
	if !SecureCompare(verifier, f.Verifier) {
		Wipe(master)
		return nil, ErrWrongPassphrase
	}
	return master, nil
}

// ReadSaltFile loads a salt file written by WriteSaltFile.
func ReadSaltFile(path string) (*SaltFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f SaltFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse salt file: %w", err)
	}
	if len(f.Salt) < SaltSize || len(f.Verifier) != KeySize {
		return nil, fmt.Errorf("parse salt file: %w", ErrInvalidKeySize)
	}
	return &f, nil
}

// WriteSaltFile stores f at path with owner-only permissions.
func WriteSaltFile(path string, f *SaltFile) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode salt file: %w", err)
	}
	return WriteSecretFile(path, data)
}

// UnlockOrCreate opens the salt file at path with passphrase, creating it
// with params p if it does not exist. created reports whether it did.
func UnlockOrCreate(path string, passphrase []byte, p KDFParams) (master []byte, created bool, err error) {
	f, err := ReadSaltFile(path)
	switch {
	case err == nil:
		master, err = f.Unlock(passphrase)
		return master, false, err
	case !errors.Is(err, os.ErrNotExist):
		return nil, false, err
	}

	f, master, err = NewSaltFile(passphrase, p)
	if err != nil {
		return nil, false, err
	}
	if err := WriteSaltFile(path, f); err != nil {
		Wipe(master)
		return nil, false, err
	}
	return master, true, nil
}
