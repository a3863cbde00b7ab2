package security

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cheap parameters so the tests stay fast
var testKDF = KDFParams{Time: 1, Memory: 64, Threads: 1}

// =============================================================================
// Key derivation
// =============================================================================

func TestPassphraseKey_Deterministic(t *testing.T) {
	salt := bytes.Repeat([]byte{7}, SaltSize)

	k1, err := PassphraseKey([]byte("correct horse"), salt, testKDF)
	require.NoError(t, err)
	k2, err := PassphraseKey([]byte("correct horse"), salt, testKDF)
	require.NoError(t, err)
	k3, err := PassphraseKey([]byte("wrong horse"), salt, testKDF)
	require.NoError(t, err)

	assert.Len(t, k1, KeySize)
	assert.True(t, SecureCompare(k1, k2))
	assert.False(t, SecureCompare(k1, k3))
}

func TestPassphraseKey_Rejects(t *testing.T) {
	salt := bytes.Repeat([]byte{1}, SaltSize)

	_, err := PassphraseKey(nil, salt, testKDF)
	assert.ErrorIs(t, err, ErrWeakKey)

	_, err = PassphraseKey([]byte("x"), salt[:4], testKDF)
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	_, err = PassphraseKey([]byte("x"), salt, KDFParams{})
	assert.ErrorIs(t, err, ErrWeakKey)

	assert.NoError(t, DefaultKDFParams().Validate())
}

func TestDeriveKeyWithLabel(t *testing.T) {
	master, err := GenerateKey(KeySize)
	require.NoError(t, err)

	cache, err := DeriveKeyWithLabel(master, LabelCache)
	require.NoError(t, err)
	backup, err := DeriveKeyWithLabel(master, LabelBackup)
	require.NoError(t, err)
	again, err := DeriveKeyWithLabel(master, LabelCache)
	require.NoError(t, err)

	assert.Len(t, cache, KeySize)
	assert.False(t, SecureCompare(cache, backup))
	assert.True(t, SecureCompare(cache, again))

	_, err = DeriveKeyWithLabel([]byte("short"), LabelCache)
	assert.ErrorIs(t, err, ErrWeakKey)
}

func TestGenerateKey(t *testing.T) {
	_, err := GenerateKey(8)
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	a, err := GenerateKey(KeySize)
	require.NoError(t, err)
	b, err := GenerateKey(KeySize)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

// =============================================================================
// Sealing
// =============================================================================

func TestSealer_RoundTrip(t *testing.T) {
	master, err := GenerateKey(KeySize)
	require.NoError(t, err)
	s, err := NewSealerForLabel(master, LabelCache)
	require.NoError(t, err)

	msg := []byte("account block")
	ad := []byte("accounts/7")
	sealed, err := s.Seal(msg, ad)
	require.NoError(t, err)
	assert.Len(t, sealed, len(msg)+s.Overhead())

	got, err := s.Open(sealed, ad)
	require.NoError(t, err)
	assert.Equal(t, msg, got)

	// Same plaintext seals differently each time.
	again, err := s.Seal(msg, ad)
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again)
}

func TestSealer_Tamper(t *testing.T) {
	key, err := GenerateKey(KeySize)
	require.NoError(t, err)
	s, err := NewSealer(key)
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("secret"), []byte("ad"))
	require.NoError(t, err)

	_, err = s.Open(sealed, []byte("other"))
	assert.ErrorIs(t, err, ErrDecrypt)

	flipped := append([]byte(nil), sealed...)
	flipped[len(flipped)-1] ^= 1
	_, err = s.Open(flipped, []byte("ad"))
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = s.Open(sealed[:10], []byte("ad"))
	assert.ErrorIs(t, err, ErrDecrypt)

	other, err := GenerateKey(KeySize)
	require.NoError(t, err)
	s2, err := NewSealer(other)
	require.NoError(t, err)
	_, err = s2.Open(sealed, []byte("ad"))
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = NewSealer(key[:16])
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

// =============================================================================
// Files and memory
// =============================================================================

func TestWriteSecretFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "secret.bin")
	require.NoError(t, WriteSecretFile(path, []byte("one")))
	require.NoError(t, WriteSecretFile(path, []byte("two")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, PermSecretFile, info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestEnsureSecureDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "d")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, EnsureSecureDir(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, PermSecretDir, info.Mode().Perm())
}

func TestWipeAndUnlock(t *testing.T) {
	data := []byte("sensitive data that should be wiped")
	_ = LockMemory(data)
	UnlockMemory(data)
	assert.Equal(t, make([]byte, len(data)), data)

	Wipe(nil)
}

// =============================================================================
// Salt files
// =============================================================================

func TestUnlockOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.salt")

	m1, created, err := UnlockOrCreate(path, []byte("pass one"), testKDF)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, m1, KeySize)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(PermSecretFile), info.Mode().Perm())

	m2, created, err := UnlockOrCreate(path, []byte("pass one"), DefaultKDFParams())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, m1, m2, "stored KDF parameters must win over the ones passed in")

	_, _, err = UnlockOrCreate(path, []byte("pass two"), testKDF)
	assert.ErrorIs(t, err, ErrWrongPassphrase)
}

func TestReadSaltFile_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.salt")
	require.NoError(t, WriteSecretFile(path, []byte(`{"salt":"AAAA","verifier":""}`)))

	_, err := ReadSaltFile(path)
	assert.ErrorIs(t, err, ErrInvalidKeySize)

	require.NoError(t, WriteSecretFile(path, []byte("not json")))
	_, err = ReadSaltFile(path)
	assert.Error(t, err)
}
