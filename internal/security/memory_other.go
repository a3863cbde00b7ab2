//go:build !unix

package security

// LockMemory is a no-op on platforms without mlock.
func LockMemory(data []byte) error { return nil }

// UnlockMemory wipes data.
func UnlockMemory(data []byte) { Wipe(data) }
