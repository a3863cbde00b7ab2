//go:build unix

package security

import (
	"golang.org/x/sys/unix"
)

// LockMemory pins data in RAM so a master key is never swapped out. Failure
// (typically RLIMIT_MEMLOCK) is reported but callers may carry on.
func LockMemory(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return unix.Mlock(data)
}

// UnlockMemory wipes data and releases the lock taken by LockMemory.
func UnlockMemory(data []byte) {
	Wipe(data)
	if len(data) > 0 {
		unix.Munlock(data)
	}
}
