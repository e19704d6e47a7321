package storage

import "crypto/subtle"

// RemoveRecoveryCode looks for digest in stored and, when present, returns
// the remaining set without it. stored is never modified. Every entry is
// compared so the scan time does not depend on the match position.
func RemoveRecoveryCode(stored []string, digest string) (bool, []string) {
	match := -1
	for i := range stored {
		if subtle.ConstantTimeCompare([]byte(stored[i]), []byte(digest)) == 1 && match == -1 {
			match = i
		}
	}
	if match < 0 {
		return false, stored
	}
	remaining := make([]string, 0, len(stored)-1)
	remaining = append(remaining, stored[:match]...)
	remaining = append(remaining, stored[match+1:]...)
	return true, remaining
}
