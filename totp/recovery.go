package totp

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"
)

// RecoveryAlphabet omits characters that are easy to confuse when typed (0/O, 1/I).
const RecoveryAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	// DefaultRecoveryCodes is the size of a freshly generated set.
	DefaultRecoveryCodes = 10
	recoveryCodeLength   = 10
)

// GenerateRecoveryCodes returns n codes formatted as XXXXX-XXXXX. Each code
// carries 50 bits of entropy.
func GenerateRecoveryCodes(n int) ([]string, error) {
	if n <= 0 {
		n = DefaultRecoveryCodes
	}
	codes := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	for len(codes) < n {
		code, err := newRecoveryCode(recoveryCodeLength)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, formatRecoveryCode(code))
	}
	return codes, nil
}

// CanonicalizeRecoveryCode strips separators and case so "abcde-fghjk" and
// "ABCDEFGHJK" compare equal.
func CanonicalizeRecoveryCode(code string) string {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}

// HashRecoveryCode returns the storable digest of code, salted by subjectID so
// identical codes of different users never collide.
func HashRecoveryCode(subjectID, code string) string {
	canonical := CanonicalizeRecoveryCode(code)
	data := make([]byte, 0, len(subjectID)+1+len(canonical))
	data = append(data, subjectID...)
	data = append(data, 0)
	data = append(data, canonical...)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashRecoveryCodes hashes every code in codes.
func HashRecoveryCodes(subjectID string, codes []string) []string {
	out := make([]string, len(codes))
	for i, c := range codes {
		out[i] = HashRecoveryCode(subjectID, c)
	}
	return out
}

func newRecoveryCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	max := big.NewInt(int64(len(RecoveryAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(RecoveryAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func formatRecoveryCode(code string) string {
	mid := len(code) / 2
	return code[:mid] + "-" + code[mid:]
}
