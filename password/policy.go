package password

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Violation messages reported by [Policy.Check].
const (
	ReasonTooShort    = "password is too short"
	ReasonTooLong     = "password is too long"
	ReasonNoUpper     = "password must contain an uppercase letter"
	ReasonNoLower     = "password must contain a lowercase letter"
	ReasonNoDigit     = "password must contain a digit"
	ReasonNoSymbol    = "password must contain a symbol"
	ReasonEmailInside = "password must not contain the email address"
	ReasonInvalidUTF8 = "password must be valid UTF-8"
)

// Policy describes password strength rules. Lengths are counted in bytes for
// MaxLength (the hash input limit) and in runes for MinLength.
type Policy struct {
	MinLength     int
	MaxLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// DefaultPolicy returns the policy applied when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:     8,
		MaxLength:     MaxBcryptInput,
		RequireUpper:  true,
		RequireLower:  true,
		RequireDigit:  true,
		RequireSymbol: false,
	}
}

// Validate rejects a policy that can never be satisfied.
func (p Policy) Validate() error {
	if p.MinLength < 1 {
		return errors.New("password policy min length must be >= 1")
	}
	if p.MaxLength > 0 && p.MaxLength < p.MinLength {
		return fmt.Errorf("password policy max length %d is below min length %d", p.MaxLength, p.MinLength)
	}
	return nil
}

// Check returns every rule password violates, in a stable order. An empty
// result means the password is acceptable. identifier, when non-empty, must
// not appear verbatim inside the password.
func (p Policy) Check(password, identifier string) []string {
	var reasons []string

	if !utf8.ValidString(password) {
		return []string{ReasonInvalidUTF8}
	}

	if utf8.RuneCountInString(password) < p.MinLength {
		reasons = append(reasons, ReasonTooShort)
	}
	if p.MaxLength > 0 && len(password) > p.MaxLength {
		reasons = append(reasons, ReasonTooLong)
	}

	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}

	if p.RequireUpper && !upper {
		reasons = append(reasons, ReasonNoUpper)
	}
	if p.RequireLower && !lower {
		reasons = append(reasons, ReasonNoLower)
	}
	if p.RequireDigit && !digit {
		reasons = append(reasons, ReasonNoDigit)
	}
	if p.RequireSymbol && !symbol {
		reasons = append(reasons, ReasonNoSymbol)
	}
	if len(identifier) >= 3 && strings.Contains(strings.ToLower(password), strings.ToLower(identifier)) {
		reasons = append(reasons, ReasonEmailInside)
	}

	return reasons
}
