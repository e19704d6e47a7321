package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPolicyCheck(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name       string
		password   string
		identifier string
		want       []string
	}{
		{name: "strong", password: "Str0ngPass!", want: nil},
		{name: "reset password", password: "NewPass1!", want: nil},
		{name: "aggregates every violation", password: "abc", want: []string{ReasonTooShort, ReasonNoUpper, ReasonNoDigit}},
		{name: "no digit", password: "NoDigitsHere", want: []string{ReasonNoDigit}},
		{name: "too long", password: "Aa1" + longString(80), want: []string{ReasonTooLong}},
		{name: "contains identifier", password: "Alice1234x", identifier: "alice", want: []string{ReasonEmailInside}},
		{name: "invalid utf8", password: "Aa1\xff\xfe\xfd\xfc", want: []string{ReasonInvalidUTF8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Check(tt.password, tt.identifier))
		})
	}
}

func TestPolicyRequireSymbol(t *testing.T) {
	p := DefaultPolicy()
	p.RequireSymbol = true

	assert.Equal(t, []string{ReasonNoSymbol}, p.Check("Str0ngPass", ""))
	assert.Empty(t, p.Check("Str0ngPass!", ""))
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.Error(t, Policy{MinLength: 0}.Validate())
	assert.Error(t, Policy{MinLength: 10, MaxLength: 5}.Validate())
}

func longString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}
