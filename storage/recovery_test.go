package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveRecoveryCodeSingleUse(t *testing.T) {
	stored := []string{"d1", "d2", "d3"}

	ok, remaining := RemoveRecoveryCode(stored, "d2")
	require.True(t, ok)
	assert.Equal(t, []string{"d1", "d3"}, remaining)
	assert.Equal(t, []string{"d1", "d2", "d3"}, stored, "input slice must not be modified")

	ok, after := RemoveRecoveryCode(remaining, "d2")
	assert.False(t, ok)
	assert.Equal(t, remaining, after)

	ok, _ = RemoveRecoveryCode(nil, "d1")
	assert.False(t, ok)
}
