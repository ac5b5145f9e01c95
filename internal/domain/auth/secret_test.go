package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecret(t *testing.T) {
	a, err := GenerateSecret()
	require.NoError(t, err)
	b, err := GenerateSecret()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, SecretPrefix))
	assert.Len(t, a, len(SecretPrefix)+64)
	assert.True(t, WellFormedSecret(a))
	assert.Equal(t, a[:12], Prefix(a))
}

func TestWellFormedSecret(t *testing.T) {
	assert.False(t, WellFormedSecret(""))
	assert.False(t, WellFormedSecret("octo_"))
	assert.False(t, WellFormedSecret("ghp_"+strings.Repeat("a", 64)))
	assert.False(t, WellFormedSecret(SecretPrefix+strings.Repeat("z", 64)))
	assert.True(t, WellFormedSecret(SecretPrefix+strings.Repeat("a", 64)))
}

func TestHashSecret(t *testing.T) {
	h1 := HashSecret([]byte("pepper"), "octo_x")
	h2 := HashSecret([]byte("pepper"), "octo_x")
	h3 := HashSecret([]byte("other"), "octo_x")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
	assert.True(t, digestEqual(h1, h2))
	assert.False(t, digestEqual(h1, h3))
	assert.False(t, digestEqual(h1, "not-hex"))
}

func TestPrefix_Short(t *testing.T) {
	assert.Equal(t, "abc", Prefix("abc"))
}
