package tokens

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSessionTokenIsUnique(t *testing.T) {
	a, err := NewSessionToken()
	require.NoError(t, err)
	b, err := NewSessionToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 43) // 32 bytes, base64 raw url
}

func TestHashSessionTokenDependsOnPepper(t *testing.T) {
	tok := "some-token"
	assert.Equal(t, HashSessionToken("p", tok), HashSessionToken("p", tok))
	assert.NotEqual(t, HashSessionToken("p1", tok), HashSessionToken("p2", tok))
	assert.NotEqual(t, HashSessionToken("p", "a"), HashSessionToken("p", "b"))
}
