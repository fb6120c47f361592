package secretbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen_RoundTrip(t *testing.T) {
	b, err := New("correct horse battery staple")
	require.NoError(t, err)

	plaintext := []byte("1//0gmail-refresh-token-value")
	sealed, err := b.Seal(plaintext)
	require.NoError(t, err)

	opened, err := b.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestSeal_NondeterministicOutput(t *testing.T) {
	b, err := New("correct horse battery staple")
	require.NoError(t, err)

	a, err := b.Seal([]byte("same plaintext"))
	require.NoError(t, err)
	c, err := b.Seal([]byte("same plaintext"))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestOpen_WrongPassphraseFails(t *testing.T) {
	b1, err := New("passphrase-one")
	require.NoError(t, err)
	b2, err := New("passphrase-two")
	require.NoError(t, err)

	sealed, err := b1.Seal([]byte("secret"))
	require.NoError(t, err)

	_, err = b2.Open(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestOpen_TruncatedCiphertextFails(t *testing.T) {
	b, err := New("passphrase")
	require.NoError(t, err)

	_, err = b.Open([]byte("too short"))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestNew_RejectsEmptyPassphrase(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}
