package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stronghold-security/internal/config"
)

// Small argon2 parameters keep the tests fast; production values come
// from configuration.
func testHasher() *Hasher {
	return NewHasher(&config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
		},
	})
}

func TestTokenRoundtrip(t *testing.T) {
	hasher := testHasher()

	result, err := hasher.HashToken("one-time-token")
	require.NoError(t, err)
	assert.Equal(t, "argon2id-v1", result.Algorithm)
	assert.NotEmpty(t, result.Salt)
	assert.NotEqual(t, "one-time-token", result.Hash)

	ok, err := hasher.VerifyToken("one-time-token", result)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasher.VerifyToken("different-token", result)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashesAreSalted(t *testing.T) {
	hasher := testHasher()

	first, err := hasher.HashToken("one-time-token")
	require.NoError(t, err)
	second, err := hasher.HashToken("one-time-token")
	require.NoError(t, err)

	assert.NotEqual(t, first.Hash, second.Hash)
	assert.NotEqual(t, first.Salt, second.Salt)
}

func TestVerifyAfterPepperRotation(t *testing.T) {
	hasher := testHasher()

	result, err := hasher.HashToken("one-time-token")
	require.NoError(t, err)

	// Tokens hashed under the previous pepper version still verify
	hasher.rotatePepper()
	ok, err := hasher.VerifyToken("one-time-token", result)
	require.NoError(t, err)
	assert.True(t, ok)

	// New hashes pick up the new version
	fresh, err := hasher.HashToken("one-time-token")
	require.NoError(t, err)
	assert.Equal(t, result.PepperVersion+1, fresh.PepperVersion)
}

func TestVerifyUnknownPepperVersion(t *testing.T) {
	hasher := testHasher()

	result, err := hasher.HashToken("one-time-token")
	require.NoError(t, err)
	result.PepperVersion = 99

	_, err = hasher.VerifyToken("one-time-token", result)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pepper version not found")
}

func TestVerifyMalformedHash(t *testing.T) {
	hasher := testHasher()

	result, err := hasher.HashToken("one-time-token")
	require.NoError(t, err)
	result.Salt = "not base64 !!!"

	_, err = hasher.VerifyToken("one-time-token", result)
	assert.ErrorIs(t, err, ErrInvalidHash)
}
