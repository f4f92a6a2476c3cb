package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	t.Run("generates 64 character hex string", func(t *testing.T) {
		token, err := GenerateToken()
		require.NoError(t, err)
		assert.Len(t, token, 64)
	})

	t.Run("generates unique tokens", func(t *testing.T) {
		seen := make(map[string]struct{}, 10000)
		for i := 0; i < 10000; i++ {
			token, err := GenerateToken()
			require.NoError(t, err)
			seen[token] = struct{}{}
		}
		assert.Len(t, seen, 10000)
	})

	t.Run("generates valid hex", func(t *testing.T) {
		token, _ := GenerateToken()
		for _, c := range token {
			assert.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'))
		}
	})
}

func TestHashToken(t *testing.T) {
	t.Run("returns 64 character hex string", func(t *testing.T) {
		hash := HashToken("test-token")
		assert.Len(t, hash, 64)
	})

	t.Run("same input produces same hash", func(t *testing.T) {
		hash1 := HashToken("test-token")
		hash2 := HashToken("test-token")
		assert.Equal(t, hash1, hash2)
	})

	t.Run("different input produces different hash", func(t *testing.T) {
		hash1 := HashToken("token-1")
		hash2 := HashToken("token-2")
		assert.NotEqual(t, hash1, hash2)
	})
}

func TestConstantTimeEqual(t *testing.T) {
	t.Run("returns true for equal strings", func(t *testing.T) {
		assert.True(t, ConstantTimeEqual("abc", "abc"))
	})

	t.Run("returns false for different strings", func(t *testing.T) {
		assert.False(t, ConstantTimeEqual("abc", "def"))
	})

	t.Run("returns false for different lengths", func(t *testing.T) {
		assert.False(t, ConstantTimeEqual("abc", "abcd"))
	})

	t.Run("returns true for empty strings", func(t *testing.T) {
		assert.True(t, ConstantTimeEqual("", ""))
	})
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("Str0ng!Pass")
	require.NoError(t, err)
	assert.NotEqual(t, "Str0ng!Pass", hash)
	assert.True(t, CheckPasswordHash("Str0ng!Pass", hash))
	assert.False(t, CheckPasswordHash("wrong", hash))
}

func TestGenerateNumericCode(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := GenerateNumericCode(6)
		require.NoError(t, err)
		assert.True(t, IsValidNumericCode(code), code)
	}
}

func TestBackupCodes(t *testing.T) {
	t.Run("generates distinct valid codes", func(t *testing.T) {
		codes, err := GenerateBackupCodes(10)
		require.NoError(t, err)
		assert.Len(t, codes, 10)

		seen := map[string]bool{}
		for _, c := range codes {
			assert.True(t, IsValidBackupCode(c), c)
			assert.False(t, seen[c])
			seen[c] = true
		}
	})

	t.Run("normalizes before hashing", func(t *testing.T) {
		hashed := HashBackupCodes([]string{"abcd-2345"})
		assert.Equal(t, HashToken("ABCD2345"), hashed[0])
	})

	t.Run("rejects malformed codes", func(t *testing.T) {
		assert.False(t, IsValidBackupCode("SHORT"))
		assert.False(t, IsValidBackupCode("ABCD0123"))
	})
}

func TestMaskCode(t *testing.T) {
	assert.Equal(t, "12****", MaskCode("123456"))
	assert.Equal(t, "****", MaskCode("123"))
}
