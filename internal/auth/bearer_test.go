package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkeep-io/llmgateway/internal/auth"
)

func TestHashAndCompareSecret(t *testing.T) {
	hash, err := auth.HashSecret("correct-horse-battery-staple")
	require.NoError(t, err)

	assert.True(t, auth.CompareSecret(hash, "correct-horse-battery-staple"))
	assert.False(t, auth.CompareSecret(hash, "wrong-password"))
}

func TestCompareBearer(t *testing.T) {
	assert.True(t, auth.CompareBearer("secret-token", "secret-token"))
	assert.False(t, auth.CompareBearer("secret-token", "other-token"))
	assert.False(t, auth.CompareBearer("", "secret-token"))
	assert.False(t, auth.CompareBearer("secret-token", ""))
}
