package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenService(t *testing.T) {
	t.Run("success - issued token verifies", func(t *testing.T) {
		// arrange
		ts := NewTokenService([]byte("server secret"))

		// act
		token := ts.TokenFor("uuid4")

		// assert
		assert.True(t, ts.Verify("uuid4", token))
	})
	t.Run("failure - token for a different uuid", func(t *testing.T) {
		ts := NewTokenService([]byte("server secret"))

		token := ts.TokenFor("uuid4")

		assert.False(t, ts.Verify("other-uuid", token))
	})
	t.Run("failure - token signed with a different secret", func(t *testing.T) {
		ts := NewTokenService([]byte("server secret"))
		other := NewTokenService([]byte("another secret"))

		token := other.TokenFor("uuid4")

		assert.False(t, ts.Verify("uuid4", token))
	})
	t.Run("failure - malformed token", func(t *testing.T) {
		ts := NewTokenService([]byte("server secret"))

		assert.False(t, ts.Verify("uuid4", "not base64!!"))
		assert.False(t, ts.Verify("uuid4", ""))
	})
}
