package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "hello", SanitizeInput("  hello  "))
	assert.Equal(t, "&lt;script&gt;", SanitizeInput("<script>"))
}

func TestContainsSuspicious(t *testing.T) {
	assert.True(t, ContainsSuspicious("<img onerror=x>"))
	assert.True(t, ContainsSuspicious("${jndi:ldap}"))
	assert.False(t, ContainsSuspicious("Mozilla/5.0 (X11; Linux x86_64)"))
}

func TestValidIP(t *testing.T) {
	assert.True(t, ValidIP("198.51.100.7"))
	assert.True(t, ValidIP(" 2001:db8::1 "))
	assert.False(t, ValidIP("not-an-ip"))
	assert.False(t, ValidIP(""))
}

func TestTruncateUserAgent(t *testing.T) {
	assert.Equal(t, "Mozilla/5.0", TruncateUserAgent("  Mozilla/5.0  "))

	long := strings.Repeat("a", 600)
	assert.Len(t, TruncateUserAgent(long), 512)
}
