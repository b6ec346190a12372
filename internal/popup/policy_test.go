package popup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAllowedAuthURL(t *testing.T) {
	allowed := []string{
		"https://chatgpt.com/auth/login",
		"https://auth.openai.com/authorize",
		"https://accounts.google.com/o/oauth2/v2/auth",
		"https://login.live.com/oauth20_authorize.srf",
		"https://login.microsoftonline.com/common/oauth2",
		"https://appleid.apple.com/auth/authorize",
		"https://github.com/login/oauth/authorize",
		"https://GITHUB.COM/login",
		"https://accounts.google.com.",
	}
	for _, u := range allowed {
		assert.True(t, IsAllowedAuthURL(u), "url %s", u)
	}

	denied := []string{
		"http://chatgpt.com/auth/login", // not https
		"https://evil.example.com/",
		"https://chatgpt.com.evil.example.com/", // suffix spoof
		"https://notgithub.com/login",
		"javascript:alert(1)",
		"",
	}
	for _, u := range denied {
		assert.False(t, IsAllowedAuthURL(u), "url %s", u)
	}
}

func TestHostMatchesDotPattern(t *testing.T) {
	// Leading dot allows the bare domain and any subdomain.
	assert.True(t, hostMatches("google.com", ".google.com"))
	assert.True(t, hostMatches("accounts.google.com", ".google.com"))
	assert.False(t, hostMatches("notgoogle.com", ".google.com"))

	// Bare pattern is exact.
	assert.True(t, hostMatches("github.com", "github.com"))
	assert.False(t, hostMatches("gist.github.com", "github.com"))
}

func TestPolicyAllow(t *testing.T) {
	assert.True(t, Default().Allow("https://accounts.google.com/signin"))
	assert.False(t, Default().Allow("https://example.com/"))

	off := Policy{AllowAuthPopups: false}
	assert.False(t, off.Allow("https://accounts.google.com/signin"))
}
