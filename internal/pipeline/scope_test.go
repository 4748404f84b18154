package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainMatches(t *testing.T) {
	tests := []struct {
		host, pattern string
		want          bool
	}{
		{"imap.example.com", "*.example.com", true},
		{"IMAP.Example.COM", "*.example.com", true},
		{"imap.example.com.", "*.example.com", true},
		{"example.com", "*.example.com", false},
		{"a.imap.example.com", "*.example.com", false},
		{"example.com", "example.com", true},
		{"imap.example.com", "example.com", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, domainMatches(tt.host, tt.pattern), "%s vs %s", tt.host, tt.pattern)
	}
}

func TestScopeValidate(t *testing.T) {
	s, err := NewScope([]string{"*.gmail.com"}, []string{"142.250.0.0/15", "2607:f8b0::/32"})
	require.NoError(t, err)

	assert.NoError(t, s.ValidateTarget("imap.gmail.com"))
	assert.Error(t, s.ValidateTarget("imap.mail.me.com"))
	assert.NoError(t, s.ValidateTarget("142.250.4.108"))
	assert.Error(t, s.ValidateTarget("17.57.155.10"))

	assert.NoError(t, s.ValidateIP("142.251.1.109"))
	assert.NoError(t, s.ValidateIP("2607:f8b0:4004:c1b::6c"))
	assert.Error(t, s.ValidateIP("8.8.8.8"))
	assert.Error(t, s.ValidateIP("not-an-ip"))
}

func TestScopeEmptyAllowsEverything(t *testing.T) {
	var nilScope *ScopeConfig
	assert.True(t, nilScope.Empty())
	assert.NoError(t, nilScope.ValidateTarget("anything.test"))

	s := &ScopeConfig{}
	assert.True(t, s.Empty())
	assert.NoError(t, s.ValidateIP("203.0.113.9"))
}

func TestNewScopeRejectsBadCIDR(t *testing.T) {
	_, err := NewScope(nil, []string{"10.0.0.0/8", "10.0.0.0/99", "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "10.0.0.0/99")
	assert.Contains(t, err.Error(), "bogus")
}
