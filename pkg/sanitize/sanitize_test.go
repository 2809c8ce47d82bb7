package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeRedactsAPIKeyAndHashesEmail(t *testing.T) {
	s := New()
	result := s.Sanitize(`contact admin@example.com, api_key: sk-abcdef0123456789`, false, false)

	assert.NotContains(t, result.SanitizedText, "admin@example.com")
	assert.NotContains(t, result.SanitizedText, "sk-abcdef0123456789")
	assert.Contains(t, result.SanitizedText, "email:hash=")
	assert.Contains(t, result.SanitizedText, "[REDACTED:api_key]")
	assert.Equal(t, Confidential, result.MaxSensitivity)
	assert.True(t, result.RequiresApproval)
}

func TestSanitizePlainTextPassesThroughUnchanged(t *testing.T) {
	s := New()
	result := s.Sanitize("the service restarted cleanly", false, false)
	assert.Equal(t, "the service restarted cleanly", result.SanitizedText)
	assert.Empty(t, result.Redactions)
	assert.Equal(t, Public, result.MaxSensitivity)
	assert.False(t, result.RequiresApproval)
}

func TestStrictModeBlocksRestrictedWhenNotAllowed(t *testing.T) {
	s := New()
	result := s.Sanitize("ssn 123-45-6789 leaked", true, false)
	assert.True(t, strings.HasPrefix(result.SanitizedText, "[BLOCKED: hash="))
	assert.Equal(t, Restricted, result.MaxSensitivity)
	assert.True(t, result.RequiresApproval)
}

func TestStrictModeAllowsRestrictedWhenExplicitlyAllowed(t *testing.T) {
	s := New()
	result := s.Sanitize("ssn 123-45-6789 leaked", true, true)
	assert.False(t, strings.HasPrefix(result.SanitizedText, "[BLOCKED"))
	assert.Contains(t, result.SanitizedText, "[REDACTED:ssn]")
}

func TestSanitizeTruncatesOversizedInput(t *testing.T) {
	s := New()
	huge := strings.Repeat("a", maxInputLen+1000)
	result := s.Sanitize(huge, false, false)
	assert.LessOrEqual(t, len(result.SanitizedText), maxInputLen)
}

func TestBundleBuilderNeverIncludesRawText(t *testing.T) {
	b := NewBuilder(New())
	bundle := b.Build(BundleInput{
		FindingID:        "f-1",
		FindingType:      "credential_leak",
		Severity:         "high",
		Raw:              "password: hunter2hunter2",
		PoliciesViolated: []string{"no-plaintext-secrets"},
		Context:          map[string]string{"tool": "get_logs"},
	})

	require.NotEmpty(t, bundle.ComponentRef)
	assert.NotContains(t, bundle.ComponentRef, "hunter2")
	assert.Contains(t, bundle.PatternsDetected, "password_assignment")
	assert.Equal(t, []string{"no-plaintext-secrets"}, bundle.PoliciesViolated)
}
