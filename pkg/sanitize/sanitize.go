// Package sanitize implements the Sanitizer: a fixed, ordered set of
// compiled patterns that strip or hash sensitive data out of anything
// headed for a model prompt, a ledger entry, or a log line (§4.6). The
// pattern-registry shape is adapted from pkg/masking's compiled-pattern
// service, generalized with a sensitivity level per rule so callers can
// decide whether a redaction still needs human approval.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
)

// DataType names the closed set of sensitive data categories a rule can
// detect (§3).
type DataType string

const (
	DataTypeAPIKey       DataType = "api_key"
	DataTypePassword     DataType = "password"
	DataTypeBearerToken  DataType = "bearer_token"
	DataTypePEMBlock     DataType = "pem_block"
	DataTypeAWSKey       DataType = "aws_key"
	DataTypeEmail        DataType = "email"
	DataTypePhone        DataType = "phone"
	DataTypeSSN          DataType = "ssn"
	DataTypeCreditCard   DataType = "credit_card"
	DataTypeIPAddress    DataType = "ip_address"
	DataTypeDBConnString DataType = "db_connection_string"
	DataTypeInternalURL  DataType = "internal_url"
	DataTypeHomePath     DataType = "home_path"
)

// Sensitivity is the closed ordering of how sensitive a detected value is
// (§3: public < internal < confidential < restricted).
type Sensitivity int

const (
	Public Sensitivity = iota
	Internal
	Confidential
	Restricted
)

func (s Sensitivity) String() string {
	switch s {
	case Public:
		return "public"
	case Internal:
		return "internal"
	case Confidential:
		return "confidential"
	case Restricted:
		return "restricted"
	default:
		return "unknown"
	}
}

// rule is one compiled detection pattern with its handling policy.
type rule struct {
	name        string
	pattern     *regexp.Regexp
	dataType    DataType
	sensitivity Sensitivity
	hashMatch   bool // true: substitute a stable hash reference; false: literal replacement text
}

const maxInputLen = 50_000

// defaultRules is the fixed, ordered built-in rule set. Order matters:
// more specific patterns (PEM blocks, AWS keys) run before general ones
// (bearer tokens) so a credential embedded in a larger block is caught
// by its most specific rule first.
var defaultRules = []rule{
	{
		name:        "pem_block",
		pattern:     regexp.MustCompile(`-----BEGIN [A-Z ]+PRIVATE KEY-----[\s\S]+?-----END [A-Z ]+PRIVATE KEY-----`),
		dataType:    DataTypePEMBlock,
		sensitivity: Restricted,
	},
	{
		name:        "aws_access_key",
		pattern:     regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		dataType:    DataTypeAWSKey,
		sensitivity: Restricted,
	},
	{
		name:        "bearer_token",
		pattern:     regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9\-_.~+/]{10,}=*`),
		dataType:    DataTypeBearerToken,
		sensitivity: Confidential,
	},
	{
		name:        "api_key_assignment",
		pattern:     regexp.MustCompile(`(?i)(api[_-]?key|secret|token)\s*[:=]\s*["']?[a-z0-9\-_]{12,}["']?`),
		dataType:    DataTypeAPIKey,
		sensitivity: Confidential,
	},
	{
		name:        "password_assignment",
		pattern:     regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*["']?\S{4,}["']?`),
		dataType:    DataTypePassword,
		sensitivity: Confidential,
	},
	{
		name:        "db_connection_string",
		pattern:     regexp.MustCompile(`\b(postgres(?:ql)?|mysql|mongodb|redis)://[^\s"']+`),
		dataType:    DataTypeDBConnString,
		sensitivity: Confidential,
		hashMatch:   true,
	},
	{
		name:        "internal_url",
		pattern:     regexp.MustCompile(`\bhttps?://(?:localhost|127\.0\.0\.1|10\.\d+\.\d+\.\d+|192\.168\.\d+\.\d+|172\.(?:1[6-9]|2\d|3[01])\.\d+\.\d+)(?::\d+)?(?:/\S*)?`),
		dataType:    DataTypeInternalURL,
		sensitivity: Internal,
		hashMatch:   true,
	},
	{
		name:        "ip_address",
		pattern:     regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		dataType:    DataTypeIPAddress,
		sensitivity: Internal,
		hashMatch:   true,
	},
	{
		name:        "ssn",
		pattern:     regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
		dataType:    DataTypeSSN,
		sensitivity: Restricted,
	},
	{
		name:        "credit_card",
		pattern:     regexp.MustCompile(`\b(?:\d{4}[- ]?){3}\d{4}\b`),
		dataType:    DataTypeCreditCard,
		sensitivity: Restricted,
	},
	{
		name:        "email",
		pattern:     regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`),
		dataType:    DataTypeEmail,
		sensitivity: Internal,
		hashMatch:   true,
	},
	{
		name:        "phone",
		pattern:     regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]\d{3}[-.\s]\d{4}\b`),
		dataType:    DataTypePhone,
		sensitivity: Internal,
	},
	{
		name:        "home_path",
		pattern:     regexp.MustCompile(`/(?:home|Users)/[^/\s]+`),
		dataType:    DataTypeHomePath,
		sensitivity: Internal,
	},
}

// Redaction records one rule firing, with a count rather than the raw
// matched text.
type Redaction struct {
	RuleName    string   `json:"rule_name"`
	DataType    DataType `json:"data_type"`
	Sensitivity string   `json:"sensitivity"`
	Count       int      `json:"count"`
}

// Result is the outcome of sanitizing one piece of text (§4.6).
type Result struct {
	OriginalHash     string      `json:"original_hash"`
	SanitizedText    string      `json:"sanitized_text"`
	Redactions       []Redaction `json:"redactions"`
	MaxSensitivity   Sensitivity `json:"max_sensitivity"`
	RequiresApproval bool        `json:"requires_approval"`
}

// Sanitizer applies the fixed rule set to arbitrary text.
type Sanitizer struct {
	rules []rule
}

// New builds a Sanitizer with the built-in rule set.
func New() *Sanitizer {
	return &Sanitizer{rules: defaultRules}
}

// Sanitize strips/hashes every detected sensitive value out of text. If
// strict is true and the text contains a restricted-sensitivity value
// and allowRestricted is false, the entire text is replaced by a single
// `[BLOCKED: hash=...]` marker rather than a partially-redacted copy
// (§4.6: fail closed on restricted data under strict mode).
func (s *Sanitizer) Sanitize(text string, strict bool, allowRestricted bool) Result {
	if len(text) > maxInputLen {
		text = text[:maxInputLen]
	}
	originalHash := hashString(text)

	sanitized := text
	var redactions []Redaction
	maxSensitivity := Public

	for _, r := range s.rules {
		matches := r.pattern.FindAllString(sanitized, -1)
		if len(matches) == 0 {
			continue
		}
		if r.sensitivity > maxSensitivity {
			maxSensitivity = r.sensitivity
		}
		redactions = append(redactions, Redaction{
			RuleName:    r.name,
			DataType:    r.dataType,
			Sensitivity: r.sensitivity.String(),
			Count:       len(matches),
		})
		sanitized = r.pattern.ReplaceAllStringFunc(sanitized, func(match string) string {
			if r.hashMatch {
				return fmt.Sprintf("[%s:hash=%s]", r.dataType, hashString(match)[:8])
			}
			return fmt.Sprintf("[REDACTED:%s]", r.dataType)
		})
	}

	requiresApproval := maxSensitivity >= Confidential

	if strict && maxSensitivity == Restricted && !allowRestricted {
		return Result{
			OriginalHash:     originalHash,
			SanitizedText:    fmt.Sprintf("[BLOCKED: hash=%s]", originalHash[:8]),
			Redactions:       redactions,
			MaxSensitivity:   maxSensitivity,
			RequiresApproval: true,
		}
	}

	return Result{
		OriginalHash:     originalHash,
		SanitizedText:    sanitized,
		Redactions:       redactions,
		MaxSensitivity:   maxSensitivity,
		RequiresApproval: requiresApproval,
	}
}

func hashString(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
