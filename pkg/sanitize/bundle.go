package sanitize

import "time"

// Bundle is the only shape of evidence ever handed to a model for
// reasoning about a finding (§4.6). Every field is explicit and
// pre-sanitized; there is deliberately no "raw" or "context" escape
// hatch that could carry unsanitized source or credentials into a
// prompt.
type Bundle struct {
	FindingID          string            `json:"finding_id"`
	FindingType        string            `json:"finding_type"`
	Severity           string            `json:"severity"`
	ComponentRef       string            `json:"component_ref"` // hash reference only, never a path or raw snippet
	PatternsDetected   []string          `json:"patterns_detected"`
	PoliciesViolated   []string          `json:"policies_violated"`
	Context            map[string]string `json:"context"`
	BuiltAt            time.Time         `json:"built_at"`
}

// BundleInput is the raw material a Builder turns into a Bundle. Raw is
// sanitized internally and never copied into the resulting Bundle
// verbatim; only its hash and detected pattern names survive.
type BundleInput struct {
	FindingID        string
	FindingType      string
	Severity         string
	Raw              string
	PoliciesViolated []string
	Context          map[string]string
}

// Builder constructs Bundles from raw findings, routing everything
// through the Sanitizer first.
type Builder struct {
	sanitizer *Sanitizer
}

// NewBuilder builds a Builder over sanitizer.
func NewBuilder(sanitizer *Sanitizer) *Builder {
	return &Builder{sanitizer: sanitizer}
}

// Build sanitizes in.Raw and assembles a Bundle that names the patterns
// detected without ever including the raw text itself.
func (b *Builder) Build(in BundleInput) Bundle {
	result := b.sanitizer.Sanitize(in.Raw, false, false)

	patterns := make([]string, 0, len(result.Redactions))
	for _, r := range result.Redactions {
		patterns = append(patterns, r.RuleName)
	}

	var bundleCtx map[string]string
	if in.Context != nil {
		bundleCtx = make(map[string]string, len(in.Context))
		for k, v := range in.Context {
			bundleCtx[k] = b.sanitizer.Sanitize(v, false, false).SanitizedText
		}
	}

	return Bundle{
		FindingID:        in.FindingID,
		FindingType:      in.FindingType,
		Severity:         in.Severity,
		ComponentRef:     "hash=" + result.OriginalHash[:16],
		PatternsDetected: patterns,
		PoliciesViolated: in.PoliciesViolated,
		Context:          bundleCtx,
		BuiltAt:          time.Now(),
	}
}
