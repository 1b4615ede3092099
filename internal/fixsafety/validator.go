// Package fixsafety decides whether a model-suggested fix is safe to
// surface as an applicable patch. The validator is pure: it sees only the
// fix diff and the issue's confidence, and returns a tagged decision.
package fixsafety

import (
	"path"
	"strings"

	"github.com/redpen-ai/redpen/internal/diff"
	"github.com/redpen-ai/redpen/internal/review"
	"github.com/redpen-ai/redpen/internal/security"
)

// Status is the validation verdict.
type Status string

const (
	StatusApproved     Status = "APPROVED"
	StatusManualReview Status = "MANUAL_REVIEW"
	StatusRejected     Status = "REJECTED"
)

// Confidence gates. Fixes touching sensitive paths need the higher bar.
const (
	ApproveThreshold          = 0.90
	SensitiveApproveThreshold = 0.95
)

// Decision is the validator's output: the verdict, why, and the summed
// security risk of the fix itself.
type Decision struct {
	Status    Status
	Reason    string
	RiskScore float64
	Findings  []review.SecurityFinding
}

// Sensitive-path catalog. Anything matching is configuration, credentials,
// or security machinery, where an automated patch must not land unreviewed.
var (
	sensitiveExtensions = map[string]bool{
		".config":     true,
		".properties": true,
		".yml":        true,
		".yaml":       true,
		".env":        true,
		".key":        true,
		".pem":        true,
		".crt":        true,
		".jks":        true,
		".p12":        true,
	}
	sensitiveFilenames = map[string]bool{
		"id_rsa":     true,
		"id_ed25519": true,
	}
	sensitiveDirFragments = []string{
		"/config/",
		"/security/",
		"/auth/",
		"/credentials/",
		"/secrets/",
	}
)

// SensitivePath reports whether p falls in the sensitive catalog.
func SensitivePath(p string) bool {
	lower := strings.ToLower(p)
	if sensitiveExtensions[path.Ext(lower)] {
		return true
	}
	if sensitiveFilenames[path.Base(lower)] {
		return true
	}
	slashed := "/" + lower
	for _, frag := range sensitiveDirFragments {
		if strings.Contains(slashed, frag) {
			return true
		}
	}
	return false
}

// Validator applies the safety rules to one suggested fix.
type Validator struct {
	analyzer security.Analyzer
}

// Validate classifies a decoded fix diff.
//
//   - An empty or unparseable diff is rejected outright.
//   - A fix that itself introduces a CRITICAL security pattern is rejected.
//   - A fix touching a sensitive path needs confidence >= 0.95 to be
//     approved; below that it goes to manual review.
//   - Everything else is approved at confidence >= 0.90, manual below.
func (v Validator) Validate(fixDiff string, confidence float64) Decision {
	trimmed := strings.TrimSpace(fixDiff)
	if trimmed == "" {
		return Decision{Status: StatusRejected, Reason: "empty fix diff"}
	}

	doc, err := diff.Parse(trimmed)
	if err != nil || len(doc.Files) == 0 {
		return Decision{Status: StatusRejected, Reason: "fix diff is not a parseable unified diff"}
	}

	findings := v.analyzer.Analyze(doc)
	risk := security.RiskScore(findings)
	for _, f := range findings {
		if f.Severity == "CRITICAL" {
			return Decision{
				Status:    StatusRejected,
				Reason:    "fix introduces a critical security pattern: " + f.Detector,
				RiskScore: risk,
				Findings:  findings,
			}
		}
	}

	sensitive := false
	for _, p := range doc.ModifiedPaths() {
		if p != "" && SensitivePath(p) {
			sensitive = true
			break
		}
	}

	threshold := ApproveThreshold
	reason := "confidence clears approval threshold"
	if sensitive {
		threshold = SensitiveApproveThreshold
		reason = "confidence clears sensitive-path threshold"
	}

	if confidence >= threshold {
		return Decision{Status: StatusApproved, Reason: reason, RiskScore: risk, Findings: findings}
	}

	why := "confidence below approval threshold"
	if sensitive {
		why = "fix touches a sensitive path and confidence is below the elevated threshold"
	}
	return Decision{Status: StatusManualReview, Reason: why, RiskScore: risk, Findings: findings}
}
