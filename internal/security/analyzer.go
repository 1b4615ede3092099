package security

import (
	"strings"

	"github.com/redpen-ai/redpen/internal/diff"
	"github.com/redpen-ai/redpen/internal/review"
)

// Analyzer scans the added lines of a parsed diff against the pattern
// catalog. Only additions are scanned; pre-existing code is not this
// change's liability.
type Analyzer struct{}

// Analyze walks every hunk and reports one finding per catalog hit, with
// the line number mapped back to the new file version.
func (Analyzer) Analyze(doc *diff.Document) []review.SecurityFinding {
	var findings []review.SecurityFinding

	for _, file := range doc.Files {
		if file.NewPath == "" {
			continue
		}
		for _, hunk := range file.Hunks {
			newLine := hunk.NewStart
			for _, raw := range hunk.Lines {
				switch {
				case strings.HasPrefix(raw, "+"):
					line := raw[1:]
					for _, p := range catalog {
						if p.re.MatchString(line) {
							findings = append(findings, review.SecurityFinding{
								Detector: p.detector,
								File:     file.NewPath,
								Line:     newLine,
								Severity: p.severity,
								Weight:   WeightFor(p.severity),
								Message:  p.message,
							})
						}
					}
					newLine++
				case strings.HasPrefix(raw, " "):
					newLine++
				}
				// removals and "\ No newline" markers do not advance the
				// new-file line counter
			}
		}
	}

	return findings
}

// RiskScore sums the severity weights of a finding set.
func RiskScore(findings []review.SecurityFinding) float64 {
	total := 0.0
	for _, f := range findings {
		total += f.Weight
	}
	return total
}
