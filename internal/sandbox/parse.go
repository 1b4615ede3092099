package sandbox

import (
	"regexp"
	"strings"

	"github.com/redpen-ai/redpen/internal/review"
)

// Per-framework patterns for individual test outcomes. Parsers are lenient:
// anything unrecognized simply contributes no records, and the exit code
// still decides overall success.
var (
	pytestLineRe = regexp.MustCompile(`^(\S+)\s+(PASSED|FAILED|ERROR)`)
	goPassRe     = regexp.MustCompile(`^--- PASS: (\S+)`)
	goFailRe     = regexp.MustCompile(`^--- FAIL: (\S+)`)
	mavenFailRe  = regexp.MustCompile(`^\[ERROR\]\s+(\S+)\s+.*(?:FAILED|failed)`)
	jestPassRe   = regexp.MustCompile(`^\s*✓\s+(.+?)(?:\s+\(\d+\s*ms\))?$`)
	jestFailRe   = regexp.MustCompile(`^\s*✕\s+(.+?)(?:\s+\(\d+\s*ms\))?$`)
	cargoLineRe  = regexp.MustCompile(`^test (\S+) \.\.\. (ok|FAILED)`)
)

// ParseOutput extracts per-test records from a suite run and aggregates
// them into a summary for the framework.
func ParseOutput(fw Framework, outcome *RunOutcome) review.TestSummary {
	summary := review.TestSummary{
		Framework: fw.Name,
		ExitCode:  outcome.ExitCode,
		Duration:  outcome.Duration,
		TimedOut:  outcome.TimedOut,
	}

	for _, line := range strings.Split(outcome.Output, "\n") {
		name, passed, ok := parseLine(fw.Name, line)
		if !ok {
			continue
		}
		summary.Tests = append(summary.Tests, review.TestExecutionResult{Name: name, Passed: passed})
		if passed {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}

	// A non-zero exit with nothing parsed still counts as a failure so the
	// model never sees a broken run as a clean one.
	if summary.Failed == 0 && summary.ExitCode != 0 {
		detail := "suite exited non-zero"
		if summary.TimedOut {
			detail = "suite killed at wall timeout"
		}
		summary.Failed++
		summary.Tests = append(summary.Tests, review.TestExecutionResult{
			Name:   fw.Name + " suite",
			Passed: false,
			Detail: detail,
		})
	}

	return summary
}

func parseLine(framework, line string) (name string, passed, ok bool) {
	switch framework {
	case "pytest":
		if m := pytestLineRe.FindStringSubmatch(line); m != nil {
			return m[1], m[2] == "PASSED", true
		}
	case "go":
		if m := goPassRe.FindStringSubmatch(line); m != nil {
			return m[1], true, true
		}
		if m := goFailRe.FindStringSubmatch(line); m != nil {
			return m[1], false, true
		}
	case "maven", "gradle":
		if m := mavenFailRe.FindStringSubmatch(line); m != nil {
			return m[1], false, true
		}
	case "npm", "yarn":
		if m := jestPassRe.FindStringSubmatch(line); m != nil {
			return m[1], true, true
		}
		if m := jestFailRe.FindStringSubmatch(line); m != nil {
			return m[1], false, true
		}
	case "cargo":
		if m := cargoLineRe.FindStringSubmatch(line); m != nil {
			return m[1], m[2] == "ok", true
		}
	}
	return "", false, false
}
