// Package security is a lightweight pattern scanner over changed source:
// it flags dangerous call sites (command execution, dynamic code loading,
// reflection abuse, path traversal) in the lines a change request adds.
package security

import "regexp"

// Severity weights feed the fix-safety risk score.
const (
	WeightCritical = 10.0
	WeightHigh     = 7.0
	WeightMedium   = 4.0
	WeightLow      = 1.0
	WeightInfo     = 0.1
)

var severityWeights = map[string]float64{
	"CRITICAL": WeightCritical,
	"HIGH":     WeightHigh,
	"MEDIUM":   WeightMedium,
	"LOW":      WeightLow,
	"INFO":     WeightInfo,
}

// WeightFor maps a severity label to its risk weight; unknown labels weigh
// as INFO.
func WeightFor(severity string) float64 {
	if w, ok := severityWeights[severity]; ok {
		return w
	}
	return WeightInfo
}

// siteKind distinguishes the two syntactic shapes a detector can match on.
type siteKind int

const (
	siteMethodCall siteKind = iota
	siteObjectCreation
)

// pattern is one detector rule: a compiled expression over a single source
// line plus the metadata attached to any hit.
type pattern struct {
	detector string
	kind     siteKind
	re       *regexp.Regexp
	severity string
	message  string
}

var catalog = []pattern{
	// Command injection: process spawns fed anything non-literal.
	{
		detector: "command-injection",
		kind:     siteMethodCall,
		re:       regexp.MustCompile(`\b(?:Runtime\.getRuntime\(\)\.exec|ProcessBuilder|exec\.Command|subprocess\.(?:run|call|Popen)|os\.system|child_process\.(?:exec|spawn))\s*\(`),
		severity: "CRITICAL",
		message:  "process execution call site; verify arguments cannot carry attacker input",
	},
	{
		detector: "command-injection",
		kind:     siteMethodCall,
		re:       regexp.MustCompile(`\bsh\s+-c\b|\bbash\s+-c\b`),
		severity: "HIGH",
		message:  "shell -c invocation; string interpolation here is injectable",
	},

	// Code injection: dynamic evaluation of strings as code.
	{
		detector: "code-injection",
		kind:     siteMethodCall,
		re:       regexp.MustCompile(`\b(?:eval|Function)\s*\(|ScriptEngine\w*\.eval\s*\(|\bexec\s*\(\s*["']`),
		severity: "CRITICAL",
		message:  "dynamic code evaluation of a runtime string",
	},

	// Reflection abuse: class loading and member access by name.
	{
		detector: "reflection-abuse",
		kind:     siteMethodCall,
		re:       regexp.MustCompile(`\bClass\.forName\s*\(|\bgetDeclaredMethod\s*\(|\bsetAccessible\s*\(\s*true\s*\)|\bimportlib\.import_module\s*\(`),
		severity: "HIGH",
		message:  "reflective access driven by a name value",
	},
	{
		detector: "reflection-abuse",
		kind:     siteObjectCreation,
		re:       regexp.MustCompile(`\bnewInstance\s*\(|\breflect\.New\s*\(`),
		severity: "MEDIUM",
		message:  "reflective instantiation; type is decided at runtime",
	},

	// Path traversal: filesystem access built from concatenated input.
	{
		detector: "path-traversal",
		kind:     siteObjectCreation,
		re:       regexp.MustCompile(`\bnew\s+File(?:InputStream|OutputStream|Reader|Writer)?\s*\([^)]*\+`),
		severity: "HIGH",
		message:  "file handle built from concatenated path segments",
	},
	{
		detector: "path-traversal",
		kind:     siteMethodCall,
		re:       regexp.MustCompile(`(?:os\.Open|ioutil\.ReadFile|os\.ReadFile|open)\s*\([^)]*\+|\.\./`),
		severity: "MEDIUM",
		message:  "path built from untrusted segments or containing traversal",
	},
}
