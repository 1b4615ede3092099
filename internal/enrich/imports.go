package enrich

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/redpen-ai/redpen/internal/review"
)

// ImportStrategy scans the added lines of the diff for imports and literal
// file references, pulling the named files into context.
type ImportStrategy struct{}

func (s *ImportStrategy) Name() string { return "diff-imports" }

var (
	goImportRe     = regexp.MustCompile(`^\+\s*(?:import\s+)?"([\w./-]+)"`)
	pyImportRe     = regexp.MustCompile(`^\+\s*(?:from|import)\s+([\w.]+)`)
	jsImportRe     = regexp.MustCompile(`^\+\s*import\s+.*?from\s+['"](\.{1,2}/[\w./-]+)['"]`)
	javaImportRe   = regexp.MustCompile(`^\+\s*import\s+(?:static\s+)?([\w.]+);`)
	filePathRe     = regexp.MustCompile(`([\w/-]+\.(?:go|py|java|kt|ts|tsx|js|jsx|rb|rs|cs|yml|yaml|json|sql|proto))\b`)
	typeRefRe      = regexp.MustCompile(`^\+.*\bnew\s+([A-Z]\w+)\(`)
)

func (s *ImportStrategy) Retrieve(_ context.Context, in Input) (review.ContextRetrievalResult, error) {
	start := time.Now()

	modified := make(map[string]bool)
	for _, p := range in.Document.ModifiedPaths() {
		modified[p] = true
	}

	seen := make(map[string]review.ContextMatch)
	add := func(filePath string, reason review.MatchReason, confidence float64, evidence string) {
		if filePath == "" || modified[filePath] {
			return
		}
		if prev, ok := seen[filePath]; ok && prev.Confidence >= confidence {
			return
		}
		seen[filePath] = review.ContextMatch{
			FilePath:   filePath,
			Reason:     reason,
			Confidence: confidence,
			Evidence:   evidence,
		}
	}

	for _, f := range in.Document.Files {
		for _, h := range f.Hunks {
			for _, line := range h.Lines {
				if !strings.HasPrefix(line, "+") {
					continue
				}
				if m := jsImportRe.FindStringSubmatch(line); m != nil {
					add(resolveRelative(f.NewPath, m[1]), review.ReasonDirectImport, 0.85, "imported by "+f.NewPath)
					continue
				}
				if m := goImportRe.FindStringSubmatch(line); m != nil && strings.Contains(m[1], "/") {
					add(m[1], review.ReasonDirectImport, 0.6, "imported by "+f.NewPath)
					continue
				}
				if m := javaImportRe.FindStringSubmatch(line); m != nil {
					add(strings.ReplaceAll(m[1], ".", "/")+".java", review.ReasonDirectImport, 0.5, "imported by "+f.NewPath)
					continue
				}
				if m := pyImportRe.FindStringSubmatch(line); m != nil {
					add(strings.ReplaceAll(m[1], ".", "/")+".py", review.ReasonDirectImport, 0.5, "imported by "+f.NewPath)
					continue
				}
				if m := typeRefRe.FindStringSubmatch(line); m != nil {
					add(typeToPath(f.NewPath, m[1]), review.ReasonTypeReference, 0.45, "type "+m[1]+" constructed in "+f.NewPath)
				}
				for _, ref := range filePathRe.FindAllStringSubmatch(line, -1) {
					if ref[1] != f.NewPath {
						add(ref[1], review.ReasonFileReference, 0.55, "referenced literally in "+f.NewPath)
					}
				}
			}
		}
	}

	matches := make([]review.ContextMatch, 0, len(seen))
	for _, m := range seen {
		matches = append(matches, m)
	}

	md := buildMetadata(s.Name(), matches)
	md.ExecutionTime = time.Since(start)
	return review.ContextRetrievalResult{Matches: matches, Metadata: md}, nil
}

// resolveRelative joins an ES-style relative import onto the importing
// file's directory.
func resolveRelative(fromFile, imp string) string {
	dir := fromFile
	if i := strings.LastIndexByte(dir, '/'); i >= 0 {
		dir = dir[:i]
	} else {
		dir = "."
	}
	for strings.HasPrefix(imp, "../") {
		imp = strings.TrimPrefix(imp, "../")
		if i := strings.LastIndexByte(dir, '/'); i >= 0 {
			dir = dir[:i]
		}
	}
	imp = strings.TrimPrefix(imp, "./")
	p := dir + "/" + imp
	if !strings.Contains(imp[strings.LastIndexByte(imp, '/')+1:], ".") {
		p += ".ts"
	}
	return p
}

// typeToPath guesses the file defining a constructed type, same package
// assumed.
func typeToPath(fromFile, typeName string) string {
	dir := ""
	if i := strings.LastIndexByte(fromFile, '/'); i >= 0 {
		dir = fromFile[:i+1]
	}
	ext := ".java"
	if i := strings.LastIndexByte(fromFile, '.'); i >= 0 {
		ext = fromFile[i:]
	}
	return dir + typeName + ext
}
