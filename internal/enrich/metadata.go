package enrich

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/redpen-ai/redpen/internal/review"
	"github.com/redpen-ai/redpen/internal/scm"
)

// samePackageCap bounds how many neighbours one directory may contribute;
// a wide package would otherwise drown the prompt.
const samePackageCap = 10

// MetadataStrategy derives related files from path structure: conventional
// test counterparts of the modified files, and unmodified neighbours of
// directories the change concentrates on.
type MetadataStrategy struct {
	// SCM lists directory contents for the same-package candidates. With a
	// nil port the strategy only derives test siblings.
	SCM scm.Port
}

func (s *MetadataStrategy) Name() string { return "metadata-structure" }

func (s *MetadataStrategy) Retrieve(ctx context.Context, in Input) (review.ContextRetrievalResult, error) {
	start := time.Now()

	modified := make(map[string]bool)
	dirs := make(map[string][]string)
	for _, p := range in.Document.ModifiedPaths() {
		modified[p] = true
		dirs[path.Dir(p)] = append(dirs[path.Dir(p)], p)
	}

	var matches []review.ContextMatch
	for p := range modified {
		// Conventional test siblings for the file's language.
		for _, sibling := range testSiblings(p) {
			if modified[sibling] {
				continue
			}
			matches = append(matches, review.ContextMatch{
				FilePath:   sibling,
				Reason:     review.ReasonSiblingFile,
				Confidence: 0.7,
				Evidence:   "conventional test counterpart of " + p,
			})
		}
	}

	// Directories holding two or more modified files are the focus of the
	// change; their unmodified neighbours share the package and are likely
	// affected. Listing failures cost only this signal, never the review.
	if s.SCM != nil {
		for dir, files := range dirs {
			if len(files) < 2 {
				continue
			}
			entries, err := s.SCM.ListDirectory(ctx, in.Repo, dir)
			if err != nil {
				continue
			}
			added := 0
			for _, entry := range entries {
				if modified[entry] || added >= samePackageCap {
					continue
				}
				matches = append(matches, review.ContextMatch{
					FilePath:   entry,
					Reason:     review.ReasonSamePackage,
					Confidence: 0.4,
					Evidence:   "package " + dir + " has " + strings.Join(files, ", ") + " in this change",
				})
				added++
			}
		}
	}

	md := buildMetadata(s.Name(), matches)
	md.ExecutionTime = time.Since(start)
	return review.ContextRetrievalResult{Matches: matches, Metadata: md}, nil
}

// testSiblings maps a source path to its conventional test counterparts.
func testSiblings(p string) []string {
	dir, file := path.Split(p)
	ext := path.Ext(file)
	base := strings.TrimSuffix(file, ext)

	switch ext {
	case ".go":
		if strings.HasSuffix(base, "_test") {
			return []string{dir + strings.TrimSuffix(base, "_test") + ".go"}
		}
		return []string{dir + base + "_test.go"}
	case ".py":
		if strings.HasPrefix(base, "test_") {
			return []string{dir + strings.TrimPrefix(base, "test_") + ".py"}
		}
		return []string{dir + "test_" + base + ".py"}
	case ".java", ".kt":
		if strings.HasSuffix(base, "Test") {
			return []string{strings.Replace(dir, "/test/", "/main/", 1) + strings.TrimSuffix(base, "Test") + ext}
		}
		return []string{strings.Replace(dir, "/main/", "/test/", 1) + base + "Test" + ext}
	case ".ts", ".tsx", ".js", ".jsx":
		return []string{dir + base + ".test" + ext, dir + base + ".spec" + ext}
	default:
		return nil
	}
}
