// Package diff parses provider unified diffs into a structured document the
// enrichment pipeline and prompt builder can walk.
package diff

import (
	"fmt"
	"strconv"
	"strings"
)

// Hunk is one @@ block of a file modification. Lines keep their leading
// marker (' ', '+', '-', '\') so counts stay verifiable against the header.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []string
}

// FileModification is the ordered set of hunks for one file.
type FileModification struct {
	OldPath string
	NewPath string
	Hunks   []Hunk
}

// Document is an ordered sequence of file modifications.
type Document struct {
	Files []FileModification
}

// ModifiedPaths returns the post-change path of every file in the document.
func (d *Document) ModifiedPaths() []string {
	paths := make([]string, 0, len(d.Files))
	for _, f := range d.Files {
		paths = append(paths, f.NewPath)
	}
	return paths
}

// Parse converts unified diff text into a Document.
//
// Rules:
//   - "--- a/<path>" starts a new file record with its old path.
//   - "+++ b/<path>" sets the new path and appends the file.
//   - "@@ -l[,c] +l[,c] @@" begins a hunk; a missing count defaults to 1.
//   - Lines starting with '+', '-', ' ', or '\' belong to the current hunk.
//
// Everything else ("diff --git", "index", mode lines) is skipped.
func Parse(text string) (*Document, error) {
	doc := &Document{}

	var cur *FileModification
	var pendingOldPath string
	haveOldPath := false

	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "--- "):
			pendingOldPath = stripPathPrefix(strings.TrimPrefix(line, "--- "), "a/")
			haveOldPath = true
			cur = nil

		case strings.HasPrefix(line, "+++ "):
			if !haveOldPath {
				return nil, fmt.Errorf("diff: +++ without preceding ---: %q", line)
			}
			newPath := stripPathPrefix(strings.TrimPrefix(line, "+++ "), "b/")
			doc.Files = append(doc.Files, FileModification{
				OldPath: pendingOldPath,
				NewPath: newPath,
			})
			cur = &doc.Files[len(doc.Files)-1]
			haveOldPath = false

		case strings.HasPrefix(line, "@@"):
			if cur == nil {
				return nil, fmt.Errorf("diff: hunk header outside a file: %q", line)
			}
			h, err := parseHunkHeader(line)
			if err != nil {
				return nil, err
			}
			cur.Hunks = append(cur.Hunks, h)

		case len(line) > 0 && (line[0] == '+' || line[0] == '-' || line[0] == ' ' || line[0] == '\\'):
			if cur == nil || len(cur.Hunks) == 0 {
				continue // stray content before any hunk; provider noise
			}
			h := &cur.Hunks[len(cur.Hunks)-1]
			h.Lines = append(h.Lines, line)
		}
	}

	return doc, nil
}

// parseHunkHeader parses "@@ -l[,c] +l[,c] @@ optional section".
func parseHunkHeader(line string) (Hunk, error) {
	inner := strings.TrimPrefix(line, "@@")
	end := strings.Index(inner, "@@")
	if end >= 0 {
		inner = inner[:end]
	}
	fields := strings.Fields(inner)
	if len(fields) != 2 {
		return Hunk{}, fmt.Errorf("diff: malformed hunk header %q", line)
	}

	oldStart, oldCount, err := parseRange(fields[0], "-")
	if err != nil {
		return Hunk{}, fmt.Errorf("diff: %w in %q", err, line)
	}
	newStart, newCount, err := parseRange(fields[1], "+")
	if err != nil {
		return Hunk{}, fmt.Errorf("diff: %w in %q", err, line)
	}

	return Hunk{OldStart: oldStart, OldCount: oldCount, NewStart: newStart, NewCount: newCount}, nil
}

func parseRange(s, sign string) (start, count int, err error) {
	if !strings.HasPrefix(s, sign) {
		return 0, 0, fmt.Errorf("range %q missing %q", s, sign)
	}
	s = strings.TrimPrefix(s, sign)

	count = 1
	if i := strings.IndexByte(s, ','); i >= 0 {
		count, err = strconv.Atoi(s[i+1:])
		if err != nil {
			return 0, 0, fmt.Errorf("bad range count %q", s)
		}
		s = s[:i]
	}
	start, err = strconv.Atoi(s)
	if err != nil {
		return 0, 0, fmt.Errorf("bad range start %q", s)
	}
	return start, count, nil
}

// stripPathPrefix removes the conventional a/ or b/ prefix and any trailing
// timestamp column some providers append after a tab.
func stripPathPrefix(p, prefix string) string {
	if i := strings.IndexByte(p, '\t'); i >= 0 {
		p = p[:i]
	}
	p = strings.TrimSpace(p)
	if p == "/dev/null" {
		return ""
	}
	return strings.TrimPrefix(p, prefix)
}

// Verify checks the line-count invariant of every hunk: context and removed
// lines sum to OldCount, context and added lines sum to NewCount.
func (d *Document) Verify() error {
	for _, f := range d.Files {
		for i, h := range f.Hunks {
			var old, new_ int
			for _, ln := range h.Lines {
				if ln == "" {
					continue
				}
				switch ln[0] {
				case ' ':
					old++
					new_++
				case '-':
					old++
				case '+':
					new_++
				}
			}
			if old != h.OldCount || new_ != h.NewCount {
				return fmt.Errorf("diff: %s hunk %d counts mismatch: have -%d/+%d, header -%d/+%d",
					f.NewPath, i, old, new_, h.OldCount, h.NewCount)
			}
		}
	}
	return nil
}
