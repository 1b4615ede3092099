package sandbox

import (
	"os"
	"path/filepath"
)

// Framework names a detected build/test toolchain and the command that runs
// its suite inside the container.
type Framework struct {
	Name    string
	Command []string
}

// detection order matters: the first marker hit wins per framework family,
// and yarn.lock upgrades npm to yarn.
var detections = []struct {
	marker    string
	framework Framework
}{
	{"pom.xml", Framework{Name: "maven", Command: []string{"mvn", "-B", "test"}}},
	{"build.gradle", Framework{Name: "gradle", Command: []string{"gradle", "test", "--no-daemon"}}},
	{"build.gradle.kts", Framework{Name: "gradle", Command: []string{"gradle", "test", "--no-daemon"}}},
	{"go.mod", Framework{Name: "go", Command: []string{"go", "test", "-v", "./..."}}},
	{"Cargo.toml", Framework{Name: "cargo", Command: []string{"cargo", "test"}}},
	{"pytest.ini", Framework{Name: "pytest", Command: []string{"pytest", "-v"}}},
	{"setup.py", Framework{Name: "pytest", Command: []string{"pytest", "-v"}}},
	{"pyproject.toml", Framework{Name: "pytest", Command: []string{"pytest", "-v"}}},
}

// Detect inspects the workspace root for framework markers. Multiple
// frameworks can coexist (a polyglot repo runs every suite found).
func Detect(dir string) []Framework {
	var found []Framework
	seen := make(map[string]bool)

	add := func(f Framework) {
		if !seen[f.Name] {
			seen[f.Name] = true
			found = append(found, f)
		}
	}

	for _, d := range detections {
		if fileExists(filepath.Join(dir, d.marker)) {
			add(d.framework)
		}
	}

	if fileExists(filepath.Join(dir, "package.json")) {
		if fileExists(filepath.Join(dir, "yarn.lock")) {
			add(Framework{Name: "yarn", Command: []string{"yarn", "test"}})
		} else {
			add(Framework{Name: "npm", Command: []string{"npm", "test"}})
		}
	}

	if matches, _ := filepath.Glob(filepath.Join(dir, "*.csproj")); len(matches) > 0 {
		add(Framework{Name: "dotnet", Command: []string{"dotnet", "test"}})
	}

	return found
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
