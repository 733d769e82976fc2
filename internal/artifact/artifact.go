package artifact

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// JAR naming patterns SERVAL releases have shipped under.
var jarPatterns = []string{
	"serval-*.jar",
	"serv-*.jar",
	"SERVAL-*.jar",
	"serval.jar",
}

var versionRe = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

// Artifact is one discovered launchable SERVAL JAR.
type Artifact struct {
	Path    string `json:"path"`
	Version string `json:"version"`
	Valid   bool   `json:"valid"`
}

func (a Artifact) String() string {
	return fmt.Sprintf("SERVAL %s at %s", a.Version, a.Path)
}

// NotFoundError reports that no search root yielded a launchable artifact.
type NotFoundError struct {
	Roots []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no launchable SERVAL artifact found (checked: %s); install SERVAL under /opt/serval or configure jar_path",
		strings.Join(e.Roots, ", "))
}

// Locator searches conventional installation roots for exactly one launchable
// JAR per root. It holds no cache; the supervisor caches the result.
type Locator struct {
	roots  []string
	expand func(string) string
	logger *slog.Logger
}

// NewLocator builds a Locator. roots nil means DefaultRoots; expand (may be
// nil) is applied to every root before use, e.g. for ~ and ${VAR} references.
func NewLocator(roots []string, expand func(string) string, logger *slog.Logger) *Locator {
	if roots == nil {
		roots = DefaultRoots()
	}
	if expand == nil {
		expand = func(s string) string { return s }
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Locator{roots: roots, expand: expand, logger: logger}
}

// DefaultRoots lists the conventional SERVAL installation locations, most
// specific first. Roots whose base name mentions serval are additionally
// scanned one level deep so versioned installs (/opt/serval/2.1.6) resolve.
func DefaultRoots() []string {
	roots := []string{"/opt/serval", "/usr/local/serval", "~/serval", "~/Programs/TPX3Cam/Serval", "./serval", "."}
	return roots
}

// Locate returns the artifact from the first root containing exactly one
// candidate JAR. userPath, when non-empty, is tried first: a file is accepted
// as-is, a directory becomes the leading search root. Roots with zero or
// several candidates are skipped with a diagnostic; when every root is
// exhausted a NotFoundError enumerating them is returned.
func (l *Locator) Locate(userPath string) (Artifact, error) {
	var checked []string
	roots := l.roots

	if userPath != "" {
		p := l.expand(userPath)
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return Artifact{Path: p, Version: versionOf(p), Valid: true}, nil
		} else if err == nil && fi.IsDir() {
			roots = append([]string{userPath}, roots...)
		} else {
			l.logger.Debug("configured artifact path unusable", "path", p, "error", err)
			checked = append(checked, p)
		}
	}

	for _, root := range roots {
		base := l.expand(root)
		for _, dir := range expandRoot(base) {
			checked = append(checked, dir)
			matches := jarsIn(dir)
			switch len(matches) {
			case 0:
				continue
			case 1:
				a := Artifact{Path: matches[0], Version: versionOf(matches[0]), Valid: true}
				l.logger.Info("artifact located", "path", a.Path, "version", a.Version)
				return a, nil
			default:
				l.logger.Warn("skipping root with multiple candidate JARs", "root", dir, "count", len(matches))
			}
		}
	}
	return Artifact{}, &NotFoundError{Roots: checked}
}

// Installations lists every root that resolves to a single artifact, for the
// discovery report. Order follows the search order.
func (l *Locator) Installations() []Artifact {
	var out []Artifact
	seen := make(map[string]bool)
	for _, root := range l.roots {
		for _, dir := range expandRoot(l.expand(root)) {
			matches := jarsIn(dir)
			if len(matches) != 1 || seen[matches[0]] {
				continue
			}
			seen[matches[0]] = true
			out = append(out, Artifact{Path: matches[0], Version: versionOf(matches[0]), Valid: true})
		}
	}
	return out
}

// expandRoot returns the directories to scan for one configured root. Roots
// named after serval get their immediate subdirectories first (newest version
// name first), then the root itself.
func expandRoot(root string) []string {
	fi, err := os.Stat(root)
	if err != nil || !fi.IsDir() {
		return []string{root}
	}
	if !strings.Contains(strings.ToLower(filepath.Base(root)), "serval") {
		return []string{root}
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return []string{root}
	}
	var subs []string
	for _, e := range entries {
		if e.IsDir() {
			subs = append(subs, filepath.Join(root, e.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(subs)))
	return append(subs, root)
}

func jarsIn(dir string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, pat := range jarPatterns {
		matches, err := filepath.Glob(filepath.Join(dir, pat))
		if err != nil {
			continue
		}
		for _, m := range matches {
			if fi, err := os.Stat(m); err != nil || fi.IsDir() {
				continue
			}
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out
}

// versionOf extracts a dotted version from the JAR filename, falling back to
// the parent directory name, then "unknown".
func versionOf(path string) string {
	if m := versionRe.FindString(filepath.Base(path)); m != "" {
		return m
	}
	if m := versionRe.FindString(filepath.Base(filepath.Dir(path))); m != "" {
		return m
	}
	return "unknown"
}
