package loader

import (
	"encoding/json"
	"regexp"
	"strings"
)

// codeMarkers are constructs that would evaluate code if a config file were
// ever handed to a script engine. Call markers must touch their parenthesis,
// so prose like "Import (CSV)" stays valid.
var codeMarkers = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"eval(", regexp.MustCompile(`(?i)\beval\(`)},
	{"require(", regexp.MustCompile(`(?i)\brequire\(`)},
	{"import(", regexp.MustCompile(`(?i)\bimport\(`)},
	{"function(", regexp.MustCompile(`(?i)\bfunction\s*\([^)]*\)\s*\{`)},
	{"<script", regexp.MustCompile(`(?i)<\s*script\b`)},
	{"${", regexp.MustCompile(`\$\{`)},
	{"__proto__", regexp.MustCompile(`__proto__`)},
	{"constructor[", regexp.MustCompile(`\bconstructor\s*\[`)},
	{"process.env", regexp.MustCompile(`(?i)\bprocess\.env\b`)},
}

// findCodeMarker returns the first marker found in the keys or string values
// of raw, or "". Text that is not JSON is scanned whole; the schema pass
// rejects it afterwards.
func findCodeMarker(raw []byte) string {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return matchMarker(string(raw))
	}
	return walkStrings(doc, matchMarker)
}

func matchMarker(text string) string {
	for _, m := range codeMarkers {
		if m.pattern.MatchString(text) {
			return m.name
		}
	}
	return ""
}

// walkStrings calls fn on every object key and string value of v and
// returns the first non-empty answer.
func walkStrings(v any, fn func(string) string) string {
	switch t := v.(type) {
	case string:
		return fn(t)
	case []any:
		for _, item := range t {
			if hit := walkStrings(item, fn); hit != "" {
				return hit
			}
		}
	case map[string]any:
		for k, item := range t {
			if hit := fn(k); hit != "" {
				return hit
			}
			if hit := walkStrings(item, fn); hit != "" {
				return hit
			}
		}
	}
	return ""
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

func validSlug(slug string) bool {
	return slugPattern.MatchString(slug)
}

// checkPage enforces the structural page rules.
func checkPage(i int, p Page) *LoadError {
	if strings.TrimSpace(p.ID) == "" {
		return invalidPage("id", "page %d has an empty id", i)
	}
	if !strings.HasPrefix(p.Path, "/") {
		return invalidPage("path", "page %q path %q must start with /", p.ID, p.Path)
	}
	if strings.TrimSpace(p.Component) == "" {
		return invalidPage("component", "page %q has no component", p.ID)
	}
	return nil
}

// checkPagePath rejects paths that could escape the module's route space.
func checkPagePath(p Page) *LoadError {
	if strings.Contains(p.Path, "..") {
		return invalidPage("path", "page %q path %q contains ..", p.ID, p.Path)
	}
	if strings.Contains(p.Path, "//") {
		return invalidPage("path", "page %q path %q contains //", p.ID, p.Path)
	}
	return nil
}

// securityWarnings lists non-fatal policy concerns for a descriptor.
func securityWarnings(d Descriptor) []string {
	var warnings []string
	if !d.Sandboxed {
		warnings = append(warnings, "module is not sandboxed")
	}
	if !d.PermissionsStrict {
		warnings = append(warnings, "module does not declare strict permissions")
	}
	return warnings
}
