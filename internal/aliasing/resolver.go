package aliasing

import (
	"log/slog"
	"regexp"
	"strings"
)

type (
	// compiledPattern holds a pre-compiled regex pattern and its canonical template.
	compiledPattern struct {
		regex     *regexp.Regexp
		canonical string
		variables []string
	}

	// Resolver resolves ontology base URLs using pattern-based aliasing.
	// Thread-safe for concurrent use (immutable after construction).
	//
	// The resolver rewrites a caller-supplied base URL to its current one,
	// letting ReadRoots/ReadOntologyEdges accept a base URL that moved
	// hosting domains without the caller needing to know the new one.
	//
	// Pattern syntax:
	//   - {variable} captures any characters except "/"
	//   - {variable*} captures any characters including "/" (for paths)
	//   - Literal characters match exactly
	//   - First matching pattern wins (order matters)
	Resolver struct {
		patterns []compiledPattern
	}
)

// variableRegex matches {name} or {name*} patterns in the pattern string.
var variableRegex = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\*?\}`)

// compilePattern converts a pattern string to a compiled regex.
//
// Pattern: "https://old.example.org/{name}" -> Regex: ^https://old\.example\.org/(?P<name>[^/]+)$.
func compilePattern(pattern string) (*regexp.Regexp, []string, error) {
	variables := make([]string, 0, 4) //nolint:mnd // preallocate for typical pattern

	escaped := regexp.QuoteMeta(pattern)
	result := escaped

	matches := variableRegex.FindAllStringSubmatch(pattern, -1)
	for _, match := range matches {
		fullMatch := match[0]
		varName := match[1]
		isGreedy := strings.HasSuffix(fullMatch, "*}")

		variables = append(variables, varName)

		var captureGroup string
		if isGreedy {
			captureGroup = "(?P<" + varName + ">.+)"
		} else {
			captureGroup = "(?P<" + varName + ">[^/]+)"
		}

		escapedVar := regexp.QuoteMeta(fullMatch)
		result = strings.Replace(result, escapedVar, captureGroup, 1)
	}

	result = "^" + result + "$"

	regex, err := regexp.Compile(result)
	if err != nil {
		return nil, nil, err
	}

	return regex, variables, nil
}

// substituteVariables replaces {var} placeholders in canonical with captured values.
func substituteVariables(canonical string, captures map[string]string) string {
	result := canonical

	for varName, value := range captures {
		result = strings.ReplaceAll(result, "{"+varName+"}", value)
		result = strings.ReplaceAll(result, "{"+varName+"*}", value)
	}

	return result
}

// NewResolver creates a resolver from config with validation.
//
// Validates:
//   - Patterns with empty pattern or canonical are skipped with warning
//   - Patterns with invalid regex are skipped with warning
//
// Returns a resolver containing only valid patterns.
// If config is nil or has no patterns, returns a no-op resolver (passthrough).
func NewResolver(cfg *Config) *Resolver {
	if cfg == nil || len(cfg.BaseURLPatterns) == 0 {
		return &Resolver{
			patterns: []compiledPattern{},
		}
	}

	validPatterns := make([]compiledPattern, 0, len(cfg.BaseURLPatterns))

	for _, bp := range cfg.BaseURLPatterns {
		pattern := strings.TrimSpace(bp.Pattern)
		canonical := strings.TrimSpace(bp.Canonical)

		if pattern == "" {
			slog.Warn("Skipping alias pattern with empty pattern string")

			continue
		}

		if canonical == "" {
			slog.Warn("Skipping alias pattern with empty canonical",
				slog.String("pattern", pattern))

			continue
		}

		regex, variables, err := compilePattern(pattern)
		if err != nil {
			slog.Warn("Skipping alias pattern with invalid regex",
				slog.String("pattern", pattern),
				slog.String("error", err.Error()))

			continue
		}

		validPatterns = append(validPatterns, compiledPattern{
			regex:     regex,
			canonical: canonical,
			variables: variables,
		})

		slog.Debug("Compiled base URL alias pattern",
			slog.String("pattern", pattern),
			slog.String("canonical", canonical),
			slog.Int("variables", len(variables)))
	}

	return &Resolver{
		patterns: validPatterns,
	}
}

// GetPatternCount returns the number of compiled patterns.
func (r *Resolver) GetPatternCount() int {
	if r == nil {
		return 0
	}

	return len(r.patterns)
}

// Resolve rewrites baseURL to its current form if an alias pattern matches,
// otherwise returns baseURL unchanged.
//
// Patterns are evaluated in order; first match wins.
func (r *Resolver) Resolve(baseURL string) string {
	if r == nil || len(r.patterns) == 0 || baseURL == "" {
		return baseURL
	}

	for _, cp := range r.patterns {
		match := cp.regex.FindStringSubmatch(baseURL)
		if match == nil {
			continue
		}

		captures := make(map[string]string)

		for i, name := range cp.regex.SubexpNames() {
			if i > 0 && name != "" && i < len(match) {
				captures[name] = match[i]
			}
		}

		return substituteVariables(cp.canonical, captures)
	}

	return baseURL
}

// Match checks if baseURL matches any alias pattern and returns the
// rewritten URL. Returns ("", false) if no pattern matched.
func (r *Resolver) Match(baseURL string) (string, bool) {
	if r == nil || len(r.patterns) == 0 || baseURL == "" {
		return "", false
	}

	for _, cp := range r.patterns {
		match := cp.regex.FindStringSubmatch(baseURL)
		if match == nil {
			continue
		}

		captures := make(map[string]string)

		for i, name := range cp.regex.SubexpNames() {
			if i > 0 && name != "" && i < len(match) {
				captures[name] = match[i]
			}
		}

		return substituteVariables(cp.canonical, captures), true
	}

	return "", false
}
