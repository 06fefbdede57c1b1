// Package semver provides versioned type reference parsing and SemVer resolution logic.
package semver

import (
	"fmt"
	"regexp"
	"strings"
)

const logPrefix = "semver:parser"

// ParsedTypeRef holds the parsed components of a type reference string.
type ParsedTypeRef struct {
	// Full qualified type name without version (e.g., "orders.Invoice")
	Full string
	// Package the type is declared in (e.g., "orders")
	Package string
	// Type name within the package (e.g., "Invoice")
	Name string
	// Version range if specified (e.g., "^1.2.0", "1", ""); empty string means any version
	Range string
	// Raw input string
	Raw string
}

var (
	typeNameRegex     = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)
	packageNameRegex  = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
	majorOnlyRegex    = regexp.MustCompile(`^\d+$`)
	exactVersionRegex = regexp.MustCompile(`^\d+\.\d+\.\d+(-[\w.]+)?(\+[\w.]+)?$`)
)

// ParseTypeRef parses a type reference string.
//
// Supported formats:
//   - orders.Invoice            (any version)
//   - orders.Invoice@1          (major only)
//   - orders.Invoice@1.2.0      (exact version)
//   - orders.Invoice@^1.2.0     (caret range)
//   - orders.Invoice@~1.2.0     (tilde range)
//   - orders.Invoice@>=1.0.0    (comparison range)
func ParseTypeRef(input string) (*ParsedTypeRef, error) {
	raw := strings.TrimSpace(input)

	namePart := raw
	rangeStr := ""
	if at := strings.Index(raw, "@"); at >= 0 {
		namePart = raw[:at]
		rangeStr = strings.TrimSpace(raw[at+1:])
	}

	// The package is everything before the last dot so nested names stay intact.
	lastDot := strings.LastIndex(namePart, ".")
	if lastDot == -1 {
		return nil, fmt.Errorf("%s - invalid type reference, missing package: %q", logPrefix, raw)
	}

	pkg := namePart[:lastDot]
	name := namePart[lastDot+1:]
	if pkg == "" || name == "" {
		return nil, fmt.Errorf("%s - invalid type reference: %q", logPrefix, raw)
	}
	if !ValidateTypeName(namePart) {
		return nil, fmt.Errorf("%s - invalid characters in type reference: %q", logPrefix, raw)
	}

	return &ParsedTypeRef{
		Full:    namePart,
		Package: pkg,
		Name:    name,
		Range:   rangeStr,
		Raw:     raw,
	}, nil
}

// IsMajorOnly checks if a range is a major-only specifier (e.g., "3").
func IsMajorOnly(rangeStr string) bool {
	return majorOnlyRegex.MatchString(rangeStr)
}

// IsExactVersion checks if a range is an exact version (e.g., "3.2.1").
func IsExactVersion(rangeStr string) bool {
	return exactVersionRegex.MatchString(rangeStr)
}

// ExtractMajorFromRange extracts the major version if the range is major-only.
// Returns -1 if not a major-only range.
func ExtractMajorFromRange(rangeStr string) int {
	if !IsMajorOnly(rangeStr) {
		return -1
	}
	var major int
	fmt.Sscanf(rangeStr, "%d", &major)
	return major
}

// BuildTypeRef builds a type reference string from a qualified name and optional version.
func BuildTypeRef(name, version string) string {
	if version != "" {
		return name + "@" + version
	}
	return name
}

// ValidateTypeName validates a qualified type name (letters, digits, dots, underscores).
func ValidateTypeName(name string) bool {
	return typeNameRegex.MatchString(name)
}

// ValidatePackageName validates a lowercase Go-style package name.
func ValidatePackageName(pkg string) bool {
	return packageNameRegex.MatchString(pkg)
}
