package validate

import (
	"fmt"
	"regexp"
	"strings"
)

// identityPattern matches project[:stack[:context]], each segment
// alphanumeric/.-_ , one to three colon-separated segments.
var identityPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+(:[A-Za-z0-9._-]+){0,2}$`)

// identityQueryPattern additionally allows "*" wildcards anywhere in a
// segment, accepted only in queries.
var identityQueryPattern = regexp.MustCompile(`^[A-Za-z0-9._*-]+(:[A-Za-z0-9._*-]+){0,2}$`)

// ValidateIdentity validates a strict (non-wildcard) identity string.
func ValidateIdentity(identity string) error {
	if identity == "" {
		return fmt.Errorf("identity must not be empty")
	}
	if !identityPattern.MatchString(identity) {
		return fmt.Errorf("identity must match project[:stack[:context]] using only letters, numbers, dots, hyphens, and underscores")
	}
	return nil
}

// ValidateIdentityQuery validates an identity pattern that may include
// "*" wildcards, accepted only in query filters.
func ValidateIdentityQuery(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("identity pattern must not be empty")
	}
	if !identityQueryPattern.MatchString(pattern) {
		return fmt.Errorf("identity pattern must match project[:stack[:context]] using only letters, numbers, dots, hyphens, underscores, and *")
	}
	return nil
}

// IdentitySegments splits an identity into its project/stack/context
// segments (1 to 3 of them).
func IdentitySegments(identity string) []string {
	return strings.Split(identity, ":")
}

// IsIdentityAncestor reports whether query is identity itself or a
// colon-delimited ancestor prefix of identity (e.g. "a:b" is an
// ancestor of "a:b:c" and of "a:b").
func IsIdentityAncestor(query, identity string) bool {
	if query == identity {
		return true
	}
	return strings.HasPrefix(identity, query+":")
}
