// Package normalization maps loosely written strings (config values, CLI flags,
// request fields) onto typed enum values.
package normalization

import (
	"fmt"
	"sort"
	"strings"
)

// Normalizer maps case-insensitive, whitespace-tolerant strings to values of T.
// Hyphens and underscores are treated as the same character, so
// "balance-performance" and "BALANCE_PERFORMANCE" resolve identically.
type Normalizer[T comparable] struct {
	name         string
	validValues  map[string]T
	defaultValue T
	validKeys    []string
}

// NewNormalizer creates a normalizer named after the field it parses. The name
// only appears in error messages.
func NewNormalizer[T comparable](name string, values map[string]T, defaultValue T) *Normalizer[T] {
	normalized := make(map[string]T, len(values))
	validKeys := make([]string, 0, len(values))
	for k, v := range values {
		key := Clean(k)
		normalized[key] = v
		validKeys = append(validKeys, key)
	}
	sort.Strings(validKeys)

	return &Normalizer[T]{
		name:         name,
		validValues:  normalized,
		defaultValue: defaultValue,
		validKeys:    validKeys,
	}
}

// Normalize returns the value for raw, or the default when raw is unknown.
func (n *Normalizer[T]) Normalize(raw string) T {
	if value, ok := n.validValues[Clean(raw)]; ok {
		return value
	}
	return n.defaultValue
}

// NormalizeWithError returns the value for raw or an error listing the valid keys.
func (n *Normalizer[T]) NormalizeWithError(raw string) (T, error) {
	if value, ok := n.validValues[Clean(raw)]; ok {
		return value, nil
	}
	var zero T
	return zero, fmt.Errorf("invalid %s %q, valid options: %s", n.name, raw, strings.Join(n.validKeys, ", "))
}

// IsValid reports whether raw resolves to a known value.
func (n *Normalizer[T]) IsValid(raw string) bool {
	_, ok := n.validValues[Clean(raw)]
	return ok
}

// ValidKeys returns all valid normalized keys, sorted.
func (n *Normalizer[T]) ValidKeys() []string {
	out := make([]string, len(n.validKeys))
	copy(out, n.validKeys)
	return out
}

// Clean is the key normalization applied to both table keys and input.
func Clean(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
}
