package model

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeName returns the canonical form used to store and compare experiment
// and variable names: NFC normalisation with surrounding whitespace removed.
// Without NFC, "café" typed as e + U+0301 and as U+00E9 would be two variables.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// NormalizeNames applies NormalizeName to every element in place and returns s.
func NormalizeNames(s []string) []string {
	for i, name := range s {
		s[i] = NormalizeName(name)
	}
	return s
}
