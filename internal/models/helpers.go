// Package models defines the data structures shared by the methodology pipeline.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// RecordIDString safely extracts the string ID from a SurrealDB RecordID.
// Returns an error if the ID is not a string type.
func RecordIDString(id surrealmodels.RecordID) (string, error) {
	s, ok := id.ID.(string)
	if !ok {
		return "", fmt.Errorf("unexpected ID type: %T (expected string)", id.ID)
	}
	return s, nil
}

// FormatID builds a sequential identifier such as stage_001.
func FormatID(prefix string, n int) string {
	return fmt.Sprintf("%s_%03d", prefix, n)
}

// NormalizeName folds a display name for equality checks:
// NFKC, ё→е, case fold, trimmed and with collapsed whitespace.
func NormalizeName(s string) string {
	s = norm.NFKC.String(s)
	s = strings.NewReplacer("ё", "е", "Ё", "Е").Replace(s)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}

var (
	termIDInvalid = regexp.MustCompile(`[^\p{L}\p{N}_:\-]+`)
	underscoreRun = regexp.MustCompile(`_+`)
)

// NormalizeTermID derives a stable glossary key from a term id or name.
//
//	"EBITDA"            -> "term_ebitda"
//	"Учётная политика"  -> "term_учетная_политика"
func NormalizeTermID(raw string) string {
	t := NormalizeName(raw)
	t = termIDInvalid.ReplaceAllString(t, "_")
	t = strings.Trim(underscoreRun.ReplaceAllString(t, "_"), "_")
	if t == "" {
		return ""
	}
	if !strings.HasPrefix(t, "term_") {
		t = "term_" + t
	}
	return t
}

const maxSlugRunes = 60

// Slugify converts a title into a file-name friendly slug.
// Letters of any script are kept; everything else collapses to single hyphens.
func Slugify(s string) string {
	var b strings.Builder
	pendingDash := false
	n := 0
	for _, r := range strings.ToLower(s) {
		if n >= maxSlugRunes {
			break
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingDash && b.Len() > 0 {
				b.WriteRune('-')
				n++
			}
			pendingDash = false
			b.WriteRune(r)
			n++
			continue
		}
		pendingDash = true
	}
	return strings.TrimRight(b.String(), "-")
}

// NormalizeWhitespace collapses all whitespace runs into single spaces.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ContentHash returns the sha256 hex digest of the whitespace-normalized
// concatenation of parts.
func ContentHash(parts ...string) string {
	text := NormalizeWhitespace(strings.Join(parts, " "))
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
