package lookup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Key returns the cache key for req: the SHA-256 hex digest of the normalized
// title, author, and ISBN. Requests that differ only in case, width, or
// whitespace share a key. Language is not part of the key.
func Key(req Request) string {
	return KeyFor(req.Title, req.Author, req.ISBN)
}

// KeyFor computes the cache key from raw fields.
func KeyFor(title, author, isbn string) string {
	var b strings.Builder
	b.WriteString(NormalizeText(title))
	b.WriteByte(0x1f)
	b.WriteString(NormalizeText(author))
	b.WriteByte(0x1f)
	b.WriteString(NormalizeISBN(isbn))
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// NormalizeText applies NFKC, case folding, and whitespace collapsing.
func NormalizeText(value string) string {
	value = norm.NFKC.String(value)
	value = folder.String(value)
	return strings.Join(strings.Fields(value), " ")
}

// NormalizeAuthor is the form used for author lookups in the cache.
func NormalizeAuthor(author string) string {
	return NormalizeText(author)
}

// NormalizeISBN keeps digits and a check character X.
func NormalizeISBN(isbn string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(isbn) {
		if unicode.IsDigit(r) || r == 'X' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsKey reports whether value looks like a key produced by Key.
func IsKey(value string) bool {
	if len(value) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(value)
	return err == nil
}
