package textutil

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// Fingerprint is a weighted term vector.
type Fingerprint struct {
	terms map[string]float64
	norm  float64
}

// NewFingerprint builds a fingerprint from text. It returns nil when text has
// no tokens.
func NewFingerprint(text string) *Fingerprint {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	counts := make(map[string]float64, len(tokens))
	for _, token := range tokens {
		counts[token]++
	}
	return newWeighted(counts)
}

func newWeighted(terms map[string]float64) *Fingerprint {
	var sum float64
	for _, w := range terms {
		sum += w * w
	}
	if sum == 0 {
		return nil
	}
	return &Fingerprint{terms: terms, norm: math.Sqrt(sum)}
}

// Tokenize folds case, applies NFKC and splits on anything that is not a
// letter or digit. Single-rune tokens other than digits are dropped.
func Tokenize(text string) []string {
	folded := folder.String(norm.NFKC.String(text))
	fields := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		runes := []rune(f)
		if len(runes) == 1 && !unicode.IsDigit(runes[0]) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Len returns the number of distinct terms.
func (f *Fingerprint) Len() int {
	if f == nil {
		return 0
	}
	return len(f.terms)
}

// Weighted applies idf to the term counts. Terms missing from idf keep their
// count.
func (f *Fingerprint) Weighted(idf map[string]float64) *Fingerprint {
	if f == nil || len(idf) == 0 {
		return f
	}
	terms := make(map[string]float64, len(f.terms))
	for term, count := range f.terms {
		w := count
		if v, ok := idf[term]; ok {
			w *= v
		}
		if w != 0 {
			terms[term] = w
		}
	}
	return newWeighted(terms)
}

// Corpus tracks document frequencies.
type Corpus struct {
	docs int
	freq map[string]int
}

// NewCorpus returns an empty corpus.
func NewCorpus() *Corpus {
	return &Corpus{freq: make(map[string]int)}
}

// Add counts each distinct term of fp once.
func (c *Corpus) Add(fp *Fingerprint) {
	if c == nil || fp == nil {
		return
	}
	c.docs++
	for term := range fp.terms {
		c.freq[term]++
	}
}

// IDF returns smoothed weights 1 + ln((N+1)/(1+df)). The leading 1 keeps
// terms present in every document from vanishing.
func (c *Corpus) IDF() map[string]float64 {
	if c == nil || c.docs == 0 {
		return nil
	}
	n := float64(c.docs)
	idf := make(map[string]float64, len(c.freq))
	for term, df := range c.freq {
		idf[term] = 1 + math.Log((n+1)/(1+float64(df)))
	}
	return idf
}

// Similarity is the cosine of the angle between a and b, in [0, 1].
func Similarity(a, b *Fingerprint) float64 {
	if a == nil || b == nil || a.norm == 0 || b.norm == 0 {
		return 0
	}
	small, large := a, b
	if len(small.terms) > len(large.terms) {
		small, large = large, small
	}
	var dot float64
	for term, w := range small.terms {
		dot += w * large.terms[term]
	}
	sim := dot / (a.norm * b.norm)
	if sim > 1 {
		return 1
	}
	return sim
}
