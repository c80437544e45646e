package textutil

import (
	"math"
	"testing"
)

func TestTokenize(t *testing.T) {
	got := Tokenize("The Way of Kings: Book 1 - Ｓｔｏｒｍｌｉｇｈｔ")
	want := []string{"the", "way", "of", "kings", "book", "1", "stormlight"}
	if len(got) != len(want) {
		t.Fatalf("Tokenize = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Tokenize = %v, want %v", got, want)
		}
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		min  float64
		max  float64
	}{
		{"identical", "Elantris", "ELANTRIS", 1, 1},
		{"reordered", "Kings of the Way", "The Way of Kings", 1, 1},
		{"partial", "The Way of Kings", "Way of Kings", 0.8, 0.99},
		{"disjoint", "Elantris", "Warbreaker", 0, 0},
		{"empty", "", "Elantris", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(NewFingerprint(tt.a), NewFingerprint(tt.b))
			if got < tt.min-1e-9 || got > tt.max+1e-9 {
				t.Fatalf("Similarity(%q, %q) = %v, want [%v, %v]", tt.a, tt.b, got, tt.min, tt.max)
			}
		})
	}
}

func TestCorpusWeightsRareTerms(t *testing.T) {
	corpus := NewCorpus()
	for _, title := range []string{"The Final Empire", "The Well of Ascension", "The Hero of Ages", "Elantris"} {
		corpus.Add(NewFingerprint(title))
	}
	idf := corpus.IDF()
	if idf["the"] >= idf["elantris"] {
		t.Fatalf("expected common term to weigh less: the=%v elantris=%v", idf["the"], idf["elantris"])
	}

	query := NewFingerprint("The Empire").Weighted(idf)
	plain := Similarity(NewFingerprint("The Empire"), NewFingerprint("The Final Empire"))
	weighted := Similarity(query, NewFingerprint("The Final Empire").Weighted(idf))
	if math.IsNaN(weighted) || weighted <= 0 {
		t.Fatalf("unexpected weighted similarity %v", weighted)
	}
	if plain == weighted {
		t.Fatal("expected idf weighting to change the score")
	}
}

func TestSanitizeToken(t *testing.T) {
	tests := map[string]string{
		"Nightly Run/1":     "nightly_run_1",
		"  ":                "unknown",
		"Émile_bench":       "mile_bench",
		"--x--":             "x",
		"Pride & Prejudice": "pride_prejudice",
	}
	for in, want := range tests {
		if got := SanitizeToken(in); got != want {
			t.Fatalf("SanitizeToken(%q) = %q, want %q", in, got, want)
		}
	}
}
