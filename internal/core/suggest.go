package core

import (
	"github.com/hbollon/go-edlib"

	"github.com/JonMunkholm/ctedash/internal/cte"
)

// SuggestionThreshold is the largest edit distance for which an unknown
// column gets a suggested field.
const SuggestionThreshold = 3

// Suggestion pairs an unknown column with its nearest canonical field.
type Suggestion struct {
	Column    string `json:"column"`
	Index     int    `json:"index"`
	Nearest   string `json:"nearest"`
	Distance  int    `json:"distance,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Suggest finds the canonical field closest to label by Damerau-Levenshtein
// (optimal string alignment) distance over folded strings, comparing against every alias. Nearest is
// empty when no field is within SuggestionThreshold. Ties go to the field
// that comes first in the catalog.
func Suggest(label string) Suggestion {
	folded := Fold(label)
	s := Suggestion{Column: label}

	best, bestField := SuggestionThreshold+1, cte.Field(-1)
	for _, e := range aliasTable {
		d := edlib.OSADamerauLevenshteinDistance(folded, e.folded)
		if d < best || (d == best && e.field < bestField) {
			best, bestField = d, e.field
		}
	}
	if bestField.Valid() && best <= SuggestionThreshold {
		s.Nearest = bestField.String()
		s.Distance = best
	}
	return s
}

// suggestColumns builds the suggestion list for the unknown columns of h.
func suggestColumns(h HeaderMap) []Suggestion {
	out := make([]Suggestion, 0, len(h.Unknown))
	for _, col := range h.Unknown {
		s := Suggest(col.Label)
		s.Index = col.Index
		if col.Duplicate {
			s.Duplicate = true
			s.Nearest = col.Field.String()
			s.Distance = 0
		}
		out = append(out, s)
	}
	return out
}
