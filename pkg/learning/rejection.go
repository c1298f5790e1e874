package learning

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RejectionCategory classifies why a reviewer rejected an annotation.
type RejectionCategory string

const (
	RejectionIncorrectSpecies RejectionCategory = "incorrect_species"
	RejectionIncorrectFeature RejectionCategory = "incorrect_feature"
	RejectionPoorLocalization RejectionCategory = "poor_localization"
	RejectionFalsePositive    RejectionCategory = "false_positive"
	RejectionDuplicate        RejectionCategory = "duplicate"
	RejectionLowQuality       RejectionCategory = "low_quality"
	RejectionOther            RejectionCategory = "other"
)

// Categories lists every known rejection category.
func Categories() []RejectionCategory {
	return []RejectionCategory{
		RejectionIncorrectSpecies,
		RejectionIncorrectFeature,
		RejectionPoorLocalization,
		RejectionFalsePositive,
		RejectionDuplicate,
		RejectionLowQuality,
		RejectionOther,
	}
}

// categoryRule maps trigger substrings to a category. Rules are evaluated
// top to bottom, first match wins.
type categoryRule struct {
	category RejectionCategory
	triggers []string
}

// Trigger lists are matched against normalized notes: lowercased with
// diacritics stripped, so Spanish reviewer notes like "posición" or
// "pájaro equivocado" classify the same as their plain-ASCII forms.
var categoryRules = []categoryRule{
	{RejectionIncorrectSpecies, []string{
		"wrong species", "incorrect species", "wrong bird", "different species",
		"especie equivocada", "especie incorrecta", "pajaro equivocado", "otra especie",
	}},
	{RejectionIncorrectFeature, []string{
		"wrong feature", "incorrect feature", "mislabeled", "mislabelled",
		"wrong part", "wrong term", "parte equivocada", "termino equivocado",
	}},
	{RejectionPoorLocalization, []string{
		"box", "position", "location", "misplaced", "off-center", "offset",
		"too far", "cuadro", "posicion", "ubicacion", "desplazado",
	}},
	{RejectionFalsePositive, []string{
		"not found", "doesn't exist", "does not exist", "not present",
		"not visible", "nothing there", "no existe", "no aparece", "no se ve",
	}},
	{RejectionDuplicate, []string{
		"duplicate", "already annotated", "repeated", "duplicado", "repetido",
	}},
	{RejectionLowQuality, []string{
		"blurry", "blur", "low quality", "unclear", "fuzzy", "too small",
		"borroso", "mala calidad",
	}},
}

var foldDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func normalizeNotes(notes string) string {
	lowered := strings.ToLower(notes)
	folded, _, err := transform.String(foldDiacritics, lowered)
	if err != nil {
		return lowered
	}
	return folded
}

// ExtractRejectionCategory classifies free-text rejection notes. An
// explicit bracketed tag like "[INCORRECT_SPECIES]" wins outright;
// otherwise keyword rules are applied in priority order; anything
// unmatched (including empty notes) is RejectionOther.
//
// The function is pure and deterministic, usable without any store.
func ExtractRejectionCategory(notes string) RejectionCategory {
	if strings.TrimSpace(notes) == "" {
		return RejectionOther
	}

	normalized := normalizeNotes(notes)

	for _, category := range Categories() {
		if strings.Contains(normalized, "["+string(category)+"]") {
			return category
		}
	}

	for _, rule := range categoryRules {
		for _, trigger := range rule.triggers {
			if strings.Contains(normalized, trigger) {
				return rule.category
			}
		}
	}

	return RejectionOther
}
