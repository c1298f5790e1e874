package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyGenerator_OrderIndependence(t *testing.T) {
	g := NewKeyGenerator("")

	a := g.GenerateKey(ExerciseRequest{
		Species:  "cardinal",
		Features: []string{"el pico", "las alas", "la cola"},
		ModelID:  "claude-sonnet-4-5",
	})
	b := g.GenerateKey(ExerciseRequest{
		Species:  "cardinal",
		Features: []string{"la cola", "el pico", "las alas"},
		ModelID:  "claude-sonnet-4-5",
	})

	assert.Equal(t, a, b)
}

func TestKeyGenerator_NormalizesCaseAndWhitespace(t *testing.T) {
	g := NewKeyGenerator("")

	a := g.GenerateKey(ExerciseRequest{Species: "Cardinal", Features: []string{" El Pico "}})
	b := g.GenerateKey(ExerciseRequest{Species: "cardinal", Features: []string{"el pico"}})

	assert.Equal(t, a, b)
}

func TestKeyGenerator_DistinctRequestsDistinctKeys(t *testing.T) {
	g := NewKeyGenerator("")

	base := ExerciseRequest{Species: "cardinal", Features: []string{"el pico"}, Difficulty: 1}

	differentSpecies := base
	differentSpecies.Species = "flamingo"

	differentDifficulty := base
	differentDifficulty.Difficulty = 3

	keys := map[string]bool{
		g.GenerateKey(base):                true,
		g.GenerateKey(differentSpecies):    true,
		g.GenerateKey(differentDifficulty): true,
	}
	assert.Len(t, keys, 3)
}

func TestKeyGenerator_Prefix(t *testing.T) {
	assert.True(t, strings.HasPrefix(
		NewKeyGenerator("").GenerateKey(ExerciseRequest{Species: "cardinal"}), "ave_"))
	assert.True(t, strings.HasPrefix(
		NewKeyGenerator("test_").GenerateKey(ExerciseRequest{Species: "cardinal"}), "test_"))
}
