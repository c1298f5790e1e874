package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// KeyGenerator builds deterministic cache keys for exercise requests.
// Unordered inputs (feature and topic lists) are sorted before hashing so
// that semantically identical requests collide regardless of iteration
// order.
type KeyGenerator struct {
	prefix string
}

// NewKeyGenerator creates a key generator with the given prefix. An empty
// prefix defaults to "ave_".
func NewKeyGenerator(prefix string) *KeyGenerator {
	if prefix == "" {
		prefix = "ave_"
	}
	return &KeyGenerator{prefix: prefix}
}

// ExerciseRequest carries the parameters that identify a generation request
// for caching purposes.
type ExerciseRequest struct {
	Species    string
	Features   []string
	ModelID    string
	Difficulty int
}

// GenerateKey creates a deterministic cache key from request parameters.
func (g *KeyGenerator) GenerateKey(req ExerciseRequest) string {
	features := make([]string, 0, len(req.Features))
	for _, f := range req.Features {
		f = strings.ToLower(strings.TrimSpace(f))
		if f != "" {
			features = append(features, f)
		}
	}
	sort.Strings(features)

	keyData := fmt.Sprintf("%s|%s|%s|%d",
		strings.ToLower(strings.TrimSpace(req.Species)),
		strings.Join(features, ","),
		req.ModelID,
		req.Difficulty,
	)

	h := sha256.New()
	h.Write([]byte(keyData))
	hash := hex.EncodeToString(h.Sum(nil))

	// Truncate the hash for readability; 16 hex chars is plenty at this
	// cache's scale.
	return fmt.Sprintf("%s%s_%s", g.prefix, req.ModelID, hash[:16])
}
