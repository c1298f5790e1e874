// Package cache provides the in-memory exercise cache used by the
// generation layer to avoid re-requesting annotations for identical inputs.
package cache

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Stats contains cache performance statistics. Expired reads count toward
// Misses; Expirations additionally records how many entries lapsed.
type Stats struct {
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	Sets        int64     `json:"sets"`
	Evictions   int64     `json:"evictions"`
	Expirations int64     `json:"expirations"`
	Size        int       `json:"size"`
	Capacity    int       `json:"capacity"`
	LastAccess  time.Time `json:"last_access"`
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Config holds exercise cache configuration.
type Config struct {
	// Maximum number of entries before LRU eviction kicks in.
	Capacity int `json:"capacity" yaml:"capacity"`

	// TTL applied by Set; SetWithTTL overrides per entry. Zero means no
	// expiration.
	DefaultTTL time.Duration `json:"default_ttl" yaml:"default_ttl"`
}

// UnmarshalYAML accepts durations as strings like "10m" and only overwrites
// fields present in the document, so YAML layers on top of defaults.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Capacity   *int    `yaml:"capacity"`
		DefaultTTL *string `yaml:"default_ttl"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Capacity != nil {
		c.Capacity = *raw.Capacity
	}
	if raw.DefaultTTL != nil {
		d, err := time.ParseDuration(*raw.DefaultTTL)
		if err != nil {
			return err
		}
		c.DefaultTTL = d
	}
	return nil
}
