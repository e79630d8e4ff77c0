// Package cache stores rendered storyline artifacts and backend results.
//
// Layouts are a pure function of their input, so the expensive repeated work
// is decoding, laying out and exporting the same timeline over and over. The
// pipeline caches exported bytes under keys derived from a hash of the
// timeline and the layout options.
//
// # Backends
//
//   - [FileCache]: one JSON file per entry, used by the CLI
//   - [MemoryCache]: in-process, backed by github.com/patrickmn/go-cache
//   - [RedisCache]: shared between server instances
//   - [LayeredCache]: a fast cache in front of a slower one
//   - [NullCache]: caching disabled
//
// # Keys
//
// A [Keyer] derives keys; wrap it with [NewScopedKeyer] to isolate tenants or
// environments sharing one backend.
package cache

import (
	"context"
	"time"
)

// Default time-to-live values per entry type.
const (
	TTLArtifact = 24 * time.Hour
	TTLResult   = 10 * time.Minute
)

// Key types reported to observability hooks.
const (
	KeyTypeArtifact = "artifact"
	KeyTypeResult   = "result"
)

// Cache is a byte-oriented key/value store with expiry.
type Cache interface {
	// Get returns the value for key. A miss is (nil, false, nil).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores data under key. A ttl of zero means the backend default.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases backend resources.
	Close() error
}

// Keyer derives cache keys.
type Keyer interface {
	// ArtifactKey is the key of an exported layout of the timeline with the
	// given hash.
	ArtifactKey(timelineHash string, opts ArtifactKeyOpts) string

	// ResultKey is the key of a backend result for a view and constraint.
	ResultKey(view, constraint string) string
}

// ArtifactKeyOpts are the options that change an exported layout.
type ArtifactKeyOpts struct {
	Format      string  `json:"format"`
	Height      float64 `json:"height"`
	MarginSlots int     `json:"margin_slots"`
	Ordering    string  `json:"ordering"`
	View        string  `json:"view,omitempty"`
	Status      string  `json:"status,omitempty"`
	ClipID      string  `json:"clip_id,omitempty"`
}

// DefaultKeyer hashes key components with SHA-256.
type DefaultKeyer struct{}

// NewDefaultKeyer returns the default keyer.
func NewDefaultKeyer() Keyer {
	return DefaultKeyer{}
}

// ArtifactKey implements [Keyer].
func (DefaultKeyer) ArtifactKey(timelineHash string, opts ArtifactKeyOpts) string {
	return hashKey(KeyTypeArtifact, timelineHash, opts)
}

// ResultKey implements [Keyer].
func (DefaultKeyer) ResultKey(view, constraint string) string {
	return hashKey(KeyTypeResult, view, constraint)
}
