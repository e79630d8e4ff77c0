// Package pipeline runs the decode → layout → export pipeline for storyline.
//
// The CLI, the HTTP API and widget sessions all lay out timelines through a
// [Runner], so defaults, validation and caching behave the same everywhere.
//
// # Stages
//
//  1. Layout: [storyline.Build] with options resolved from [Options]
//  2. Export: [sink.RenderJSON] of the layout
//
// Exported artifacts are cached under a hash of the timeline and the options
// that change the output. Layouts themselves are cheap and never cached.
//
// # Usage
//
//	runner := pipeline.NewRunner(cache, nil, logger)
//	result, err := runner.Execute(ctx, res.Timeline, pipeline.Options{Height: 600})
//	if err != nil {
//	    return err
//	}
//	os.Stdout.Write(result.Artifact)
package pipeline

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/storyline/pkg/cache"
	"github.com/matzehuels/storyline/pkg/query"
	"github.com/matzehuels/storyline/pkg/storyline"
)

// =============================================================================
// Default Values - Single Source of Truth for CLI, API, and Sessions
// =============================================================================

const (
	// DefaultHeight is the default drawing height in pixels.
	DefaultHeight = 400.0

	// DefaultMarginSlots is the default number of empty slot-heights around
	// the lanes.
	DefaultMarginSlots = 2

	// DefaultOrdering is the default lane ordering algorithm.
	DefaultOrdering = OrderingBarycentric

	// DefaultClusterField is the backend field clusters are built from.
	DefaultClusterField = "year"
)

// Lane ordering algorithms.
const (
	OrderingBarycentric = "barycentric"
	OrderingIdentity    = "identity"
)

// FormatJSON is the only export format.
const FormatJSON = "json"

// ValidOrderings is the set of supported lane orderings.
var ValidOrderings = map[string]bool{
	OrderingBarycentric: true,
	OrderingIdentity:    true,
}

// ValidFormats is the set of supported export formats.
var ValidFormats = map[string]bool{
	FormatJSON: true,
}

// =============================================================================
// Options - Pipeline Configuration
// =============================================================================

// Options contains all configuration for laying out and exporting a timeline.
// This struct supports JSON serialization for API requests.
type Options struct {
	Height      float64 `json:"height,omitempty"`
	MarginSlots int     `json:"margin_slots,omitempty"`
	Ordering    string  `json:"ordering,omitempty"`

	// Important marks entities (field → values) whose lines are emphasized.
	// When View is set and Important is empty, the view's entities are used.
	Important map[string][]string `json:"important,omitempty"`

	Format  string `json:"format,omitempty"`
	Refresh bool   `json:"refresh,omitempty"`

	// Runtime options (not serialized)
	View   *query.View `json:"-"`
	Status string      `json:"-"`
	ClipID string      `json:"-"`
	Logger *log.Logger `json:"-"`

	// validated tracks whether ValidateAndSetDefaults has been called.
	validated bool
}

// Result contains the outputs of a pipeline run.
type Result struct {
	// Layout is nil when the artifact came from the cache.
	Layout *storyline.Layout

	// TimelineHash is the content hash of the input timeline.
	TimelineHash string

	// Artifact is the exported layout.
	Artifact []byte

	Stats    Stats
	CacheHit bool
}

// Stats contains pipeline execution statistics.
type Stats struct {
	Entities   int
	Clusters   int
	Nodes      int
	Slots      int
	LayoutTime time.Duration
	ExportTime time.Duration
}

// =============================================================================
// Validation Functions
// =============================================================================

// ValidateOrdering checks that an ordering is valid.
func ValidateOrdering(ordering string) error {
	if !ValidOrderings[ordering] {
		return fmt.Errorf("invalid ordering: %q (must be one of: barycentric, identity)", ordering)
	}
	return nil
}

// ValidateFormat checks that a format is valid.
func ValidateFormat(format string) error {
	if !ValidFormats[format] {
		return fmt.Errorf("invalid format: %q (must be: json)", format)
	}
	return nil
}

// =============================================================================
// Options Methods
// =============================================================================

// ValidateAndSetDefaults applies defaults and validates the options.
// This method is idempotent.
func (o *Options) ValidateAndSetDefaults() error {
	if o.validated {
		return nil
	}
	if err := o.ValidateForLayout(); err != nil {
		return err
	}
	if o.Format == "" {
		o.Format = FormatJSON
	}
	if err := ValidateFormat(o.Format); err != nil {
		return err
	}
	o.validated = true
	return nil
}

// SetLayoutDefaults sets default values for layout computation.
func (o *Options) SetLayoutDefaults() {
	if o.Height == 0 {
		o.Height = DefaultHeight
	}
	if o.MarginSlots == 0 {
		o.MarginSlots = DefaultMarginSlots
	}
	if o.Ordering == "" {
		o.Ordering = DefaultOrdering
	}
	if len(o.Important) == 0 && o.View != nil {
		o.Important = o.View.Important()
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
}

// ValidateForLayout sets layout defaults and validates them.
func (o *Options) ValidateForLayout() error {
	o.SetLayoutDefaults()
	if o.Height < 0 {
		return fmt.Errorf("height must not be negative, got %v", o.Height)
	}
	if o.MarginSlots < 0 {
		return fmt.Errorf("margin_slots must not be negative, got %d", o.MarginSlots)
	}
	return ValidateOrdering(o.Ordering)
}

// Orderer returns the lane orderer for o.Ordering.
func (o *Options) Orderer() storyline.LaneOrderer {
	if o.Ordering == OrderingIdentity {
		return storyline.Identity{}
	}
	return storyline.Barycentric{}
}

// LayoutOptions converts o to engine options.
func (o *Options) LayoutOptions() storyline.Options {
	return storyline.Options{
		Height:      o.Height,
		MarginSlots: o.MarginSlots,
		Important:   o.Important,
		Orderer:     o.Orderer(),
	}
}

// ArtifactKeyOpts returns cache key options for the exported artifact.
func (o *Options) ArtifactKeyOpts() cache.ArtifactKeyOpts {
	opts := cache.ArtifactKeyOpts{
		Format:      o.Format,
		Height:      o.Height,
		MarginSlots: o.MarginSlots,
		Ordering:    o.Ordering,
		View:        o.View.Key(),
		Status:      o.Status,
		ClipID:      o.ClipID,
	}
	if len(o.Important) > 0 {
		if h, err := cache.HashJSON(o.Important); err == nil {
			opts.View += "|important:" + h
		}
	}
	return opts
}
