package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/storyline/pkg/cache"
	"github.com/matzehuels/storyline/pkg/errors"
	"github.com/matzehuels/storyline/pkg/observability"
	"github.com/matzehuels/storyline/pkg/query"
	"github.com/matzehuels/storyline/pkg/sink"
	"github.com/matzehuels/storyline/pkg/storyline"
)

// Runner encapsulates pipeline execution with caching.
//
// The Runner is stateless except for the cache and logger. Multiple
// goroutines can safely use the same Runner with different options.
type Runner struct {
	Cache  cache.Cache
	Keyer  cache.Keyer
	Logger *log.Logger
}

// NewRunner creates a runner with the given cache and keyer.
// If keyer is nil, a DefaultKeyer is used.
// If cache is nil, a NullCache is used (caching disabled).
func NewRunner(c cache.Cache, keyer cache.Keyer, logger *log.Logger) *Runner {
	if keyer == nil {
		keyer = cache.NewDefaultKeyer()
	}
	if c == nil {
		c = cache.NewNullCache()
	}
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Runner{
		Cache:  c,
		Keyer:  keyer,
		Logger: logger,
	}
}

// Execute lays out t and exports it, serving the artifact from the cache
// when the same timeline was exported with the same options before.
func (r *Runner) Execute(ctx context.Context, t storyline.Timeline, opts Options) (*Result, error) {
	r.applyLogger(&opts)
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "invalid options")
	}

	hash, err := cache.HashJSON(t)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "hash timeline")
	}
	result := &Result{TimelineHash: hash}
	key := r.Keyer.ArtifactKey(hash, opts.ArtifactKeyOpts())

	if !opts.Refresh {
		if data, ok := r.cacheGet(ctx, key, cache.KeyTypeArtifact); ok {
			result.Artifact = data
			result.CacheHit = true
			r.Logger.Debug("artifact cache hit", "timeline", hash[:12])
			return result, nil
		}
	}

	layoutStart := time.Now()
	l, err := r.Layout(ctx, t, opts)
	if err != nil {
		return nil, fmt.Errorf("layout: %w", err)
	}
	result.Layout = l
	result.Stats.LayoutTime = time.Since(layoutStart)
	result.Stats.Entities = len(l.Entities.All)
	result.Stats.Clusters = len(l.VisClusters.All)
	result.Stats.Nodes = len(l.VisNodes)
	result.Stats.Slots = len(l.Slots)

	r.Logger.Info("computed layout",
		"entities", result.Stats.Entities,
		"nodes", result.Stats.Nodes,
		"slots", result.Stats.Slots,
		"duration", result.Stats.LayoutTime)

	exportStart := time.Now()
	data, err := Export(l, opts)
	result.Stats.ExportTime = time.Since(exportStart)
	observability.Layout().OnExportComplete(ctx, opts.Format, len(data), result.Stats.ExportTime, err)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	result.Artifact = data

	r.cacheSet(ctx, key, data, cache.TTLArtifact, cache.KeyTypeArtifact)
	return result, nil
}

// Layout builds the layout of t without touching the cache.
func (r *Runner) Layout(ctx context.Context, t storyline.Timeline, opts Options) (*storyline.Layout, error) {
	r.applyLogger(&opts)
	if err := opts.ValidateForLayout(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "invalid options")
	}

	start := time.Now()
	observability.Layout().OnLayoutStart(ctx, len(t))
	l, err := storyline.Build(t, opts.LayoutOptions())
	if err == nil {
		err = storyline.Validate(l)
	}
	nodes := 0
	if l != nil {
		nodes = len(l.VisNodes)
	}
	observability.Layout().OnLayoutComplete(ctx, nodes, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Export renders l in opts.Format.
func Export(l *storyline.Layout, opts Options) ([]byte, error) {
	if err := ValidateFormat(opts.Format); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidFormat, err, "export")
	}
	return sink.RenderJSON(l,
		sink.WithJSONView(opts.View),
		sink.WithJSONStatus(opts.Status),
		sink.WithJSONClipID(opts.ClipID),
	)
}

// Fetch asks src for the result of a view, caching successful results.
// The bool reports a cache hit. Results flagged with an error are returned
// but never cached.
func (r *Runner) Fetch(ctx context.Context, src query.Source, view *query.View, constraint *query.Constraint) (*query.Result, bool, error) {
	var constraintKey string
	if constraint != nil {
		data, _ := json.Marshal(constraint)
		constraintKey = string(data)
	}
	key := r.Keyer.ResultKey(view.Key(), constraintKey)

	if data, ok := r.cacheGet(ctx, key, cache.KeyTypeResult); ok {
		if res, err := query.DecodeResult(data, query.FormatJSON); err == nil {
			return res, true, nil
		}
	}

	res, err := src.Fetch(ctx, view, constraint)
	if err != nil {
		return nil, false, err
	}
	if res == nil {
		return nil, false, errors.New(errors.ErrCodeBackend, "source returned no result")
	}
	if !res.Failed() {
		if data, err := json.Marshal(res); err == nil {
			r.cacheSet(ctx, key, data, cache.TTLResult, cache.KeyTypeResult)
		}
	}
	return res, false, nil
}

// Close releases resources held by the runner (primarily the cache).
func (r *Runner) Close() error {
	if r.Cache != nil {
		return r.Cache.Close()
	}
	return nil
}

func (r *Runner) cacheGet(ctx context.Context, key, keyType string) ([]byte, bool) {
	var (
		data []byte
		hit  bool
	)
	err := cache.RetryWithBackoff(ctx, func() error {
		var err error
		data, hit, err = r.Cache.Get(ctx, key)
		return err
	})
	if err != nil {
		r.Logger.Warn("cache read failed", "type", keyType, "err", err)
		return nil, false
	}
	if hit {
		observability.Cache().OnCacheHit(ctx, keyType)
	} else {
		observability.Cache().OnCacheMiss(ctx, keyType)
	}
	return data, hit
}

func (r *Runner) cacheSet(ctx context.Context, key string, data []byte, ttl time.Duration, keyType string) {
	if err := r.Cache.Set(ctx, key, data, ttl); err != nil {
		r.Logger.Warn("cache write failed", "type", keyType, "err", err)
		return
	}
	observability.Cache().OnCacheSet(ctx, keyType, len(data))
}

// applyLogger sets the runner's logger on options if not already set.
func (r *Runner) applyLogger(opts *Options) {
	if opts.Logger == nil {
		opts.Logger = r.Logger
	}
}
