// Package session implements the query and selection state machine of one
// storyline widget instance.
//
// A session moves through four states:
//
//	idle ──SetEntities──▶ entities-chosen ──result──▶ data-loaded ──render──▶ rendered
//	  ▲                                                                         │
//	  └───────────────────────── ConstraintCleared / no entities ───────────────┘
//
// Every query is tagged with an epoch. Submitting a new query cancels the
// previous fetch and bumps the epoch; a result that arrives for an older
// epoch is dropped, so a superseded fetch can never overwrite newer state.
//
// # Selection
//
// Selected nodes are projected into a "referencepoints" [query.Constraint]
// published through [Options.OnConstraint]. When a new result no longer
// contains a selected node, the node is silently deselected, the constraint
// re-derived and the query re-run; the view is only rendered once a result
// arrives that needs no cleanup.
//
// # Rendering
//
// Renderers receive immutable [Frame] values. Render calls are serialized and
// happen outside the session lock; a Renderer must not block on a goroutine
// that is itself calling into the session.
package session

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/matzehuels/storyline/pkg/errors"
	"github.com/matzehuels/storyline/pkg/observability"
	"github.com/matzehuels/storyline/pkg/pipeline"
	"github.com/matzehuels/storyline/pkg/query"
	"github.com/matzehuels/storyline/pkg/storyline"
)

// NoMatches is the placeholder text renderers show for empty results.
const NoMatches = "No matches"

// State is the widget state.
type State int

const (
	StateIdle State = iota
	StateEntitiesChosen
	StateDataLoaded
	StateRendered
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateEntitiesChosen:
		return "entities-chosen"
	case StateDataLoaded:
		return "data-loaded"
	case StateRendered:
		return "rendered"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Frame is everything a renderer needs to draw the widget once.
type Frame struct {
	Revision uint64
	Layout   *storyline.Layout
	View     *query.View
	Status   string
	ClipID   string

	// Placeholder is set instead of drawing when the layout is empty.
	Placeholder string

	SelectedNodes    []int32
	SelectedEntities []int

	// Brush narrows the detail pane; Detail is the resulting time domain.
	Brush  *[2]int
	Detail [2]int
}

// Renderer draws frames.
type Renderer interface {
	Render(ctx context.Context, f Frame) error
}

// RendererFunc adapts a function to [Renderer].
type RendererFunc func(ctx context.Context, f Frame) error

// Render implements [Renderer].
func (fn RendererFunc) Render(ctx context.Context, f Frame) error { return fn(ctx, f) }

// Options configures a session.
type Options struct {
	// ClusterField is sent with every view. Defaults to pipeline.DefaultClusterField.
	ClusterField string

	// Layout tunes layouts; View, Status and ClipID are filled in per frame.
	Layout pipeline.Options

	Renderer Renderer

	// OnConstraint is called with the constraint derived from the node
	// selection whenever it changes; nil means the selection is empty.
	OnConstraint func(*query.Constraint)

	Logger *log.Logger
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	ID            string
	State         State
	Epoch         uint64
	Loading       bool
	Err           error
	Refs          []query.Ref
	View          *query.View
	Result        *query.Result
	Layout        *storyline.Layout
	Constraint    *query.Constraint
	SelectedNodes []int32
	Brush         *[2]int
	Status        string
}

// Session is one storyline widget instance. It is safe for concurrent use.
type Session struct {
	id       string
	src      query.Source
	runner   *pipeline.Runner
	opts     Options
	logger   *log.Logger
	ctx      context.Context
	shutdown context.CancelFunc

	mu       sync.Mutex
	renderMu sync.Mutex

	state    State
	epoch    uint64
	cancel   context.CancelFunc
	done     chan struct{}
	loading  bool
	err      error
	clipNum  int
	revision uint64

	refs     []query.Ref
	forField string
	view     *query.View
	global   *query.Constraint
	result   *query.Result
	layout   *storyline.Layout
	status   string
	clipID   string

	selected   map[int32]*storyline.VisNode
	constraint *query.Constraint
	brush      *[2]int
}

// New creates an idle session reading from src. A nil runner gets an
// uncached one.
func New(src query.Source, runner *pipeline.Runner, opts Options) *Session {
	if opts.ClusterField == "" {
		opts.ClusterField = pipeline.DefaultClusterField
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	if runner == nil {
		runner = pipeline.NewRunner(nil, nil, opts.Logger)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       uuid.NewString(),
		src:      src,
		runner:   runner,
		opts:     opts,
		ctx:      ctx,
		shutdown: cancel,
		selected: make(map[int32]*storyline.VisNode),
	}
	s.logger = opts.Logger.With("session", s.id[:8])
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// NextClipID returns a new clip-path id unique within this session.
func (s *Session) NextClipID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextClipIDLocked()
}

func (s *Session) nextClipIDLocked() string {
	s.clipNum++
	return fmt.Sprintf("timelineclip-%s-%d", s.id, s.clipNum)
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:            s.id,
		State:         s.state,
		Epoch:         s.epoch,
		Loading:       s.loading,
		Err:           s.err,
		Refs:          slices.Clone(s.refs),
		View:          s.view,
		Result:        s.result,
		Layout:        s.layout,
		Constraint:    s.constraint,
		SelectedNodes: s.selectedKeysLocked(),
		Brush:         s.brush,
		Status:        s.status,
	}
}

// SetQuery parses a manual query and selects its entities.
func (s *Session) SetQuery(q string) {
	s.SetEntities(query.Parse(q), "")
}

// SetEntities selects the entities to chart. forField is set when all refs
// are values of one facet field. No entity with a value resets the session
// to idle.
func (s *Session) SetEntities(refs []query.Ref, forField string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setEntitiesLocked(refs, forField)
}

func (s *Session) setEntitiesLocked(refs []query.Ref, forField string) {
	s.refs = slices.Clone(refs)
	s.forField = forField
	s.view = query.BuildView(refs, forField, s.opts.ClusterField)
	if s.view == nil {
		s.abortLocked()
		s.status = ""
		s.result = nil
		s.layout = nil
		s.transitionLocked(StateIdle)
		return
	}
	s.transitionLocked(StateEntitiesChosen)
	s.submitLocked()
}

// SetGlobalConstraint replaces the constraints other widgets put on the
// shared query and re-runs it if entities are chosen.
func (s *Session) SetGlobalConstraint(c *query.Constraint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = c
	if s.view != nil {
		s.submitLocked()
	}
}

// ConstraintCleared handles removal of this widget's constraint elsewhere:
// the selection is dropped and the session returns to idle.
func (s *Session) ConstraintCleared() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abortLocked()
	s.refs = nil
	s.view = nil
	s.result = nil
	s.layout = nil
	s.status = ""
	s.constraint = nil
	clear(s.selected)
	s.transitionLocked(StateIdle)
}

// ToggleNode adds the node rendering the cluster with key to the selection,
// or removes it. The key must belong to the current layout.
func (s *Session) ToggleNode(key int32) error {
	s.mu.Lock()
	if _, ok := s.selected[key]; ok {
		delete(s.selected, key)
	} else {
		if s.layout == nil {
			s.mu.Unlock()
			return errors.New(errors.ErrCodeNotFound, "no layout to select from")
		}
		n, ok := s.layout.NodeByKey(key)
		if !ok {
			s.mu.Unlock()
			return errors.New(errors.ErrCodeNotFound, "node %d is not in the layout", key)
		}
		s.selected[key] = n
	}
	s.deriveConstraintLocked()
	s.renderUnlock()
	return nil
}

// ToggleEntity adds the entity to the chosen entities or removes it, which
// re-runs the query.
func (s *Session) ToggleEntity(entityID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.layout == nil {
		return errors.New(errors.ErrCodeNotFound, "no layout to select from")
	}
	e, ok := s.layout.LookupEntity(entityID)
	if !ok {
		return errors.New(errors.ErrCodeNotFound, "entity %d is not in the layout", entityID)
	}

	if s.forField != "" && e.Field != s.forField {
		return errors.New(errors.ErrCodeInvalidQuery, "entity %s is not a %s value", e, s.forField)
	}
	refs := slices.DeleteFunc(slices.Clone(s.refs), func(r query.Ref) bool {
		return r.HasValue && r.Value == e.Value && (s.forField != "" || r.Field == e.Field)
	})
	if len(refs) == len(s.refs) {
		refs = append(refs, query.Ref{Field: e.Field, Value: e.Value, HasValue: true})
	}
	s.setEntitiesLocked(refs, s.forField)
	return nil
}

// SetBrush narrows the detail pane to a time range; nil clears it. The
// brush is kept across re-layouts.
func (s *Session) SetBrush(brush *[2]int) {
	s.mu.Lock()
	if brush != nil {
		b := *brush
		if b[0] > b[1] {
			b[0], b[1] = b[1], b[0]
		}
		brush = &b
	}
	s.brush = brush
	if s.state != StateRendered {
		s.mu.Unlock()
		return
	}
	s.renderUnlock()
}

// Wait blocks until no fetch is in flight, including follow-up queries
// triggered by deselection.
func (s *Session) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		done, epoch := s.done, s.epoch
		s.mu.Unlock()
		if done == nil {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mu.Lock()
		settled := s.epoch == epoch
		s.mu.Unlock()
		if settled {
			return nil
		}
	}
}

// Close cancels any in-flight fetch. The session must not be used afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	s.abortLocked()
	s.mu.Unlock()
	s.shutdown()
}

// =============================================================================
// Internals
// =============================================================================

func (s *Session) transitionLocked(to State) {
	if s.state == to {
		return
	}
	s.logger.Debug("state change", "from", s.state, "to", to)
	observability.Session().OnStateChange(s.ctx, s.id, s.state.String(), to.String())
	s.state = to
}

// abortLocked cancels the in-flight fetch and invalidates its epoch.
func (s *Session) abortLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.epoch++
	s.loading = false
	s.err = nil
}

func (s *Session) submitLocked() {
	if s.cancel != nil {
		s.cancel()
	}
	s.epoch++
	epoch := s.epoch
	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.loading = true
	s.err = nil

	view, constraint := s.view, s.global
	s.logger.Debug("query submitted", "epoch", epoch, "view", view.Key())
	observability.Session().OnQuery(s.ctx, s.id, epoch)

	go func() {
		defer close(done)
		defer cancel()
		start := time.Now()
		res, _, err := s.runner.Fetch(ctx, s.src, view, constraint)
		s.apply(ctx, epoch, res, err, time.Since(start))
	}()
}

func (s *Session) apply(ctx context.Context, epoch uint64, res *query.Result, err error, took time.Duration) {
	s.mu.Lock()
	if epoch != s.epoch {
		current := s.epoch
		s.mu.Unlock()
		s.logger.Debug("dropped stale result", "epoch", epoch, "current", current)
		observability.Session().OnStaleResult(s.ctx, s.id, epoch, current)
		return
	}
	if err == nil && res.Failed() {
		err = res.Err()
	}
	observability.Session().OnResult(s.ctx, s.id, epoch, took, err)
	if err != nil {
		// Keep the loading indicator up; nothing stale or partial is drawn.
		s.err = err
		s.mu.Unlock()
		s.logger.Warn("query failed", "epoch", epoch, "err", err)
		return
	}

	lopts := s.opts.Layout
	lopts.View = s.view
	l, err := s.runner.Layout(ctx, res.Timeline, lopts)
	if err != nil {
		s.err = err
		s.mu.Unlock()
		s.logger.Warn("layout failed", "epoch", epoch, "err", err)
		return
	}

	s.loading = false
	s.result = res
	s.layout = l
	s.transitionLocked(StateDataLoaded)

	if s.dropVanishedLocked(l) {
		s.deriveConstraintLocked()
		s.submitLocked()
		s.mu.Unlock()
		return
	}

	s.status = res.Status(query.ValueCount(s.refs))
	s.clipID = s.nextClipIDLocked()
	s.transitionLocked(StateRendered)
	s.renderUnlock()
}

// dropVanishedLocked deselects nodes missing from l and refreshes the
// remaining ones to l's nodes. It reports whether anything was dropped.
func (s *Session) dropVanishedLocked(l *storyline.Layout) bool {
	dropped := false
	for key := range s.selected {
		n, ok := l.NodeByKey(key)
		if !ok {
			delete(s.selected, key)
			dropped = true
			continue
		}
		s.selected[key] = n
	}
	if dropped {
		s.logger.Debug("deselected vanished nodes", "remaining", len(s.selected))
	}
	return dropped
}

func (s *Session) deriveConstraintLocked() {
	keys := s.selectedKeysLocked()
	nodes := make([]*storyline.VisNode, 0, len(keys))
	for _, k := range keys {
		nodes = append(nodes, s.selected[k])
	}
	s.constraint = query.ReferencePoints(nodes)
	if s.opts.OnConstraint != nil {
		s.opts.OnConstraint(s.constraint)
	}
}

func (s *Session) selectedKeysLocked() []int32 {
	keys := make([]int32, 0, len(s.selected))
	for k := range s.selected {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// renderUnlock builds a frame, releases s.mu and renders the frame. Frames
// reach the renderer in revision order.
func (s *Session) renderUnlock() {
	if s.layout == nil || s.opts.Renderer == nil {
		s.mu.Unlock()
		return
	}
	f := s.frameLocked()
	s.renderMu.Lock()
	s.mu.Unlock()
	defer s.renderMu.Unlock()

	if err := s.opts.Renderer.Render(s.ctx, f); err != nil {
		s.logger.Warn("render failed", "revision", f.Revision, "err", err)
	}
}

func (s *Session) frameLocked() Frame {
	s.revision++
	f := Frame{
		Revision:      s.revision,
		Layout:        s.layout,
		View:          s.view,
		Status:        s.status,
		ClipID:        s.clipID,
		SelectedNodes: s.selectedKeysLocked(),
		Detail:        s.layout.XExtent,
	}
	if s.layout.Empty() {
		f.Placeholder = NoMatches
	}
	if s.brush != nil {
		b := *s.brush
		f.Brush = &b
		f.Detail = b
	}
	for field, values := range query.OrganizeEntities(s.refs, s.forField) {
		for _, v := range values {
			if id := s.layout.LookupEntityID(field, v); id >= 0 {
				f.SelectedEntities = append(f.SelectedEntities, id)
			}
		}
	}
	slices.Sort(f.SelectedEntities)
	return f
}
