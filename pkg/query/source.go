package query

import "context"

// Source answers views, typically by asking a search backend.
type Source interface {
	Fetch(ctx context.Context, view *View, constraint *Constraint) (*Result, error)
}

// SourceFunc adapts a function to [Source].
type SourceFunc func(ctx context.Context, view *View, constraint *Constraint) (*Result, error)

// Fetch implements [Source].
func (f SourceFunc) Fetch(ctx context.Context, view *View, constraint *Constraint) (*Result, error) {
	return f(ctx, view, constraint)
}

// StaticSource answers every view with the same result.
type StaticSource struct {
	Result *Result
	Err    error
}

// Fetch implements [Source].
func (s StaticSource) Fetch(ctx context.Context, _ *View, _ *Constraint) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Result, nil
}
