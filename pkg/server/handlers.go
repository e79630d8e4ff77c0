package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/matzehuels/storyline/pkg/annotate"
	"github.com/matzehuels/storyline/pkg/buildinfo"
	"github.com/matzehuels/storyline/pkg/cache"
	"github.com/matzehuels/storyline/pkg/errors"
	"github.com/matzehuels/storyline/pkg/pipeline"
	"github.com/matzehuels/storyline/pkg/query"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildinfo.Version,
		"commit":  buildinfo.Commit,
	})
}

// layoutRequest is the body of POST /v1/layout. Query and Field describe
// the selection the result answers; they drive entity emphasis, title
// prefixes and the status line.
type layoutRequest struct {
	Result  query.Result     `json:"result"`
	Query   string           `json:"query,omitempty"`
	Field   string           `json:"field,omitempty"`
	Options pipeline.Options `json:"options"`
}

type layoutOutcome struct {
	artifact []byte
	cacheHit bool
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		s.writeError(w, r, errors.Wrap(errors.ErrCodeInvalidInput, err, "read request body"))
		return
	}
	var req layoutRequest
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
		s.writeError(w, r, errors.Wrap(errors.ErrCodeInvalidInput, err, "decode request body"))
		return
	}
	if req.Result.Failed() {
		s.writeError(w, r, req.Result.Err())
		return
	}

	refs := query.Parse(req.Query)
	opts := s.layoutOptions(req.Options)
	opts.View = query.BuildView(refs, req.Field, s.opts.ClusterField)
	if opts.View != nil {
		opts.Status = req.Result.Status(query.ValueCount(refs))
	}

	// Identical bodies share one computation, detached from any one caller.
	ctx := context.WithoutCancel(r.Context())
	v, err, shared := s.flight.Do(cache.Hash(body), func() (any, error) {
		res, err := s.runner.Execute(ctx, req.Result.Timeline, opts)
		if err != nil {
			return nil, err
		}
		return layoutOutcome{artifact: res.Artifact, cacheHit: res.CacheHit}, nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := v.(layoutOutcome)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Cache", hitMiss(out.cacheHit))
	if shared {
		w.Header().Set("X-Shared", "true")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.artifact)
}

// layoutOptions overlays the non-zero request options on the server
// defaults.
func (s *Server) layoutOptions(req pipeline.Options) pipeline.Options {
	opts := s.opts.Layout
	if req.Height != 0 {
		opts.Height = req.Height
	}
	if req.MarginSlots != 0 {
		opts.MarginSlots = req.MarginSlots
	}
	if req.Ordering != "" {
		opts.Ordering = req.Ordering
	}
	if len(req.Important) > 0 {
		opts.Important = req.Important
	}
	if req.Format != "" {
		opts.Format = req.Format
	}
	opts.Refresh = req.Refresh
	opts.Logger = s.logger
	return opts
}

func hitMiss(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}

type refJSON struct {
	Field    string `json:"field"`
	Value    string `json:"value"`
	HasValue bool   `json:"hasValue"`
}

type queryResponse struct {
	Refs     []refJSON           `json:"refs"`
	Query    string              `json:"query"`
	Fields   []string            `json:"fields"`
	Entities map[string][]string `json:"entities"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	field := r.URL.Query().Get("field")
	if q == "" {
		s.writeError(w, r, errors.New(errors.ErrCodeInvalidQuery, "missing q parameter"))
		return
	}
	refs := query.Parse(q)
	resp := queryResponse{
		Refs:     make([]refJSON, len(refs)),
		Query:    query.Unparse(refs),
		Fields:   query.UniqFields(refs, field),
		Entities: query.OrganizeEntities(refs, field),
	}
	for i, ref := range refs {
		resp.Refs[i] = refJSON{Field: ref.Field, Value: ref.Value, HasValue: ref.HasValue}
	}
	if resp.Fields == nil {
		resp.Fields = []string{}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type viewRequest struct {
	Query        string `json:"query"`
	Field        string `json:"field,omitempty"`
	ClusterField string `json:"clusterField,omitempty"`
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	var req viewRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	clusterField := req.ClusterField
	if clusterField == "" {
		clusterField = s.opts.ClusterField
	}
	view := query.BuildView(query.Parse(req.Query), req.Field, clusterField)
	if view == nil {
		s.writeError(w, r, errors.New(errors.ErrCodeInvalidQuery, "query %q selects no entities", req.Query))
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	var events []annotate.Event
	if err := decodeBody(r, &events); err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]annotate.Description, len(events))
	for i, ev := range events {
		out[i] = s.annotator.Describe(ev)
	}
	s.writeJSON(w, http.StatusOK, out)
}
