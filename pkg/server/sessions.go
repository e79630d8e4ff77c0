package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/matzehuels/storyline/pkg/errors"
	"github.com/matzehuels/storyline/pkg/query"
	"github.com/matzehuels/storyline/pkg/session"
	"github.com/matzehuels/storyline/pkg/sink"
)

type sessionQueryRequest struct {
	Query string `json:"query"`
	Field string `json:"field,omitempty"`
}

type sessionBrushRequest struct {
	Brush *[2]int `json:"brush"`
}

type sessionResponse struct {
	ID            string            `json:"id"`
	State         string            `json:"state"`
	Epoch         uint64            `json:"epoch"`
	Loading       bool              `json:"loading"`
	Error         string            `json:"error,omitempty"`
	Query         string            `json:"query"`
	Status        string            `json:"status,omitempty"`
	Constraint    *query.Constraint `json:"constraint"`
	SelectedNodes []int32           `json:"selectedNodes"`
	Brush         *[2]int           `json:"brush"`
	Layout        json.RawMessage   `json:"layout,omitempty"`
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req sessionQueryRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess := session.New(s.opts.Source, s.runner, session.Options{
		ClusterField: s.opts.ClusterField,
		Layout:       s.opts.Layout,
		Logger:       s.logger,
	})
	s.sessions.Add(sess)
	sess.SetEntities(query.Parse(req.Query), req.Field)
	s.respondSession(w, r, sess, http.StatusCreated, true)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	wait := r.URL.Query().Get("wait") == "true"
	s.respondSession(w, r, sess, http.StatusOK, wait)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionQuery(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req sessionQueryRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess.SetEntities(query.Parse(req.Query), req.Field)
	s.respondSession(w, r, sess, http.StatusOK, true)
}

func (s *Server) handleSessionBrush(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req sessionBrushRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess.SetBrush(req.Brush)
	s.respondSession(w, r, sess, http.StatusOK, false)
}

func (s *Server) handleSessionToggleNode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	key, err := strconv.ParseInt(chi.URLParam(r, "key"), 10, 32)
	if err != nil {
		s.writeError(w, r, errors.Wrap(errors.ErrCodeInvalidInput, err, "node key"))
		return
	}
	if err := sess.ToggleNode(int32(key)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondSession(w, r, sess, http.StatusOK, false)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) respondSession(w http.ResponseWriter, r *http.Request, sess *session.Session, status int, wait bool) {
	if wait {
		if err := sess.Wait(r.Context()); err != nil {
			s.writeError(w, r, errors.Wrap(errors.ErrCodeTimeout, err, "waiting for session %s", sess.ID()))
			return
		}
	}
	snap := sess.Snapshot()
	resp := sessionResponse{
		ID:            snap.ID,
		State:         snap.State.String(),
		Epoch:         snap.Epoch,
		Loading:       snap.Loading,
		Query:         query.Unparse(snap.Refs),
		Status:        snap.Status,
		Constraint:    snap.Constraint,
		SelectedNodes: snap.SelectedNodes,
		Brush:         snap.Brush,
	}
	if snap.Err != nil {
		resp.Error = errors.UserMessage(snap.Err)
	}
	if snap.Layout != nil && snap.State == session.StateRendered {
		data, err := sink.RenderJSON(snap.Layout,
			sink.WithJSONView(snap.View),
			sink.WithJSONStatus(snap.Status),
			sink.WithJSONCompact(),
		)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Layout = data
	}
	s.writeJSON(w, status, resp)
}
