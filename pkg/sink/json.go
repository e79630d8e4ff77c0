// Package sink exports storyline layouts for rendering front-ends.
package sink

import (
	"encoding/json"

	"github.com/matzehuels/storyline/pkg/query"
	"github.com/matzehuels/storyline/pkg/storyline"
)

// JSONOption configures JSON rendering via [RenderJSON].
type JSONOption func(*jsonRenderer)

type jsonRenderer struct {
	view    *query.View
	status  string
	clipID  string
	compact bool
}

// WithJSONView records the view the layout answers. Entity titles get field
// prefixes when the view spans several fields.
func WithJSONView(v *query.View) JSONOption { return func(r *jsonRenderer) { r.view = v } }

// WithJSONStatus records the status line, see [query.Result.Status].
func WithJSONStatus(s string) JSONOption { return func(r *jsonRenderer) { r.status = s } }

// WithJSONClipID records the clip-path id the renderer should use.
func WithJSONClipID(id string) JSONOption { return func(r *jsonRenderer) { r.clipID = id } }

// WithJSONCompact disables indentation.
func WithJSONCompact() JSONOption { return func(r *jsonRenderer) { r.compact = true } }

type jsonOutput struct {
	Empty           bool         `json:"empty"`
	Status          string       `json:"status,omitempty"`
	ClipID          string       `json:"clipId,omitempty"`
	FieldPrefixes   bool         `json:"fieldPrefixes,omitempty"`
	XExtent         [2]int       `json:"xExtent"`
	YSpacePerSlot   float64      `json:"ySpacePerSlot"`
	YSlotOffset     float64      `json:"ySlotOffset"`
	Entities        []jsonEntity `json:"entities"`
	Slots           []jsonSlot   `json:"slots"`
	VisNodes        []jsonNode   `json:"visNodes"`
	EntityLines     []jsonLine   `json:"entityLines"`
	EntityLineLinks jsonLinks    `json:"entityLineLinks"`
}

type jsonEntity struct {
	ID        int    `json:"id"`
	Field     string `json:"field"`
	Value     string `json:"value"`
	Title     string `json:"title"`
	Important bool   `json:"important,omitempty"`
}

type jsonSlot struct {
	Index     int   `json:"index"`
	EntityIDs []int `json:"entityIds"`
}

type jsonNode struct {
	ID           string   `json:"id"`
	Time         int      `json:"time"`
	Filler       bool     `json:"filler,omitempty"`
	Key          *int32   `json:"key,omitempty"`
	ClusterSetID string   `json:"clusterSetId,omitempty"`
	Clusters     []string `json:"clusters,omitempty"`
	StartSlot    int      `json:"startSlot"`
	EndSlot      int      `json:"endSlot"`
	EntityIDs    []int    `json:"entityIds"`
}

type jsonPoint struct {
	Node string `json:"node"`
	Slot int    `json:"slot"`
}

type jsonLine struct {
	EntityID  int         `json:"entityId"`
	Important bool        `json:"important,omitempty"`
	Points    []jsonPoint `json:"points"`
}

type jsonLink struct {
	EntityID int       `json:"entityId"`
	Source   jsonPoint `json:"source"`
	Target   jsonPoint `json:"target"`
}

type jsonSingleton struct {
	EntityID int       `json:"entityId"`
	Point    jsonPoint `json:"point"`
}

type jsonLinks struct {
	Links      []jsonLink      `json:"links"`
	Singletons []jsonSingleton `json:"singletons"`
}

// RenderJSON exports the layout as a JSON document. Nodes are referenced by
// id from lines and links; ids are stable across re-layouts of the same data.
//
// RenderJSON does not modify l and is safe to call concurrently.
func RenderJSON(l *storyline.Layout, opts ...JSONOption) ([]byte, error) {
	r := jsonRenderer{}
	for _, opt := range opts {
		opt(&r)
	}

	out := jsonOutput{
		Empty:         l.Empty(),
		Status:        r.status,
		ClipID:        r.clipID,
		FieldPrefixes: r.view.UseFieldPrefixes(),
		XExtent:       l.XExtent,
		YSpacePerSlot: l.YSpacePerSlot,
		YSlotOffset:   l.YSlotOffset,
		Entities:      buildJSONEntities(l, r.view.UseFieldPrefixes()),
		Slots:         make([]jsonSlot, 0, len(l.Slots)),
		VisNodes:      buildJSONNodes(l),
		EntityLines:   make([]jsonLine, 0, len(l.EntityLines)),
		EntityLineLinks: jsonLinks{
			Links:      make([]jsonLink, 0, len(l.EntityLineLinks.Links)),
			Singletons: make([]jsonSingleton, 0, len(l.EntityLineLinks.Singletons)),
		},
	}

	for _, s := range l.Slots {
		out.Slots = append(out.Slots, jsonSlot{Index: s.Index, EntityIDs: nonNil(s.EntityIDs)})
	}
	for _, line := range l.EntityLines {
		jl := jsonLine{EntityID: line.EntityID, Important: line.Important, Points: make([]jsonPoint, 0, len(line.Points))}
		for _, p := range line.Points {
			jl.Points = append(jl.Points, point(p))
		}
		out.EntityLines = append(out.EntityLines, jl)
	}
	for _, lk := range l.EntityLineLinks.Links {
		out.EntityLineLinks.Links = append(out.EntityLineLinks.Links, jsonLink{
			EntityID: lk.EntityID,
			Source:   point(lk.Source),
			Target:   point(lk.Target),
		})
	}
	for _, s := range l.EntityLineLinks.Singletons {
		out.EntityLineLinks.Singletons = append(out.EntityLineLinks.Singletons, jsonSingleton{
			EntityID: s.EntityID,
			Point:    point(s.Point),
		})
	}

	if r.compact {
		return json.Marshal(out)
	}
	return json.MarshalIndent(out, "", "  ")
}

func buildJSONEntities(l *storyline.Layout, prefixes bool) []jsonEntity {
	important := make(map[int]bool)
	for _, line := range l.EntityLines {
		if line.Important {
			important[line.EntityID] = true
		}
	}
	out := make([]jsonEntity, 0, len(l.Entities.All))
	for id, e := range l.Entities.All {
		title := e.Value
		if prefixes {
			title = e.String()
		}
		out = append(out, jsonEntity{
			ID:        id,
			Field:     e.Field,
			Value:     e.Value,
			Title:     title,
			Important: important[id],
		})
	}
	return out
}

func buildJSONNodes(l *storyline.Layout) []jsonNode {
	out := make([]jsonNode, 0, len(l.VisNodes))
	for _, n := range l.VisNodes {
		jn := jsonNode{
			ID:        n.ID,
			Time:      n.Time,
			Filler:    n.Filler,
			StartSlot: n.StartSlot,
			EndSlot:   n.EndSlot,
			EntityIDs: nonNil(n.EntityIDs),
		}
		if c := n.Cluster; c != nil {
			key := c.Key
			jn.Key = &key
			jn.ClusterSetID = c.ClusterSetID
			for _, id := range c.Clusters {
				jn.Clusters = append(jn.Clusters, string(id))
			}
		}
		out = append(out, jn)
	}
	return out
}

func point(p storyline.LinePoint) jsonPoint {
	return jsonPoint{Node: p.Node.ID, Slot: p.Slot}
}

func nonNil(xs []int) []int {
	if xs == nil {
		return []int{}
	}
	return xs
}
