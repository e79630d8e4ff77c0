package query

import (
	"encoding/json"
	"fmt"

	"github.com/matzehuels/storyline/pkg/storyline"
)

const (
	// ViewType is the backend view type for storyline timelines.
	ViewType = "plottimeline"

	// ConstraintType is the constraint type for selected storyline nodes.
	ConstraintType = "referencepoints"

	// CooccurrencesAnd requires co-occurring entities to co-occur with all
	// selected entities.
	CooccurrencesAnd = "and"
)

// View asks the backend for the timeline of a set of entities.
type View struct {
	Type               string              `json:"type"`
	ClusterField       string              `json:"clusterField"`
	Entities           map[string][]string `json:"entities"`
	Cooccurrences      string              `json:"cooccurrences"`
	CooccurrenceFields []string            `json:"cooccurrenceFields"`
}

// BuildView builds the view for refs. It returns nil when no ref has a value.
func BuildView(refs []Ref, forField, clusterField string) *View {
	entities := OrganizeEntities(refs, forField)
	if len(entities) == 0 {
		return nil
	}
	return &View{
		Type:               ViewType,
		ClusterField:       clusterField,
		Entities:           entities,
		Cooccurrences:      CooccurrencesAnd,
		CooccurrenceFields: UniqFields(refs, forField),
	}
}

// UseFieldPrefixes reports whether entity titles need a "field:" prefix to
// be told apart.
func (v *View) UseFieldPrefixes() bool {
	return v != nil && len(v.CooccurrenceFields) > 1
}

// Important returns the selected entities as importance hints for layout.
func (v *View) Important() map[string][]string {
	if v == nil {
		return nil
	}
	return v.Entities
}

// Key returns a canonical string for v, suitable as a cache key.
func (v *View) Key() string {
	if v == nil {
		return ""
	}
	data, _ := json.Marshal(v) // map keys are sorted by encoding/json
	return string(data)
}

// Constraint restricts the shared query to the clusters of selected nodes.
type Constraint struct {
	Type   string   `json:"type"`
	Points []string `json:"points"`
	Name   string   `json:"name"`
}

// ReferencePoints builds the constraint for a node selection. Cluster ids
// are de-duplicated in first-seen order. An empty selection yields nil.
func ReferencePoints(nodes []*storyline.VisNode) *Constraint {
	var (
		count  int
		points []string
		seen   = make(map[storyline.ClusterID]bool)
	)
	for _, n := range nodes {
		if n == nil || n.Cluster == nil {
			continue
		}
		count++
		for _, c := range n.Cluster.Clusters {
			if seen[c] {
				continue
			}
			seen[c] = true
			points = append(points, string(c))
		}
	}
	if count == 0 {
		return nil
	}
	return &Constraint{
		Type:   ConstraintType,
		Points: points,
		Name:   NodeCountName(count),
	}
}

// NodeCountName returns the display name of a constraint over n nodes.
func NodeCountName(n int) string {
	if n == 1 {
		return "Storyline: 1 node"
	}
	return fmt.Sprintf("Storyline: %d nodes", n)
}
