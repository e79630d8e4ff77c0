package storyline

import (
	"fmt"
	"slices"
	"strconv"
)

// Slot is one horizontal lane and the entities drawn on it, ordered by the
// year they enter it.
type Slot struct {
	Index     int
	EntityIDs []int
}

// VisNode is a point on the time axis spanning one or more lanes. Real nodes
// render a [VisCluster] and span the lanes of its members; filler nodes keep
// one entity's line continuous through a year it has no cluster in.
type VisNode struct {
	ID        string
	Time      int
	Filler    bool
	Cluster   *VisCluster // nil for fillers
	StartSlot int
	EndSlot   int
	EntityIDs []int
}

// LinePoint is where an entity line crosses a node.
type LinePoint struct {
	Node *VisNode
	Slot int
}

// EntityLine is the ordered path of one entity through the nodes.
type EntityLine struct {
	EntityID  int
	Important bool
	Points    []LinePoint
}

// Link is a drawable segment between consecutive points of a line.
type Link struct {
	EntityID int
	Source   LinePoint
	Target   LinePoint
}

// Singleton marks an entity that appears at a single point only.
type Singleton struct {
	EntityID int
	Point    LinePoint
}

// EntityLineLinks holds the drawable segments of all lines.
type EntityLineLinks struct {
	Links      []Link
	Singletons []Singleton
}

// Options tunes [Build].
type Options struct {
	// Height is the drawing height the slots are distributed over.
	Height float64

	// MarginSlots adds empty slot-heights around the lanes, half on each side.
	MarginSlots int

	// Important lists entities by field → values whose lines are emphasized.
	// It affects rendering class only, never positions.
	Important map[string][]string

	// Orderer permutes lanes after packing. Nil means [Barycentric].
	Orderer LaneOrderer
}

// Layout is the complete storyline layout of one timeline.
type Layout struct {
	Entities        Entities
	VisClusters     VisClusters
	Slots           []Slot
	VisNodes        []*VisNode
	EntityLines     []EntityLine
	EntityLineLinks EntityLineLinks

	// XExtent is the time axis domain: the data range padded by one year on
	// each side.
	XExtent [2]int

	YSpacePerSlot float64
	YSlotOffset   float64
}

// Empty reports whether the layout has nothing to draw. Renderers show a
// "No matches" placeholder instead of an empty chart.
func (l *Layout) Empty() bool {
	return len(l.Entities.All) == 0
}

// NodesForClusters returns the non-filler nodes.
func (l *Layout) NodesForClusters() []*VisNode {
	var out []*VisNode
	for _, n := range l.VisNodes {
		if !n.Filler {
			out = append(out, n)
		}
	}
	return out
}

// CheckVisClusterKey reports whether a cluster with key is part of the layout.
func (l *Layout) CheckVisClusterKey(key int32) bool {
	_, ok := l.VisClusters.Lookup(key)
	return ok
}

// CheckEntity reports whether the entity (field, value) is part of the layout.
func (l *Layout) CheckEntity(field, value string) bool {
	return l.LookupEntityID(field, value) >= 0
}

// LookupEntity returns the entity with id.
func (l *Layout) LookupEntity(id int) (Entity, bool) {
	if id < 0 || id >= len(l.Entities.All) {
		return Entity{}, false
	}
	return l.Entities.All[id], true
}

// LookupEntityID returns the id of (field, value), or -1.
func (l *Layout) LookupEntityID(field, value string) int {
	return l.Entities.ID(Entity{Field: field, Value: value})
}

// NodeByKey returns the real node rendering the cluster with key.
func (l *Layout) NodeByKey(key int32) (*VisNode, bool) {
	for _, n := range l.VisNodes {
		if n.Cluster != nil && n.Cluster.Key == key {
			return n, true
		}
	}
	return nil, false
}

// Build lays out a timeline.
func Build(t Timeline, opts Options) (*Layout, error) {
	es, err := ExtractEntities(t)
	if err != nil {
		return nil, err
	}
	years := es.Years()
	vc := MakeVisClusters(years, es.ByYear)
	lanes := AssignLanes(years, len(es.All), vc.ByYear, opts.Orderer)

	l := &Layout{
		Entities:    es,
		VisClusters: vc,
		Slots:       makeSlots(lanes),
	}

	// points[e][i] is entity e's point at years[i], if any.
	points := make([]map[int]LinePoint, len(es.All))
	for e := range points {
		points[e] = make(map[int]LinePoint)
	}

	for i, y := range years {
		for _, c := range vc.ByYear[y] {
			n := &VisNode{
				ID:        strconv.Itoa(int(c.Key)),
				Time:      y,
				Cluster:   c,
				StartSlot: -1,
				EntityIDs: c.EntityIDs,
			}
			for _, e := range c.EntityIDs {
				s := lanes.Of[e]
				if n.StartSlot < 0 || s < n.StartSlot {
					n.StartSlot = s
				}
				n.EndSlot = max(n.EndSlot, s)
				points[e][i] = LinePoint{Node: n, Slot: s}
			}
			l.VisNodes = append(l.VisNodes, n)
		}
		for e := range es.All {
			span := lanes.Span[e]
			if span[0] < 0 || i < span[0] || i > span[1] {
				continue
			}
			if _, ok := points[e][i]; ok {
				continue
			}
			s := lanes.Of[e]
			n := &VisNode{
				ID:        fmt.Sprintf("filler-%d-%d", e, y),
				Time:      y,
				Filler:    true,
				StartSlot: s,
				EndSlot:   s,
				EntityIDs: []int{e},
			}
			points[e][i] = LinePoint{Node: n, Slot: s}
			l.VisNodes = append(l.VisNodes, n)
		}
	}

	important := importantSet(es, opts.Important)
	for e := range es.All {
		line := EntityLine{EntityID: e, Important: important[e]}
		span := lanes.Span[e]
		if span[0] >= 0 {
			for i := span[0]; i <= span[1]; i++ {
				line.Points = append(line.Points, points[e][i])
			}
		}
		l.EntityLines = append(l.EntityLines, line)
	}

	NormalizeEntityLineFillerVisNodes(l)
	l.EntityLineLinks = MakeEntityLineLinks(l.EntityLines)

	if len(years) > 0 {
		l.XExtent = [2]int{years[0] - 1, years[len(years)-1] + 1}
	}
	if d := len(l.Slots) + opts.MarginSlots; d > 0 {
		l.YSpacePerSlot = opts.Height / float64(d)
	}
	l.YSlotOffset = float64(opts.MarginSlots) / 2
	return l, nil
}

func makeSlots(lanes Lanes) []Slot {
	slots := make([]Slot, lanes.Count)
	for i := range slots {
		slots[i].Index = i
	}
	for e, s := range lanes.Of {
		if s >= 0 {
			slots[s].EntityIDs = append(slots[s].EntityIDs, e)
		}
	}
	for i := range slots {
		ids := slots[i].EntityIDs
		slices.SortStableFunc(ids, func(a, b int) int {
			return lanes.Span[a][0] - lanes.Span[b][0]
		})
	}
	return slots
}

// importantSet resolves field → values hints to entity ids. Hints for
// entities not in the layout, or with an empty value, match nothing.
func importantSet(es Entities, hints map[string][]string) map[int]bool {
	set := make(map[int]bool)
	for field, values := range hints {
		for _, v := range values {
			if v == "" {
				continue
			}
			if id := es.ID(Entity{Field: field, Value: v}); id >= 0 {
				set[id] = true
			}
		}
	}
	return set
}

// NormalizeEntityLineFillerVisNodes collapses every maximal run of consecutive
// filler points on a line to the run's first and last point. Fillers dropped
// this way are removed from l.VisNodes. Real nodes are never touched.
func NormalizeEntityLineFillerVisNodes(l *Layout) {
	dropped := make(map[*VisNode]bool)
	for li := range l.EntityLines {
		pts := l.EntityLines[li].Points
		out := pts[:0]
		for i := 0; i < len(pts); {
			if !pts[i].Node.Filler {
				out = append(out, pts[i])
				i++
				continue
			}
			j := i
			for j+1 < len(pts) && pts[j+1].Node.Filler {
				j++
			}
			for k := i + 1; k < j; k++ {
				dropped[pts[k].Node] = true
			}
			first, last := pts[i], pts[j]
			out = append(out, first)
			if j > i {
				out = append(out, last)
			}
			i = j + 1
		}
		l.EntityLines[li].Points = out
	}
	if len(dropped) == 0 {
		return
	}
	l.VisNodes = slices.DeleteFunc(l.VisNodes, func(n *VisNode) bool { return dropped[n] })
}

// MakeEntityLineLinks turns lines into segments between consecutive points.
// Lines with a single point become singletons; empty lines produce nothing.
func MakeEntityLineLinks(lines []EntityLine) EntityLineLinks {
	var out EntityLineLinks
	for _, line := range lines {
		switch len(line.Points) {
		case 0:
		case 1:
			out.Singletons = append(out.Singletons, Singleton{EntityID: line.EntityID, Point: line.Points[0]})
		default:
			for i := 1; i < len(line.Points); i++ {
				out.Links = append(out.Links, Link{
					EntityID: line.EntityID,
					Source:   line.Points[i-1],
					Target:   line.Points[i],
				})
			}
		}
	}
	return out
}
