package storyline

import "sort"

// LaneOrderer permutes lanes after packing.
//
// OrderLanes receives the number of lanes and one group per drawn cluster
// listing the lanes of its members. It returns the new lane order: element i
// is the old index of the lane that moves to position i. Implementations must
// be deterministic and must return a permutation of 0..n-1.
type LaneOrderer interface {
	OrderLanes(n int, groups [][]int) []int
}

// Identity keeps lanes in packing order.
type Identity struct{}

// OrderLanes implements [LaneOrderer].
func (Identity) OrderLanes(n int, _ [][]int) []int {
	return identityPerm(n)
}

// Barycentric moves lanes toward the mean position of the lanes they share
// clusters with, so cluster members end up adjacent and nodes cover fewer
// foreign lanes. A pass is kept only if it strictly lowers [CoincidenceCost];
// lanes with equal barycenters keep their relative order.
type Barycentric struct {
	// Passes bounds the number of improvement passes. Zero means 8.
	Passes int
}

// OrderLanes implements [LaneOrderer].
func (b Barycentric) OrderLanes(n int, groups [][]int) []int {
	passes := b.Passes
	if passes <= 0 {
		passes = 8
	}

	order := identityPerm(n)
	pos := identityPerm(n)
	best := CoincidenceCost(pos, groups)

	for range passes {
		if best == 0 {
			break
		}
		sum := make([]float64, n)
		cnt := make([]int, n)
		for _, g := range groups {
			if len(g) < 2 {
				continue
			}
			var mean float64
			for _, l := range g {
				mean += float64(pos[l])
			}
			mean /= float64(len(g))
			for _, l := range g {
				sum[l] += mean
				cnt[l]++
			}
		}
		bary := make([]float64, n)
		for l := range n {
			if cnt[l] == 0 {
				bary[l] = float64(pos[l])
			} else {
				bary[l] = sum[l] / float64(cnt[l])
			}
		}

		next := append([]int(nil), order...)
		sort.SliceStable(next, func(i, j int) bool { return bary[next[i]] < bary[next[j]] })
		nextPos := make([]int, n)
		for i, l := range next {
			nextPos[l] = i
		}
		cost := CoincidenceCost(nextPos, groups)
		if cost >= best {
			break
		}
		order, pos, best = next, nextPos, cost
	}
	return order
}

// CoincidenceCost counts, over all groups, the lanes a group's node would
// cover without owning them: (max-min+1) minus the distinct member lanes.
// pos maps a lane to its position.
func CoincidenceCost(pos []int, groups [][]int) int {
	cost := 0
	for _, g := range groups {
		if len(g) == 0 {
			continue
		}
		seen := make(map[int]bool, len(g))
		lo, hi := pos[g[0]], pos[g[0]]
		for _, l := range g {
			p := pos[l]
			seen[p] = true
			lo = min(lo, p)
			hi = max(hi, p)
		}
		cost += hi - lo + 1 - len(seen)
	}
	return cost
}

// Lanes is the lane assignment of every entity.
type Lanes struct {
	// Count is the number of lanes in use.
	Count int

	// Of maps entity id → lane, or -1 for entities without clusters.
	Of []int

	// Span maps entity id → first and last index into the year order the
	// entity has a cluster at.
	Span [][2]int
}

// AssignLanes packs entities into lanes and orders them with orderer.
//
// Every entity keeps one lane from its first to its last cluster. Entities
// whose spans overlap never share a lane and the lane count is the maximum
// number of overlapping spans. Entities are packed in order of (first year,
// entity id), each taking the lowest free lane. A nil orderer means
// [Barycentric].
func AssignLanes(years []int, numEntities int, byYear map[int][]*VisCluster, orderer LaneOrderer) Lanes {
	if orderer == nil {
		orderer = Barycentric{}
	}

	ls := Lanes{
		Of:   make([]int, numEntities),
		Span: make([][2]int, numEntities),
	}
	for e := range ls.Of {
		ls.Of[e] = -1
		ls.Span[e] = [2]int{-1, -1}
	}
	for i, y := range years {
		for _, c := range byYear[y] {
			for _, e := range c.EntityIDs {
				if ls.Span[e][0] < 0 {
					ls.Span[e][0] = i
				}
				ls.Span[e][1] = i
			}
		}
	}

	pending := make([]int, 0, numEntities)
	for e := range numEntities {
		if ls.Span[e][0] >= 0 {
			pending = append(pending, e)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return ls.Span[pending[i]][0] < ls.Span[pending[j]][0]
	})

	var laneEnd []int // last year index occupied per lane
	for _, e := range pending {
		first := ls.Span[e][0]
		lane := -1
		for l, end := range laneEnd {
			if end < first {
				lane = l
				break
			}
		}
		if lane < 0 {
			lane = len(laneEnd)
			laneEnd = append(laneEnd, 0)
		}
		laneEnd[lane] = ls.Span[e][1]
		ls.Of[e] = lane
	}
	ls.Count = len(laneEnd)

	var groups [][]int
	for _, y := range years {
		for _, c := range byYear[y] {
			g := make([]int, len(c.EntityIDs))
			for i, e := range c.EntityIDs {
				g[i] = ls.Of[e]
			}
			groups = append(groups, g)
		}
	}
	order := orderer.OrderLanes(ls.Count, groups)
	if !isPerm(order, ls.Count) {
		order = identityPerm(ls.Count)
	}
	newIndex := make([]int, ls.Count)
	for i, old := range order {
		newIndex[old] = i
	}
	for e, l := range ls.Of {
		if l >= 0 {
			ls.Of[e] = newIndex[l]
		}
	}
	return ls
}

func identityPerm(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return p
}

func isPerm(p []int, n int) bool {
	if len(p) != n {
		return false
	}
	seen := make([]bool, n)
	for _, v := range p {
		if v < 0 || v >= n || seen[v] {
			return false
		}
		seen[v] = true
	}
	return true
}
