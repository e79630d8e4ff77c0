package storyline

import (
	"cmp"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
)

// VisCluster is one drawable group for one year: the union of all raw
// clusters of that year that transitively share an entity.
type VisCluster struct {
	Year         int         `json:"year"`
	Clusters     []ClusterID `json:"clusters"`
	EntityIDs    []int       `json:"entityIds"`
	ClusterSetID string      `json:"clusterSetId"`
	Key          int32       `json:"key"`
}

// VisClusters holds the merged clusters of every year.
type VisClusters struct {
	// All lists clusters ordered by year, then by their first cluster id.
	All []*VisCluster

	// ByYear lists the clusters of each year in the same order as All.
	ByYear map[int][]*VisCluster

	byKey map[int32]*VisCluster
}

// Lookup returns the cluster with the given key.
func (vc VisClusters) Lookup(key int32) (*VisCluster, bool) {
	c, ok := vc.byKey[key]
	return c, ok
}

// ClusterSetID returns the stable identifier of a set of cluster ids:
// "|" followed by the ids in [CompareClusterIDs] order joined by "|".
func ClusterSetID(ids []ClusterID) string {
	sorted := slices.Clone(ids)
	slices.SortFunc(sorted, CompareClusterIDs)
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = string(id)
	}
	return "|" + strings.Join(parts, "|")
}

// CompareClusterIDs orders cluster ids the way JavaScript enumerates object
// keys: array-index ids ("0", "9", "10") first in numeric order, then all
// other ids lexicographically.
func CompareClusterIDs(a, b ClusterID) int {
	na, aok := arrayIndex(string(a))
	nb, bok := arrayIndex(string(b))
	switch {
	case aok && bok:
		return cmp.Compare(na, nb)
	case aok:
		return -1
	case bok:
		return 1
	}
	return strings.Compare(string(a), string(b))
}

// arrayIndex reports whether s is a canonical array index: decimal digits
// without leading zeros, below 2^32-1.
func arrayIndex(s string) (uint64, bool) {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n >= 1<<32-1 {
		return 0, false
	}
	return n, true
}

// ClusterKey hashes a year and cluster set id into the key used to refer to
// a [VisCluster] across layouts.
func ClusterKey(year int, clusterSetID string) int32 {
	return StringHash(fmt.Sprintf("%d:%s", year, clusterSetID))
}

// clusterGroup is one raw cluster (or a merge candidate) within a year.
type clusterGroup struct {
	clusters []ClusterID
	entities []int
}

// MakeVisClusters merges, for every year, clusters that share entities.
//
// Within a year the merge repeats full passes until a pass performs no merge,
// so the partition does not depend on the order clusters are visited in.
// No two clusters of one year share an entity id afterwards.
func MakeVisClusters(years []int, byYear map[int]map[ClusterID][]int) VisClusters {
	vc := VisClusters{
		ByYear: make(map[int][]*VisCluster, len(years)),
		byKey:  make(map[int32]*VisCluster),
	}
	for _, year := range years {
		raw := byYear[year]
		ids := make([]ClusterID, 0, len(raw))
		for id := range raw {
			ids = append(ids, id)
		}
		slices.SortFunc(ids, CompareClusterIDs)

		groups := make([]clusterGroup, 0, len(ids))
		for _, id := range ids {
			groups = append(groups, clusterGroup{
				clusters: []ClusterID{id},
				entities: append([]int(nil), raw[id]...),
			})
		}

		for _, g := range mergeClusters(groups) {
			c := &VisCluster{
				Year:         year,
				Clusters:     g.clusters,
				EntityIDs:    g.entities,
				ClusterSetID: ClusterSetID(g.clusters),
			}
			c.Key = ClusterKey(year, c.ClusterSetID)
			vc.All = append(vc.All, c)
			vc.ByYear[year] = append(vc.ByYear[year], c)
			vc.byKey[c.Key] = c
		}
	}
	return vc
}

// mergeClusters runs the merge to a fixpoint and returns the surviving groups
// with sorted, de-duplicated cluster and entity ids, ordered by first cluster id.
func mergeClusters(groups []clusterGroup) []clusterGroup {
	cands := make([]*clusterGroup, len(groups))
	for i := range groups {
		g := groups[i]
		cands[i] = &clusterGroup{
			clusters: append([]ClusterID(nil), g.clusters...),
			entities: append([]int(nil), g.entities...),
		}
	}

	for changed := true; changed; {
		changed = false
		assigned := make(map[int]int)
		for i, c := range cands {
			if c == nil {
				continue
			}
			target := -1
			for _, e := range c.entities {
				if j, ok := assigned[e]; ok {
					target = j
					break
				}
			}
			if target < 0 {
				for _, e := range c.entities {
					assigned[e] = i
				}
				continue
			}
			t := cands[target]
			t.clusters = append(t.clusters, c.clusters...)
			t.entities = append(t.entities, c.entities...)
			for _, e := range c.entities {
				if _, ok := assigned[e]; !ok {
					assigned[e] = target
				}
			}
			cands[i] = nil
			changed = true
		}
	}

	var out []clusterGroup
	for _, c := range cands {
		if c == nil {
			continue
		}
		out = append(out, clusterGroup{
			clusters: uniqClusterIDs(c.clusters),
			entities: uniqInts(c.entities),
		})
	}
	sort.Slice(out, func(i, j int) bool { return CompareClusterIDs(out[i].clusters[0], out[j].clusters[0]) < 0 })
	return out
}

func uniqInts(xs []int) []int {
	if len(xs) == 0 {
		return xs
	}
	sort.Ints(xs)
	out := xs[:1]
	for _, x := range xs[1:] {
		if x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}

func uniqClusterIDs(xs []ClusterID) []ClusterID {
	if len(xs) == 0 {
		return xs
	}
	slices.SortFunc(xs, CompareClusterIDs)
	out := xs[:1]
	for _, x := range xs[1:] {
		if x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}
