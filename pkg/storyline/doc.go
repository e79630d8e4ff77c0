// Package storyline computes entity storyline layouts: timelines in the style
// of XKCD #657 where each entity is a horizontal line and entities that
// co-occur in the same cluster in the same year are drawn together.
//
// # Overview
//
// The input is a [Timeline], a nested table of field → value → year → cluster
// ids as returned by the query backend. The layout proceeds in four stages:
//
//  1. [ExtractEntities] assigns every (field, value) pair that occurs in at
//     least one cluster a dense integer id and indexes cluster membership by year.
//  2. [MakeVisClusters] merges, per year, all clusters that transitively share
//     an entity into one drawable [VisCluster]. Merging runs to a fixpoint, so
//     the resulting partition does not depend on the order clusters are visited.
//  3. [AssignLanes] gives every entity a single lane (slot) for its whole span
//     of years. Entities whose spans overlap never share a lane, and the number
//     of lanes equals the largest number of simultaneously live entities. A
//     [LaneOrderer] then permutes lanes so members of a cluster sit together.
//  4. [Build] turns clusters into [VisNode] values, inserts filler nodes where
//     an entity's line passes through a year without belonging to a cluster,
//     collapses runs of fillers with [NormalizeEntityLineFillerVisNodes] and
//     derives drawable segments with [MakeEntityLineLinks].
//
// # Basic Usage
//
//	t := storyline.Timeline{
//	    "person": {
//	        "Hannibal": {"218": {"c1"}},
//	        "PhilipV":  {"218": {"c1"}},
//	    },
//	}
//	l, err := storyline.Build(t, storyline.Options{Height: 600})
//	if err != nil {
//	    return err
//	}
//	if l.Empty() {
//	    // render a "No matches" placeholder
//	}
//
// # Lane Tie-Breaking
//
// Lane assignment is greedy in order of (first year, entity id): each entity
// takes the lowest-indexed lane that is free for its whole span. Reordering by
// [Barycentric] uses stable sorts, so lanes with equal barycenters keep their
// relative order. Both rules make the layout a pure function of its input.
//
// # Keys
//
// Every [VisCluster] carries a [VisCluster.Key] computed with [StringHash]
// over "year:clusterSetId". Keys are stable across re-layouts of the same data
// and are what selection state refers to.
//
// # Concurrency
//
// All functions are pure and safe for concurrent use. A [Layout] is immutable
// after [Build] returns.
package storyline
