package storyline

import (
	"github.com/matzehuels/storyline/pkg/errors"
)

// Validate checks the structural invariants of a layout:
//   - entity ids are dense and index the entity list
//   - clusters of one year share no entity
//   - no two entities occupy one lane at one year
//   - every real node spans the lanes of all its members
//   - line points are strictly increasing in time
//
// Violations are reported as INTERNAL_ERROR.
func Validate(l *Layout) error {
	for id, e := range l.Entities.All {
		if got := l.Entities.ID(e); got != id {
			return errors.New(errors.ErrCodeInternal, "entity %s has id %d, listed at %d", e, got, id)
		}
	}

	for year, cs := range l.VisClusters.ByYear {
		owner := make(map[int]string)
		for _, c := range cs {
			for _, e := range c.EntityIDs {
				if prev, ok := owner[e]; ok {
					return errors.New(errors.ErrCodeInternal,
						"year %d: entity %d in clusters %s and %s", year, e, prev, c.ClusterSetID)
				}
				owner[e] = c.ClusterSetID
			}
		}
	}

	occupied := make(map[[2]int]int) // (time, slot) → entity
	for _, line := range l.EntityLines {
		prev := 0
		for i, p := range line.Points {
			if i > 0 && p.Node.Time <= prev {
				return errors.New(errors.ErrCodeInternal,
					"entity %d: point at %d follows %d", line.EntityID, p.Node.Time, prev)
			}
			prev = p.Node.Time
			if p.Slot < p.Node.StartSlot || p.Slot > p.Node.EndSlot {
				return errors.New(errors.ErrCodeInternal,
					"entity %d: slot %d outside node %s [%d,%d]",
					line.EntityID, p.Slot, p.Node.ID, p.Node.StartSlot, p.Node.EndSlot)
			}
			at := [2]int{p.Node.Time, p.Slot}
			if other, ok := occupied[at]; ok && other != line.EntityID {
				return errors.New(errors.ErrCodeInternal,
					"entities %d and %d share slot %d at %d", other, line.EntityID, p.Slot, p.Node.Time)
			}
			occupied[at] = line.EntityID
		}
	}
	return nil
}
