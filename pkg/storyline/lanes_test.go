package storyline

import (
	"reflect"
	"testing"
)

func TestCoincidenceCost(t *testing.T) {
	tests := []struct {
		name   string
		pos    []int
		groups [][]int
		want   int
	}{
		{"adjacent", []int{0, 1, 2}, [][]int{{0, 1}}, 0},
		{"gap", []int{0, 1, 2}, [][]int{{0, 2}}, 1},
		{"permuted", []int{1, 0, 2}, [][]int{{0, 2}}, 0},
		{"singletons", []int{0, 1, 2}, [][]int{{0}, {2}}, 0},
		{"summed", []int{0, 1, 2, 3}, [][]int{{0, 3}, {1, 3}}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CoincidenceCost(tt.pos, tt.groups); got != tt.want {
				t.Errorf("CoincidenceCost = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBarycentricOrderLanes(t *testing.T) {
	groups := [][]int{{0, 2}, {0, 1}}
	got := Barycentric{}.OrderLanes(3, groups)
	if want := []int{1, 0, 2}; !reflect.DeepEqual(got, want) {
		t.Errorf("OrderLanes = %v, want %v", got, want)
	}
}

func TestBarycentricKeepsOptimalOrder(t *testing.T) {
	groups := [][]int{{0, 1}, {2, 3}}
	got := Barycentric{}.OrderLanes(4, groups)
	if want := []int{0, 1, 2, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("OrderLanes = %v, want %v", got, want)
	}
}

func TestIdentityOrderLanes(t *testing.T) {
	got := Identity{}.OrderLanes(3, [][]int{{0, 2}})
	if want := []int{0, 1, 2}; !reflect.DeepEqual(got, want) {
		t.Errorf("OrderLanes = %v, want %v", got, want)
	}
}

type brokenOrderer struct{}

func (brokenOrderer) OrderLanes(n int, _ [][]int) []int { return make([]int, n) }

func TestAssignLanes(t *testing.T) {
	// entity 0: years 1-2, entity 1: years 1-3, entity 2: year 3
	c := func(year int, ids ...int) *VisCluster {
		return &VisCluster{Year: year, EntityIDs: ids}
	}
	byYear := map[int][]*VisCluster{
		1: {c(1, 0, 1)},
		2: {c(2, 0), c(2, 1)},
		3: {c(3, 1, 2)},
	}
	years := []int{1, 2, 3}

	tests := []struct {
		name    string
		orderer LaneOrderer
		wantOf  []int
	}{
		{"identity", Identity{}, []int{0, 1, 0}},
		{"broken orderer falls back", brokenOrderer{}, []int{0, 1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ls := AssignLanes(years, 3, byYear, tt.orderer)
			if ls.Count != 2 {
				t.Errorf("Count = %d, want 2", ls.Count)
			}
			if !reflect.DeepEqual(ls.Of, tt.wantOf) {
				t.Errorf("Of = %v, want %v", ls.Of, tt.wantOf)
			}
			wantSpan := [][2]int{{0, 1}, {0, 2}, {2, 2}}
			if !reflect.DeepEqual(ls.Span, wantSpan) {
				t.Errorf("Span = %v, want %v", ls.Span, wantSpan)
			}
		})
	}
}

func TestAssignLanesCountIsMaxOverlap(t *testing.T) {
	// Spans: [0,4] [1,2] [3,4] [1,1] → at most 3 live at once (index 1).
	spans := [][2]int{{0, 4}, {1, 2}, {3, 4}, {1, 1}}
	years := []int{10, 11, 12, 13, 14}
	byYear := make(map[int][]*VisCluster)
	for e, s := range spans {
		for _, i := range []int{s[0], s[1]} {
			y := years[i]
			byYear[y] = append(byYear[y], &VisCluster{Year: y, EntityIDs: []int{e}})
		}
	}

	ls := AssignLanes(years, len(spans), byYear, Identity{})
	if ls.Count != 3 {
		t.Fatalf("Count = %d, want 3", ls.Count)
	}
	for a := range spans {
		for b := a + 1; b < len(spans); b++ {
			overlap := spans[a][0] <= spans[b][1] && spans[b][0] <= spans[a][1]
			if overlap && ls.Of[a] == ls.Of[b] {
				t.Errorf("entities %d and %d overlap but share lane %d", a, b, ls.Of[a])
			}
		}
	}
}

func TestAssignLanesUnclusteredEntity(t *testing.T) {
	ls := AssignLanes([]int{1}, 2, map[int][]*VisCluster{1: {{Year: 1, EntityIDs: []int{1}}}}, nil)
	if ls.Of[0] != -1 {
		t.Errorf("entity without clusters got lane %d", ls.Of[0])
	}
	if ls.Of[1] != 0 || ls.Count != 1 {
		t.Errorf("Of = %v, Count = %d", ls.Of, ls.Count)
	}
}
