package sink

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/matzehuels/storyline/pkg/query"
	"github.com/matzehuels/storyline/pkg/storyline"
)

func buildLayout(t *testing.T, tl storyline.Timeline, opts storyline.Options) *storyline.Layout {
	t.Helper()
	l, err := storyline.Build(tl, opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return l
}

func TestRenderJSON(t *testing.T) {
	l := buildLayout(t, storyline.Timeline{
		"person": {
			"Hannibal": {"218": {"c1"}, "216": {"c2"}},
			"PhilipV":  {"218": {"c1"}},
		},
	}, storyline.Options{Height: 300, MarginSlots: 1})

	data, err := RenderJSON(l)
	if err != nil {
		t.Fatalf("RenderJSON() error: %v", err)
	}

	var out jsonOutput
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("json.Unmarshal() error: %v", err)
	}

	if out.Empty {
		t.Error("Empty = true")
	}
	if out.XExtent != [2]int{215, 219} {
		t.Errorf("XExtent = %v, want [215 219]", out.XExtent)
	}
	if out.YSpacePerSlot != 100 {
		t.Errorf("YSpacePerSlot = %v, want 100", out.YSpacePerSlot)
	}
	if len(out.Entities) != 2 || out.Entities[0].Title != "Hannibal" {
		t.Errorf("Entities = %+v", out.Entities)
	}
	if len(out.VisNodes) != 2 {
		t.Fatalf("VisNodes count = %d, want 2", len(out.VisNodes))
	}

	nodes := make(map[string]jsonNode)
	for _, n := range out.VisNodes {
		if n.Key == nil {
			t.Errorf("node %s has no key", n.ID)
		}
		nodes[n.ID] = n
	}
	for _, line := range out.EntityLines {
		for _, p := range line.Points {
			if _, ok := nodes[p.Node]; !ok {
				t.Errorf("line %d references unknown node %s", line.EntityID, p.Node)
			}
		}
	}
	if len(out.EntityLineLinks.Links) != 1 || len(out.EntityLineLinks.Singletons) != 1 {
		t.Errorf("EntityLineLinks = %+v", out.EntityLineLinks)
	}
}

func TestRenderJSONWithOptions(t *testing.T) {
	l := buildLayout(t, storyline.Timeline{
		"person": {"Hannibal": {"218": {"c1"}}},
		"place":  {"Saguntum": {"218": {"c1"}}},
	}, storyline.Options{Important: map[string][]string{"person": {"Hannibal"}}})

	view := query.BuildView(query.Parse("person:Hannibal, place:Saguntum"), "", "year")
	data, err := RenderJSON(l,
		WithJSONView(view),
		WithJSONStatus("showing 2 selected and all 0 co-occurring entities"),
		WithJSONClipID("timelineclip-s-1"),
	)
	if err != nil {
		t.Fatalf("RenderJSON() error: %v", err)
	}

	var out jsonOutput
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("json.Unmarshal() error: %v", err)
	}
	if !out.FieldPrefixes {
		t.Error("FieldPrefixes = false for a two-field view")
	}
	if out.Entities[0].Title != "person:Hannibal" || !out.Entities[0].Important {
		t.Errorf("entity 0 = %+v", out.Entities[0])
	}
	if out.Status == "" || out.ClipID != "timelineclip-s-1" {
		t.Errorf("Status = %q, ClipID = %q", out.Status, out.ClipID)
	}
}

func TestRenderJSONEmpty(t *testing.T) {
	l := buildLayout(t, storyline.Timeline{}, storyline.Options{})
	data, err := RenderJSON(l, WithJSONCompact())
	if err != nil {
		t.Fatalf("RenderJSON() error: %v", err)
	}
	if bytes.Contains(data, []byte("\n")) {
		t.Error("compact output should be a single line")
	}
	want := `"entities":[],"slots":[],"visNodes":[],"entityLines":[],` +
		`"entityLineLinks":{"links":[],"singletons":[]}`
	if !bytes.Contains(data, []byte(want)) {
		t.Errorf("empty layout should render empty arrays, got %s", data)
	}
	if !bytes.HasPrefix(data, []byte(`{"empty":true`)) {
		t.Errorf("got %s", data)
	}
}
