package pipeline

import (
	"testing"

	"github.com/matzehuels/storyline/pkg/query"
	"github.com/matzehuels/storyline/pkg/storyline"
)

func TestValidateOrdering(t *testing.T) {
	tests := []struct {
		ordering string
		wantErr  bool
	}{
		{"barycentric", false},
		{"identity", false},
		{"optimal", true},
		{"Identity", true}, // case-sensitive
		{"", true},
	}

	for _, tt := range tests {
		err := ValidateOrdering(tt.ordering)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateOrdering(%q) error = %v, wantErr %v", tt.ordering, err, tt.wantErr)
		}
	}
}

func TestValidateFormat(t *testing.T) {
	if err := ValidateFormat("json"); err != nil {
		t.Errorf("json should be valid: %v", err)
	}
	for _, f := range []string{"svg", "JSON", ""} {
		if err := ValidateFormat(f); err == nil {
			t.Errorf("ValidateFormat(%q) should fail", f)
		}
	}
}

func TestValidateAndSetDefaults(t *testing.T) {
	var o Options
	if err := o.ValidateAndSetDefaults(); err != nil {
		t.Fatalf("ValidateAndSetDefaults: %v", err)
	}
	if o.Height != DefaultHeight || o.MarginSlots != DefaultMarginSlots {
		t.Errorf("defaults not applied: %+v", o)
	}
	if o.Ordering != DefaultOrdering || o.Format != FormatJSON {
		t.Errorf("defaults not applied: %+v", o)
	}
	if o.Logger == nil {
		t.Error("Logger default not applied")
	}

	// Idempotent
	o.Height = 123
	if err := o.ValidateAndSetDefaults(); err != nil || o.Height != 123 {
		t.Errorf("second call changed options: %v, height %v", err, o.Height)
	}
}

func TestValidateForLayoutRejects(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"negative height", Options{Height: -1}},
		{"negative margin", Options{MarginSlots: -2}},
		{"unknown ordering", Options{Ordering: "random"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.opts.ValidateForLayout(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestOptionsOrderer(t *testing.T) {
	o := Options{Ordering: OrderingIdentity}
	if _, ok := o.Orderer().(storyline.Identity); !ok {
		t.Errorf("Orderer() = %T, want Identity", o.Orderer())
	}
	o.Ordering = OrderingBarycentric
	if _, ok := o.Orderer().(storyline.Barycentric); !ok {
		t.Errorf("Orderer() = %T, want Barycentric", o.Orderer())
	}
}

func TestViewSuppliesImportant(t *testing.T) {
	view := query.BuildView(query.Parse("person:Hannibal"), "", "year")
	o := Options{View: view}
	o.SetLayoutDefaults()
	if got := o.Important["person"]; len(got) != 1 || got[0] != "Hannibal" {
		t.Errorf("Important = %v", o.Important)
	}
}

func TestArtifactKeyOpts(t *testing.T) {
	a := Options{Height: 100, Format: FormatJSON}
	b := Options{Height: 100, Format: FormatJSON, Important: map[string][]string{"person": {"Hannibal"}}}
	c := Options{Height: 100, Format: FormatJSON, Status: "showing 1 selected"}

	ka, kb, kc := a.ArtifactKeyOpts(), b.ArtifactKeyOpts(), c.ArtifactKeyOpts()
	if ka == kb {
		t.Error("important entities should change the key")
	}
	if ka == kc {
		t.Error("status should change the key")
	}
	if ka != a.ArtifactKeyOpts() {
		t.Error("ArtifactKeyOpts should be deterministic")
	}
}
