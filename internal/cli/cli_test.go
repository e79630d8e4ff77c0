package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/matzehuels/storyline/pkg/query"
	"github.com/matzehuels/storyline/pkg/session"
)

const punicWarResult = `{
  "timeline": {
    "person": {
      "Hannibal": {"218": ["c1"], "216": ["c2"]},
      "PhilipV": {"218": ["c1"]}
    }
  },
  "numCooccurringEntities": 2,
  "numIncludedCooccurringEntities": 2
}`

// run executes the root command with args against an empty config file
// location and returns stdout.
func run(t *testing.T, c *CLI, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := c.RootCommand()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append(args, "--config", filepath.Join(t.TempDir(), "config.toml")))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestConfigPrecedence(t *testing.T) {
	in := filepath.Join(t.TempDir(), "result.json")
	if err := os.WriteFile(in, []byte(punicWarResult), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "layout.json")

	tests := []struct {
		name  string
		env   string
		flags []string
		want  float64
	}{
		{"default", "", nil, 400},
		{"env", "800", nil, 800},
		{"flag beats env", "800", []string{"--height", "123"}, 123},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env != "" {
				t.Setenv("STORYLINE_LAYOUT_HEIGHT", tt.env)
			}
			c := New(io.Discard, LogInfo)
			args := append([]string{"layout", in, "-o", out, "--no-cache"}, tt.flags...)
			if _, err := run(t, c, args...); err != nil {
				t.Fatalf("layout: %v", err)
			}
			if c.Config.Layout.Height != tt.want {
				t.Errorf("height = %v, want %v", c.Config.Layout.Height, tt.want)
			}
		})
	}
}

func TestLayoutCommand(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "result.json")
	if err := os.WriteFile(in, []byte(punicWarResult), 0o644); err != nil {
		t.Fatal(err)
	}

	c := New(io.Discard, LogInfo)
	if _, err := run(t, c, "layout", in, "--no-cache", "-q", "person:Hannibal"); err != nil {
		t.Fatalf("layout: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "result.layout.json"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var got struct {
		Status   string `json:"status"`
		Entities []struct {
			Value     string `json:"value"`
			Important bool   `json:"important"`
		} `json:"entities"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(got.Entities) != 2 {
		t.Fatalf("entities = %d, want 2", len(got.Entities))
	}
	if !got.Entities[0].Important || got.Entities[1].Important {
		t.Errorf("importance = %+v, want only Hannibal", got.Entities)
	}
	if !strings.HasPrefix(got.Status, "showing 1 selected") {
		t.Errorf("status = %q", got.Status)
	}
}

func TestLayoutCommandErrors(t *testing.T) {
	dir := t.TempDir()
	failed := filepath.Join(dir, "failed.json")
	if err := os.WriteFile(failed, []byte(`{"error": "index unavailable"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing file", []string{"layout", filepath.Join(dir, "nope.json")}, "read result"},
		{"backend error", []string{"layout", failed, "--no-cache"}, "index unavailable"},
		{"bad ordering", []string{"layout", failed, "--ordering", "random"}, "random"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, New(io.Discard, LogInfo), tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestQueryCommands(t *testing.T) {
	out, err := run(t, New(io.Discard, LogInfo), "query", "view", "person:Hannibal, place:Cannae")
	if err != nil {
		t.Fatalf("query view: %v", err)
	}
	var view query.View
	if err := json.Unmarshal([]byte(out), &view); err != nil {
		t.Fatalf("decode view: %v\n%s", err, out)
	}
	if view.Type != query.ViewType || len(view.CooccurrenceFields) != 2 {
		t.Errorf("view = %+v", view)
	}

	if _, err := run(t, New(io.Discard, LogInfo), "query", "view", "Hannibal"); err == nil {
		t.Error("query view without values succeeded")
	}

	out, err = run(t, New(io.Discard, LogInfo), "query", "parse", " person:Hannibal ,Cannae")
	if err != nil {
		t.Fatalf("query parse: %v", err)
	}
	if !strings.Contains(out, "person:Hannibal, Cannae:") {
		t.Errorf("parse output lacks normalized query:\n%s", out)
	}

	if _, err := run(t, New(io.Discard, LogInfo), "query", "fetch", "person:Hannibal"); err == nil {
		t.Error("query fetch without a backend succeeded")
	}
}

func TestInspectModel(t *testing.T) {
	res, err := query.DecodeResult([]byte(punicWarResult), query.FormatJSON)
	if err != nil {
		t.Fatal(err)
	}
	q, err := allEntitiesQuery(res)
	if err != nil {
		t.Fatal(err)
	}
	if q != "person:Hannibal, person:PhilipV" {
		t.Fatalf("allEntitiesQuery = %q", q)
	}

	sess := session.New(query.StaticSource{Result: res}, nil, session.Options{})
	defer sess.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess.SetQuery(q)
	if err := sess.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	var m tea.Model = newInspectModel(sess)
	press := func(k tea.KeyMsg) {
		m, _ = m.Update(k)
	}

	press(tea.KeyMsg{Type: tea.KeySpace})
	snap := sess.Snapshot()
	if len(snap.SelectedNodes) != 1 || snap.Constraint == nil {
		t.Fatalf("after toggle: nodes %v, constraint %v", snap.SelectedNodes, snap.Constraint)
	}
	if v := m.View(); !strings.Contains(v, "Storyline: 1 node") {
		t.Errorf("view lacks constraint name:\n%s", v)
	}

	press(tea.KeyMsg{Type: tea.KeyTab})
	press(tea.KeyMsg{Type: tea.KeySpace})
	if err := sess.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if refs := sess.Snapshot().Refs; len(refs) != 1 || refs[0].Value != "PhilipV" {
		t.Errorf("refs after entity toggle = %v", refs)
	}

	press(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("c")})
	if st := sess.Snapshot().State; st != session.StateIdle {
		t.Errorf("state after clear = %v, want idle", st)
	}
	if v := m.View(); !strings.Contains(v, "No entities selected") {
		t.Errorf("idle view:\n%s", v)
	}
}
