package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matzehuels/storyline/pkg/cache"
	"github.com/matzehuels/storyline/pkg/observability"
	"github.com/matzehuels/storyline/pkg/pipeline"
	"github.com/matzehuels/storyline/pkg/query"
	"github.com/matzehuels/storyline/pkg/storyline"
)

const punicResult = `{
	"timeline": {"person": {
		"Hannibal": {"218": ["c1"], "216": ["c2"]},
		"PhilipV":  {"218": ["c1"]}
	}},
	"numCooccurringEntities": 1,
	"numIncludedCooccurringEntities": 1
}`

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	runner := pipeline.NewRunner(cache.NewMemoryCache(time.Minute, time.Minute), nil, nil)
	s := New(runner, opts)
	t.Cleanup(s.Close)
	return s
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(t, Options{}), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decode[map[string]string](t, rec)["status"]; got != "ok" {
		t.Errorf("status field = %q", got)
	}
}

func TestLayout(t *testing.T) {
	s := newTestServer(t, Options{})
	body := fmt.Sprintf(`{"result": %s, "query": "person:Hannibal"}`, punicResult)

	rec := do(t, s, http.MethodPost, "/v1/layout", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("X-Cache") != "miss" {
		t.Errorf("X-Cache = %q, want miss", rec.Header().Get("X-Cache"))
	}

	var out struct {
		Empty    bool   `json:"empty"`
		Status   string `json:"status"`
		Entities []struct {
			Value     string `json:"value"`
			Important bool   `json:"important"`
		} `json:"entities"`
		VisNodes []json.RawMessage `json:"visNodes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Empty || len(out.Entities) != 2 || len(out.VisNodes) != 2 {
		t.Errorf("layout = %+v", out)
	}
	if !out.Entities[0].Important || out.Entities[1].Important {
		t.Errorf("only Hannibal should be important: %+v", out.Entities)
	}
	if out.Status != "showing 1 selected and all 1 co-occurring entities" {
		t.Errorf("status = %q", out.Status)
	}

	again := do(t, s, http.MethodPost, "/v1/layout", body)
	if again.Header().Get("X-Cache") != "hit" {
		t.Errorf("second request X-Cache = %q, want hit", again.Header().Get("X-Cache"))
	}
	if again.Body.String() != rec.Body.String() {
		t.Error("cached layout differs")
	}
}

func TestLayoutErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed body", `{"result":`, http.StatusBadRequest},
		{"backend error payload", `{"result": {"error": "index offline"}}`, http.StatusBadGateway},
		{"bad year", `{"result": {"timeline": {"person": {"X": {"soon": ["c1"]}}}}}`, http.StatusBadRequest},
		{"bad ordering", fmt.Sprintf(`{"result": %s, "options": {"ordering": "random"}}`, punicResult), http.StatusBadRequest},
	}
	s := newTestServer(t, Options{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/v1/layout", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body)
			}
			if decode[errorResponse](t, rec).Error == "" {
				t.Error("error message missing")
			}
		})
	}
}

func TestQuery(t *testing.T) {
	s := newTestServer(t, Options{})
	rec := do(t, s, http.MethodGet, "/v1/query?q=person:Hannibal,+place+,place:Cannae", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	got := decode[queryResponse](t, rec)
	if len(got.Refs) != 3 || got.Refs[1].HasValue {
		t.Errorf("refs = %+v", got.Refs)
	}
	if got.Query != "person:Hannibal, place:, place:Cannae" {
		t.Errorf("query = %q", got.Query)
	}
	if strings.Join(got.Fields, ",") != "person,place" {
		t.Errorf("fields = %v", got.Fields)
	}

	if rec := do(t, s, http.MethodGet, "/v1/query", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("missing q: status = %d", rec.Code)
	}
}

func TestView(t *testing.T) {
	s := newTestServer(t, Options{})
	rec := do(t, s, http.MethodPost, "/v1/view", `{"query": "person:Hannibal, place:Cannae"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	v := decode[query.View](t, rec)
	if v.Type != query.ViewType || v.ClusterField != "year" || len(v.CooccurrenceFields) != 2 {
		t.Errorf("view = %+v", v)
	}

	if rec := do(t, s, http.MethodPost, "/v1/view", `{"query": "person"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty selection: status = %d", rec.Code)
	}
}

func TestAnnotate(t *testing.T) {
	s := newTestServer(t, Options{})
	body := `[{"dbid": "e1", "year": 216, "title": "Cannae", "description": "Hannibal won.",
		"sentence": "Hannibal won.", "sentenceSpan": "0,13",
		"descriptionReplacements": "{\"Hannibal\": {\"span\": [0, 8], \"url\": \"Hannibal\"}}"}]`
	rec := do(t, s, http.MethodPost, "/v1/annotate", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	got := decode[[]map[string]any](t, rec)
	if len(got) != 1 || !strings.Contains(got[0]["short"].(string), ">Hannibal</a>") {
		t.Errorf("descriptions = %+v", got)
	}
}

type countingHooks struct {
	observability.NoopServerHooks
	mu      sync.Mutex
	routes  []string
	limited int
}

func (h *countingHooks) OnResponse(_ context.Context, _, route string, _ int, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.routes = append(h.routes, route)
}

func (h *countingHooks) OnRateLimited(context.Context, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.limited++
}

func TestRateLimit(t *testing.T) {
	hooks := &countingHooks{}
	observability.SetServerHooks(hooks)
	defer observability.Reset()

	s := newTestServer(t, Options{RateLimit: 0.001, Burst: 2})
	codes := make([]int, 3)
	for i := range codes {
		codes[i] = do(t, s, http.MethodGet, "/v1/query?q=a:b", "").Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
	if rec := do(t, s, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz should not be limited, got %d", rec.Code)
	}

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	if hooks.limited != 1 {
		t.Errorf("limited = %d, want 1", hooks.limited)
	}
	if len(hooks.routes) != 4 || hooks.routes[0] != "/v1/query" {
		t.Errorf("routes = %v", hooks.routes)
	}
}

func TestSessionRoutesDisabledWithoutSource(t *testing.T) {
	s := newTestServer(t, Options{})
	if rec := do(t, s, http.MethodPost, "/v1/sessions", `{"query":"person:Hannibal"}`); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSessionLifecycle(t *testing.T) {
	var res query.Result
	if err := json.Unmarshal([]byte(punicResult), &res); err != nil {
		t.Fatal(err)
	}
	s := newTestServer(t, Options{Source: query.StaticSource{Result: &res}})

	rec := do(t, s, http.MethodPost, "/v1/sessions", `{"query": "person:Hannibal"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status = %d: %s", rec.Code, rec.Body)
	}
	created := decode[sessionResponse](t, rec)
	if created.State != "rendered" || len(created.Layout) == 0 {
		t.Fatalf("created = %+v", created)
	}

	var l struct {
		VisNodes []struct {
			Key      *int32   `json:"key"`
			Clusters []string `json:"clusters"`
		} `json:"visNodes"`
	}
	if err := json.Unmarshal(created.Layout, &l); err != nil {
		t.Fatal(err)
	}
	var key int32
	for _, n := range l.VisNodes {
		if n.Key != nil && len(n.Clusters) == 1 && n.Clusters[0] == "c1" {
			key = *n.Key
		}
	}
	if want := storyline.ClusterKey(218, storyline.ClusterSetID([]storyline.ClusterID{"c1"})); key != want {
		t.Fatalf("node key = %d, want %d", key, want)
	}

	base := "/v1/sessions/" + created.ID
	rec = do(t, s, http.MethodPost, fmt.Sprintf("%s/nodes/%d", base, key), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle: status = %d: %s", rec.Code, rec.Body)
	}
	toggled := decode[sessionResponse](t, rec)
	if toggled.Constraint == nil || toggled.Constraint.Name != "Storyline: 1 node" {
		t.Errorf("constraint = %+v", toggled.Constraint)
	}

	if rec := do(t, s, http.MethodPost, base+"/nodes/7", ""); rec.Code != http.StatusNotFound {
		t.Errorf("unknown node: status = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodPost, base+"/nodes/x", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("bad key: status = %d", rec.Code)
	}

	rec = do(t, s, http.MethodPut, base+"/brush", `{"brush": [218, 216]}`)
	if got := decode[sessionResponse](t, rec).Brush; got == nil || *got != [2]int{216, 218} {
		t.Errorf("brush = %v", got)
	}

	rec = do(t, s, http.MethodPut, base+"/query", `{"query": "person"}`)
	if got := decode[sessionResponse](t, rec); got.State != "idle" || got.Layout != nil {
		t.Errorf("after empty query = %+v", got)
	}

	if rec := do(t, s, http.MethodDelete, base, ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete: status = %d", rec.Code)
	}
	if rec := do(t, s, http.MethodGet, base, ""); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d", rec.Code)
	}
}

func TestLayoutCoalescesIdenticalRequests(t *testing.T) {
	s := newTestServer(t, Options{})
	body := []byte(fmt.Sprintf(`{"result": %s}`, punicResult))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/v1/layout", bytes.NewReader(body))
			rec := httptest.NewRecorder()
			s.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d", rec.Code)
			}
		}()
	}
	wg.Wait()
}
