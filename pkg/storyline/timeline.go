package storyline

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/matzehuels/storyline/pkg/errors"
)

// ClusterID identifies a backend cluster. Backends emit cluster ids either as
// JSON strings or as bare numbers; both decode to the same textual id.
type ClusterID string

// UnmarshalJSON accepts a JSON string or number.
func (c *ClusterID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ClusterID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "cluster id %s must be a string or number", data)
	}
	*c = ClusterID(n.String())
	return nil
}

// UnmarshalYAML accepts any scalar.
func (c *ClusterID) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return errors.New(errors.ErrCodeInvalidInput, "cluster id must be a scalar (line %d)", node.Line)
	}
	*c = ClusterID(node.Value)
	return nil
}

// Timeline is the decoded backend result table:
//
//	field → value → year → cluster ids
//
// Years are decimal strings, as they arrive as JSON object keys.
type Timeline map[string]map[string]map[string][]ClusterID

// Entity is a (field, value) pair such as ("person", "Hannibal").
type Entity struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// String returns "field:value", the query mini-language form.
func (e Entity) String() string {
	return e.Field + ":" + e.Value
}

// Entities is the result of [ExtractEntities].
type Entities struct {
	// All lists entities by id: All[id] is the entity with that id.
	All []Entity

	// ByYear maps year → cluster id → ids of the member entities,
	// in ascending id order.
	ByYear map[int]map[ClusterID][]int

	index map[Entity]int
}

// ID returns the id of e, or -1 if e is not part of the timeline.
func (es Entities) ID(e Entity) int {
	if id, ok := es.index[e]; ok {
		return id
	}
	return -1
}

// Years returns the years that have at least one cluster, ascending.
func (es Entities) Years() []int {
	years := make([]int, 0, len(es.ByYear))
	for y := range es.ByYear {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// ExtractEntities walks the timeline and assigns entity ids.
//
// Fields and values are visited in lexicographic order and years in numeric
// order, so ids are dense (0..N-1) and deterministic. An entity is retained
// only if at least one of its years has a non-empty cluster list. A year key
// that is not an integer yields an INVALID_INPUT error.
func ExtractEntities(t Timeline) (Entities, error) {
	es := Entities{
		ByYear: make(map[int]map[ClusterID][]int),
		index:  make(map[Entity]int),
	}

	for _, field := range sortedKeys(t) {
		values := t[field]
		for _, value := range sortedKeys(values) {
			years, err := sortedYears(values[value])
			if err != nil {
				return Entities{}, errors.Wrap(errors.ErrCodeInvalidInput, err, "timeline entry %s:%s", field, value)
			}

			id := -1
			for _, y := range years {
				clusters := values[value][y.key]
				if len(clusters) == 0 {
					continue
				}
				if id < 0 {
					ent := Entity{Field: field, Value: value}
					id = len(es.All)
					es.All = append(es.All, ent)
					es.index[ent] = id
				}
				byCluster := es.ByYear[y.year]
				if byCluster == nil {
					byCluster = make(map[ClusterID][]int)
					es.ByYear[y.year] = byCluster
				}
				for _, c := range clusters {
					members := byCluster[c]
					if n := len(members); n > 0 && members[n-1] == id {
						continue // duplicate cluster id in one year
					}
					byCluster[c] = append(members, id)
				}
			}
		}
	}
	return es, nil
}

type yearKey struct {
	year int
	key  string
}

func sortedYears(m map[string][]ClusterID) ([]yearKey, error) {
	out := make([]yearKey, 0, len(m))
	for k := range m {
		y, err := strconv.Atoi(k)
		if err != nil {
			return nil, errors.New(errors.ErrCodeInvalidInput, "year %q is not an integer", k)
		}
		out = append(out, yearKey{year: y, key: k})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].year != out[j].year {
			return out[i].year < out[j].year
		}
		return out[i].key < out[j].key
	})
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
