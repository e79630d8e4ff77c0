// Package query turns entity selections into backend views and node
// selections into backend constraints, and decodes the timeline results the
// backend answers with.
//
// The manual query mini-language is a comma-separated list of field:value
// pairs:
//
//	refs := query.Parse("person:Hannibal, place:Cannae")
//	view := query.BuildView(refs, "", "year")
//
// Tokens without a colon are kept with HasValue false; they never match an
// entity.
package query

import "strings"

// Ref names an entity by field and value.
type Ref struct {
	Field    string `json:"field"`
	Value    string `json:"value,omitempty"`
	HasValue bool   `json:"-"`
}

// String returns the mini-language form of r.
func (r Ref) String() string {
	return r.Field + ":" + r.Value
}

// Parse splits a manual query into refs. Each comma-separated token is split
// on ":" and both parts are trimmed; text after a second colon is ignored.
func Parse(s string) []Ref {
	tokens := strings.Split(s, ",")
	refs := make([]Ref, 0, len(tokens))
	for _, tok := range tokens {
		parts := strings.Split(tok, ":")
		r := Ref{Field: strings.TrimSpace(parts[0])}
		if len(parts) > 1 {
			r.Value = strings.TrimSpace(parts[1])
			r.HasValue = true
		}
		refs = append(refs, r)
	}
	return refs
}

// Unparse renders refs in the manual query form, "field:value" joined by
// ", ". A ref without a value renders as "field:".
func Unparse(refs []Ref) string {
	parts := make([]string, len(refs))
	for i, r := range refs {
		parts[i] = r.String()
	}
	return strings.Join(parts, ", ")
}

// UniqFields returns the distinct fields of refs in first-seen order. If
// forField is set, every ref is a value of that field and the result is
// just forField. Refs without a value are ignored.
func UniqFields(refs []Ref, forField string) []string {
	if len(refs) == 0 {
		return nil
	}
	if forField != "" {
		return []string{forField}
	}
	var fields []string
	seen := make(map[string]bool)
	for _, r := range refs {
		if !r.HasValue || seen[r.Field] {
			continue
		}
		seen[r.Field] = true
		fields = append(fields, r.Field)
	}
	return fields
}

// OrganizeEntities groups ref values by field, keeping their order. If
// forField is set, all values are grouped under it. Refs without a value
// are ignored.
func OrganizeEntities(refs []Ref, forField string) map[string][]string {
	out := make(map[string][]string)
	for _, r := range refs {
		if !r.HasValue {
			continue
		}
		field := r.Field
		if forField != "" {
			field = forField
		}
		out[field] = append(out[field], r.Value)
	}
	return out
}

// ValueCount returns the number of refs that carry a value.
func ValueCount(refs []Ref) int {
	n := 0
	for _, r := range refs {
		if r.HasValue {
			n++
		}
	}
	return n
}
