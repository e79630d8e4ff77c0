package annotate

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Event is an event record as returned by the search backend.
type Event struct {
	ID           string       `json:"dbid"`
	Year         int          `json:"year"`
	Title        string       `json:"title"`
	URL          string       `json:"url"`
	Description  string       `json:"description"`
	Sentence     string       `json:"sentence"`
	SentenceSpan string       `json:"sentenceSpan"`
	EventRoot    string       `json:"eventRoot,omitempty"`
	Replacements Replacements `json:"descriptionReplacements"`
}

// Replacements maps span text to its annotation. The backend sends it either
// as an object or as a JSON string holding the object.
type Replacements map[string]Replacement

// UnmarshalJSON implements json.Unmarshaler.
func (r *Replacements) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			*r = nil
			return nil
		}
		data = []byte(s)
	}
	var m map[string]Replacement
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("description replacements: %w", err)
	}
	for text, rep := range m {
		rep.Text = text
		m[text] = rep
	}
	*r = m
	return nil
}

// Description is the rendered form of an event.
type Description struct {
	Title      string   `json:"title"`
	URL        string   `json:"url"`
	Tooltip    string   `json:"tooltip"`
	Short      string   `json:"short"`
	Long       string   `json:"long"`
	References []string `json:"references,omitempty"`
}

// Describe renders ev. Replacements whose text is their own absolute URL
// are reference links: they are listed in References instead of being
// linked, and the long description is clipped before the first bare URL.
// A relative link such as "Hannibal" → "Hannibal" is an entity link.
func (a *Annotator) Describe(ev Event) Description {
	var (
		refs []string
		reps []Replacement
	)
	for text, rep := range ev.Replacements {
		rep.Text = text
		if isAbsolute(rep.URL) && text == rep.URL {
			refs = append(refs, rep.URL)
			continue
		}
		reps = append(reps, rep)
	}
	slices.Sort(refs)
	// Equal starts are ordered by text so the winner of an overlap is stable.
	slices.SortFunc(reps, func(x, y Replacement) int {
		if x.Span[0] != y.Span[0] {
			return x.Span[0] - y.Span[0]
		}
		return strings.Compare(x.Text, y.Text)
	})

	desc := ev.Description
	if i := firstURL(desc); i > 0 {
		desc = desc[:i]
	}

	tooltip := fmt.Sprintf("Event ID %s in %d", ev.ID, ev.Year)
	if ev.EventRoot != "" {
		tooltip += fmt.Sprintf(", predicate stem '%s'", ev.EventRoot)
	}
	tooltip += "."

	return Description{
		Title:      ev.Title,
		URL:        ev.URL,
		Tooltip:    tooltip,
		Short:      a.Replace(ev.Sentence, reps, a.sentenceStart(ev)),
		Long:       a.Replace(desc, reps, 0),
		References: refs,
	}
}

func (a *Annotator) sentenceStart(ev Event) int {
	if ev.SentenceSpan == "" {
		return 0
	}
	start, _, _ := strings.Cut(ev.SentenceSpan, ",")
	n, err := strconv.Atoi(strings.TrimSpace(start))
	if err != nil {
		a.Logger.Warn("bad sentence span", "event", ev.ID, "span", ev.SentenceSpan)
		return 0
	}
	return n
}

func firstURL(s string) int {
	i := strings.Index(s, "http://")
	if j := strings.Index(s, "https://"); j >= 0 && (i < 0 || j < i) {
		i = j
	}
	return i
}
