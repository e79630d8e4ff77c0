// Package annotate turns event descriptions with entity spans into
// sanitized HTML.
//
// A [Replacement] marks a span of the description that names an entity.
// Spans with a URL become links, text between them is escaped and stripped
// of "[n]" reference markers. Overlapping spans are skipped with a warning:
// the first span (by start offset) wins.
//
// Offsets are rune indices into the full description. A sentence excerpt is
// annotated with the same replacements by passing the sentence's start
// offset to [Annotator.Replace].
package annotate

import (
	"cmp"
	"fmt"
	"io"
	"regexp"
	"slices"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/microcosm-cc/bluemonday"
)

// DefaultBaseURL is prefixed to relative replacement URLs.
const DefaultBaseURL = "https://en.wikipedia.org/wiki/"

// Replacement is an annotated span of a description.
type Replacement struct {
	Text string `json:"text"`
	Span [2]int `json:"span"`
	URL  string `json:"url,omitempty"`
}

// Annotator renders descriptions. The zero value is not usable; call [New].
type Annotator struct {
	BaseURL string
	Logger  *log.Logger

	policy *bluemonday.Policy
}

// New returns an annotator prefixing relative links with baseURL
// (DefaultBaseURL when empty). A nil logger discards warnings.
func New(baseURL string, logger *log.Logger) *Annotator {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return &Annotator{BaseURL: baseURL, Logger: logger, policy: linkPolicy()}
}

// linkPolicy allows plain text and anchors only.
func linkPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowStandardURLs()
	p.AllowAttrs("href").OnElements("a")
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

var (
	refMarker = regexp.MustCompile(`\[[0-9]+\]`)
	escaper   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
)

func clean(s string) string {
	return escaper.Replace(refMarker.ReplaceAllString(s, ""))
}

// Replace annotates text, which starts at rune offset in the full
// description. Replacements outside the text are ignored.
func (a *Annotator) Replace(text string, reps []Replacement, offset int) string {
	reps = slices.Clone(reps)
	slices.SortStableFunc(reps, func(x, y Replacement) int {
		return cmp.Compare(x.Span[0], y.Span[0])
	})

	rs := []rune(text)
	var b strings.Builder
	last := 0
	for _, r := range reps {
		i, j := r.Span[0]-offset, r.Span[1]-offset
		switch {
		case i < 0 || j > len(rs) || i > j:
			continue
		case i < last:
			a.Logger.Warn("span overlaps previous span, not making a link",
				"span", fmt.Sprintf("%d:%d", r.Span[0], r.Span[1]), "text", r.Text)
			continue
		case r.URL == "":
			continue
		}
		b.WriteString(clean(string(rs[last:i])))
		fmt.Fprintf(&b, `<a href="%s">%s</a>`, escaper.Replace(a.resolve(r.URL)), escaper.Replace(r.Text))
		last = j
	}
	b.WriteString(clean(string(rs[last:])))
	return a.policy.Sanitize(b.String())
}

func (a *Annotator) resolve(url string) string {
	if isAbsolute(url) {
		return url
	}
	return a.BaseURL + url
}

func isAbsolute(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}
