package query

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/matzehuels/storyline/pkg/errors"
	"github.com/matzehuels/storyline/pkg/storyline"
)

// Result is a backend answer to a [View].
type Result struct {
	Timeline                       storyline.Timeline `json:"timeline" yaml:"timeline"`
	NumCooccurringEntities         int                `json:"numCooccurringEntities" yaml:"numCooccurringEntities"`
	NumIncludedCooccurringEntities int                `json:"numIncludedCooccurringEntities" yaml:"numIncludedCooccurringEntities"`

	// Error is set by the backend when the query failed. Such a result
	// carries no usable timeline.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Failed reports whether the backend flagged the result as an error.
func (r *Result) Failed() bool {
	return r.Error != ""
}

// Err returns the backend error as a BACKEND_ERROR, or nil.
func (r *Result) Err() error {
	if !r.Failed() {
		return nil
	}
	return errors.New(errors.ErrCodeBackend, "%s", r.Error)
}

// Status describes what the result shows, given the number of selected
// entities.
func (r *Result) Status(selected int) string {
	scope := "all"
	if r.NumIncludedCooccurringEntities < r.NumCooccurringEntities {
		scope = "top"
	}
	return fmt.Sprintf("showing %d selected and %s %d co-occurring entities",
		selected, scope, r.NumIncludedCooccurringEntities)
}

// Format is a result encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath guesses the format from a file extension. Anything that
// is not .yaml or .yml is treated as JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// DecodeResult parses a result payload.
func DecodeResult(data []byte, format Format) (*Result, error) {
	var r Result
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &r)
	case FormatJSON, "":
		err = json.Unmarshal(data, &r)
	default:
		return nil, errors.New(errors.ErrCodeInvalidFormat, "unknown result format %q", format)
	}
	if err != nil {
		if errors.GetCode(err) != "" {
			return nil, err
		}
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "decode %s result", format)
	}
	return &r, nil
}
