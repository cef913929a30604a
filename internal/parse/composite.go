// Package parse implements the two-stage price-list parsing engine and its
// deterministic post-processors.
package parse

import "strings"

// Composite is the result of splitting a delimiter-joined composite field.
type Composite struct {
	CategoryPath []string
	Name         string
	Description  string
	RawComposite string
}

// DefaultCompositeDelimiter joins category, name, and description segments in
// most supplier exports.
const DefaultCompositeDelimiter = "|"

// hierarchy separators recognized inside the category segment.
var hierarchySeparators = []string{"/", ">"}

// SplitComposite breaks a composite field into a category path, a name, and a
// description. Purely string-level: no inference call is ever involved.
//
// Segment 0 is the category (split further on hierarchy separators), segment 1
// the name, segments 2+ join into the description. With a single segment the
// name doubles as the category; with none the whole input is the name.
func SplitComposite(raw, delimiter string) Composite {
	if delimiter == "" {
		delimiter = DefaultCompositeDelimiter
	}

	var segments []string
	for _, seg := range strings.Split(raw, delimiter) {
		if trimmed := strings.TrimSpace(seg); trimmed != "" {
			segments = append(segments, trimmed)
		}
	}

	out := Composite{RawComposite: raw}
	if len(segments) == 0 {
		out.Name = strings.TrimSpace(raw)
		out.CategoryPath = []string{}
		return out
	}

	out.CategoryPath = splitHierarchy(segments[0])
	if len(segments) >= 2 {
		out.Name = segments[1]
	} else {
		out.Name = segments[0]
	}
	if len(segments) > 2 {
		out.Description = strings.Join(segments[2:], " ")
	}
	return out
}

func splitHierarchy(category string) []string {
	for _, sep := range hierarchySeparators {
		if strings.Contains(category, sep) {
			parts := strings.Split(category, sep)
			path := make([]string, 0, len(parts))
			for _, p := range parts {
				if trimmed := strings.TrimSpace(p); trimmed != "" {
					path = append(path, trimmed)
				}
			}
			return path
		}
	}
	return []string{category}
}
