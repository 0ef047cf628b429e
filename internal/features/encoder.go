package features

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const (
	UnknownLabel = "unknown"
	UnknownCode  = 0
)

// NormalizeLabel canonicalises a categorical string: NFC, collapsed
// whitespace, lower case. Empty input maps to UnknownLabel.
func NormalizeLabel(s string) string {
	s = norm.NFC.String(s)
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return UnknownLabel
	}
	// a Caser carries state, so one per call
	return cases.Lower(language.Und).String(s)
}

// LabelEncoder maps normalised labels to dense codes. Code 0 is reserved
// for the unknown label; known labels get 1..n in sorted order so the
// encoding is stable for identical input.
type LabelEncoder struct {
	Labels []string
	codes  map[string]int
}

func FitLabelEncoder(values []string) *LabelEncoder {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		label := NormalizeLabel(v)
		if label == UnknownLabel {
			continue
		}
		seen[label] = struct{}{}
	}

	labels := make([]string, 0, len(seen))
	for label := range seen {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	return NewLabelEncoder(labels)
}

// NewLabelEncoder rebuilds an encoder from a previously fitted label list.
func NewLabelEncoder(labels []string) *LabelEncoder {
	e := &LabelEncoder{
		Labels: labels,
		codes:  make(map[string]int, len(labels)),
	}
	for i, label := range labels {
		e.codes[label] = i + 1
	}
	return e
}

func (e *LabelEncoder) Encode(value string) int {
	if code, ok := e.codes[NormalizeLabel(value)]; ok {
		return code
	}
	return UnknownCode
}

func (e *LabelEncoder) Decode(code int) string {
	if code <= 0 || code > len(e.Labels) {
		return UnknownLabel
	}
	return e.Labels[code-1]
}

// Size counts the unknown code too.
func (e *LabelEncoder) Size() int {
	return len(e.Labels) + 1
}
