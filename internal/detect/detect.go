// Package detect implements the deterministic pattern detector.
package detect

import (
	"sort"

	"github.com/redactai/redactai/internal/safety"
)

const (
	// DefaultHighSeverityBonus is added once when any credential-like category matched.
	DefaultHighSeverityBonus = 15
	maxRawScore              = 100
)

// Options tunes the entropy rule and supplies extra patterns.
type Options struct {
	ExtraPatterns    []PatternSpec
	EntropyThreshold float64
	EntropyMinLength int
	// DisableEntropy turns the high-entropy token rule off.
	DisableEntropy bool
}

// Detector is immutable after New and safe for concurrent use.
type Detector struct {
	rules   []rule
	entropy *entropyRule
}

// New compiles the catalog. A malformed rule yields a *CatalogError.
func New(opts Options) (*Detector, error) {
	rules, err := compileRules(opts.ExtraPatterns)
	if err != nil {
		return nil, err
	}
	d := &Detector{rules: rules}
	if !opts.DisableEntropy {
		d.entropy = newEntropyRule(opts.EntropyThreshold, opts.EntropyMinLength)
	}
	return d, nil
}

// RuleCount reports how many compiled rules the detector carries.
func (d *Detector) RuleCount() int {
	if d == nil {
		return 0
	}
	return len(d.rules)
}

type span struct {
	start, end int
}

// Detect scans text and returns matches ordered by position, then category.
// Overlapping spans of the same category are merged into one match.
func (d *Detector) Detect(text string) []safety.DetectionMatch {
	if d == nil || text == "" {
		return nil
	}

	byKind := make(map[safety.SecretCategory][]span)
	for _, r := range d.rules {
		for _, loc := range r.re.FindAllStringIndex(text, -1) {
			if r.check != nil && !r.check(text[loc[0]:loc[1]]) {
				continue
			}
			byKind[r.kind] = append(byKind[r.kind], span{loc[0], loc[1]})
		}
	}

	if d.entropy != nil {
		var credSpans []span
		for kind, spans := range byKind {
			if IsHighSeverity(kind) {
				credSpans = append(credSpans, spans...)
			}
		}
		for _, s := range d.entropy.find(text) {
			if overlapsAny(s, credSpans) {
				continue
			}
			byKind[safety.SecretGeneric] = append(byKind[safety.SecretGeneric], s)
		}
	}

	var out []safety.DetectionMatch
	for kind, spans := range byKind {
		info := categoryTable[kind]
		for _, s := range mergeSpans(spans) {
			out = append(out, safety.DetectionMatch{
				Kind:     kind,
				Severity: info.severity,
				Weight:   info.weight,
				Start:    s.start,
				End:      s.end,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// RawScore sums the weights of distinct categories, adds the bonus once when a
// credential-like category matched, and caps the result at 100.
func RawScore(matches []safety.DetectionMatch, bonus int) int {
	seen := make(map[safety.SecretCategory]struct{}, len(matches))
	total := 0
	high := false
	for _, m := range matches {
		if _, ok := seen[m.Kind]; ok {
			continue
		}
		seen[m.Kind] = struct{}{}
		total += Weight(m.Kind)
		if IsHighSeverity(m.Kind) {
			high = true
		}
	}
	if high && bonus > 0 {
		total += bonus
	}
	if total > maxRawScore {
		total = maxRawScore
	}
	return total
}

func mergeSpans(in []span) []span {
	if len(in) <= 1 {
		return in
	}
	sort.Slice(in, func(i, j int) bool {
		if in[i].start != in[j].start {
			return in[i].start < in[j].start
		}
		return in[i].end < in[j].end
	})
	out := []span{in[0]}
	for _, s := range in[1:] {
		last := &out[len(out)-1]
		if s.start < last.end {
			if s.end > last.end {
				last.end = s.end
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

func overlapsAny(s span, others []span) bool {
	for _, o := range others {
		if s.start < o.end && o.start < s.end {
			return true
		}
	}
	return false
}
