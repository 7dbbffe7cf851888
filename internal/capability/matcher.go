// Package capability scores how well an output port fits an input port.
// Scoring is a pure function over the two port declarations; it backs
// both the "suggested connection" surface and optional auto-wiring. The
// matcher never decides a threshold, callers do.
package capability

import (
	"sort"
	"strings"

	"github.com/latticehq/lattice/backend/internal/shared/types"
)

// Score term weights. Each term is 0 or 1 except the type term, which
// is graded by the policy table.
const (
	weightType   = 0.5
	weightDomain = 0.3
	weightEntity = 0.2
)

// TypeGrades is the policy table grading port type pairs in [0,1].
// Output type indexes the outer map, input type the inner. Pairs absent
// from the table score 0.
type TypeGrades map[types.PortType]map[types.PortType]float64

// DefaultTypeGrades returns the standard policy: identical types score
// 1.0, the number↔string widening pair scores 0.5, and "any"/"event"
// on either side accepts everything at full grade.
func DefaultTypeGrades() TypeGrades {
	g := TypeGrades{
		types.TypeNumber: {types.TypeString: 0.5},
		types.TypeString: {types.TypeNumber: 0.5},
	}
	for _, t := range []types.PortType{
		types.TypeString, types.TypeNumber, types.TypeBoolean,
		types.TypeObject, types.TypeArray, types.TypeVoid,
		types.TypeEvent, types.TypeAny,
	} {
		if g[t] == nil {
			g[t] = make(map[types.PortType]float64)
		}
		g[t][t] = 1.0
		g[t][types.TypeAny] = 1.0
		g[t][types.TypeEvent] = 1.0
		if g[types.TypeAny] == nil {
			g[types.TypeAny] = make(map[types.PortType]float64)
		}
		if g[types.TypeEvent] == nil {
			g[types.TypeEvent] = make(map[types.PortType]float64)
		}
		g[types.TypeAny][t] = 1.0
		g[types.TypeEvent][t] = 1.0
	}
	return g
}

// Matcher computes wiring confidence scores. Stateless beyond its
// policy table; safe for concurrent use.
type Matcher struct {
	grades TypeGrades
}

// NewMatcher creates a matcher with the default type policy
func NewMatcher() *Matcher {
	return &Matcher{grades: DefaultTypeGrades()}
}

// WithTypeGrades replaces the type policy table
func (m *Matcher) WithTypeGrades(g TypeGrades) *Matcher {
	m.grades = g
	return m
}

// TypeScore grades an output type against an input type per the policy
// table.
func (m *Matcher) TypeScore(out, in types.PortType) float64 {
	if row, ok := m.grades[out]; ok {
		return row[in]
	}
	return 0
}

// Compatible reports whether an output port may be wired to an input
// port at all. Used by the pipeline at connection-creation time so the
// routing hot path never type-checks.
func (m *Matcher) Compatible(out, in types.PortDefinition) bool {
	return m.TypeScore(out.Type, in.Type) > 0
}

// Score computes the wiring confidence for one output/input pair:
// 0.5·type + 0.3·domain + 0.2·entity. Domain and entity come from the
// ports' namespaced capability tags ("<domain>.<action>"); an untagged
// port contributes 0 to both.
func (m *Matcher) Score(out, in types.PortDefinition) float64 {
	score := weightType * m.TypeScore(out.Type, in.Type)

	outDomain, outAction, outOK := splitCapability(out.Capability)
	inDomain, inAction, inOK := splitCapability(in.Capability)
	if outOK && inOK {
		if outDomain == inDomain {
			score += weightDomain
		}
		if outAction == inAction {
			score += weightEntity
		}
	}
	return score
}

// splitCapability parses a "<domain>.<action>" tag
func splitCapability(tag string) (domain, action string, ok bool) {
	i := strings.IndexByte(tag, '.')
	if i <= 0 || i == len(tag)-1 {
		return "", "", false
	}
	return tag[:i], tag[i+1:], true
}

// Candidate is one input port offered to Suggest or AutoWire
type Candidate struct {
	NodeID string               `json:"node_id"`
	Port   types.PortDefinition `json:"port"`
}

// Suggestion is a scored wiring candidate
type Suggestion struct {
	To    types.PortRef `json:"to"`
	Score float64       `json:"score"`
}

// Suggest scores every candidate input against the output port and
// returns them best-first. Ties keep candidate order, so results are
// deterministic.
func (m *Matcher) Suggest(out types.PortDefinition, candidates []Candidate) []Suggestion {
	suggestions := make([]Suggestion, 0, len(candidates))
	for _, c := range candidates {
		suggestions = append(suggestions, Suggestion{
			To:    types.PortRef{NodeID: c.NodeID, PortID: c.Port.ID},
			Score: m.Score(out, c.Port),
		})
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})
	return suggestions
}

// AutoWire returns the candidates whose score meets the caller's
// confidence threshold, best-first.
func (m *Matcher) AutoWire(out types.PortDefinition, candidates []Candidate, threshold float64) []Suggestion {
	var wired []Suggestion
	for _, s := range m.Suggest(out, candidates) {
		if s.Score >= threshold {
			wired = append(wired, s)
		}
	}
	return wired
}
