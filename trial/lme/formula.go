package lme

import (
	"fmt"
	"sort"
	"strings"
)

// Term is one fixed-effect term: a single factor for a main effect, or two
// or more factors whose product forms an interaction.
type Term struct {
	Factors []string
}

// Name renders the term in formula notation, e.g. "TimeScaled:Drug".
func (t Term) Name() string {
	return strings.Join(t.Factors, ":")
}

// RandomTerm describes the per-group random-effects structure.
type RandomTerm struct {
	Intercept bool   // random intercept present
	Slope     string // covariate with a random slope, "" if none
}

// Dim returns the number of random effects per group.
func (r RandomTerm) Dim() int {
	d := 0
	if r.Intercept {
		d++
	}
	if r.Slope != "" {
		d++
	}
	return d
}

func (r RandomTerm) String() string {
	switch {
	case r.Intercept && r.Slope != "":
		return r.Slope
	case r.Intercept:
		return "1"
	case r.Slope != "":
		return "0 + " + r.Slope
	default:
		return "0"
	}
}

// Spec is a parsed model specification.
type Spec struct {
	Formula  string // original formula text
	Response string
	Fixed    []Term // ordered fixed-effect terms, implicit intercept excluded
	Random   RandomTerm
	Group    string
}

// ParseFormula parses an lme4-style mixed-model formula, e.g.
//
//	Mood ~ TimeScaled + Drug + (1 | Subject)
//	Mood ~ TimeScaled * Drug + (TimeScaled | Subject)
//	Mood ~ TimeScaled * Drug + (0 + TimeScaled | Subject)
//
// "*" expands to both main effects plus their interaction, ":" is an
// interaction alone. Exactly one parenthesized random term is required.
func ParseFormula(formula string) (*Spec, error) {
	parts := strings.SplitN(formula, "~", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("formula %q: expected response ~ terms", formula)
	}
	response := strings.TrimSpace(parts[0])
	if response == "" {
		return nil, fmt.Errorf("formula %q: empty response", formula)
	}

	rhs := strings.TrimSpace(parts[1])
	open := strings.Index(rhs, "(")
	closing := strings.LastIndex(rhs, ")")
	if open < 0 || closing < open {
		return nil, fmt.Errorf("formula %q: missing random term (... | group)", formula)
	}

	random, group, err := parseRandom(rhs[open+1 : closing])
	if err != nil {
		return nil, fmt.Errorf("formula %q: %w", formula, err)
	}

	fixedPart := strings.TrimSpace(rhs[:open] + rhs[closing+1:])
	fixedPart = strings.TrimSuffix(strings.TrimSpace(fixedPart), "+")
	fixed, err := parseFixed(fixedPart)
	if err != nil {
		return nil, fmt.Errorf("formula %q: %w", formula, err)
	}

	return &Spec{
		Formula:  formula,
		Response: response,
		Fixed:    fixed,
		Random:   random,
		Group:    group,
	}, nil
}

func parseFixed(s string) ([]Term, error) {
	var terms []Term
	seen := make(map[string]bool)
	add := func(t Term) {
		name := t.Name()
		if !seen[name] {
			seen[name] = true
			terms = append(terms, t)
		}
	}

	for _, raw := range strings.Split(s, "+") {
		tok := strings.TrimSpace(raw)
		if tok == "" || tok == "1" {
			continue
		}
		switch {
		case strings.Contains(tok, "*"):
			factors := splitFactors(tok, "*")
			if len(factors) != 2 {
				return nil, fmt.Errorf("term %q: only two-way crossing supported", tok)
			}
			add(Term{Factors: factors[:1]})
			add(Term{Factors: factors[1:]})
			add(Term{Factors: factors})
		case strings.Contains(tok, ":"):
			add(Term{Factors: splitFactors(tok, ":")})
		default:
			add(Term{Factors: []string{tok}})
		}
	}
	return terms, nil
}

func splitFactors(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseRandom(s string) (RandomTerm, string, error) {
	halves := strings.SplitN(s, "|", 2)
	if len(halves) != 2 {
		return RandomTerm{}, "", fmt.Errorf("random term %q: expected effects | group", s)
	}
	group := strings.TrimSpace(halves[1])
	if group == "" {
		return RandomTerm{}, "", fmt.Errorf("random term %q: empty grouping factor", s)
	}

	rt := RandomTerm{Intercept: true}
	for _, raw := range strings.Split(halves[0], "+") {
		tok := strings.TrimSpace(raw)
		switch tok {
		case "", "1":
			// intercept already implied
		case "0", "-1":
			rt.Intercept = false
		default:
			if rt.Slope != "" {
				return RandomTerm{}, "", fmt.Errorf("random term %q: only one slope supported", s)
			}
			rt.Slope = tok
		}
	}
	if rt.Dim() == 0 {
		return RandomTerm{}, "", fmt.Errorf("random term %q: no effects", s)
	}
	return rt, group, nil
}

// FixedNames returns the fixed-effect coefficient names in design order,
// including the implicit intercept.
func (s *Spec) FixedNames() []string {
	names := make([]string, 0, len(s.Fixed)+1)
	names = append(names, "(Intercept)")
	for _, t := range s.Fixed {
		names = append(names, t.Name())
	}
	return names
}

// NestedIn reports whether s's fixed effects are a subset of full's, the
// precondition for a likelihood-ratio test of the fixed structure.
func (s *Spec) NestedIn(full *Spec) bool {
	if s.Response != full.Response || s.Group != full.Group {
		return false
	}
	have := make(map[string]bool, len(full.Fixed))
	for _, t := range full.Fixed {
		have[canonicalTerm(t)] = true
	}
	for _, t := range s.Fixed {
		if !have[canonicalTerm(t)] {
			return false
		}
	}
	return true
}

// canonicalTerm names a term independent of factor order, so that
// "Drug:TimeScaled" and "TimeScaled:Drug" compare equal.
func canonicalTerm(t Term) string {
	factors := append([]string(nil), t.Factors...)
	sort.Strings(factors)
	return strings.Join(factors, ":")
}
