package de

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/errors"
)

// KnownFactors are the sample factors a design may name.
var KnownFactors = []string{"batch", "condition"}

// Design is an additive design formula such as "~ batch + condition". The
// factors are kept in formula order; by convention the last one is the
// variable of interest.
type Design struct {
	Factors []string
}

// ParseFormula parses an additive formula over KnownFactors. Interactions are
// not supported.
func ParseFormula(formula string) (Design, error) {
	f := strings.TrimSpace(formula)
	if !strings.HasPrefix(f, "~") {
		return Design{}, errors.E(errors.Invalid, fmt.Sprintf("design %q must start with ~", formula))
	}
	var d Design
	seen := map[string]bool{}
	for _, term := range strings.Split(f[1:], "+") {
		term = strings.TrimSpace(term)
		if strings.ContainsAny(term, ":*") {
			return Design{}, errors.E(errors.NotSupported, fmt.Sprintf("design %q: interaction terms are not supported", formula))
		}
		if !isKnownFactor(term) {
			return Design{}, errors.E(errors.Invalid, fmt.Sprintf("design %q: unknown factor %q", formula, term))
		}
		if seen[term] {
			return Design{}, errors.E(errors.Invalid, fmt.Sprintf("design %q: factor %s repeated", formula, term))
		}
		seen[term] = true
		d.Factors = append(d.Factors, term)
	}
	return d, nil
}

func isKnownFactor(f string) bool {
	for _, k := range KnownFactors {
		if f == k {
			return true
		}
	}
	return false
}

// Has tells whether factor appears in the design.
func (d Design) Has(factor string) bool {
	for _, f := range d.Factors {
		if f == factor {
			return true
		}
	}
	return false
}

func (d Design) String() string {
	return "~ " + strings.Join(d.Factors, " + ")
}

// Contrast compares two levels of one factor: Numerator over Denominator.
type Contrast struct {
	Factor      string
	Numerator   string
	Denominator string
}

// ParseContrast parses "factor,numerator,denominator". A contrast naming more than
// two levels is rejected with a ModelFitError: a single coefficient, and so a
// single shrunken effect size, only ever compares two levels.
func ParseContrast(s string) (Contrast, error) {
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
		if parts[i] == "" {
			return Contrast{}, errors.E(errors.Invalid, fmt.Sprintf("contrast %q has an empty field", s))
		}
	}
	switch {
	case len(parts) > 3:
		return Contrast{}, fitErr(errors.E(errors.NotSupported,
			fmt.Sprintf("contrast %q names %d levels of %s; only two-level contrasts can be extracted or shrunk",
				s, len(parts)-1, parts[0])))
	case len(parts) < 3:
		return Contrast{}, errors.E(errors.Invalid, fmt.Sprintf("contrast %q: want factor,numerator,denominator", s))
	}
	c := Contrast{Factor: parts[0], Numerator: parts[1], Denominator: parts[2]}
	if c.Numerator == c.Denominator {
		return Contrast{}, fitErr(errors.E(errors.Invalid, fmt.Sprintf("contrast %q compares a level with itself", s)))
	}
	for _, level := range []string{c.Numerator, c.Denominator} {
		if err := CheckLevel(c.Factor, level); err != nil {
			return Contrast{}, errors.E(fmt.Sprintf("contrast %q", s), err)
		}
	}
	return c, nil
}

// CheckLevel rejects factor levels that R would rewrite when naming model
// columns. Levels may hold only ASCII letters, digits, '.' and '_', so that
// CoefficientName matches the name the engines report.
func CheckLevel(factor, level string) error {
	if level == "" {
		return errors.E(errors.Invalid, fmt.Sprintf("factor %s has an empty level", factor))
	}
	for _, r := range level {
		switch {
		case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9', r == '.', r == '_':
		default:
			return errors.E(errors.Invalid,
				fmt.Sprintf("factor %s: level %q contains %q; use only letters, digits, '.' and '_'", factor, level, r))
		}
	}
	return nil
}

// CoefficientName is the DESeq2-style name of the coefficient that carries the
// contrast when Denominator is the reference level.
func (c Contrast) CoefficientName() string {
	return fmt.Sprintf("%s_%s_vs_%s", c.Factor, c.Numerator, c.Denominator)
}

func (c Contrast) String() string {
	return fmt.Sprintf("%s,%s,%s", c.Factor, c.Numerator, c.Denominator)
}
